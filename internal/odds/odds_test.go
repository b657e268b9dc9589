package odds

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestFromProbability(t *testing.T) {
	tests := []struct {
		p    float64
		want string
	}{
		{50, "2"},
		{40, "2.5"},
		{20, "5"},
		{60, "1.67"},
		{33.33, "3"},
		{1, "100"},
	}
	for _, tt := range tests {
		got, err := FromProbability(d(tt.p))
		if err != nil {
			t.Fatalf("p=%v: unexpected error: %v", tt.p, err)
		}
		if !got.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("p=%v: expected odds %s, got %s", tt.p, tt.want, got)
		}
	}
}

func TestFromProbability_OutOfRange(t *testing.T) {
	for _, p := range []float64{0, -5, 100, 150} {
		_, err := FromProbability(d(p))
		if !errors.Is(err, ErrInvalidProbability) {
			t.Errorf("p=%v: expected ErrInvalidProbability, got %v", p, err)
		}
	}
}

func TestFromProbability_RoundsToEvenMoney(t *testing.T) {
	// 100/99.9 rounds to 1.00, which pays nothing.
	_, err := FromProbability(d(99.9))
	if !errors.Is(err, ErrInvalidOdds) {
		t.Errorf("expected ErrInvalidOdds, got %v", err)
	}
}

func TestFromProbabilities(t *testing.T) {
	got, err := FromProbabilities([]decimal.Decimal{d(50), d(30), d(20)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []decimal.Decimal{d(2), d(3.33), d(5)}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("outcome %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestFromProbabilities_Tolerance(t *testing.T) {
	if _, err := FromProbabilities([]decimal.Decimal{d(33.3), d(33.3), d(33.3)}); err != nil {
		t.Errorf("99.9 is within tolerance, got %v", err)
	}
	if _, err := FromProbabilities([]decimal.Decimal{d(50), d(50.1)}); err != nil {
		t.Errorf("100.1 is within tolerance, got %v", err)
	}
	if _, err := FromProbabilities([]decimal.Decimal{d(50), d(49.8)}); !errors.Is(err, ErrProbabilitySum) {
		t.Errorf("expected ErrProbabilitySum for 99.8, got %v", err)
	}
	if _, err := FromProbabilities([]decimal.Decimal{d(70), d(40)}); !errors.Is(err, ErrProbabilitySum) {
		t.Errorf("expected ErrProbabilitySum for 110, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(d(1.01)); err != nil {
		t.Errorf("1.01 should be valid, got %v", err)
	}
	for _, o := range []float64{1, 0.5, 0, -2} {
		if err := Validate(d(o)); !errors.Is(err, ErrInvalidOdds) {
			t.Errorf("odds %v: expected ErrInvalidOdds, got %v", o, err)
		}
	}
}

func TestImpliedProbability(t *testing.T) {
	if got := ImpliedProbability(d(2)); !got.Equal(d(50)) {
		t.Errorf("expected 50, got %s", got)
	}
	if got := ImpliedProbability(d(1.9)); !got.Equal(d(52.63)) {
		t.Errorf("expected 52.63, got %s", got)
	}
	if got := ImpliedProbability(decimal.Zero); !got.IsZero() {
		t.Errorf("expected 0 for zero odds, got %s", got)
	}
}

func TestOverround_DefaultBinaryBook(t *testing.T) {
	got := Overround([]decimal.Decimal{Default, Default})
	if !got.Equal(d(5.26)) {
		t.Errorf("expected house margin 5.26, got %s", got)
	}
}

func TestRoundTrip_ProbabilityToOdds(t *testing.T) {
	// Converting back is lossy only within rounding.
	for _, p := range []float64{10, 25, 50, 75} {
		o, err := FromProbability(d(p))
		if err != nil {
			t.Fatalf("p=%v: %v", p, err)
		}
		back := ImpliedProbability(o)
		if back.Sub(d(p)).Abs().GreaterThan(d(0.5)) {
			t.Errorf("p=%v: round trip drifted to %s", p, back)
		}
	}
}
