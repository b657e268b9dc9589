// Package odds converts between implied probabilities (in percent) and the
// fixed decimal odds posted on market options.
//
// Odds are computed once, when a market is created. Nothing in the engine
// recomputes or reprices them afterwards.
package odds

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidProbability is returned when a probability is outside (0, 100).
	ErrInvalidProbability = errors.New("odds: probability must be between 0 and 100 exclusive")

	// ErrProbabilitySum is returned when a market's probabilities do not add
	// up to 100 within Tolerance.
	ErrProbabilitySum = errors.New("odds: probabilities must sum to 100")

	// ErrInvalidOdds is returned when odds are not strictly greater than 1.
	ErrInvalidOdds = errors.New("odds: odds must be greater than 1.00")

	// Default is the multiplier posted on both sides of a binary market
	// created without explicit options.
	Default = decimal.RequireFromString("1.90")

	// Tolerance is the allowed distance of a probability sum from 100.
	Tolerance = decimal.RequireFromString("0.1")

	// Scale is the number of decimal places odds are rounded to.
	Scale int32 = 2
)

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// Validate checks that o is a usable payout multiplier.
func Validate(o decimal.Decimal) error {
	if o.LessThanOrEqual(one) {
		return fmt.Errorf("%w: got %s", ErrInvalidOdds, o)
	}
	return nil
}

// FromProbability returns 100/p rounded to Scale places.
//
// Probabilities close to 100 can round down to 1.00, which is rejected
// with ErrInvalidOdds.
func FromProbability(p decimal.Decimal) (decimal.Decimal, error) {
	if !p.IsPositive() || p.GreaterThanOrEqual(hundred) {
		return decimal.Zero, fmt.Errorf("%w: got %s", ErrInvalidProbability, p)
	}
	o := hundred.DivRound(p, Scale+4).Round(Scale)
	if err := Validate(o); err != nil {
		return decimal.Zero, err
	}
	return o, nil
}

// FromProbabilities converts a full set of mutually exclusive outcome
// probabilities. The set must sum to 100 ± Tolerance.
func FromProbabilities(ps []decimal.Decimal) ([]decimal.Decimal, error) {
	sum := decimal.Zero
	for _, p := range ps {
		sum = sum.Add(p)
	}
	if sum.Sub(hundred).Abs().GreaterThan(Tolerance) {
		return nil, fmt.Errorf("%w: got %s", ErrProbabilitySum, sum)
	}

	out := make([]decimal.Decimal, len(ps))
	for i, p := range ps {
		o, err := FromProbability(p)
		if err != nil {
			return nil, fmt.Errorf("outcome %d: %w", i, err)
		}
		out[i] = o
	}
	return out, nil
}

// ImpliedProbability returns the probability, in percent, that odds o
// represent: 100/o rounded to Scale places.
func ImpliedProbability(o decimal.Decimal) decimal.Decimal {
	if !o.IsPositive() {
		return decimal.Zero
	}
	return hundred.DivRound(o, Scale+4).Round(Scale)
}

// Overround is the sum of the implied probabilities of a book minus 100.
// A positive value is the house margin built into the posted odds.
func Overround(book []decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, o := range book {
		sum = sum.Add(ImpliedProbability(o))
	}
	return sum.Sub(hundred)
}
