package market

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/betania/betting-engine/internal/model"
	"github.com/betania/betting-engine/internal/odds"
)

// MinQuestionLength is the shortest accepted question, in characters,
// after trimming.
const MinQuestionLength = 5

// OptionInput is one requested option. Exactly one of Odds or Probability
// must be set, and every option of a market must use the same one.
type OptionInput struct {
	Label       string
	Odds        *decimal.Decimal
	Probability *decimal.Decimal // percent
}

// DefaultOptions is the binary pair used when a market is created without
// options.
func DefaultOptions() []OptionInput {
	yes, no := odds.Default, odds.Default
	return []OptionInput{
		{Label: "Sim", Odds: &yes},
		{Label: "Não", Odds: &no},
	}
}

func validateQuestion(q string) (string, error) {
	q = strings.TrimSpace(q)
	if utf8.RuneCountInString(q) < MinQuestionLength {
		return "", model.ErrInvalidQuestion
	}
	return q, nil
}

func validateExpiry(expiresAt *time.Time, now time.Time) error {
	if expiresAt != nil && !expiresAt.After(now) {
		return model.ErrInvalidExpiry
	}
	return nil
}

// buildOptions turns requested options into model options with fixed odds.
func buildOptions(marketID string, in []OptionInput) ([]model.Option, error) {
	if len(in) == 0 {
		in = DefaultOptions()
	}
	if len(in) < 2 {
		return nil, fmt.Errorf("%w: at least 2 options required", model.ErrInvalidOptions)
	}

	byProbability := in[0].Probability != nil
	seen := make(map[string]bool, len(in))
	labels := make([]string, len(in))
	for i, o := range in {
		label := strings.TrimSpace(o.Label)
		if label == "" {
			return nil, fmt.Errorf("%w: option %d has no label", model.ErrInvalidOptions, i+1)
		}
		key := strings.ToLower(label)
		if seen[key] {
			return nil, fmt.Errorf("%w: duplicate label %q", model.ErrInvalidOptions, label)
		}
		seen[key] = true
		labels[i] = label

		if (o.Odds == nil) == (o.Probability == nil) {
			return nil, fmt.Errorf("%w: option %q needs either odds or a probability", model.ErrInvalidOptions, label)
		}
		if (o.Probability != nil) != byProbability {
			return nil, fmt.Errorf("%w: odds and probabilities cannot be mixed", model.ErrInvalidOptions)
		}
	}

	prices := make([]decimal.Decimal, len(in))
	if byProbability {
		ps := make([]decimal.Decimal, len(in))
		for i, o := range in {
			ps[i] = *o.Probability
		}
		derived, err := odds.FromProbabilities(ps)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", model.ErrInvalidOptions, err)
		}
		prices = derived
	} else {
		for i, o := range in {
			price := o.Odds.Round(odds.Scale)
			if err := odds.Validate(price); err != nil {
				return nil, fmt.Errorf("%w: option %q: %w", model.ErrInvalidOptions, labels[i], err)
			}
			prices[i] = price
		}
	}

	out := make([]model.Option, len(in))
	for i := range in {
		out[i] = model.Option{
			ID:       uuid.New().String(),
			MarketID: marketID,
			Label:    labels[i],
			Odds:     prices[i],
		}
	}
	return out, nil
}
