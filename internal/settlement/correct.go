package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/betania/betting-engine/internal/events"
	"github.com/betania/betting-engine/internal/ledger"
	"github.com/betania/betting-engine/internal/metrics"
	"github.com/betania/betting-engine/internal/model"
	"github.com/betania/betting-engine/internal/store"
)

// Correction describes an admin bet status change and the balance movement
// it caused.
type Correction struct {
	BetID   string          `json:"bet_id"`
	UserID  string          `json:"user_id"`
	From    model.BetStatus `json:"from"`
	To      model.BetStatus `json:"to"`
	Delta   decimal.Decimal `json:"delta"` // signed: +credit, -clawback
	Changed bool            `json:"changed"`
}

// CorrectBet moves a bet of a settled market between WON and LOST and
// settles the difference through the ledger in the same transaction: a
// WON → LOST correction claws the payout back, LOST → WON pays it.
// Admin only. Correcting to the current status is a no-op.
//
// A clawback larger than the bettor's balance fails with
// ErrInsufficientFunds and changes nothing.
func (s *Service) CorrectBet(ctx context.Context, caller model.Caller, betID string, to model.BetStatus) (*Correction, error) {
	if !caller.IsAdmin() {
		return nil, model.ErrForbidden
	}
	if to != model.BetWon && to != model.BetLost {
		return nil, model.ErrInvalidStatus
	}

	now := s.Now().UTC()
	var c *Correction

	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		peek, err := tx.GetBet(ctx, betID)
		if errors.Is(err, store.ErrNotFound) {
			return model.ErrBetNotFound
		}
		if err != nil {
			return err
		}

		// Market before bet, as in ResolveMarket.
		m, err := tx.LockMarket(ctx, peek.MarketID)
		if err != nil {
			return err
		}
		bet, err := tx.LockBet(ctx, betID)
		if err != nil {
			return err
		}
		if m.Status != model.MarketSettled {
			return model.ErrMarketNotSettled
		}

		c = &Correction{BetID: bet.ID, UserID: bet.UserID, From: bet.Status, To: to, Delta: decimal.Zero}
		if bet.Status == to {
			return nil
		}

		opt := m.Option(bet.OptionID)
		if opt == nil {
			return fmt.Errorf("bet %s references option %s outside market %s", bet.ID, bet.OptionID, m.ID)
		}
		payout := model.Payout(bet.Amount, opt.Odds)
		posting := ledger.Posting{
			Kind:     model.EntryCorrection,
			BetID:    bet.ID,
			MarketID: m.ID,
			At:       now,
		}

		switch {
		case bet.Status == model.BetWon:
			if _, err := ledger.Debit(ctx, tx, bet.UserID, payout, posting); err != nil {
				return err
			}
			c.Delta = payout.Neg()
		case to == model.BetWon:
			if _, err := ledger.Credit(ctx, tx, bet.UserID, payout, posting); err != nil {
				return err
			}
			c.Delta = payout
		}

		c.Changed = true
		return tx.SetBetStatus(ctx, bet.ID, to, now)
	})
	if err != nil {
		if model.IsBusiness(err) {
			return nil, err
		}
		return nil, fmt.Errorf("correct bet: %w", err)
	}
	if !c.Changed {
		return c, nil
	}

	metrics.BetCorrections.WithLabelValues(string(to)).Inc()
	s.log.Info("bet corrected",
		zap.String("bet_id", c.BetID),
		zap.String("user", c.UserID),
		zap.String("from", string(c.From)),
		zap.String("to", string(c.To)),
		zap.String("delta", c.Delta.String()),
		zap.String("by", caller.UserID),
	)
	events.Notify(ctx, s.pub, s.log, events.Event{
		Type:   events.BetCorrected,
		BetID:  c.BetID,
		UserID: c.UserID,
		Amount: c.Delta.StringFixed(model.MoneyScale),
		Status: string(c.To),
		At:     now,
	})
	return c, nil
}
