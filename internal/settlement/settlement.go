// Package settlement resolves markets and corrects settled bets.
//
// A resolution is one transaction: the market flips to SETTLED, every
// PENDING bet becomes WON or LOST, and each winning bet is paid
// stake × odds through the ledger. Any failure leaves no trace.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/betania/betting-engine/internal/events"
	"github.com/betania/betting-engine/internal/ledger"
	"github.com/betania/betting-engine/internal/metrics"
	"github.com/betania/betting-engine/internal/model"
	"github.com/betania/betting-engine/internal/store"
)

// Service resolves markets.
type Service struct {
	store store.Store
	pub   events.Publisher
	log   *zap.Logger

	// Now stamps settled_at. Defaults to time.Now.
	Now func() time.Time
}

// NewService creates a settlement service. pub may be nil.
func NewService(st store.Store, pub events.Publisher, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: st, pub: pub, log: log, Now: time.Now}
}

// Payout is one credit made to a winning bet.
type Payout struct {
	BetID  string          `json:"bet_id"`
	UserID string          `json:"user_id"`
	Stake  decimal.Decimal `json:"stake"`
	Odds   decimal.Decimal `json:"odds"`
	Amount decimal.Decimal `json:"amount"`
}

// Summary describes a completed resolution.
type Summary struct {
	MarketID    string          `json:"market_id"`
	OutcomeID   string          `json:"outcome_id"`
	Winners     int             `json:"winners"`
	Losers      int             `json:"losers"`
	TotalStaked decimal.Decimal `json:"total_staked"`
	TotalPaid   decimal.Decimal `json:"total_paid"`
	Payouts     []Payout        `json:"payouts"`
	SettledAt   time.Time       `json:"settled_at"`
}

// HouseResult is what the house kept (positive) or lost (negative).
func (s *Summary) HouseResult() decimal.Decimal {
	return s.TotalStaked.Sub(s.TotalPaid)
}

// ResolveMarket declares winningOptionID the outcome of marketID.
//
// Checks run in this order: ErrMarketNotFound, ErrForbidden (caller is
// neither the creator nor an admin), ErrAlreadySettled, ErrInvalidOption.
// Soft-deleted markets can still be resolved.
func (s *Service) ResolveMarket(ctx context.Context, caller model.Caller, marketID, winningOptionID string) (*Summary, error) {
	now := s.Now().UTC()
	var sum *Summary

	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		m, err := tx.LockMarket(ctx, marketID)
		if errors.Is(err, store.ErrNotFound) {
			return model.ErrMarketNotFound
		}
		if err != nil {
			return err
		}
		if m.CreatorID != caller.UserID && !caller.IsAdmin() {
			return model.ErrForbidden
		}
		if m.Status == model.MarketSettled {
			return model.ErrAlreadySettled
		}
		winner := m.Option(winningOptionID)
		if winner == nil {
			return model.ErrInvalidOption
		}

		sum = &Summary{
			MarketID:    m.ID,
			OutcomeID:   winner.ID,
			TotalStaked: decimal.Zero,
			TotalPaid:   decimal.Zero,
			SettledAt:   now,
		}

		// Snapshot every pending bet before relabelling; the winners are
		// the payees.
		var payees []model.Bet
		for _, o := range m.Options {
			pending, err := tx.ListBetsByOption(ctx, o.ID, model.BetPending)
			if err != nil {
				return err
			}
			for _, b := range pending {
				sum.TotalStaked = sum.TotalStaked.Add(b.Amount)
			}
			if o.ID == winner.ID {
				payees = pending
			}
		}

		if err := tx.SettleMarket(ctx, m.ID, winner.ID, now); err != nil {
			if errors.Is(err, store.ErrStale) {
				return model.ErrAlreadySettled
			}
			return err
		}

		won, err := tx.UpdateBetStatuses(ctx, store.BetStatusUpdate{
			MarketID: m.ID, OptionID: winner.ID,
			From: model.BetPending, To: model.BetWon, At: now,
		})
		if err != nil {
			return err
		}
		lost, err := tx.UpdateBetStatuses(ctx, store.BetStatusUpdate{
			MarketID: m.ID, OptionID: winner.ID, ExcludeOption: true,
			From: model.BetPending, To: model.BetLost, At: now,
		})
		if err != nil {
			return err
		}
		if int(won) != len(payees) {
			return fmt.Errorf("settle market %s: %d winning bets changed, %d snapshotted", m.ID, won, len(payees))
		}
		sum.Winners = int(won)
		sum.Losers = int(lost)

		for _, b := range payees {
			amount := model.Payout(b.Amount, winner.Odds)
			if _, err := ledger.Credit(ctx, tx, b.UserID, amount, ledger.Posting{
				Kind:     model.EntryPayout,
				BetID:    b.ID,
				MarketID: m.ID,
				At:       now,
			}); err != nil {
				return fmt.Errorf("pay bet %s: %w", b.ID, err)
			}
			sum.TotalPaid = sum.TotalPaid.Add(amount)
			sum.Payouts = append(sum.Payouts, Payout{
				BetID:  b.ID,
				UserID: b.UserID,
				Stake:  b.Amount,
				Odds:   winner.Odds,
				Amount: amount,
			})
		}
		return nil
	})
	if err != nil {
		if model.IsBusiness(err) {
			return nil, err
		}
		return nil, fmt.Errorf("resolve market: %w", err)
	}

	metrics.MarketsSettled.Inc()
	metrics.PayoutVolume.Add(sum.TotalPaid.InexactFloat64())
	s.log.Info("market settled",
		zap.String("market_id", sum.MarketID),
		zap.String("outcome_id", sum.OutcomeID),
		zap.String("by", caller.UserID),
		zap.Int("winners", sum.Winners),
		zap.Int("losers", sum.Losers),
		zap.String("total_staked", sum.TotalStaked.String()),
		zap.String("total_paid", sum.TotalPaid.String()),
	)
	events.Notify(ctx, s.pub, s.log, events.Event{
		Type:     events.MarketSettled,
		MarketID: sum.MarketID,
		OptionID: sum.OutcomeID,
		UserID:   caller.UserID,
		Amount:   sum.TotalPaid.StringFixed(model.MoneyScale),
		Winners:  sum.Winners,
		At:       now,
	})
	return sum, nil
}
