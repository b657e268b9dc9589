// Package wager places bets: one transaction debits the stake, records the
// PENDING bet and journals the debit, or nothing happens at all.
package wager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/betania/betting-engine/internal/events"
	"github.com/betania/betting-engine/internal/ledger"
	"github.com/betania/betting-engine/internal/metrics"
	"github.com/betania/betting-engine/internal/model"
	"github.com/betania/betting-engine/internal/store"
)

// Service places bets.
type Service struct {
	store store.Store
	pub   events.Publisher
	log   *zap.Logger

	// Now is the clock used for expiry checks. Defaults to time.Now.
	Now func() time.Time
}

// NewService creates a wager service. pub may be nil.
func NewService(st store.Store, pub events.Publisher, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: st, pub: pub, log: log, Now: time.Now}
}

// PlaceBet stakes amount of the caller's balance on optionID.
//
// Checks run in this order and the first failure is returned:
// ErrInvalidAmount, ErrUserNotFound, ErrInsufficientFunds, ErrMarketClosed
// (unknown option, settled, expired or deleted market), ErrConflictOfInterest.
// The odds are not copied onto the bet; settlement reads them from the option.
func (s *Service) PlaceBet(ctx context.Context, caller model.Caller, optionID string, amount decimal.Decimal) (*model.Bet, error) {
	if !amount.IsPositive() || !amount.Equal(amount.Round(model.MoneyScale)) {
		return nil, model.ErrInvalidAmount
	}

	bet := &model.Bet{
		ID:       uuid.New().String(),
		UserID:   caller.UserID,
		OptionID: optionID,
		Amount:   amount,
		Status:   model.BetPending,
	}

	var balance decimal.Decimal
	var now time.Time
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		// Market row first, then the user row.
		var m *model.Market
		opt, err := tx.GetOption(ctx, optionID)
		switch {
		case err == nil:
			m, err = tx.LockMarket(ctx, opt.MarketID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
		case !errors.Is(err, store.ErrNotFound):
			return err
		}
		// Expiry is judged once the market lock is held.
		now = s.Now().UTC()
		bet.CreatedAt = now

		u, err := tx.LockUser(ctx, caller.UserID)
		if errors.Is(err, store.ErrNotFound) {
			return model.ErrUserNotFound
		}
		if err != nil {
			return err
		}
		if u.Balance.LessThan(amount) {
			return model.ErrInsufficientFunds
		}
		if m == nil || !m.AcceptsBets(now) {
			return model.ErrMarketClosed
		}
		if m.CreatorID == caller.UserID {
			return model.ErrConflictOfInterest
		}

		bet.MarketID = m.ID
		entry, err := ledger.Debit(ctx, tx, caller.UserID, amount, ledger.Posting{
			Kind:     model.EntryBetDebit,
			BetID:    bet.ID,
			MarketID: m.ID,
			At:       now,
		})
		if err != nil {
			return err
		}
		balance = entry.BalanceAfter

		return tx.InsertBet(ctx, bet)
	})
	if err != nil {
		if model.IsBusiness(err) {
			return nil, err
		}
		return nil, fmt.Errorf("place bet: %w", err)
	}

	metrics.BetsPlaced.Inc()
	metrics.StakeVolume.Add(amount.InexactFloat64())
	s.log.Info("bet placed",
		zap.String("bet_id", bet.ID),
		zap.String("user", bet.UserID),
		zap.String("market_id", bet.MarketID),
		zap.String("option_id", bet.OptionID),
		zap.String("amount", amount.String()),
		zap.String("balance", balance.String()),
	)
	events.Notify(ctx, s.pub, s.log, events.Event{
		Type:     events.BetPlaced,
		MarketID: bet.MarketID,
		OptionID: bet.OptionID,
		BetID:    bet.ID,
		UserID:   bet.UserID,
		Amount:   amount.StringFixed(model.MoneyScale),
		Balance:  balance.StringFixed(model.MoneyScale),
		At:       now,
	})
	return bet, nil
}
