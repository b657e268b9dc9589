// Package report builds the admin financial view over bets.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betania/betting-engine/internal/model"
	"github.com/betania/betting-engine/internal/store"
)

// Period selects how far back FinancialStats looks.
type Period string

const (
	PeriodDay   Period = "24h"
	PeriodWeek  Period = "7d"
	PeriodMonth Period = "30d"
	PeriodAll   Period = "all"
)

// Since returns the earliest creation time included, or nil for PeriodAll.
func (p Period) Since(now time.Time) (*time.Time, error) {
	var back time.Duration
	switch p {
	case PeriodDay:
		back = 24 * time.Hour
	case PeriodWeek:
		back = 7 * 24 * time.Hour
	case PeriodMonth:
		back = 30 * 24 * time.Hour
	case PeriodAll:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: unknown period %q", model.ErrInvalidInput, p)
	}
	since := now.Add(-back)
	return &since, nil
}

// Stats are the period totals.
type Stats struct {
	TotalIn          decimal.Decimal `json:"total_in"`
	TotalOut         decimal.Decimal `json:"total_out"`
	NetProfit        decimal.Decimal `json:"net_profit"`
	PendingLiability decimal.Decimal `json:"pending_liability"`
	Count            int             `json:"count"`
}

// Transaction is one bet seen from the house.
type Transaction struct {
	ID     string          `json:"id"`
	Date   time.Time       `json:"date"`
	User   string          `json:"user"`
	Market string          `json:"market"`
	Option string          `json:"option"`
	Odds   decimal.Decimal `json:"odds"`
	Amount decimal.Decimal `json:"amount"`
	Payout decimal.Decimal `json:"payout"`
	Status model.BetStatus `json:"status"`
	Profit decimal.Decimal `json:"profit"`
}

// Financials is the result of FinancialStats.
type Financials struct {
	Period       Period        `json:"period"`
	Stats        Stats         `json:"stats"`
	Transactions []Transaction `json:"transactions"`
}

// Service computes reports.
type Service struct {
	store store.Reader

	// Now anchors the period window. Defaults to time.Now.
	Now func() time.Time
}

// NewService creates a report service.
func NewService(r store.Reader) *Service {
	return &Service{store: r, Now: time.Now}
}

// FinancialStats totals the bets created within period. Admin only.
//
// TotalIn is every stake, TotalOut the payouts of WON bets and NetProfit
// their difference. PendingLiability is what the house would owe if every
// PENDING bet won. A pending bet's Profit is zero until it settles.
func (s *Service) FinancialStats(ctx context.Context, caller model.Caller, period Period) (*Financials, error) {
	if !caller.IsAdmin() {
		return nil, model.ErrForbidden
	}
	if period == "" {
		period = PeriodAll
	}
	since, err := period.Since(s.Now().UTC())
	if err != nil {
		return nil, err
	}

	bets, err := s.store.ListBets(ctx, store.BetFilter{Since: since})
	if err != nil {
		return nil, fmt.Errorf("financial stats: %w", err)
	}

	f := &Financials{
		Period: period,
		Stats: Stats{
			TotalIn:          decimal.Zero,
			TotalOut:         decimal.Zero,
			PendingLiability: decimal.Zero,
			Count:            len(bets),
		},
		Transactions: make([]Transaction, 0, len(bets)),
	}
	for _, b := range bets {
		potential := model.Payout(b.Amount, b.Odds)
		tr := Transaction{
			ID:     b.ID,
			Date:   b.CreatedAt,
			User:   b.UserName,
			Market: b.MarketQuestion,
			Option: b.OptionLabel,
			Odds:   b.Odds,
			Amount: b.Amount,
			Payout: decimal.Zero,
			Status: b.Status,
			Profit: decimal.Zero,
		}
		f.Stats.TotalIn = f.Stats.TotalIn.Add(b.Amount)

		switch b.Status {
		case model.BetWon:
			tr.Payout = potential
			tr.Profit = b.Amount.Sub(potential)
			f.Stats.TotalOut = f.Stats.TotalOut.Add(potential)
		case model.BetLost:
			tr.Profit = b.Amount
		case model.BetPending:
			tr.Payout = potential
			f.Stats.PendingLiability = f.Stats.PendingLiability.Add(potential)
		}
		f.Transactions = append(f.Transactions, tr)
	}
	f.Stats.NetProfit = f.Stats.TotalIn.Sub(f.Stats.TotalOut)
	return f, nil
}
