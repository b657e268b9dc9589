// Package ledger holds the only two primitives that move money: Credit and
// Debit. Both run inside a store transaction and journal the movement as an
// immutable model.LedgerEntry.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/betania/betting-engine/internal/model"
	"github.com/betania/betting-engine/internal/store"
)

// Posting describes why a balance moved.
type Posting struct {
	Kind     model.EntryKind
	BetID    string
	MarketID string
	At       time.Time // zero means now
}

// Credit adds amount to the user's balance.
func Credit(ctx context.Context, tx store.Tx, userID string, amount decimal.Decimal, p Posting) (*model.LedgerEntry, error) {
	if !amount.IsPositive() {
		return nil, model.ErrInvalidAmount
	}
	return apply(ctx, tx, userID, amount, p)
}

// Debit removes amount from the user's balance. The store applies it as a
// conditional update, so two concurrent debits cannot both pass a stale
// balance check.
func Debit(ctx context.Context, tx store.Tx, userID string, amount decimal.Decimal, p Posting) (*model.LedgerEntry, error) {
	if !amount.IsPositive() {
		return nil, model.ErrInvalidAmount
	}
	return apply(ctx, tx, userID, amount.Neg(), p)
}

func apply(ctx context.Context, tx store.Tx, userID string, delta decimal.Decimal, p Posting) (*model.LedgerEntry, error) {
	delta = delta.Round(model.MoneyScale)

	balance, err := tx.AdjustBalance(ctx, userID, delta)
	switch {
	case errors.Is(err, store.ErrNegativeBalance):
		return nil, model.ErrInsufficientFunds
	case errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("%w: %s", model.ErrUserNotFound, userID)
	case err != nil:
		return nil, fmt.Errorf("adjust balance of %s: %w", userID, err)
	}

	at := p.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	entry := &model.LedgerEntry{
		ID:           uuid.New().String(),
		UserID:       userID,
		Kind:         p.Kind,
		Amount:       delta,
		BalanceAfter: balance,
		CreatedAt:    at,
	}
	if p.BetID != "" {
		entry.BetID = &p.BetID
	}
	if p.MarketID != "" {
		entry.MarketID = &p.MarketID
	}

	if err := tx.InsertLedgerEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("journal %s for %s: %w", p.Kind, userID, err)
	}
	return entry, nil
}
