// Package store defines the persistence interface for the betting engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
//
// Every balance, bet or market mutation happens through a Tx obtained from
// WithTx, so a failure anywhere in an operation leaves no partial state.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betania/betting-engine/internal/model"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrNegativeBalance is returned when a balance adjustment would leave
	// the balance below zero. Nothing is written.
	ErrNegativeBalance = errors.New("store: balance would become negative")

	// ErrDuplicate is returned when a unique constraint rejects an insert.
	ErrDuplicate = errors.New("store: duplicate key")

	// ErrStale is returned when a conditional update matched no row because
	// the row changed state underneath the caller.
	ErrStale = errors.New("store: row state changed")

	// ErrTxDone is returned when a Tx is used after WithTx returned.
	ErrTxDone = errors.New("store: transaction already finished")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	Reader

	// WithTx runs fn in a single transaction. If fn returns an error every
	// write made through tx is discarded and the error is returned as-is.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Reader holds the non-transactional queries.
type Reader interface {
	// GetUser retrieves a user by id.
	GetUser(ctx context.Context, id string) (*model.User, error)

	// GetMarket retrieves a market with its options, deleted or not.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// ListMarkets returns markets with their options, newest first.
	ListMarkets(ctx context.Context, f MarketFilter) ([]model.Market, error)

	// ListBets returns bets joined with option, market and user, newest first.
	ListBets(ctx context.Context, f BetFilter) ([]model.BetView, error)

	// Leaderboard returns the top active users by balance.
	Leaderboard(ctx context.Context, limit int) ([]model.User, error)

	// ListLedgerEntries returns a user's balance movements, newest first.
	ListLedgerEntries(ctx context.Context, userID string) ([]model.LedgerEntry, error)
}

// Tx is the set of operations available inside a transaction. Lock* methods
// hold the row until the transaction ends; callers lock markets before users.
type Tx interface {
	// --- Users ---

	CreateUser(ctx context.Context, u *model.User) error
	LockUser(ctx context.Context, id string) (*model.User, error)

	// AdjustBalance adds delta (signed) to the user's balance and returns
	// the new balance. Fails with ErrNegativeBalance instead of overdrawing.
	AdjustBalance(ctx context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error)

	// InsertLedgerEntry appends an immutable balance movement record.
	InsertLedgerEntry(ctx context.Context, e *model.LedgerEntry) error

	// --- Markets ---

	// CreateMarket persists a market together with its options.
	CreateMarket(ctx context.Context, m *model.Market) error
	LockMarket(ctx context.Context, id string) (*model.Market, error)
	GetOption(ctx context.Context, id string) (*model.Option, error)

	// SettleMarket flips an OPEN market to SETTLED with the given outcome.
	// Returns ErrStale when the market is no longer OPEN.
	SettleMarket(ctx context.Context, marketID, outcomeID string, at time.Time) error

	SoftDeleteMarket(ctx context.Context, marketID, deletedBy string, at time.Time) error

	// UpdateMarketText rewrites a market's question and description. Odds,
	// options and status are untouched.
	UpdateMarketText(ctx context.Context, marketID, question, description string) error

	// --- Bets ---

	InsertBet(ctx context.Context, b *model.Bet) error

	// GetBet reads a bet without locking it, so callers can lock its market
	// first.
	GetBet(ctx context.Context, id string) (*model.Bet, error)
	LockBet(ctx context.Context, id string) (*model.Bet, error)

	// ListBetsByOption returns the bets on an option in the given status.
	ListBetsByOption(ctx context.Context, optionID string, status model.BetStatus) ([]model.Bet, error)

	// UpdateBetStatuses moves bets of a market from one status to another in
	// bulk and reports how many rows changed.
	UpdateBetStatuses(ctx context.Context, u BetStatusUpdate) (int64, error)

	SetBetStatus(ctx context.Context, betID string, status model.BetStatus, at time.Time) error
}

// BetStatusUpdate selects the bets moved by UpdateBetStatuses: bets of
// MarketID in status From, restricted to OptionID, or to every other option
// when ExcludeOption is set.
type BetStatusUpdate struct {
	MarketID      string
	OptionID      string
	ExcludeOption bool
	From          model.BetStatus
	To            model.BetStatus
	At            time.Time
}

// MarketFilter narrows ListMarkets. Zero values select everything visible.
type MarketFilter struct {
	CreatorID      string
	Status         model.MarketStatus // stored status
	IncludeDeleted bool
}

// BetFilter narrows ListBets. Zero values select everything visible.
type BetFilter struct {
	UserID         string
	MarketID       string
	Status         model.BetStatus
	Since          *time.Time
	IncludeDeleted bool
}
