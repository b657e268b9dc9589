// Package model defines the core domain types shared across the betting engine.
// Monetary values are shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places kept for balances, stakes and
// payouts.
const MoneyScale int32 = 2

// Role is the platform role of a user, supplied by the auth collaborator.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Situation gates a user's visibility (leaderboard, cast page). It has no
// effect on wagering.
type Situation string

const (
	SituationActive Situation = "ATIVO"
	SituationExiled Situation = "EXILADO"
)

// MarketStatus is the stored lifecycle state of a market. Status only moves
// forward: OPEN → SETTLED.
type MarketStatus string

const (
	MarketOpen    MarketStatus = "OPEN"
	MarketSettled MarketStatus = "SETTLED"
	// MarketClosed is never stored. It is reported for open markets whose
	// expiry has passed.
	MarketClosed MarketStatus = "CLOSED"
)

// BetStatus is the lifecycle state of a bet. WON and LOST are terminal.
type BetStatus string

const (
	BetPending BetStatus = "PENDING"
	BetWon     BetStatus = "WON"
	BetLost    BetStatus = "LOST"
)

// EntryKind classifies a balance movement in the ledger journal.
type EntryKind string

const (
	EntryBetDebit   EntryKind = "BET_DEBIT"
	EntryPayout     EntryKind = "PAYOUT"
	EntryRecharge   EntryKind = "RECHARGE"
	EntryCorrection EntryKind = "CORRECTION"
)

// User is an identity plus its play-money wallet.
type User struct {
	ID           string          `json:"id" db:"id"`
	Name         string          `json:"name" db:"name"`
	Email        string          `json:"email" db:"email"`
	PasswordHash *string         `json:"-" db:"password_hash"` // nil for social-login accounts
	Role         Role            `json:"role" db:"role"`
	Balance      decimal.Decimal `json:"balance" db:"balance"`
	Situation    Situation       `json:"situation" db:"situation"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// IsAdmin reports whether the user holds the ADMIN role.
func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }

// Option is one mutually exclusive outcome of a market. Odds are fixed at
// market creation and have no update path.
type Option struct {
	ID       string          `json:"id" db:"id"`
	MarketID string          `json:"market_id" db:"market_id"`
	Label    string          `json:"label" db:"label"`
	Odds     decimal.Decimal `json:"odds" db:"odds"`
}

// Market is a proposition with two or more mutually exclusive options.
type Market struct {
	ID          string       `json:"id" db:"id"`
	Question    string       `json:"question" db:"question"`
	Description string       `json:"description,omitempty" db:"description"`
	Status      MarketStatus `json:"status" db:"status"`
	CreatorID   string       `json:"creator_id" db:"creator_id"`
	ExpiresAt   *time.Time   `json:"expires_at,omitempty" db:"expires_at"`
	OutcomeID   *string      `json:"outcome_id,omitempty" db:"outcome_id"`
	SettledAt   *time.Time   `json:"settled_at,omitempty" db:"settled_at"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
	DeletedAt   *time.Time   `json:"deleted_at,omitempty" db:"deleted_at"`
	DeletedBy   *string      `json:"deleted_by,omitempty" db:"deleted_by"`
	Options     []Option     `json:"options"`
}

// Expired reports whether the market's expiry is at or before now.
func (m *Market) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && !now.Before(*m.ExpiresAt)
}

// Deleted reports whether the market has been soft-deleted.
func (m *Market) Deleted() bool { return m.DeletedAt != nil }

// AcceptsBets reports whether a bet placed at now may be taken.
func (m *Market) AcceptsBets(now time.Time) bool {
	return m.Status == MarketOpen && !m.Deleted() && !m.Expired(now)
}

// StatusAt returns the status as seen by readers at now: open markets past
// their expiry are reported as CLOSED.
func (m *Market) StatusAt(now time.Time) MarketStatus {
	if m.Status == MarketOpen && m.Expired(now) {
		return MarketClosed
	}
	return m.Status
}

// Option returns the option with the given id, or nil.
func (m *Market) Option(id string) *Option {
	for i := range m.Options {
		if m.Options[i].ID == id {
			return &m.Options[i]
		}
	}
	return nil
}

// Clone returns a deep copy of the market.
func (m Market) Clone() Market {
	c := m
	c.Options = append([]Option(nil), m.Options...)
	return c
}

// Bet is a single wager on one option. The stake is debited in the same
// transaction that creates the row.
type Bet struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	OptionID  string          `json:"option_id" db:"option_id"`
	MarketID  string          `json:"market_id" db:"market_id"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Status    BetStatus       `json:"status" db:"status"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	SettledAt *time.Time      `json:"settled_at,omitempty" db:"settled_at"`
	DeletedAt *time.Time      `json:"deleted_at,omitempty" db:"deleted_at"`
	DeletedBy *string         `json:"deleted_by,omitempty" db:"deleted_by"`
}

// LedgerEntry is an immutable record of one balance movement.
// Once created, these are never modified or deleted.
type LedgerEntry struct {
	ID           string          `json:"id" db:"id"`
	UserID       string          `json:"user_id" db:"user_id"`
	Kind         EntryKind       `json:"kind" db:"kind"`
	Amount       decimal.Decimal `json:"amount" db:"amount"` // signed: +credit, -debit
	BalanceAfter decimal.Decimal `json:"balance_after" db:"balance_after"`
	BetID        *string         `json:"bet_id,omitempty" db:"bet_id"`
	MarketID     *string         `json:"market_id,omitempty" db:"market_id"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// BetView is a bet joined with its option and market, used for history and
// reporting reads.
type BetView struct {
	Bet
	UserName       string          `json:"user_name"`
	OptionLabel    string          `json:"option_label"`
	Odds           decimal.Decimal `json:"odds"`
	MarketQuestion string          `json:"market_question"`
}

// Payout returns the amount credited for a winning stake at the given odds,
// rounded to currency precision. Every payout in the system goes through here.
func Payout(stake, odds decimal.Decimal) decimal.Decimal {
	return stake.Mul(odds).Round(MoneyScale)
}

// Caller is the verified identity supplied by the auth collaborator.
type Caller struct {
	UserID string
	Role   Role
}

// IsAdmin reports whether the caller holds the ADMIN role.
func (c Caller) IsAdmin() bool { return c.Role == RoleAdmin }
