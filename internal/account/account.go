// Package account covers the wallet side of a user: registration with the
// starting balance, low-balance recharges, the leaderboard and per-user
// history reads.
package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/betania/betting-engine/internal/events"
	"github.com/betania/betting-engine/internal/ledger"
	"github.com/betania/betting-engine/internal/metrics"
	"github.com/betania/betting-engine/internal/model"
	"github.com/betania/betting-engine/internal/store"
)

// Settings holds the wallet amounts.
type Settings struct {
	StartingBalance   decimal.Decimal
	RechargeAmount    decimal.Decimal
	RechargeThreshold decimal.Decimal
	LeaderboardSize   int
}

// DefaultSettings returns 100 to start, 100 per recharge below 10, top 5.
func DefaultSettings() Settings {
	return Settings{
		StartingBalance:   decimal.NewFromInt(100),
		RechargeAmount:    decimal.NewFromInt(100),
		RechargeThreshold: decimal.NewFromInt(10),
		LeaderboardSize:   5,
	}
}

// MaxLeaderboardSize caps a requested leaderboard length.
const MaxLeaderboardSize = 100

// Service manages accounts.
type Service struct {
	store    store.Store
	pub      events.Publisher
	log      *zap.Logger
	settings Settings
	validate *validator.Validate

	// Now stamps new accounts and ledger entries. Defaults to time.Now.
	Now func() time.Time
}

// NewService creates an account service. pub may be nil.
func NewService(st store.Store, pub events.Publisher, log *zap.Logger, settings Settings) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	def := DefaultSettings()
	if !settings.StartingBalance.IsPositive() {
		settings.StartingBalance = def.StartingBalance
	}
	if !settings.RechargeAmount.IsPositive() {
		settings.RechargeAmount = def.RechargeAmount
	}
	if !settings.RechargeThreshold.IsPositive() {
		settings.RechargeThreshold = def.RechargeThreshold
	}
	if settings.LeaderboardSize <= 0 {
		settings.LeaderboardSize = def.LeaderboardSize
	}
	return &Service{
		store:    st,
		pub:      pub,
		log:      log,
		settings: settings,
		validate: validator.New(),
		Now:      time.Now,
	}
}

// RegisterInput is a sign-up request. Credentials stay with the auth
// collaborator.
type RegisterInput struct {
	Name  string `validate:"required,min=2,max=100"`
	Email string `validate:"required,email,max=254"`
}

// Register creates an active USER holding the starting balance.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrInvalidInput, err)
	}

	u := &model.User{
		ID:        uuid.New().String(),
		Name:      in.Name,
		Email:     in.Email,
		Role:      model.RoleUser,
		Balance:   s.settings.StartingBalance,
		Situation: model.SituationActive,
		CreatedAt: s.Now().UTC(),
	}
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		return tx.CreateUser(ctx, u)
	})
	if errors.Is(err, store.ErrDuplicate) {
		return nil, model.ErrEmailTaken
	}
	if err != nil {
		return nil, fmt.Errorf("register user: %w", err)
	}

	s.log.Info("user registered", zap.String("user", u.ID))
	events.Notify(ctx, s.pub, s.log, events.Event{
		Type:    events.UserRegistered,
		UserID:  u.ID,
		Balance: u.Balance.StringFixed(model.MoneyScale),
		At:      u.CreatedAt,
	})
	return u, nil
}

// Get returns a user's public profile.
func (s *Service) Get(ctx context.Context, id string) (*model.User, error) {
	u, err := s.store.GetUser(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, model.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// RequestRecharge credits the recharge amount to userID when its balance is
// below the threshold. Users recharge themselves; admins anyone.
func (s *Service) RequestRecharge(ctx context.Context, caller model.Caller, userID string) (*model.LedgerEntry, error) {
	if caller.UserID != userID && !caller.IsAdmin() {
		return nil, model.ErrForbidden
	}

	now := s.Now().UTC()
	var entry *model.LedgerEntry
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		u, err := tx.LockUser(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			return model.ErrUserNotFound
		}
		if err != nil {
			return err
		}
		if !u.Balance.LessThan(s.settings.RechargeThreshold) {
			return model.ErrRechargeNotAllowed
		}
		entry, err = ledger.Credit(ctx, tx, userID, s.settings.RechargeAmount, ledger.Posting{
			Kind: model.EntryRecharge,
			At:   now,
		})
		return err
	})
	if err != nil {
		if model.IsBusiness(err) {
			return nil, err
		}
		return nil, fmt.Errorf("recharge: %w", err)
	}

	metrics.Recharges.Inc()
	s.log.Info("balance recharged",
		zap.String("user", userID),
		zap.String("amount", entry.Amount.String()),
		zap.String("balance", entry.BalanceAfter.String()),
	)
	events.Notify(ctx, s.pub, s.log, events.Event{
		Type:    events.BalanceRecharged,
		UserID:  userID,
		Amount:  entry.Amount.StringFixed(model.MoneyScale),
		Balance: entry.BalanceAfter.StringFixed(model.MoneyScale),
		At:      now,
	})
	return entry, nil
}

// Leaderboard returns the richest active users. limit <= 0 uses the
// configured size.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]model.User, error) {
	if limit <= 0 {
		limit = s.settings.LeaderboardSize
	}
	limit = min(limit, MaxLeaderboardSize)
	users, err := s.store.Leaderboard(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	return users, nil
}

// HistoryItem is a bet as shown in a user's history.
type HistoryItem struct {
	model.BetView
	PotentialPayout decimal.Decimal  `json:"potential_payout"`
	ActualPayout    *decimal.Decimal `json:"actual_payout,omitempty"` // nil while pending
}

// BetHistory returns userID's visible bets, newest first.
func (s *Service) BetHistory(ctx context.Context, caller model.Caller, userID string) ([]HistoryItem, error) {
	if caller.UserID != userID && !caller.IsAdmin() {
		return nil, model.ErrForbidden
	}
	views, err := s.store.ListBets(ctx, store.BetFilter{UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("bet history: %w", err)
	}

	items := make([]HistoryItem, 0, len(views))
	for _, v := range views {
		item := HistoryItem{BetView: v, PotentialPayout: model.Payout(v.Amount, v.Odds)}
		switch v.Status {
		case model.BetWon:
			paid := item.PotentialPayout
			item.ActualPayout = &paid
		case model.BetLost:
			zero := decimal.Zero
			item.ActualPayout = &zero
		}
		items = append(items, item)
	}
	return items, nil
}

// Ledger returns userID's balance movements, newest first.
func (s *Service) Ledger(ctx context.Context, caller model.Caller, userID string) ([]model.LedgerEntry, error) {
	if caller.UserID != userID && !caller.IsAdmin() {
		return nil, model.ErrForbidden
	}
	entries, err := s.store.ListLedgerEntries(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	return entries, nil
}
