// Package market creates markets with fixed odds and serves market reads.
// Odds are decided here, once; no code path updates them afterwards.
package market

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/betania/betting-engine/internal/events"
	"github.com/betania/betting-engine/internal/metrics"
	"github.com/betania/betting-engine/internal/model"
	"github.com/betania/betting-engine/internal/odds"
	"github.com/betania/betting-engine/internal/store"
)

// Service handles market creation, listing and moderation.
type Service struct {
	store store.Store
	pub   events.Publisher
	log   *zap.Logger

	// Now is the clock used for expiry checks. Defaults to time.Now.
	Now func() time.Time
}

// NewService creates a market service. pub may be nil.
func NewService(st store.Store, pub events.Publisher, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: st, pub: pub, log: log, Now: time.Now}
}

// CreateInput is a market creation request.
type CreateInput struct {
	Question    string
	Description string
	ExpiresAt   *time.Time // nil: never expires
	Options     []OptionInput
}

// OptionView is an option with its implied probability.
type OptionView struct {
	model.Option
	Probability decimal.Decimal `json:"probability"`
}

// View is a market as presented to readers: Status is the derived status
// (CLOSED for open markets past expiry).
type View struct {
	model.Market
	Options   []OptionView    `json:"options"`
	Overround decimal.Decimal `json:"overround"`
}

// Create validates the request and persists an OPEN market with its options
// in one transaction. The caller becomes the market's creator.
func (s *Service) Create(ctx context.Context, caller model.Caller, in CreateInput) (*model.Market, error) {
	now := s.Now().UTC()

	question, err := validateQuestion(in.Question)
	if err != nil {
		return nil, err
	}
	if err := validateExpiry(in.ExpiresAt, now); err != nil {
		return nil, err
	}
	if _, err := s.store.GetUser(ctx, caller.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, model.ErrUserNotFound
		}
		return nil, fmt.Errorf("load creator: %w", err)
	}

	m := &model.Market{
		ID:          uuid.New().String(),
		Question:    question,
		Description: in.Description,
		Status:      model.MarketOpen,
		CreatorID:   caller.UserID,
		CreatedAt:   now,
	}
	if in.ExpiresAt != nil {
		exp := in.ExpiresAt.UTC()
		m.ExpiresAt = &exp
	}
	m.Options, err = buildOptions(m.ID, in.Options)
	if err != nil {
		return nil, err
	}

	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		return tx.CreateMarket(ctx, m)
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, model.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("create market: %w", err)
	}

	metrics.MarketsCreated.Inc()
	s.log.Info("market created",
		zap.String("id", m.ID),
		zap.String("creator", m.CreatorID),
		zap.Int("options", len(m.Options)),
	)
	events.Notify(ctx, s.pub, s.log, events.Event{
		Type:     events.MarketCreated,
		MarketID: m.ID,
		UserID:   m.CreatorID,
		At:       now,
	})
	return m, nil
}

// Get returns one market. Soft-deleted markets are only visible to admins.
func (s *Service) Get(ctx context.Context, caller model.Caller, id string) (*View, error) {
	m, err := s.store.GetMarket(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, model.ErrMarketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get market: %w", err)
	}
	if m.Deleted() && !caller.IsAdmin() {
		return nil, model.ErrMarketNotFound
	}
	v := s.view(*m, s.Now())
	return &v, nil
}

// ListFilter narrows List. Status filters on the derived status.
type ListFilter struct {
	CreatorID      string
	Status         model.MarketStatus
	IncludeDeleted bool // honoured for admins only
}

// List returns visible markets: open ones first, then closed and settled,
// newest first within each group.
func (s *Service) List(ctx context.Context, caller model.Caller, f ListFilter) ([]View, error) {
	markets, err := s.store.ListMarkets(ctx, store.MarketFilter{
		CreatorID:      f.CreatorID,
		IncludeDeleted: f.IncludeDeleted && caller.IsAdmin(),
	})
	if err != nil {
		return nil, fmt.Errorf("list markets: %w", err)
	}

	now := s.Now()
	views := make([]View, 0, len(markets))
	for _, m := range markets {
		v := s.view(m, now)
		if f.Status != "" && v.Status != f.Status {
			continue
		}
		views = append(views, v)
	}

	sort.SliceStable(views, func(i, j int) bool {
		oi, oj := views[i].Status == model.MarketOpen, views[j].Status == model.MarketOpen
		if oi != oj {
			return oi
		}
		return views[i].CreatedAt.After(views[j].CreatedAt)
	})
	return views, nil
}

// SoftDelete hides a market. Admin only. Settled ledger effects stay, and
// pending bets on the market can still be resolved.
func (s *Service) SoftDelete(ctx context.Context, caller model.Caller, marketID string) error {
	if !caller.IsAdmin() {
		return model.ErrForbidden
	}

	now := s.Now().UTC()
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.LockMarket(ctx, marketID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return model.ErrMarketNotFound
			}
			return err
		}
		return tx.SoftDeleteMarket(ctx, marketID, caller.UserID, now)
	})
	if err != nil {
		if errors.Is(err, model.ErrMarketNotFound) {
			return err
		}
		return fmt.Errorf("delete market: %w", err)
	}

	s.log.Info("market deleted", zap.String("id", marketID), zap.String("by", caller.UserID))
	events.Notify(ctx, s.pub, s.log, events.Event{
		Type:     events.MarketDeleted,
		MarketID: marketID,
		UserID:   caller.UserID,
		At:       now,
	})
	return nil
}

// TextInput is an admin edit of a market's wording. A nil Description
// keeps the current one.
type TextInput struct {
	Question    string
	Description *string
}

// UpdateText rewrites a market's question and, optionally, its description.
// Admin only. Options and odds cannot be changed this way.
func (s *Service) UpdateText(ctx context.Context, caller model.Caller, marketID string, in TextInput) (*model.Market, error) {
	if !caller.IsAdmin() {
		return nil, model.ErrForbidden
	}
	question, err := validateQuestion(in.Question)
	if err != nil {
		return nil, err
	}

	var m *model.Market
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		m, err = tx.LockMarket(ctx, marketID)
		if errors.Is(err, store.ErrNotFound) {
			return model.ErrMarketNotFound
		}
		if err != nil {
			return err
		}
		m.Question = question
		if in.Description != nil {
			m.Description = *in.Description
		}
		return tx.UpdateMarketText(ctx, marketID, m.Question, m.Description)
	})
	if err != nil {
		if errors.Is(err, model.ErrMarketNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("update market: %w", err)
	}

	s.log.Info("market updated", zap.String("id", marketID), zap.String("by", caller.UserID))
	events.Notify(ctx, s.pub, s.log, events.Event{
		Type:     events.MarketUpdated,
		MarketID: marketID,
		UserID:   caller.UserID,
		At:       s.Now().UTC(),
	})
	return m, nil
}

func (s *Service) view(m model.Market, now time.Time) View {
	v := View{Market: m}
	v.Status = m.StatusAt(now)
	book := make([]decimal.Decimal, len(m.Options))
	v.Options = make([]OptionView, len(m.Options))
	for i, o := range m.Options {
		v.Options[i] = OptionView{Option: o, Probability: odds.ImpliedProbability(o.Odds)}
		book[i] = o.Odds
	}
	v.Overround = odds.Overround(book)
	return v
}
