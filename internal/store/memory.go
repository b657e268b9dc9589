package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betania/betting-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// Transactions are serialized behind one mutex and work on a private copy
// of the state that replaces the live state only on success.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
}

type memState struct {
	users       map[string]model.User
	userOrder   []string
	markets     map[string]model.Market
	marketOrder []string
	optionIndex map[string]string // option id → market id
	bets        map[string]model.Bet
	betOrder    []string
	ledger      []model.LedgerEntry
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: &memState{
			users:       make(map[string]model.User),
			markets:     make(map[string]model.Market),
			optionIndex: make(map[string]string),
			bets:        make(map[string]model.Bet),
		},
	}
}

func (st *memState) clone() *memState {
	c := &memState{
		users:       make(map[string]model.User, len(st.users)),
		userOrder:   append([]string(nil), st.userOrder...),
		markets:     make(map[string]model.Market, len(st.markets)),
		marketOrder: append([]string(nil), st.marketOrder...),
		optionIndex: make(map[string]string, len(st.optionIndex)),
		bets:        make(map[string]model.Bet, len(st.bets)),
		betOrder:    append([]string(nil), st.betOrder...),
		ledger:      append([]model.LedgerEntry(nil), st.ledger...),
	}
	for k, v := range st.users {
		c.users[k] = v
	}
	for k, v := range st.markets {
		c.markets[k] = v.Clone()
	}
	for k, v := range st.optionIndex {
		c.optionIndex[k] = v
	}
	for k, v := range st.bets {
		c.bets[k] = v
	}
	return c
}

// WithTx runs fn against a copy of the state and publishes the copy only
// when fn succeeds.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{st: s.state.clone()}
	err := fn(tx)
	tx.done = true
	if err != nil {
		return err
	}
	s.state = tx.st
	return nil
}

// --- Reader ---

func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.state.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return &u, nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.state.markets[id]
	if !ok {
		return nil, fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	c := m.Clone()
	return &c, nil
}

func (s *MemoryStore) ListMarkets(_ context.Context, f MarketFilter) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.state.markets))
	for i := len(s.state.marketOrder) - 1; i >= 0; i-- {
		m := s.state.markets[s.state.marketOrder[i]]
		if !f.IncludeDeleted && m.Deleted() {
			continue
		}
		if f.CreatorID != "" && m.CreatorID != f.CreatorID {
			continue
		}
		if f.Status != "" && m.Status != f.Status {
			continue
		}
		markets = append(markets, m.Clone())
	}
	return markets, nil
}

func (s *MemoryStore) ListBets(_ context.Context, f BetFilter) ([]model.BetView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var views []model.BetView
	for i := len(s.state.betOrder) - 1; i >= 0; i-- {
		b := s.state.bets[s.state.betOrder[i]]
		if !f.IncludeDeleted && b.DeletedAt != nil {
			continue
		}
		if f.UserID != "" && b.UserID != f.UserID {
			continue
		}
		if f.MarketID != "" && b.MarketID != f.MarketID {
			continue
		}
		if f.Status != "" && b.Status != f.Status {
			continue
		}
		if f.Since != nil && b.CreatedAt.Before(*f.Since) {
			continue
		}

		// Direct access, already under RLock.
		m := s.state.markets[b.MarketID]
		view := model.BetView{
			Bet:            b,
			UserName:       s.state.users[b.UserID].Name,
			MarketQuestion: m.Question,
		}
		if opt := m.Option(b.OptionID); opt != nil {
			view.OptionLabel = opt.Label
			view.Odds = opt.Odds
		}
		views = append(views, view)
	}
	return views, nil
}

func (s *MemoryStore) Leaderboard(_ context.Context, limit int) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var users []model.User
	for _, id := range s.state.userOrder {
		u := s.state.users[id]
		if u.Situation == model.SituationExiled {
			continue
		}
		users = append(users, u)
	}
	sort.SliceStable(users, func(i, j int) bool {
		return users[i].Balance.GreaterThan(users[j].Balance)
	})
	if limit > 0 && len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

func (s *MemoryStore) ListLedgerEntries(_ context.Context, userID string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []model.LedgerEntry
	for i := len(s.state.ledger) - 1; i >= 0; i-- {
		if e := s.state.ledger[i]; e.UserID == userID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// --- Tx ---

type memTx struct {
	st   *memState
	done bool
}

func (t *memTx) check() error {
	if t.done {
		return ErrTxDone
	}
	return nil
}

func (t *memTx) CreateUser(_ context.Context, u *model.User) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, ok := t.st.users[u.ID]; ok {
		return fmt.Errorf("user %s: %w", u.ID, ErrDuplicate)
	}
	for _, existing := range t.st.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return fmt.Errorf("email %s: %w", u.Email, ErrDuplicate)
		}
	}
	t.st.users[u.ID] = *u
	t.st.userOrder = append(t.st.userOrder, u.ID)
	return nil
}

func (t *memTx) LockUser(_ context.Context, id string) (*model.User, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	u, ok := t.st.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return &u, nil
}

func (t *memTx) AdjustBalance(_ context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error) {
	if err := t.check(); err != nil {
		return decimal.Zero, err
	}
	u, ok := t.st.users[userID]
	if !ok {
		return decimal.Zero, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	next := u.Balance.Add(delta)
	if next.IsNegative() {
		return decimal.Zero, ErrNegativeBalance
	}
	u.Balance = next
	t.st.users[userID] = u
	return next, nil
}

func (t *memTx) InsertLedgerEntry(_ context.Context, e *model.LedgerEntry) error {
	if err := t.check(); err != nil {
		return err
	}
	t.st.ledger = append(t.st.ledger, *e)
	return nil
}

func (t *memTx) CreateMarket(_ context.Context, m *model.Market) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, ok := t.st.markets[m.ID]; ok {
		return fmt.Errorf("market %s: %w", m.ID, ErrDuplicate)
	}
	if _, ok := t.st.users[m.CreatorID]; !ok {
		return fmt.Errorf("creator %s: %w", m.CreatorID, ErrNotFound)
	}
	for _, o := range m.Options {
		if _, ok := t.st.optionIndex[o.ID]; ok {
			return fmt.Errorf("option %s: %w", o.ID, ErrDuplicate)
		}
	}
	t.st.markets[m.ID] = m.Clone()
	t.st.marketOrder = append(t.st.marketOrder, m.ID)
	for _, o := range m.Options {
		t.st.optionIndex[o.ID] = m.ID
	}
	return nil
}

func (t *memTx) LockMarket(_ context.Context, id string) (*model.Market, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	m, ok := t.st.markets[id]
	if !ok {
		return nil, fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	c := m.Clone()
	return &c, nil
}

func (t *memTx) GetOption(_ context.Context, id string) (*model.Option, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	marketID, ok := t.st.optionIndex[id]
	if !ok {
		return nil, fmt.Errorf("option %s: %w", id, ErrNotFound)
	}
	m := t.st.markets[marketID]
	opt := m.Option(id)
	if opt == nil {
		return nil, fmt.Errorf("option %s: %w", id, ErrNotFound)
	}
	o := *opt
	return &o, nil
}

func (t *memTx) SettleMarket(_ context.Context, marketID, outcomeID string, at time.Time) error {
	if err := t.check(); err != nil {
		return err
	}
	m, ok := t.st.markets[marketID]
	if !ok {
		return fmt.Errorf("market %s: %w", marketID, ErrNotFound)
	}
	if m.Status != model.MarketOpen {
		return fmt.Errorf("settle market %s: %w", marketID, ErrStale)
	}
	outcome := outcomeID
	settledAt := at
	m.Status = model.MarketSettled
	m.OutcomeID = &outcome
	m.SettledAt = &settledAt
	t.st.markets[marketID] = m
	return nil
}

func (t *memTx) SoftDeleteMarket(_ context.Context, marketID, deletedBy string, at time.Time) error {
	if err := t.check(); err != nil {
		return err
	}
	m, ok := t.st.markets[marketID]
	if !ok {
		return fmt.Errorf("market %s: %w", marketID, ErrNotFound)
	}
	if m.DeletedAt != nil {
		return nil
	}
	by := deletedBy
	deletedAt := at
	m.DeletedAt = &deletedAt
	m.DeletedBy = &by
	t.st.markets[marketID] = m
	return nil
}

func (t *memTx) UpdateMarketText(_ context.Context, marketID, question, description string) error {
	if err := t.check(); err != nil {
		return err
	}
	m, ok := t.st.markets[marketID]
	if !ok {
		return fmt.Errorf("market %s: %w", marketID, ErrNotFound)
	}
	m.Question = question
	m.Description = description
	t.st.markets[marketID] = m
	return nil
}

func (t *memTx) InsertBet(_ context.Context, b *model.Bet) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, ok := t.st.bets[b.ID]; ok {
		return fmt.Errorf("bet %s: %w", b.ID, ErrDuplicate)
	}
	if t.st.optionIndex[b.OptionID] != b.MarketID {
		return fmt.Errorf("bet option %s: %w", b.OptionID, ErrNotFound)
	}
	t.st.bets[b.ID] = *b
	t.st.betOrder = append(t.st.betOrder, b.ID)
	return nil
}

func (t *memTx) GetBet(ctx context.Context, id string) (*model.Bet, error) {
	return t.LockBet(ctx, id)
}

func (t *memTx) LockBet(_ context.Context, id string) (*model.Bet, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	b, ok := t.st.bets[id]
	if !ok {
		return nil, fmt.Errorf("bet %s: %w", id, ErrNotFound)
	}
	return &b, nil
}

func (t *memTx) ListBetsByOption(_ context.Context, optionID string, status model.BetStatus) ([]model.Bet, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	var bets []model.Bet
	for _, id := range t.st.betOrder {
		b := t.st.bets[id]
		if b.OptionID == optionID && b.Status == status {
			bets = append(bets, b)
		}
	}
	return bets, nil
}

func (t *memTx) UpdateBetStatuses(_ context.Context, u BetStatusUpdate) (int64, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	var n int64
	for _, id := range t.st.betOrder {
		b := t.st.bets[id]
		if b.MarketID != u.MarketID || b.Status != u.From {
			continue
		}
		if (b.OptionID == u.OptionID) == u.ExcludeOption {
			continue
		}
		at := u.At
		b.Status = u.To
		b.SettledAt = &at
		t.st.bets[id] = b
		n++
	}
	return n, nil
}

func (t *memTx) SetBetStatus(_ context.Context, betID string, status model.BetStatus, at time.Time) error {
	if err := t.check(); err != nil {
		return err
	}
	b, ok := t.st.bets[betID]
	if !ok {
		return fmt.Errorf("bet %s: %w", betID, ErrNotFound)
	}
	settledAt := at
	b.Status = status
	b.SettledAt = &settledAt
	t.st.bets[betID] = b
	return nil
}
