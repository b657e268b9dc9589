package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/betania/betting-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache after the
// transaction commits; reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     redis.UniversalClient
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb redis.UniversalClient, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// WithTx runs fn on the primary store and drops every cache key the
// transaction touched once it has committed. A rolled back transaction
// leaves the cache alone.
//
// Each cached family carries a generation counter bumped together with the
// delete, so a reader that loaded the old rows before the commit cannot put
// them back afterwards.
func (s *CachedStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	var rec *recordingTx
	err := s.primary.WithTx(ctx, func(tx Tx) error {
		rec = &recordingTx{Tx: tx}
		return fn(rec)
	})
	if err != nil || rec == nil {
		return err
	}

	keys, leaderboard := rec.keys()
	if len(keys) == 0 && !leaderboard {
		return nil
	}
	// The commit happened; invalidation must not be cut short by the caller.
	ctx = context.WithoutCancel(ctx)
	pipe := s.rdb.TxPipeline()
	for _, key := range keys {
		pipe.Del(ctx, key)
		pipe.Incr(ctx, genKey(key))
	}
	if leaderboard {
		pipe.Incr(ctx, leaderboardGenKey)
	}
	_, _ = pipe.Exec(ctx)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	key := marketKey(id)
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	// Cache miss: read from primary, remembering the generation first.
	gen := s.generation(ctx, genKey(key))
	m, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(m); err == nil {
		s.fill(ctx, genKey(key), gen, key, data)
	}
	return m, nil
}

// Leaderboard caches under a key that embeds the current generation, so a
// balance change makes every older ranking unreachable at once.
func (s *CachedStore) Leaderboard(ctx context.Context, limit int) ([]model.User, error) {
	key := leaderboardKey(s.generation(ctx, leaderboardGenKey), limit)
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var users []model.User
		if json.Unmarshal(data, &users) == nil {
			return users, nil
		}
	}

	users, err := s.primary.Leaderboard(ctx, limit)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(users); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return users, nil
}

// generation reads a counter; a missing key is generation 0.
func (s *CachedStore) generation(ctx context.Context, key string) int64 {
	n, err := s.rdb.Get(ctx, key).Int64()
	if err != nil {
		return 0
	}
	return n
}

// fill stores data under key only if the generation is still gen. WATCH
// aborts the write when an invalidation lands in between.
func (s *CachedStore) fill(ctx context.Context, gk string, gen int64, key string, data []byte) {
	_ = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, gk).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		return err
	}, gk)
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	return s.primary.GetUser(ctx, id)
}

func (s *CachedStore) ListMarkets(ctx context.Context, f MarketFilter) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx, f)
}

func (s *CachedStore) ListBets(ctx context.Context, f BetFilter) ([]model.BetView, error) {
	return s.primary.ListBets(ctx, f)
}

func (s *CachedStore) ListLedgerEntries(ctx context.Context, userID string) ([]model.LedgerEntry, error) {
	return s.primary.ListLedgerEntries(ctx, userID)
}

// recordingTx notes which cached reads a transaction invalidates.
type recordingTx struct {
	Tx

	mu          sync.Mutex
	markets     map[string]struct{}
	leaderboard bool
}

func (r *recordingTx) touchMarket(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.markets == nil {
		r.markets = make(map[string]struct{})
	}
	r.markets[id] = struct{}{}
}

func (r *recordingTx) touchLeaderboard() {
	r.mu.Lock()
	r.leaderboard = true
	r.mu.Unlock()
}

// keys returns the market keys to drop and whether balances changed.
func (r *recordingTx) keys() ([]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.markets))
	for id := range r.markets {
		keys = append(keys, marketKey(id))
	}
	return keys, r.leaderboard
}

func (r *recordingTx) CreateUser(ctx context.Context, u *model.User) error {
	if err := r.Tx.CreateUser(ctx, u); err != nil {
		return err
	}
	r.touchLeaderboard()
	return nil
}

func (r *recordingTx) AdjustBalance(ctx context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error) {
	balance, err := r.Tx.AdjustBalance(ctx, userID, delta)
	if err != nil {
		return balance, err
	}
	r.touchLeaderboard()
	return balance, nil
}

func (r *recordingTx) CreateMarket(ctx context.Context, m *model.Market) error {
	if err := r.Tx.CreateMarket(ctx, m); err != nil {
		return err
	}
	r.touchMarket(m.ID)
	return nil
}

func (r *recordingTx) SettleMarket(ctx context.Context, marketID, outcomeID string, at time.Time) error {
	if err := r.Tx.SettleMarket(ctx, marketID, outcomeID, at); err != nil {
		return err
	}
	r.touchMarket(marketID)
	return nil
}

func (r *recordingTx) SoftDeleteMarket(ctx context.Context, marketID, deletedBy string, at time.Time) error {
	if err := r.Tx.SoftDeleteMarket(ctx, marketID, deletedBy, at); err != nil {
		return err
	}
	r.touchMarket(marketID)
	return nil
}

func (r *recordingTx) UpdateMarketText(ctx context.Context, marketID, question, description string) error {
	if err := r.Tx.UpdateMarketText(ctx, marketID, question, description); err != nil {
		return err
	}
	r.touchMarket(marketID)
	return nil
}

// --- Cache helpers ---

// leaderboardGenKey counts balance-changing commits.
const leaderboardGenKey = "leaderboard:gen"

func marketKey(id string) string { return fmt.Sprintf("market:%s", id) }
func genKey(key string) string   { return key + ":gen" }
func leaderboardKey(gen int64, limit int) string {
	return "leaderboard:" + strconv.FormatInt(gen, 10) + ":" + strconv.Itoa(limit)
}
