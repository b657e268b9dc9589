package market_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betania/betting-engine/internal/market"
	"github.com/betania/betting-engine/internal/model"
	"github.com/betania/betting-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func ptr[T any](v T) *T { return &v }

var (
	carol = model.Caller{UserID: "carol", Role: model.RoleUser}
	admin = model.Caller{UserID: "admin", Role: model.RoleAdmin}
)

// newTestEnv creates a market Service over an in-memory store with a fixed
// clock and two users.
func newTestEnv(t *testing.T) (*market.Service, *store.MemoryStore, time.Time) {
	t.Helper()
	ms := store.NewMemoryStore()
	for _, u := range []model.User{
		{ID: "carol", Name: "Carol", Email: "carol@example.com", Role: model.RoleUser},
		{ID: "admin", Name: "Admin", Email: "admin@example.com", Role: model.RoleAdmin},
	} {
		u := u
		u.Balance = d(100)
		u.Situation = model.SituationActive
		if err := ms.WithTx(context.Background(), func(tx store.Tx) error {
			return tx.CreateUser(context.Background(), &u)
		}); err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc := market.NewService(ms, nil, nil)
	svc.Now = func() time.Time { return now }
	return svc, ms, now
}

func TestCreate_DefaultBinaryOptions(t *testing.T) {
	svc, ms, _ := newTestEnv(t)

	m, err := svc.Create(context.Background(), carol, market.CreateInput{
		Question: "  O chefe vai atrasar?  ",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Question != "O chefe vai atrasar?" {
		t.Errorf("question should be trimmed, got %q", m.Question)
	}
	if m.Status != model.MarketOpen || m.CreatorID != "carol" || m.ExpiresAt != nil {
		t.Errorf("unexpected market: %+v", m)
	}
	if len(m.Options) != 2 || m.Options[0].Label != "Sim" || m.Options[1].Label != "Não" {
		t.Fatalf("expected Sim/Não options, got %+v", m.Options)
	}
	for _, o := range m.Options {
		if !o.Odds.Equal(d(1.9)) {
			t.Errorf("default odds should be 1.90, got %s", o.Odds)
		}
		if o.MarketID != m.ID {
			t.Errorf("option should reference market")
		}
	}

	stored, err := ms.GetMarket(context.Background(), m.ID)
	if err != nil || len(stored.Options) != 2 {
		t.Fatalf("market not persisted with options: %v", err)
	}
}

func TestCreate_ExplicitOdds(t *testing.T) {
	svc, _, _ := newTestEnv(t)

	m, err := svc.Create(context.Background(), carol, market.CreateInput{
		Question: "Quem ganha o amigo secreto?",
		Options: []market.OptionInput{
			{Label: "Ana", Odds: ptr(d(2.005))},
			{Label: "Bruno", Odds: ptr(d(3))},
			{Label: "Caio", Odds: ptr(d(4.5))},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.Options[0].Odds.Equal(d(2.01)) {
		t.Errorf("odds should be rounded to 2 places, got %s", m.Options[0].Odds)
	}
}

func TestCreate_ProbabilityOptions(t *testing.T) {
	svc, _, _ := newTestEnv(t)

	m, err := svc.Create(context.Background(), carol, market.CreateInput{
		Question: "Vai ter bolo na sexta?",
		Options: []market.OptionInput{
			{Label: "Sim", Probability: ptr(d(40))},
			{Label: "Não", Probability: ptr(d(60))},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.Options[0].Odds.Equal(d(2.5)) || !m.Options[1].Odds.Equal(d(1.67)) {
		t.Errorf("unexpected derived odds: %s / %s", m.Options[0].Odds, m.Options[1].Odds)
	}
}

func TestCreate_Validation(t *testing.T) {
	svc, _, now := newTestEnv(t)
	past := now.Add(-time.Minute)

	tests := []struct {
		name   string
		caller model.Caller
		in     market.CreateInput
		want   error
	}{
		{"short question", carol, market.CreateInput{Question: " abc  "}, model.ErrInvalidQuestion},
		{"expiry in past", carol, market.CreateInput{Question: "Valid question", ExpiresAt: &past}, model.ErrInvalidExpiry},
		{"expiry now", carol, market.CreateInput{Question: "Valid question", ExpiresAt: &now}, model.ErrInvalidExpiry},
		{"unknown creator", model.Caller{UserID: "ghost"}, market.CreateInput{Question: "Valid question"}, model.ErrUserNotFound},
		{"single option", carol, market.CreateInput{Question: "Valid question", Options: []market.OptionInput{
			{Label: "Only", Odds: ptr(d(2))},
		}}, model.ErrInvalidOptions},
		{"empty label", carol, market.CreateInput{Question: "Valid question", Options: []market.OptionInput{
			{Label: "A", Odds: ptr(d(2))}, {Label: "  ", Odds: ptr(d(2))},
		}}, model.ErrInvalidOptions},
		{"duplicate label", carol, market.CreateInput{Question: "Valid question", Options: []market.OptionInput{
			{Label: "Sim", Odds: ptr(d(2))}, {Label: "sim", Odds: ptr(d(2))},
		}}, model.ErrInvalidOptions},
		{"odds not above one", carol, market.CreateInput{Question: "Valid question", Options: []market.OptionInput{
			{Label: "A", Odds: ptr(d(1))}, {Label: "B", Odds: ptr(d(2))},
		}}, model.ErrInvalidOptions},
		{"odds round to one", carol, market.CreateInput{Question: "Valid question", Options: []market.OptionInput{
			{Label: "A", Odds: ptr(d(1.004))}, {Label: "B", Odds: ptr(d(2))},
		}}, model.ErrInvalidOptions},
		{"mixed pricing", carol, market.CreateInput{Question: "Valid question", Options: []market.OptionInput{
			{Label: "A", Odds: ptr(d(2))}, {Label: "B", Probability: ptr(d(50))},
		}}, model.ErrInvalidOptions},
		{"probabilities off", carol, market.CreateInput{Question: "Valid question", Options: []market.OptionInput{
			{Label: "A", Probability: ptr(d(50))}, {Label: "B", Probability: ptr(d(40))},
		}}, model.ErrInvalidOptions},
		{"no price", carol, market.CreateInput{Question: "Valid question", Options: []market.OptionInput{
			{Label: "A"}, {Label: "B"},
		}}, model.ErrInvalidOptions},
	}
	for _, tt := range tests {
		_, err := svc.Create(context.Background(), tt.caller, tt.in)
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, err)
		}
	}
}

func TestCreate_ValidationOrder(t *testing.T) {
	svc, _, now := newTestEnv(t)
	past := now.Add(-time.Hour)

	// Short question wins over a bad expiry and an unknown creator.
	_, err := svc.Create(context.Background(), model.Caller{UserID: "ghost"}, market.CreateInput{
		Question: "x", ExpiresAt: &past,
	})
	if !errors.Is(err, model.ErrInvalidQuestion) {
		t.Fatalf("expected ErrInvalidQuestion, got %v", err)
	}

	// Unknown creator wins over bad options.
	_, err = svc.Create(context.Background(), model.Caller{UserID: "ghost"}, market.CreateInput{
		Question: "Valid question", Options: []market.OptionInput{{Label: "A", Odds: ptr(d(2))}},
	})
	if !errors.Is(err, model.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestList_OpenFirstThenNewest(t *testing.T) {
	svc, ms, now := newTestEnv(t)
	ctx := context.Background()

	soon := now.Add(time.Hour)
	expiring, _ := svc.Create(ctx, carol, market.CreateInput{Question: "Expires soon?", ExpiresAt: &soon})
	settled, _ := svc.Create(ctx, carol, market.CreateInput{Question: "Already settled?"})
	open, _ := svc.Create(ctx, carol, market.CreateInput{Question: "Still open?"})

	if err := ms.WithTx(ctx, func(tx store.Tx) error {
		return tx.SettleMarket(ctx, settled.ID, settled.Options[0].ID, now)
	}); err != nil {
		t.Fatalf("settle: %v", err)
	}

	// Move the clock past the first market's expiry.
	svc.Now = func() time.Time { return now.Add(2 * time.Hour) }

	views, err := svc.List(ctx, carol, market.ListFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(views) != 3 {
		t.Fatalf("expected 3 markets, got %d", len(views))
	}
	if views[0].ID != open.ID || views[0].Status != model.MarketOpen {
		t.Errorf("open market should come first, got %s (%s)", views[0].Question, views[0].Status)
	}
	statuses := map[string]model.MarketStatus{}
	for _, v := range views {
		statuses[v.ID] = v.Status
	}
	if statuses[expiring.ID] != model.MarketClosed {
		t.Errorf("expired market should be CLOSED, got %s", statuses[expiring.ID])
	}
	if statuses[settled.ID] != model.MarketSettled {
		t.Errorf("settled market should be SETTLED, got %s", statuses[settled.ID])
	}

	closed, _ := svc.List(ctx, carol, market.ListFilter{Status: model.MarketClosed})
	if len(closed) != 1 || closed[0].ID != expiring.ID {
		t.Errorf("status filter should return only the closed market, got %+v", closed)
	}
}

func TestGet_ImpliedProbabilities(t *testing.T) {
	svc, _, _ := newTestEnv(t)
	ctx := context.Background()

	m, _ := svc.Create(ctx, carol, market.CreateInput{Question: "Default book?"})
	v, err := svc.Get(ctx, carol, m.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !v.Options[0].Probability.Equal(d(52.63)) {
		t.Errorf("expected 52.63%%, got %s", v.Options[0].Probability)
	}
	if !v.Overround.Equal(d(5.26)) {
		t.Errorf("expected overround 5.26, got %s", v.Overround)
	}

	if _, err := svc.Get(ctx, carol, "missing"); !errors.Is(err, model.ErrMarketNotFound) {
		t.Errorf("expected ErrMarketNotFound, got %v", err)
	}
}

func TestSoftDelete(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	ctx := context.Background()
	m, _ := svc.Create(ctx, carol, market.CreateInput{Question: "To be deleted?"})

	if err := svc.SoftDelete(ctx, carol, m.ID); !errors.Is(err, model.ErrForbidden) {
		t.Fatalf("non-admin delete: expected ErrForbidden, got %v", err)
	}
	if err := svc.SoftDelete(ctx, admin, "missing"); !errors.Is(err, model.ErrMarketNotFound) {
		t.Fatalf("expected ErrMarketNotFound, got %v", err)
	}
	if err := svc.SoftDelete(ctx, admin, m.ID); err != nil {
		t.Fatalf("admin delete: %v", err)
	}

	stored, _ := ms.GetMarket(ctx, m.ID)
	if stored.DeletedAt == nil || *stored.DeletedBy != "admin" {
		t.Errorf("deleted_at/by not recorded: %+v", stored)
	}

	views, _ := svc.List(ctx, carol, market.ListFilter{})
	if len(views) != 0 {
		t.Errorf("deleted market should be hidden, got %d", len(views))
	}
	if _, err := svc.Get(ctx, carol, m.ID); !errors.Is(err, model.ErrMarketNotFound) {
		t.Errorf("deleted market hidden from users, got %v", err)
	}
	if _, err := svc.Get(ctx, admin, m.ID); err != nil {
		t.Errorf("admin should still see deleted market: %v", err)
	}
	all, _ := svc.List(ctx, admin, market.ListFilter{IncludeDeleted: true})
	if len(all) != 1 {
		t.Errorf("admin listing with deleted should include it, got %d", len(all))
	}
}

func TestUpdateText(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	ctx := context.Background()
	m, err := svc.Create(ctx, carol, market.CreateInput{
		Question:    "Vai chover amanhã?",
		Description: "Segundo o INMET",
		Options: []market.OptionInput{
			{Label: "Sim", Odds: ptr(d(1.8))},
			{Label: "Não", Odds: ptr(d(2.1))},
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.UpdateText(ctx, carol, m.ID, market.TextInput{Question: "Vai nevar amanhã?"}); !errors.Is(err, model.ErrForbidden) {
		t.Fatalf("creator edit: expected ErrForbidden, got %v", err)
	}
	if _, err := svc.UpdateText(ctx, admin, m.ID, market.TextInput{Question: " abc "}); !errors.Is(err, model.ErrInvalidQuestion) {
		t.Fatalf("short question: expected ErrInvalidQuestion, got %v", err)
	}
	if _, err := svc.UpdateText(ctx, admin, "missing", market.TextInput{Question: "Vai nevar amanhã?"}); !errors.Is(err, model.ErrMarketNotFound) {
		t.Fatalf("expected ErrMarketNotFound, got %v", err)
	}

	updated, err := svc.UpdateText(ctx, admin, m.ID, market.TextInput{Question: "  Vai nevar amanhã?  "})
	if err != nil {
		t.Fatalf("admin edit: %v", err)
	}
	if updated.Question != "Vai nevar amanhã?" || updated.Description != "Segundo o INMET" {
		t.Errorf("unexpected text after edit: %q / %q", updated.Question, updated.Description)
	}

	stored, _ := ms.GetMarket(ctx, m.ID)
	if stored.Question != "Vai nevar amanhã?" {
		t.Errorf("question not persisted: %q", stored.Question)
	}
	if stored.Status != model.MarketOpen || len(stored.Options) != 2 {
		t.Fatalf("status or options changed: %+v", stored)
	}
	for i, o := range stored.Options {
		if !o.Odds.Equal(m.Options[i].Odds) || o.ID != m.Options[i].ID {
			t.Errorf("option %d changed: %+v -> %+v", i, m.Options[i], o)
		}
	}

	if _, err := svc.UpdateText(ctx, admin, m.ID, market.TextInput{Question: "Vai nevar amanhã?", Description: ptr("")}); err != nil {
		t.Fatalf("clear description: %v", err)
	}
	stored, _ = ms.GetMarket(ctx, m.ID)
	if stored.Description != "" {
		t.Errorf("description should be cleared, got %q", stored.Description)
	}
}
