package settlement_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betania/betting-engine/internal/model"
	"github.com/betania/betting-engine/internal/settlement"
	"github.com/betania/betting-engine/internal/store"
)

// settledEnv resolves m1 on m1-x with alice (50 on x) winning and bob
// (40 on y) losing. Balances afterwards: alice 150, bob 60.
func settledEnv(t *testing.T) (*settlement.Service, *store.MemoryStore) {
	t.Helper()
	svc, ms := newTestEnv(t)
	placeBet(t, ms, "b-alice", "alice", "m1-x", 50)
	placeBet(t, ms, "b-bob", "bob", "m1-y", 40)
	_, err := svc.ResolveMarket(context.Background(), carol, "m1", "m1-x")
	require.NoError(t, err)
	return svc, ms
}

func TestCorrectBet_WonToLostClawsBack(t *testing.T) {
	svc, ms := settledEnv(t)

	c, err := svc.CorrectBet(context.Background(), admin, "b-alice", model.BetLost)
	require.NoError(t, err)
	assert.True(t, c.Changed)
	assert.Equal(t, model.BetWon, c.From)
	assert.True(t, c.Delta.Equal(d(-100)), "delta %s", c.Delta)

	assert.Equal(t, model.BetLost, betStatus(t, ms, "b-alice"))
	assert.True(t, balance(t, ms, "alice").Equal(d(50)))

	entries, _ := ms.ListLedgerEntries(context.Background(), "alice")
	require.NotEmpty(t, entries)
	assert.Equal(t, model.EntryCorrection, entries[0].Kind)
	assert.True(t, entries[0].Amount.Equal(d(-100)))
	require.NotNil(t, entries[0].BetID)
	assert.Equal(t, "b-alice", *entries[0].BetID)
}

func TestCorrectBet_LostToWonPays(t *testing.T) {
	svc, ms := settledEnv(t)

	c, err := svc.CorrectBet(context.Background(), admin, "b-bob", model.BetWon)
	require.NoError(t, err)
	// 40 × 1.5
	assert.True(t, c.Delta.Equal(d(60)), "delta %s", c.Delta)
	assert.Equal(t, model.BetWon, betStatus(t, ms, "b-bob"))
	assert.True(t, balance(t, ms, "bob").Equal(d(120)))
}

func TestCorrectBet_SameStatusIsNoop(t *testing.T) {
	svc, ms := settledEnv(t)

	c, err := svc.CorrectBet(context.Background(), admin, "b-alice", model.BetWon)
	require.NoError(t, err)
	assert.False(t, c.Changed)
	assert.True(t, c.Delta.IsZero())
	assert.True(t, balance(t, ms, "alice").Equal(d(150)))

	entries, _ := ms.ListLedgerEntries(context.Background(), "alice")
	for _, e := range entries {
		assert.NotEqual(t, model.EntryCorrection, e.Kind)
	}
}

func TestCorrectBet_Rejections(t *testing.T) {
	svc, ms := settledEnv(t)
	ctx := context.Background()

	_, err := svc.CorrectBet(ctx, carol, "b-alice", model.BetLost)
	assert.ErrorIs(t, err, model.ErrForbidden, "market creators are not admins")

	_, err = svc.CorrectBet(ctx, admin, "b-alice", model.BetPending)
	assert.ErrorIs(t, err, model.ErrInvalidStatus)

	_, err = svc.CorrectBet(ctx, admin, "missing", model.BetLost)
	assert.ErrorIs(t, err, model.ErrBetNotFound)

	assert.Equal(t, model.BetWon, betStatus(t, ms, "b-alice"))
}

func TestCorrectBet_OpenMarket(t *testing.T) {
	svc, ms := newTestEnv(t)
	placeBet(t, ms, "b-alice", "alice", "m1-x", 50)

	_, err := svc.CorrectBet(context.Background(), admin, "b-alice", model.BetWon)
	assert.ErrorIs(t, err, model.ErrMarketNotSettled)
	assert.Equal(t, model.BetPending, betStatus(t, ms, "b-alice"))
	assert.True(t, balance(t, ms, "alice").Equal(d(50)))
}

func TestCorrectBet_ClawbackCannotOverdraw(t *testing.T) {
	svc, ms := settledEnv(t)
	ctx := context.Background()

	// alice spends her winnings before the correction lands.
	require.NoError(t, ms.WithTx(ctx, func(tx store.Tx) error {
		_, err := tx.AdjustBalance(ctx, "alice", d(-120))
		return err
	}))

	_, err := svc.CorrectBet(ctx, admin, "b-alice", model.BetLost)
	assert.ErrorIs(t, err, model.ErrInsufficientFunds)
	assert.Equal(t, model.BetWon, betStatus(t, ms, "b-alice"))
	assert.True(t, balance(t, ms, "alice").Equal(d(30)))
}
