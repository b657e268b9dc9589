package settlement_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betania/betting-engine/internal/model"
	"github.com/betania/betting-engine/internal/settlement"
	"github.com/betania/betting-engine/internal/store"
)

var (
	marketCols = []string{"id", "question", "description", "status", "creator_id",
		"expires_at", "outcome_id", "settled_at", "created_at", "deleted_at", "deleted_by"}
	optionCols = []string{"id", "market_id", "label", "odds"}
	betCols    = []string{"id", "user_id", "option_id", "market_id", "amount", "status",
		"created_at", "settled_at", "deleted_at", "deleted_by"}
)

func newPostgresEnv(t *testing.T) (*settlement.Service, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	svc := settlement.NewService(store.NewPostgresStore(mock), nil, nil)
	svc.Now = func() time.Time { return now }
	return svc, mock
}

func expectMarketLock(mock pgxmock.PgxPoolIface, status string) {
	mock.ExpectQuery(`FROM markets WHERE id = \$1 FOR UPDATE`).
		WithArgs("m1").
		WillReturnRows(pgxmock.NewRows(marketCols).
			AddRow("m1", "Will the release ship?", "", status, "carol",
				nil, nil, nil, now.Add(-time.Hour), nil, nil))
	mock.ExpectQuery(`FROM options WHERE market_id = ANY`).
		WillReturnRows(pgxmock.NewRows(optionCols).
			AddRow("m1-x", "m1", "X", "2.00").
			AddRow("m1-y", "m1", "Y", "1.50"))
}

func pendingBet(id, userID, optionID, amount string) []any {
	return []any{id, userID, optionID, "m1", amount, "PENDING", now.Add(-time.Minute), nil, nil, nil}
}

func TestPostgresResolveMarket_LockOrder(t *testing.T) {
	svc, mock := newPostgresEnv(t)

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	expectMarketLock(mock, "OPEN")
	mock.ExpectQuery(`FROM bets\s+WHERE option_id = \$1 AND status = \$2\s+ORDER BY created_at\s+FOR UPDATE`).
		WithArgs("m1-x", "PENDING").
		WillReturnRows(pgxmock.NewRows(betCols).AddRow(pendingBet("b1", "alice", "m1-x", "25.00")...))
	mock.ExpectQuery(`FROM bets\s+WHERE option_id = \$1 AND status = \$2\s+ORDER BY created_at\s+FOR UPDATE`).
		WithArgs("m1-y", "PENDING").
		WillReturnRows(pgxmock.NewRows(betCols).AddRow(pendingBet("b2", "bob", "m1-y", "10.00")...))
	mock.ExpectExec(`UPDATE markets SET status = \$2, outcome_id = \$3, settled_at = \$4\s+WHERE id = \$1 AND status = \$5`).
		WithArgs("m1", "SETTLED", "m1-x", pgxmock.AnyArg(), "OPEN").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE bets SET status = \$4, settled_at = \$5\s+WHERE market_id = \$1 AND option_id = \$2`).
		WithArgs("m1", "m1-x", "PENDING", "WON", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE bets SET status = \$4, settled_at = \$5\s+WHERE market_id = \$1 AND option_id <> \$2`).
		WithArgs("m1", "m1-x", "PENDING", "LOST", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("UPDATE users SET balance").
		WithArgs("alice", "50").
		WillReturnRows(pgxmock.NewRows([]string{"balance"}).AddRow("125.00"))
	mock.ExpectExec("INSERT INTO ledger_entries").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	sum, err := svc.ResolveMarket(context.Background(), carol, "m1", "m1-x")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Winners)
	assert.Equal(t, 1, sum.Losers)
	assert.True(t, sum.TotalPaid.Equal(d(50)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresResolveMarket_SettledRowStopsAtLock(t *testing.T) {
	svc, mock := newPostgresEnv(t)

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	expectMarketLock(mock, "SETTLED")
	mock.ExpectRollback()

	_, err := svc.ResolveMarket(context.Background(), carol, "m1", "m1-x")
	assert.ErrorIs(t, err, model.ErrAlreadySettled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresResolveMarket_LostRaceOnStatusFlip(t *testing.T) {
	svc, mock := newPostgresEnv(t)

	// The guarded UPDATE finds the market no longer OPEN.
	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	expectMarketLock(mock, "OPEN")
	mock.ExpectQuery(`FROM bets`).WithArgs("m1-x", "PENDING").WillReturnRows(pgxmock.NewRows(betCols))
	mock.ExpectQuery(`FROM bets`).WithArgs("m1-y", "PENDING").WillReturnRows(pgxmock.NewRows(betCols))
	mock.ExpectExec("UPDATE markets SET status").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	_, err := svc.ResolveMarket(context.Background(), carol, "m1", "m1-x")
	assert.ErrorIs(t, err, model.ErrAlreadySettled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCorrectBet_LocksMarketBeforeBet(t *testing.T) {
	svc, mock := newPostgresEnv(t)
	won := []any{"b1", "alice", "m1-x", "m1", "25.00", "WON", now.Add(-time.Minute), nil, nil, nil}

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	mock.ExpectQuery(`FROM bets WHERE id = \$1$`).
		WithArgs("b1").
		WillReturnRows(pgxmock.NewRows(betCols).AddRow(won...))
	expectMarketLock(mock, "SETTLED")
	mock.ExpectQuery(`FROM bets WHERE id = \$1 FOR UPDATE`).
		WithArgs("b1").
		WillReturnRows(pgxmock.NewRows(betCols).AddRow(won...))
	mock.ExpectQuery("UPDATE users SET balance").
		WithArgs("alice", "-50").
		WillReturnRows(pgxmock.NewRows([]string{"balance"}).AddRow("75.00"))
	mock.ExpectExec("INSERT INTO ledger_entries").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE bets SET status = \$2, settled_at = \$3 WHERE id = \$1`).
		WithArgs("b1", "LOST", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	c, err := svc.CorrectBet(context.Background(), admin, "b1", model.BetLost)
	require.NoError(t, err)
	assert.True(t, c.Delta.Equal(d(-50)))
	assert.NoError(t, mock.ExpectationsWereMet())
}
