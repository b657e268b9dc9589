package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/betania/betting-engine/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// DB is the subset of *pgxpool.Pool used by PostgresStore.
type DB interface {
	querier
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	db DB
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the tables and indexes if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// WithTx runs fn in a read-committed transaction. Row locks taken through
// the Lock* methods serialize concurrent bets and settlements.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := fn(&pgTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	return nil
}

// --- Reader ---

const userColumns = `id, name, email, password_hash, role, balance::TEXT, situation, created_at`

const marketColumns = `id, question, description, status, creator_id,
	expires_at, outcome_id, settled_at, created_at, deleted_at, deleted_by`

const betColumns = `id, user_id, option_id, market_id, amount::TEXT, status,
	created_at, settled_at, deleted_at, deleted_by`

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	return getUser(ctx, s.db, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	return getMarket(ctx, s.db, `SELECT `+marketColumns+` FROM markets WHERE id = $1`, id)
}

func (s *PostgresStore) ListMarkets(ctx context.Context, f MarketFilter) ([]model.Market, error) {
	var where []string
	var args []any
	if !f.IncludeDeleted {
		where = append(where, "deleted_at IS NULL")
	}
	if f.CreatorID != "" {
		args = append(args, f.CreatorID)
		where = append(where, fmt.Sprintf("creator_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + marketColumns + ` FROM markets`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(markets) == 0 {
		return markets, nil
	}
	ids := make([]string, len(markets))
	for i := range markets {
		ids[i] = markets[i].ID
	}
	byMarket, err := loadOptions(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range markets {
		markets[i].Options = byMarket[markets[i].ID]
	}
	return markets, nil
}

func (s *PostgresStore) ListBets(ctx context.Context, f BetFilter) ([]model.BetView, error) {
	var where []string
	var args []any
	if !f.IncludeDeleted {
		where = append(where, "b.deleted_at IS NULL")
	}
	if f.UserID != "" {
		args = append(args, f.UserID)
		where = append(where, fmt.Sprintf("b.user_id = $%d", len(args)))
	}
	if f.MarketID != "" {
		args = append(args, f.MarketID)
		where = append(where, fmt.Sprintf("b.market_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("b.status = $%d", len(args)))
	}
	if f.Since != nil {
		args = append(args, *f.Since)
		where = append(where, fmt.Sprintf("b.created_at >= $%d", len(args)))
	}

	query := `SELECT b.id, b.user_id, b.option_id, b.market_id, b.amount::TEXT, b.status,
	                 b.created_at, b.settled_at, b.deleted_at, b.deleted_by,
	                 u.name, o.label, o.odds::TEXT, m.question
	          FROM bets b
	          JOIN users u ON u.id = b.user_id
	          JOIN options o ON o.id = b.option_id
	          JOIN markets m ON m.id = b.market_id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY b.created_at DESC"

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var views []model.BetView
	for rows.Next() {
		var v model.BetView
		var amountS, statusS, oddsS string
		if err := rows.Scan(&v.ID, &v.UserID, &v.OptionID, &v.MarketID, &amountS, &statusS,
			&v.CreatedAt, &v.SettledAt, &v.DeletedAt, &v.DeletedBy,
			&v.UserName, &v.OptionLabel, &oddsS, &v.MarketQuestion); err != nil {
			return nil, err
		}
		v.Amount, _ = decimal.NewFromString(amountS)
		v.Status = model.BetStatus(statusS)
		v.Odds, _ = decimal.NewFromString(oddsS)
		views = append(views, v)
	}
	return views, rows.Err()
}

func (s *PostgresStore) Leaderboard(ctx context.Context, limit int) ([]model.User, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+userColumns+`
		 FROM users
		 WHERE situation <> $1
		 ORDER BY balance DESC, created_at
		 LIMIT $2`, string(model.SituationExiled), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (s *PostgresStore) ListLedgerEntries(ctx context.Context, userID string) ([]model.LedgerEntry, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, user_id, kind, amount::TEXT, balance_after::TEXT, bet_id, market_id, created_at
		 FROM ledger_entries WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var kindS, amountS, balanceS string
		if err := rows.Scan(&e.ID, &e.UserID, &kindS, &amountS, &balanceS,
			&e.BetID, &e.MarketID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Kind = model.EntryKind(kindS)
		e.Amount, _ = decimal.NewFromString(amountS)
		e.BalanceAfter, _ = decimal.NewFromString(balanceS)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Tx ---

type pgTx struct {
	q pgx.Tx
}

func (t *pgTx) CreateUser(ctx context.Context, u *model.User) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO users (id, name, email, password_hash, role, balance, situation, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7, $8)`,
		u.ID, u.Name, u.Email, u.PasswordHash, string(u.Role),
		u.Balance.String(), string(u.Situation), u.CreatedAt,
	)
	return mapWriteErr(err)
}

func (t *pgTx) LockUser(ctx context.Context, id string) (*model.User, error) {
	return getUser(ctx, t.q, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id)
}

// AdjustBalance applies a conditional update so the balance check and the
// write happen in one statement.
func (t *pgTx) AdjustBalance(ctx context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error) {
	var balanceS string
	err := t.q.QueryRow(ctx,
		`UPDATE users SET balance = balance + $2::NUMERIC
		 WHERE id = $1 AND balance + $2::NUMERIC >= 0
		 RETURNING balance::TEXT`, userID, delta.String()).Scan(&balanceS)
	if err == nil {
		balance, _ := decimal.NewFromString(balanceS)
		return balance, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, err
	}

	var exists bool
	if err := t.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
		return decimal.Zero, err
	}
	if !exists {
		return decimal.Zero, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return decimal.Zero, ErrNegativeBalance
}

func (t *pgTx) InsertLedgerEntry(ctx context.Context, e *model.LedgerEntry) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO ledger_entries (id, user_id, kind, amount, balance_after, bet_id, market_id, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7, $8)`,
		e.ID, e.UserID, string(e.Kind), e.Amount.String(), e.BalanceAfter.String(),
		e.BetID, e.MarketID, e.CreatedAt,
	)
	return mapWriteErr(err)
}

func (t *pgTx) CreateMarket(ctx context.Context, m *model.Market) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO markets (id, question, description, status, creator_id, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.Question, m.Description, string(m.Status), m.CreatorID, m.ExpiresAt, m.CreatedAt,
	)
	if err != nil {
		return mapWriteErr(err)
	}

	for i, o := range m.Options {
		if _, err := t.q.Exec(ctx,
			`INSERT INTO options (id, market_id, label, odds, position)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5)`,
			o.ID, m.ID, o.Label, o.Odds.String(), i,
		); err != nil {
			return mapWriteErr(err)
		}
	}
	return nil
}

func (t *pgTx) LockMarket(ctx context.Context, id string) (*model.Market, error) {
	return getMarket(ctx, t.q, `SELECT `+marketColumns+` FROM markets WHERE id = $1 FOR UPDATE`, id)
}

func (t *pgTx) GetOption(ctx context.Context, id string) (*model.Option, error) {
	var o model.Option
	var oddsS string
	err := t.q.QueryRow(ctx,
		`SELECT id, market_id, label, odds::TEXT FROM options WHERE id = $1`, id).
		Scan(&o.ID, &o.MarketID, &o.Label, &oddsS)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("option %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get option %s: %w", id, err)
	}
	o.Odds, _ = decimal.NewFromString(oddsS)
	return &o, nil
}

func (t *pgTx) SettleMarket(ctx context.Context, marketID, outcomeID string, at time.Time) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE markets SET status = $2, outcome_id = $3, settled_at = $4
		 WHERE id = $1 AND status = $5`,
		marketID, string(model.MarketSettled), outcomeID, at, string(model.MarketOpen))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("settle market %s: %w", marketID, ErrStale)
	}
	return nil
}

func (t *pgTx) SoftDeleteMarket(ctx context.Context, marketID, deletedBy string, at time.Time) error {
	_, err := t.q.Exec(ctx,
		`UPDATE markets SET deleted_at = $2, deleted_by = $3
		 WHERE id = $1 AND deleted_at IS NULL`, marketID, at, deletedBy)
	return err
}

func (t *pgTx) UpdateMarketText(ctx context.Context, marketID, question, description string) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE markets SET question = $2, description = $3 WHERE id = $1`,
		marketID, question, description)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("market %s: %w", marketID, ErrNotFound)
	}
	return nil
}

func (t *pgTx) InsertBet(ctx context.Context, b *model.Bet) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO bets (id, user_id, option_id, market_id, amount, status, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7)`,
		b.ID, b.UserID, b.OptionID, b.MarketID, b.Amount.String(), string(b.Status), b.CreatedAt,
	)
	return mapWriteErr(err)
}

func (t *pgTx) GetBet(ctx context.Context, id string) (*model.Bet, error) {
	return t.getBet(ctx, `SELECT `+betColumns+` FROM bets WHERE id = $1`, id)
}

func (t *pgTx) LockBet(ctx context.Context, id string) (*model.Bet, error) {
	return t.getBet(ctx, `SELECT `+betColumns+` FROM bets WHERE id = $1 FOR UPDATE`, id)
}

func (t *pgTx) getBet(ctx context.Context, query, id string) (*model.Bet, error) {
	rows, err := t.q.Query(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bets, err := scanBets(rows)
	if err != nil {
		return nil, err
	}
	if len(bets) == 0 {
		return nil, fmt.Errorf("bet %s: %w", id, ErrNotFound)
	}
	return &bets[0], nil
}

func (t *pgTx) ListBetsByOption(ctx context.Context, optionID string, status model.BetStatus) ([]model.Bet, error) {
	rows, err := t.q.Query(ctx,
		`SELECT `+betColumns+` FROM bets
		 WHERE option_id = $1 AND status = $2
		 ORDER BY created_at
		 FOR UPDATE`, optionID, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanBets(rows)
}

func (t *pgTx) UpdateBetStatuses(ctx context.Context, u BetStatusUpdate) (int64, error) {
	optionPredicate := "option_id = $2"
	if u.ExcludeOption {
		optionPredicate = "option_id <> $2"
	}
	tag, err := t.q.Exec(ctx,
		`UPDATE bets SET status = $4, settled_at = $5
		 WHERE market_id = $1 AND `+optionPredicate+` AND status = $3`,
		u.MarketID, u.OptionID, string(u.From), string(u.To), u.At)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) SetBetStatus(ctx context.Context, betID string, status model.BetStatus, at time.Time) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE bets SET status = $2, settled_at = $3 WHERE id = $1`, betID, string(status), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("bet %s: %w", betID, ErrNotFound)
	}
	return nil
}

// --- Scan helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var u model.User
	var roleS, balanceS, situationS string
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &roleS,
		&balanceS, &situationS, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Role = model.Role(roleS)
	u.Balance, _ = decimal.NewFromString(balanceS)
	u.Situation = model.Situation(situationS)
	return &u, nil
}

func getUser(ctx context.Context, q querier, query, arg string) (*model.User, error) {
	u, err := scanUser(q.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", arg, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", arg, err)
	}
	return u, nil
}

func scanMarket(row rowScanner) (*model.Market, error) {
	var m model.Market
	var statusS string
	if err := row.Scan(&m.ID, &m.Question, &m.Description, &statusS, &m.CreatorID,
		&m.ExpiresAt, &m.OutcomeID, &m.SettledAt, &m.CreatedAt,
		&m.DeletedAt, &m.DeletedBy); err != nil {
		return nil, err
	}
	m.Status = model.MarketStatus(statusS)
	return &m, nil
}

func getMarket(ctx context.Context, q querier, query, id string) (*model.Market, error) {
	m, err := scanMarket(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}

	byMarket, err := loadOptions(ctx, q, []string{id})
	if err != nil {
		return nil, err
	}
	m.Options = byMarket[id]
	return m, nil
}

func loadOptions(ctx context.Context, q querier, marketIDs []string) (map[string][]model.Option, error) {
	rows, err := q.Query(ctx,
		`SELECT id, market_id, label, odds::TEXT
		 FROM options WHERE market_id = ANY($1)
		 ORDER BY market_id, position`, marketIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byMarket := make(map[string][]model.Option, len(marketIDs))
	for rows.Next() {
		var o model.Option
		var oddsS string
		if err := rows.Scan(&o.ID, &o.MarketID, &o.Label, &oddsS); err != nil {
			return nil, err
		}
		o.Odds, _ = decimal.NewFromString(oddsS)
		byMarket[o.MarketID] = append(byMarket[o.MarketID], o)
	}
	return byMarket, rows.Err()
}

func scanBets(rows pgx.Rows) ([]model.Bet, error) {
	var bets []model.Bet
	for rows.Next() {
		var b model.Bet
		var amountS, statusS string
		if err := rows.Scan(&b.ID, &b.UserID, &b.OptionID, &b.MarketID, &amountS, &statusS,
			&b.CreatedAt, &b.SettledAt, &b.DeletedAt, &b.DeletedBy); err != nil {
			return nil, err
		}
		b.Amount, _ = decimal.NewFromString(amountS)
		b.Status = model.BetStatus(statusS)
		bets = append(bets, b)
	}
	return bets, rows.Err()
}

// mapWriteErr turns unique violations into ErrDuplicate.
func mapWriteErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%s: %w", pgErr.ConstraintName, ErrDuplicate)
	}
	return err
}
