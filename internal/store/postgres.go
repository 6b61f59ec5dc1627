package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/stocksim/trading-engine/internal/model"
)

// lockWait bounds how long a trade waits for its account/position row locks
// before failing with ErrBusy instead of hanging.
const lockWait = 2 * time.Second

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Trades take row locks on the account and position so concurrent trades by
// the same account serialize while different accounts proceed in parallel.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateAccount(ctx context.Context, a *model.Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, username, password_hash, balance, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5)`,
		a.ID, a.Username, a.PasswordHash, a.Balance.String(), a.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	return s.scanAccount(s.pool.QueryRow(ctx,
		`SELECT id, username, password_hash, balance::TEXT, created_at
		 FROM accounts WHERE id = $1`, id))
}

func (s *PostgresStore) GetAccountByUsername(ctx context.Context, username string) (*model.Account, error) {
	return s.scanAccount(s.pool.QueryRow(ctx,
		`SELECT id, username, password_hash, balance::TEXT, created_at
		 FROM accounts WHERE username = $1`, username))
}

func (s *PostgresStore) scanAccount(row pgx.Row) (*model.Account, error) {
	var a model.Account
	var balance string

	err := row.Scan(&a.ID, &a.Username, &a.PasswordHash, &balance, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Balance, _ = decimal.NewFromString(balance)
	return &a, nil
}

func (s *PostgresStore) SeedInstruments(ctx context.Context, instruments []model.Instrument) error {
	for _, inst := range instruments {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO instruments (symbol, name, base_price, current_price, last_updated)
			 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5)
			 ON CONFLICT (symbol) DO NOTHING`,
			inst.Symbol, inst.Name, inst.BasePrice.String(), inst.CurrentPrice.String(), inst.LastUpdated,
		)
		if err != nil {
			return fmt.Errorf("seed instrument %s: %w", inst.Symbol, err)
		}
	}
	return nil
}

func (s *PostgresStore) GetInstrument(ctx context.Context, symbol string) (*model.Instrument, error) {
	return scanInstrument(s.pool.QueryRow(ctx,
		`SELECT symbol, name, base_price::TEXT, current_price::TEXT, last_updated
		 FROM instruments WHERE symbol = $1`, symbol))
}

func scanInstrument(row pgx.Row) (*model.Instrument, error) {
	var inst model.Instrument
	var base, current string

	err := row.Scan(&inst.Symbol, &inst.Name, &base, &current, &inst.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	inst.BasePrice, _ = decimal.NewFromString(base)
	inst.CurrentPrice, _ = decimal.NewFromString(current)
	return &inst, nil
}

func (s *PostgresStore) ListInstruments(ctx context.Context) ([]model.Instrument, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT symbol, name, base_price::TEXT, current_price::TEXT, last_updated
		 FROM instruments ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instruments []model.Instrument
	for rows.Next() {
		var inst model.Instrument
		var base, current string
		if err := rows.Scan(&inst.Symbol, &inst.Name, &base, &current, &inst.LastUpdated); err != nil {
			return nil, err
		}
		inst.BasePrice, _ = decimal.NewFromString(base)
		inst.CurrentPrice, _ = decimal.NewFromString(current)
		instruments = append(instruments, inst)
	}
	return instruments, rows.Err()
}

// UpdatePrices writes the whole tick batch inside one transaction so a
// failure mid-batch rolls every price back.
func (s *PostgresStore) UpdatePrices(ctx context.Context, prices map[string]decimal.Decimal) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	for symbol, price := range prices {
		tag, err := tx.Exec(ctx,
			`UPDATE instruments SET current_price = $2::NUMERIC, last_updated = $3 WHERE symbol = $1`,
			symbol, price.String(), now,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("update price %s: %w", symbol, ErrNotFound)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetPosition(ctx context.Context, accountID, symbol string) (*model.Position, error) {
	return scanPosition(s.pool.QueryRow(ctx,
		`SELECT account_id, symbol, quantity, average_price::TEXT
		 FROM positions WHERE account_id = $1 AND symbol = $2`, accountID, symbol))
}

func scanPosition(row pgx.Row) (*model.Position, error) {
	var p model.Position
	var avg string

	err := row.Scan(&p.AccountID, &p.Symbol, &p.Quantity, &avg)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.AveragePrice, _ = decimal.NewFromString(avg)
	return &p, nil
}

func (s *PostgresStore) ListPositions(ctx context.Context, accountID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT account_id, symbol, quantity, average_price::TEXT
		 FROM positions WHERE account_id = $1 ORDER BY symbol`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var avg string
		if err := rows.Scan(&p.AccountID, &p.Symbol, &p.Quantity, &avg); err != nil {
			return nil, err
		}
		p.AveragePrice, _ = decimal.NewFromString(avg)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) ListTrades(ctx context.Context, accountID string, limit int) ([]model.TradeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, symbol, side, quantity, price::TEXT, total::TEXT, created_at
		 FROM trades WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2`,
		accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.TradeRecord
	for rows.Next() {
		var t model.TradeRecord
		var price, total string
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Symbol, &t.Side, &t.Quantity, &price, &total, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Price, _ = decimal.NewFromString(price)
		t.Total, _ = decimal.NewFromString(total)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ExecuteTrade locks the account row and the (account, symbol) position row,
// reads the instrument price once, runs fn, and applies the mutation set.
// The transaction commits all of balance, position, and trade record or none.
func (s *PostgresStore) ExecuteTrade(ctx context.Context, accountID, symbol string, fn TradeFunc) (*TradeApply, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", lockWait.Milliseconds())); err != nil {
		return nil, err
	}

	acct, err := s.scanAccount(tx.QueryRow(ctx,
		`SELECT id, username, password_hash, balance::TEXT, created_at
		 FROM accounts WHERE id = $1 FOR UPDATE`, accountID))
	if err != nil {
		return nil, busyOr(err)
	}

	inst, err := scanInstrument(tx.QueryRow(ctx,
		`SELECT symbol, name, base_price::TEXT, current_price::TEXT, last_updated
		 FROM instruments WHERE symbol = $1`, symbol))
	if err != nil {
		return nil, err
	}

	pos, err := scanPosition(tx.QueryRow(ctx,
		`SELECT account_id, symbol, quantity, average_price::TEXT
		 FROM positions WHERE account_id = $1 AND symbol = $2 FOR UPDATE`, accountID, symbol))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, busyOr(err)
	}

	apply, err := fn(acct, inst, pos)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE accounts SET balance = $2::NUMERIC WHERE id = $1`,
		accountID, apply.NewBalance.String()); err != nil {
		return nil, err
	}

	switch {
	case apply.RemovePosition:
		if _, err := tx.Exec(ctx,
			`DELETE FROM positions WHERE account_id = $1 AND symbol = $2`,
			accountID, symbol); err != nil {
			return nil, err
		}
	case apply.Position != nil:
		if _, err := tx.Exec(ctx,
			`INSERT INTO positions (account_id, symbol, quantity, average_price)
			 VALUES ($1, $2, $3, $4::NUMERIC)
			 ON CONFLICT (account_id, symbol)
			 DO UPDATE SET quantity = EXCLUDED.quantity, average_price = EXCLUDED.average_price`,
			accountID, symbol, apply.Position.Quantity, apply.Position.AveragePrice.String()); err != nil {
			return nil, err
		}
	}

	t := apply.Trade
	if _, err := tx.Exec(ctx,
		`INSERT INTO trades (id, account_id, symbol, side, quantity, price, total, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8)`,
		t.ID, t.AccountID, t.Symbol, t.Side, t.Quantity, t.Price.String(), t.Total.String(), t.CreatedAt); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return apply, nil
}

// busyOr maps a lock_timeout failure (55P03) to ErrBusy.
func busyOr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "55P03" {
		return ErrBusy
	}
	return err
}
