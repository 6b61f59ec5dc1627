// Package store defines the persistence interface for the trading engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and local development).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/stocksim/trading-engine/internal/model"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicate is returned when a unique constraint would be violated.
	ErrDuplicate = errors.New("store: already exists")

	// ErrBusy is returned when a trade cannot acquire its row locks within
	// the bounded wait. Callers may retry with backoff.
	ErrBusy = errors.New("store: lock contention, try again")
)

// TradeApply is the mutation set produced by one trade decision. All three
// parts commit in the same atomic unit or not at all.
type TradeApply struct {
	NewBalance decimal.Decimal
	// Position is the post-trade position to upsert. Nil together with
	// RemovePosition means the trade deletes the row (quantity reached zero).
	Position       *model.Position
	RemovePosition bool
	Trade          model.TradeRecord
}

// TradeFunc decides a trade inside the store's transaction. It receives the
// locked account, the instrument with the price snapshot used for the whole
// operation, and the locked position (nil if the account holds none).
// Returning an error aborts the transaction with no state change.
type TradeFunc func(acct *model.Account, inst *model.Instrument, pos *model.Position) (*TradeApply, error)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Accounts ---

	// CreateAccount persists a new account. Returns ErrDuplicate if the
	// username is taken.
	CreateAccount(ctx context.Context, acct *model.Account) error

	// GetAccount retrieves an account by ID.
	GetAccount(ctx context.Context, id string) (*model.Account, error)

	// GetAccountByUsername retrieves an account by username.
	GetAccountByUsername(ctx context.Context, username string) (*model.Account, error)

	// --- Instruments ---

	// SeedInstruments inserts instruments that do not exist yet; existing
	// symbols keep their current price across restarts.
	SeedInstruments(ctx context.Context, instruments []model.Instrument) error

	// GetInstrument retrieves one instrument by symbol.
	GetInstrument(ctx context.Context, symbol string) (*model.Instrument, error)

	// ListInstruments returns all instruments ordered by symbol.
	ListInstruments(ctx context.Context) ([]model.Instrument, error)

	// UpdatePrices writes a batch of new current prices atomically.
	// Either every symbol in the batch updates or none do.
	UpdatePrices(ctx context.Context, prices map[string]decimal.Decimal) error

	// --- Positions & trades ---

	// GetPosition retrieves the position for (account, symbol), or ErrNotFound.
	GetPosition(ctx context.Context, accountID, symbol string) (*model.Position, error)

	// ListPositions returns all positions held by an account.
	ListPositions(ctx context.Context, accountID string) ([]model.Position, error)

	// ListTrades returns up to limit most recent trade records for an
	// account, newest first.
	ListTrades(ctx context.Context, accountID string, limit int) ([]model.TradeRecord, error)

	// ExecuteTrade runs fn inside an atomic, isolated read-modify-write unit
	// scoped to one account's rows plus the instrument's price snapshot,
	// then applies the returned mutation set. Returns ErrNotFound if the
	// instrument is unknown and ErrBusy on lock timeout.
	ExecuteTrade(ctx context.Context, accountID, symbol string, fn TradeFunc) (*TradeApply, error)
}
