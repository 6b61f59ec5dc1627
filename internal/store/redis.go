package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/stocksim/trading-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for instrument quotes and per-account positions. Writes go to the
// primary store and invalidate the cache; reads check Redis first then fall
// back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetInstrument(ctx context.Context, symbol string) (*model.Instrument, error) {
	data, err := s.rdb.Get(ctx, instrumentKey(symbol)).Bytes()
	if err == nil {
		var inst model.Instrument
		if json.Unmarshal(data, &inst) == nil {
			return &inst, nil
		}
	}

	inst, err := s.primary.GetInstrument(ctx, symbol)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(inst); err == nil {
		s.rdb.Set(ctx, instrumentKey(symbol), data, s.ttl)
	}
	return inst, nil
}

func (s *CachedStore) ListInstruments(ctx context.Context) ([]model.Instrument, error) {
	data, err := s.rdb.Get(ctx, quotesKey).Bytes()
	if err == nil {
		var instruments []model.Instrument
		if json.Unmarshal(data, &instruments) == nil {
			return instruments, nil
		}
	}

	instruments, err := s.primary.ListInstruments(ctx)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(instruments); err == nil {
		s.rdb.Set(ctx, quotesKey, data, s.ttl)
	}
	return instruments, nil
}

func (s *CachedStore) ListPositions(ctx context.Context, accountID string) ([]model.Position, error) {
	data, err := s.rdb.Get(ctx, positionsKey(accountID)).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	positions, err := s.primary.ListPositions(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(positions); err == nil {
		s.rdb.Set(ctx, positionsKey(accountID), data, s.ttl)
	}
	return positions, nil
}

// --- Writes (go to primary, invalidate cache) ---

func (s *CachedStore) UpdatePrices(ctx context.Context, prices map[string]decimal.Decimal) error {
	if err := s.primary.UpdatePrices(ctx, prices); err != nil {
		return err
	}
	keys := make([]string, 0, len(prices)+1)
	keys = append(keys, quotesKey)
	for symbol := range prices {
		keys = append(keys, instrumentKey(symbol))
	}
	s.rdb.Del(ctx, keys...)
	return nil
}

func (s *CachedStore) ExecuteTrade(ctx context.Context, accountID, symbol string, fn TradeFunc) (*TradeApply, error) {
	apply, err := s.primary.ExecuteTrade(ctx, accountID, symbol, fn)
	if err != nil {
		return nil, err
	}
	// Next position read re-populates from the primary.
	s.rdb.Del(ctx, positionsKey(accountID))
	return apply, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) CreateAccount(ctx context.Context, acct *model.Account) error {
	return s.primary.CreateAccount(ctx, acct)
}

func (s *CachedStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	return s.primary.GetAccount(ctx, id)
}

func (s *CachedStore) GetAccountByUsername(ctx context.Context, username string) (*model.Account, error) {
	return s.primary.GetAccountByUsername(ctx, username)
}

func (s *CachedStore) SeedInstruments(ctx context.Context, instruments []model.Instrument) error {
	return s.primary.SeedInstruments(ctx, instruments)
}

func (s *CachedStore) GetPosition(ctx context.Context, accountID, symbol string) (*model.Position, error) {
	return s.primary.GetPosition(ctx, accountID, symbol)
}

func (s *CachedStore) ListTrades(ctx context.Context, accountID string, limit int) ([]model.TradeRecord, error) {
	return s.primary.ListTrades(ctx, accountID, limit)
}

// --- Cache keys ---

const quotesKey = "quotes:all"

func instrumentKey(symbol string) string { return fmt.Sprintf("instrument:%s", symbol) }
func positionsKey(id string) string      { return fmt.Sprintf("positions:%s", id) }
