package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stocksim/trading-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// local development. Not suitable for production (no persistence). A single
// lock serializes trades, which trivially satisfies per-account isolation.
type MemoryStore struct {
	mu          sync.RWMutex
	accounts    map[string]*model.Account
	byUsername  map[string]string // username -> account ID
	instruments map[string]*model.Instrument
	positions   map[string]map[string]*model.Position // account ID -> symbol
	trades      []model.TradeRecord
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:    make(map[string]*model.Account),
		byUsername:  make(map[string]string),
		instruments: make(map[string]*model.Instrument),
		positions:   make(map[string]map[string]*model.Position),
	}
}

func (s *MemoryStore) CreateAccount(_ context.Context, acct *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byUsername[acct.Username]; taken {
		return ErrDuplicate
	}

	// Store a copy to avoid external mutation.
	cp := *acct
	s.accounts[acct.ID] = &cp
	s.byUsername[acct.Username] = acct.ID
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) GetAccountByUsername(_ context.Context, username string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byUsername[username]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.accounts[id]
	return &cp, nil
}

func (s *MemoryStore) SeedInstruments(_ context.Context, instruments []model.Instrument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, inst := range instruments {
		if _, exists := s.instruments[inst.Symbol]; exists {
			continue
		}
		cp := inst
		s.instruments[inst.Symbol] = &cp
	}
	return nil
}

func (s *MemoryStore) GetInstrument(_ context.Context, symbol string) (*model.Instrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instruments[symbol]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *inst
	return &cp, nil
}

func (s *MemoryStore) ListInstruments(_ context.Context) ([]model.Instrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.listInstrumentsLocked(), nil
}

func (s *MemoryStore) listInstrumentsLocked() []model.Instrument {
	instruments := make([]model.Instrument, 0, len(s.instruments))
	for _, inst := range s.instruments {
		instruments = append(instruments, *inst)
	}
	sort.Slice(instruments, func(i, j int) bool {
		return instruments[i].Symbol < instruments[j].Symbol
	})
	return instruments
}

func (s *MemoryStore) UpdatePrices(_ context.Context, prices map[string]decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate the whole batch before touching anything so a bad symbol
	// cannot leave a partial update behind.
	for symbol := range prices {
		if _, ok := s.instruments[symbol]; !ok {
			return ErrNotFound
		}
	}
	now := time.Now().UTC()
	for symbol, price := range prices {
		s.instruments[symbol].CurrentPrice = price
		s.instruments[symbol].LastUpdated = now
	}
	return nil
}

func (s *MemoryStore) GetPosition(_ context.Context, accountID, symbol string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.positions[accountID][symbol]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *pos
	return &cp, nil
}

func (s *MemoryStore) ListPositions(_ context.Context, accountID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var positions []model.Position
	for _, pos := range s.positions[accountID] {
		positions = append(positions, *pos)
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].Symbol < positions[j].Symbol
	})
	return positions, nil
}

func (s *MemoryStore) ListTrades(_ context.Context, accountID string, limit int) ([]model.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var trades []model.TradeRecord
	// The log is append-only, so walking backwards yields newest first.
	for i := len(s.trades) - 1; i >= 0 && len(trades) < limit; i-- {
		if s.trades[i].AccountID == accountID {
			trades = append(trades, s.trades[i])
		}
	}
	return trades, nil
}

func (s *MemoryStore) ExecuteTrade(_ context.Context, accountID, symbol string, fn TradeFunc) (*TradeApply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[accountID]
	if !ok {
		return nil, ErrNotFound
	}
	inst, ok := s.instruments[symbol]
	if !ok {
		return nil, ErrNotFound
	}

	var pos *model.Position
	if p, held := s.positions[accountID][symbol]; held {
		cp := *p
		pos = &cp
	}

	acctCopy := *acct
	instCopy := *inst
	apply, err := fn(&acctCopy, &instCopy, pos)
	if err != nil {
		return nil, err
	}

	acct.Balance = apply.NewBalance
	switch {
	case apply.RemovePosition:
		delete(s.positions[accountID], symbol)
	case apply.Position != nil:
		if s.positions[accountID] == nil {
			s.positions[accountID] = make(map[string]*model.Position)
		}
		cp := *apply.Position
		s.positions[accountID][symbol] = &cp
	}
	s.trades = append(s.trades, apply.Trade)

	return apply, nil
}
