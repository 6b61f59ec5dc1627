package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stocksim/trading-engine/internal/model"
	"github.com/stocksim/trading-engine/internal/store"
)

func TestMemoryStore_UpdatePricesRefreshesTimestamp(t *testing.T) {
	ms := store.NewMemoryStore()
	seeded := time.Now().UTC().Add(-time.Hour)
	err := ms.SeedInstruments(context.Background(), []model.Instrument{{
		Symbol:       "AAPL",
		Name:         "Apple Inc.",
		BasePrice:    decimal.RequireFromString("175.50"),
		CurrentPrice: decimal.RequireFromString("175.50"),
		LastUpdated:  seeded,
	}})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	err = ms.UpdatePrices(context.Background(), map[string]decimal.Decimal{
		"AAPL": decimal.RequireFromString("180.00"),
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}

	inst, err := ms.GetInstrument(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !inst.CurrentPrice.Equal(decimal.RequireFromString("180.00")) {
		t.Errorf("unexpected price: %s", inst.CurrentPrice)
	}
	if !inst.LastUpdated.After(seeded) {
		t.Errorf("expected LastUpdated refreshed, still %s", inst.LastUpdated)
	}
}

func TestMemoryStore_UpdatePricesRejectsUnknownSymbolAtomically(t *testing.T) {
	ms := store.NewMemoryStore()
	err := ms.SeedInstruments(context.Background(), []model.Instrument{{
		Symbol:       "AAPL",
		Name:         "Apple Inc.",
		BasePrice:    decimal.RequireFromString("175.50"),
		CurrentPrice: decimal.RequireFromString("175.50"),
		LastUpdated:  time.Now().UTC(),
	}})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	err = ms.UpdatePrices(context.Background(), map[string]decimal.Decimal{
		"AAPL": decimal.RequireFromString("180.00"),
		"GONE": decimal.RequireFromString("1.00"),
	})
	if err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	inst, err := ms.GetInstrument(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !inst.CurrentPrice.Equal(decimal.RequireFromString("175.50")) {
		t.Errorf("partial batch applied: price moved to %s", inst.CurrentPrice)
	}
}
