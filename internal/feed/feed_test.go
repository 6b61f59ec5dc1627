package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stocksim/trading-engine/internal/model"
	"github.com/stocksim/trading-engine/internal/store"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func seedStore(t *testing.T, prices map[string]string) *store.MemoryStore {
	t.Helper()
	ms := store.NewMemoryStore()
	var instruments []model.Instrument
	for symbol, price := range prices {
		instruments = append(instruments, model.Instrument{
			Symbol:       symbol,
			Name:         symbol + " Corp.",
			BasePrice:    d(price),
			CurrentPrice: d(price),
			LastUpdated:  time.Now().UTC(),
		})
	}
	if err := ms.SeedInstruments(context.Background(), instruments); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	return ms
}

// captureHub records broadcast snapshots.
type captureHub struct {
	snapshots [][]model.Instrument
}

func (c *captureHub) BroadcastQuotes(instruments []model.Instrument) {
	c.snapshots = append(c.snapshots, instruments)
}

func TestTick_PerturbsWithinBound(t *testing.T) {
	ms := seedStore(t, map[string]string{
		"AAPL": "175.50", "MSFT": "380.75", "TSLA": "242.80",
	})
	f := New(ms, nil, time.Second, 0.03)

	before, _ := ms.ListInstruments(context.Background())
	bySymbol := make(map[string]decimal.Decimal)
	for _, inst := range before {
		bySymbol[inst.Symbol] = inst.CurrentPrice
	}

	for i := 0; i < 50; i++ {
		if err := f.Tick(context.Background()); err != nil {
			t.Fatalf("tick %d failed: %v", i, err)
		}

		after, _ := ms.ListInstruments(context.Background())
		if len(after) != len(before) {
			t.Fatalf("tick changed instrument count: %d -> %d", len(before), len(after))
		}
		for _, inst := range after {
			prev, ok := bySymbol[inst.Symbol]
			if !ok {
				t.Fatalf("tick introduced unknown symbol %s", inst.Symbol)
			}
			// |new - prev| <= prev * 0.03, with slack for rounding.
			bound := prev.Mul(d("0.0301"))
			if inst.CurrentPrice.Sub(prev).Abs().GreaterThan(bound) {
				t.Fatalf("%s moved beyond bound: %s -> %s", inst.Symbol, prev, inst.CurrentPrice)
			}
			if !inst.CurrentPrice.IsPositive() {
				t.Fatalf("%s price went non-positive: %s", inst.Symbol, inst.CurrentPrice)
			}
			bySymbol[inst.Symbol] = inst.CurrentPrice
		}
	}
}

func TestTick_WalksFromCurrentNotBase(t *testing.T) {
	ms := seedStore(t, map[string]string{"AAPL": "100.00"})
	f := New(ms, nil, time.Second, 0.03)
	// Deterministic upward drift: always the full +3%.
	f.randPct = func() float64 { return 1 }

	for i := 0; i < 3; i++ {
		if err := f.Tick(context.Background()); err != nil {
			t.Fatalf("tick failed: %v", err)
		}
	}

	inst, _ := ms.GetInstrument(context.Background(), "AAPL")
	// Compounding from the previous current price: 100 * 1.03^3 = 109.2727.
	// Perturbing the base price instead would sit at 103.
	if !inst.CurrentPrice.Equal(d("109.2727")) {
		t.Errorf("expected compounded price 109.2727, got %s", inst.CurrentPrice)
	}
	if !inst.BasePrice.Equal(d("100.00")) {
		t.Errorf("base price must stay immutable, got %s", inst.BasePrice)
	}
}

func TestTick_BroadcastsUpdatedSnapshot(t *testing.T) {
	ms := seedStore(t, map[string]string{"AAPL": "100.00", "MSFT": "200.00"})
	hub := &captureHub{}
	f := New(ms, hub, time.Second, 0.03)

	if err := f.Tick(context.Background()); err != nil {
		t.Fatalf("tick failed: %v", err)
	}

	if len(hub.snapshots) != 1 {
		t.Fatalf("expected 1 broadcast, got %d", len(hub.snapshots))
	}
	if len(hub.snapshots[0]) != 2 {
		t.Fatalf("expected 2 instruments in broadcast, got %d", len(hub.snapshots[0]))
	}

	// The broadcast carries the persisted post-tick prices.
	stored, _ := ms.ListInstruments(context.Background())
	for i, inst := range hub.snapshots[0] {
		if !inst.CurrentPrice.Equal(stored[i].CurrentPrice) {
			t.Errorf("%s: broadcast price %s != stored %s",
				inst.Symbol, inst.CurrentPrice, stored[i].CurrentPrice)
		}
	}
}

// brokenStore fails price writes, standing in for a persistence outage.
type brokenStore struct {
	*store.MemoryStore
}

func (b *brokenStore) UpdatePrices(context.Context, map[string]decimal.Decimal) error {
	return errors.New("write failed")
}

func TestTick_PersistenceFailureSkipsBroadcast(t *testing.T) {
	ms := seedStore(t, map[string]string{"AAPL": "100.00"})
	hub := &captureHub{}
	f := New(&brokenStore{MemoryStore: ms}, hub, time.Second, 0.03)

	if err := f.Tick(context.Background()); err == nil {
		t.Fatal("expected tick to fail")
	}

	inst, _ := ms.GetInstrument(context.Background(), "AAPL")
	if !inst.CurrentPrice.Equal(d("100.00")) {
		t.Errorf("price changed despite failed persist: %s", inst.CurrentPrice)
	}
	if len(hub.snapshots) != 0 {
		t.Errorf("broadcast sent despite failed persist")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	ms := seedStore(t, map[string]string{"AAPL": "100.00"})
	f := New(ms, nil, time.Millisecond, 0.03)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestSnapshot_OrderedBySymbol(t *testing.T) {
	ms := seedStore(t, map[string]string{"TSLA": "242.80", "AAPL": "175.50", "MSFT": "380.75"})
	f := New(ms, nil, time.Second, 0.03)

	instruments, err := f.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}

	want := []string{"AAPL", "MSFT", "TSLA"}
	if len(instruments) != len(want) {
		t.Fatalf("expected %d instruments, got %d", len(want), len(instruments))
	}
	for i, symbol := range want {
		if instruments[i].Symbol != symbol {
			t.Errorf("position %d: expected %s, got %s", i, symbol, instruments[i].Symbol)
		}
	}
}
