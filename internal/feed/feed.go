// Package feed owns the simulated market prices. A single feed instance
// perturbs every instrument's current price on a fixed cadence (a random
// walk around the previous current price, never the base price) and hands
// each fresh snapshot to the broadcast hub.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stocksim/trading-engine/internal/metrics"
	"github.com/stocksim/trading-engine/internal/model"
	"github.com/stocksim/trading-engine/internal/store"
)

// priceScale is the number of decimal places kept on perturbed prices.
const priceScale = 4

// Broadcaster receives the post-tick snapshot. The hub must not block the
// tick loop; slow subscribers are its problem, not the feed's.
type Broadcaster interface {
	BroadcastQuotes(instruments []model.Instrument)
}

// Feed drives the price random walk. At most one instance may tick at a
// time; the surrounding service runs exactly one Run loop.
type Feed struct {
	store    store.Store
	hub      Broadcaster
	interval time.Duration
	maxDrift float64 // per-tick bound, e.g. 0.03 for ±3%
	randPct  func() float64
}

// New creates a price feed. maxDrift is the symmetric per-tick perturbation
// bound as a fraction of the current price.
func New(st store.Store, hub Broadcaster, interval time.Duration, maxDrift float64) *Feed {
	return &Feed{
		store:    st,
		hub:      hub,
		interval: interval,
		maxDrift: maxDrift,
		randPct:  func() float64 { return rand.Float64()*2 - 1 }, // uniform [-1, 1)
	}
}

// Run ticks on the configured cadence until ctx is cancelled. Each tick runs
// inline in the loop, so a slow tick delays the next one rather than
// overlapping it. A failed tick is logged and skipped; the next cycle
// self-heals.
func (f *Feed) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	slog.Info("price feed started", "interval", f.interval, "max_drift", f.maxDrift)
	for {
		select {
		case <-ctx.Done():
			slog.Info("price feed stopped")
			return
		case <-ticker.C:
			if err := f.Tick(ctx); err != nil {
				metrics.PriceTickErrors.Inc()
				slog.Error("price tick failed, skipping", "err", err)
			}
		}
	}
}

// Tick perturbs every instrument's current price by a random amount within
// ±maxDrift, persists the whole batch atomically, and broadcasts the updated
// snapshot. Either all instruments move or none do.
func (f *Feed) Tick(ctx context.Context) error {
	instruments, err := f.store.ListInstruments(ctx)
	if err != nil {
		return fmt.Errorf("load instruments: %w", err)
	}
	if len(instruments) == 0 {
		return nil
	}

	prices := make(map[string]decimal.Decimal, len(instruments))
	for i := range instruments {
		change := f.randPct() * f.maxDrift
		next := instruments[i].CurrentPrice.
			Mul(decimal.NewFromFloat(1 + change)).
			Round(priceScale)
		prices[instruments[i].Symbol] = next
		instruments[i].CurrentPrice = next
		instruments[i].LastUpdated = time.Now().UTC()
	}

	if err := f.store.UpdatePrices(ctx, prices); err != nil {
		return fmt.Errorf("persist prices: %w", err)
	}

	metrics.PriceTicks.Inc()
	if f.hub != nil {
		f.hub.BroadcastQuotes(instruments)
	}
	return nil
}

// Snapshot returns all instruments with their current prices, ordered by
// symbol. Pure read.
func (f *Feed) Snapshot(ctx context.Context) ([]model.Instrument, error) {
	return f.store.ListInstruments(ctx)
}
