// Package engine executes buy and sell orders with strict average-cost-basis
// accounting and answers portfolio queries.
//
// Every order reads the instrument's current price exactly once, inside the
// store's transaction, and uses that one value for validation, cost, the
// position's cost basis, and the trade record. Balance, position, and trade
// log commit atomically or not at all.
//
// All monetary values use shopspring/decimal — never float64 for money.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stocksim/trading-engine/internal/model"
	"github.com/stocksim/trading-engine/internal/store"
)

// HistoryLimit caps how many trade records one history query returns.
const HistoryLimit = 50

var oneHundred = decimal.NewFromInt(100)

// Engine is the portfolio engine. It owns no state of its own; all records
// live behind the store's transaction boundary.
type Engine struct {
	store store.Store
}

// New creates a portfolio engine over the given store.
func New(st store.Store) *Engine {
	return &Engine{store: st}
}

// Buy purchases quantity shares of symbol at the current price, debiting the
// account and merging into any existing position with a weighted-average
// cost basis. Returns the new balance and the trade record.
func (e *Engine) Buy(ctx context.Context, accountID, symbol string, quantity int64) (*store.TradeApply, error) {
	if quantity <= 0 {
		return nil, ErrInvalidOrder
	}

	apply, err := e.store.ExecuteTrade(ctx, accountID, symbol,
		func(acct *model.Account, inst *model.Instrument, pos *model.Position) (*store.TradeApply, error) {
			price := inst.CurrentPrice
			cost := price.Mul(decimal.NewFromInt(quantity))

			if acct.Balance.LessThan(cost) {
				return nil, ErrInsufficientFunds
			}

			newPos := model.Position{
				AccountID:    accountID,
				Symbol:       symbol,
				Quantity:     quantity,
				AveragePrice: price,
			}
			if pos != nil {
				// Weighted mean of the old basis and this purchase.
				newQty := pos.Quantity + quantity
				oldValue := pos.AveragePrice.Mul(decimal.NewFromInt(pos.Quantity))
				newPos.Quantity = newQty
				newPos.AveragePrice = oldValue.Add(cost).Div(decimal.NewFromInt(newQty))
			}

			return &store.TradeApply{
				NewBalance: acct.Balance.Sub(cost),
				Position:   &newPos,
				Trade:      newTrade(accountID, symbol, model.SideBuy, quantity, price, cost),
			}, nil
		})
	return apply, mapStoreErr(err)
}

// Sell disposes quantity shares of symbol at the current price, crediting
// the account. The position is deleted when fully consumed; a partial sell
// leaves the average price untouched. Returns the new balance and the trade
// record.
func (e *Engine) Sell(ctx context.Context, accountID, symbol string, quantity int64) (*store.TradeApply, error) {
	if quantity <= 0 {
		return nil, ErrInvalidOrder
	}

	apply, err := e.store.ExecuteTrade(ctx, accountID, symbol,
		func(acct *model.Account, inst *model.Instrument, pos *model.Position) (*store.TradeApply, error) {
			if pos == nil || pos.Quantity < quantity {
				return nil, ErrInsufficientShares
			}

			price := inst.CurrentPrice
			revenue := price.Mul(decimal.NewFromInt(quantity))

			apply := store.TradeApply{
				NewBalance: acct.Balance.Add(revenue),
				Trade:      newTrade(accountID, symbol, model.SideSell, quantity, price, revenue),
			}
			if pos.Quantity == quantity {
				apply.RemovePosition = true
			} else {
				remaining := *pos
				remaining.Quantity -= quantity
				apply.Position = &remaining
			}
			return &apply, nil
		})
	return apply, mapStoreErr(err)
}

// Portfolio returns the account's cash balance and every position annotated
// with the live quote and unrealized profit/loss.
func (e *Engine) Portfolio(ctx context.Context, accountID string) (*model.Portfolio, error) {
	acct, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}

	positions, err := e.store.ListPositions(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}

	instruments, err := e.store.ListInstruments(ctx)
	if err != nil {
		return nil, fmt.Errorf("load quotes: %w", err)
	}
	quotes := make(map[string]model.Instrument, len(instruments))
	for _, inst := range instruments {
		quotes[inst.Symbol] = inst
	}

	portfolio := model.Portfolio{
		Balance:  acct.Balance,
		Holdings: make([]model.Holding, 0, len(positions)),
	}
	for _, pos := range positions {
		inst := quotes[pos.Symbol]
		diff := inst.CurrentPrice.Sub(pos.AveragePrice)
		qty := decimal.NewFromInt(pos.Quantity)

		h := model.Holding{
			Symbol:       pos.Symbol,
			Name:         inst.Name,
			Quantity:     pos.Quantity,
			AveragePrice: pos.AveragePrice,
			CurrentPrice: inst.CurrentPrice,
			ProfitLoss:   diff.Mul(qty),
		}
		// AveragePrice is always a real trade price > 0 (I1 guarantees the
		// position came from at least one buy), so the percent is defined.
		if pos.AveragePrice.IsPositive() {
			h.ProfitLossPercent = diff.Div(pos.AveragePrice).Mul(oneHundred)
		}
		portfolio.Holdings = append(portfolio.Holdings, h)
	}
	return &portfolio, nil
}

// History returns up to limit most recent trade records for the account,
// newest first. Limits outside (0, HistoryLimit] fall back to HistoryLimit.
func (e *Engine) History(ctx context.Context, accountID string, limit int) ([]model.TradeRecord, error) {
	if limit <= 0 || limit > HistoryLimit {
		limit = HistoryLimit
	}
	trades, err := e.store.ListTrades(ctx, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("load trades: %w", err)
	}
	return trades, nil
}

func newTrade(accountID, symbol, side string, quantity int64, price, total decimal.Decimal) model.TradeRecord {
	return model.TradeRecord{
		ID:        uuid.New().String(),
		AccountID: accountID,
		Symbol:    symbol,
		Side:      side,
		Quantity:  quantity,
		Price:     price,
		Total:     total,
		CreatedAt: time.Now().UTC(),
	}
}

// mapStoreErr translates store failures into the engine's error taxonomy.
// ErrNotFound out of ExecuteTrade means the symbol did not resolve; the
// account ID comes from verified auth and is trusted to exist.
func mapStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return ErrUnknownInstrument
	case errors.Is(err, store.ErrBusy):
		return ErrServiceBusy
	default:
		return err
	}
}
