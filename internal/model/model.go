// Package model defines the core domain types shared across the trading engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade sides.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Instrument is one tradable symbol. CurrentPrice is written only by the
// price feed; BasePrice is immutable after seeding.
type Instrument struct {
	Symbol       string          `json:"symbol" db:"symbol"`
	Name         string          `json:"name" db:"name"`
	BasePrice    decimal.Decimal `json:"base_price" db:"base_price"`
	CurrentPrice decimal.Decimal `json:"current_price" db:"current_price"`
	LastUpdated  time.Time       `json:"last_updated" db:"last_updated"`
}

// Account holds a user's identity and cash balance. Balance is mutated only
// as part of an atomic trade and never goes negative.
type Account struct {
	ID           string          `json:"id" db:"id"`
	Username     string          `json:"username" db:"username"`
	PasswordHash string          `json:"-" db:"password_hash"`
	Balance      decimal.Decimal `json:"balance" db:"balance"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Position is an account's holding in one instrument. At most one row exists
// per (account, symbol); it is deleted when quantity reaches zero.
type Position struct {
	AccountID    string          `json:"-" db:"account_id"`
	Symbol       string          `json:"symbol" db:"symbol"`
	Quantity     int64           `json:"quantity" db:"quantity"`
	AveragePrice decimal.Decimal `json:"average_price" db:"average_price"`
}

// TradeRecord is an immutable record of one executed trade.
// Once created, these are never modified or deleted.
type TradeRecord struct {
	ID        string          `json:"id" db:"id"`
	AccountID string          `json:"-" db:"account_id"`
	Symbol    string          `json:"symbol" db:"symbol"`
	Side      string          `json:"side" db:"side"` // "BUY" or "SELL"
	Quantity  int64           `json:"quantity" db:"quantity"`
	Price     decimal.Decimal `json:"price" db:"price"` // execution price per share
	Total     decimal.Decimal `json:"total" db:"total"` // price * quantity
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Holding is a Position annotated with the live quote and unrealized P&L.
type Holding struct {
	Symbol            string          `json:"symbol"`
	Name              string          `json:"name"`
	Quantity          int64           `json:"quantity"`
	AveragePrice      decimal.Decimal `json:"average_price"`
	CurrentPrice      decimal.Decimal `json:"current_price"`
	ProfitLoss        decimal.Decimal `json:"profit_loss"`
	ProfitLossPercent decimal.Decimal `json:"profit_loss_percent"`
}

// Portfolio is the full holdings view returned to one account.
type Portfolio struct {
	Balance  decimal.Decimal `json:"balance"`
	Holdings []Holding       `json:"positions"`
}
