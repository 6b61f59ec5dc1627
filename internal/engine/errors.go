package engine

import "errors"

var (
	// ErrInvalidOrder is returned when the order quantity is not a positive
	// integer or the request is otherwise malformed.
	ErrInvalidOrder = errors.New("engine: invalid order quantity")

	// ErrUnknownInstrument is returned when the symbol does not exist.
	ErrUnknownInstrument = errors.New("engine: unknown instrument")

	// ErrInsufficientFunds is returned when a buy would cost more than the
	// account's cash balance.
	ErrInsufficientFunds = errors.New("engine: insufficient balance")

	// ErrInsufficientShares is returned when a sell exceeds the held
	// quantity, including short-sell attempts against no position.
	ErrInsufficientShares = errors.New("engine: insufficient shares to sell")

	// ErrServiceBusy is returned when the trade could not acquire its row
	// locks in time. Retryable with backoff.
	ErrServiceBusy = errors.New("engine: busy, try again")
)
