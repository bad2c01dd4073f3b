package domain

import (
	"errors"
	"fmt"
	"time"
)

// Error taxonomy shared by the simulator and the batch layers.
var (
	// ErrInsufficientHistory is returned when a ticker has fewer bars than the
	// strategy and risk manager need. The ticker is skipped, the batch goes on.
	ErrInsufficientHistory = errors.New("insufficient price history")

	// ErrInsufficientFunds is returned when an order costs more than the
	// available cash.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidOrder is returned for non-positive share counts, non-positive
	// prices, or a buy on a ticker that already has an open position.
	ErrInvalidOrder = errors.New("invalid order")

	// ErrNoPosition is returned when selling a ticker with no open position.
	ErrNoPosition = errors.New("no open position")

	// ErrOverSell is returned when selling more shares than are held.
	ErrOverSell = errors.New("sell exceeds held shares")

	// ErrDataGap is returned when an expected bar is missing or malformed.
	ErrDataGap = errors.New("missing or malformed bar")

	// ErrWorker marks a failure captured inside a parallel worker.
	ErrWorker = errors.New("worker failed")

	// ErrInvalidConfig is the only fatal error class: the run cannot start.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// OrderError wraps a trade-level rejection with the order that caused it.
type OrderError struct {
	Kind   error
	Symbol string
	Side   Side
	Shares int
	Price  float64
	Detail string
}

func (e *OrderError) Error() string {
	msg := fmt.Sprintf("%s %d %s @ %.4f: %v", e.Side, e.Shares, e.Symbol, e.Price, e.Kind)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *OrderError) Unwrap() error {
	return e.Kind
}

// HistoryError reports how many bars were found against how many are needed.
type HistoryError struct {
	Symbol string
	Have   int
	Need   int
}

func (e *HistoryError) Error() string {
	return fmt.Sprintf("%s: have %d bars, need %d", e.Symbol, e.Have, e.Need)
}

func (e *HistoryError) Unwrap() error {
	return ErrInsufficientHistory
}

// DataGapError identifies the ticker and date that had to be skipped.
type DataGapError struct {
	Symbol string
	Date   time.Time
	Cause  error
}

func (e *DataGapError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Symbol, e.Date.Format(DateLayout), ErrDataGap)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *DataGapError) Unwrap() error {
	return ErrDataGap
}
