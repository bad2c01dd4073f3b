// Package store defines storage interfaces for price history and simulation
// results, with Parquet, SQLite and Redis-backed implementations.
package store

import (
	"context"
	"time"

	"tradelab/internal/domain"
)

// BarStore persists and retrieves daily OHLCV bars.
type BarStore interface {
	// WriteBars persists a batch of bars for the given market.
	WriteBars(ctx context.Context, market string, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol and market within [start, end],
	// sorted by timestamp.
	ReadBars(ctx context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in the given market.
	ListSymbols(ctx context.Context, market string) ([]string, error)
}

// ResultStore persists backtest runs, ranked optimization tables and
// walk-forward windows.
type ResultStore interface {
	// SaveBacktest stores a run summary with its transaction log.
	SaveBacktest(ctx context.Context, rec BacktestRecord) error

	// SaveOptimizationResult appends one scored parameter set to a run.
	SaveOptimizationResult(ctx context.Context, runID string, res domain.OptimizationResult) error

	// ListOptimizationResults returns a run's results in enumeration order.
	ListOptimizationResults(ctx context.Context, runID string) ([]domain.OptimizationResult, error)

	// SaveWalkForwardWindow appends one train/test window to a run.
	SaveWalkForwardWindow(ctx context.Context, runID string, rec WalkForwardRecord) error

	// ListWalkForwardWindows returns a run's windows ordered by train start.
	ListWalkForwardWindows(ctx context.Context, runID string) ([]WalkForwardRecord, error)
}

// BacktestRecord is the persisted form of one simulation run.
type BacktestRecord struct {
	RunID        string
	Label        string // ticker or category
	Params       domain.ParameterSet
	Start        time.Time
	End          time.Time
	Metrics      domain.Metrics
	Transactions []domain.Transaction
	CreatedAt    time.Time
}

// WalkForwardRecord is the persisted form of one walk-forward window.
type WalkForwardRecord struct {
	Label  string
	Window domain.WalkForwardWindow
	Params domain.ParameterSet
	Train  domain.OptimizationResult
	Test   domain.OptimizationResult
	Err    string
}
