package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"tradelab/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ ResultStore = (*SQLiteStore)(nil)

// SQLiteStore implements ResultStore backed by a SQLite database. Results are
// written as they are produced so long grid searches leave a usable trail.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS backtests (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id        TEXT NOT NULL,
	label         TEXT NOT NULL,
	params        TEXT NOT NULL,
	start_date    TEXT NOT NULL,
	end_date      TEXT NOT NULL,
	metrics       TEXT NOT NULL,
	created_at    INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS transactions (
	backtest_id   INTEGER NOT NULL REFERENCES backtests(id),
	seq           INTEGER NOT NULL,
	symbol        TEXT NOT NULL,
	side          TEXT NOT NULL,
	shares        INTEGER NOT NULL,
	price         REAL NOT NULL,
	date          TEXT NOT NULL,
	realized_pnl  REAL NOT NULL,
	reason        TEXT NOT NULL,
	PRIMARY KEY (backtest_id, seq)
);
CREATE TABLE IF NOT EXISTS optimization_results (
	run_id           TEXT NOT NULL,
	idx              INTEGER NOT NULL,
	params           TEXT NOT NULL,
	return_pct       REAL NOT NULL,
	sharpe           REAL NOT NULL,
	max_drawdown_pct REAL NOT NULL,
	win_rate_pct     REAL NOT NULL,
	trades           INTEGER NOT NULL,
	PRIMARY KEY (run_id, idx)
);
CREATE TABLE IF NOT EXISTS walk_forward_windows (
	run_id       TEXT NOT NULL,
	label        TEXT NOT NULL,
	train_start  TEXT NOT NULL,
	train_end    TEXT NOT NULL,
	test_start   TEXT NOT NULL,
	test_end     TEXT NOT NULL,
	params       TEXT NOT NULL,
	train        TEXT NOT NULL,
	test         TEXT NOT NULL,
	err          TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, label, train_start)
);`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// result tables and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// Parallel workers share one writer; SQLite serialises them anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Backtests
// ---------------------------------------------------------------------------

// SaveBacktest inserts a run summary and its transactions in one transaction.
func (s *SQLiteStore) SaveBacktest(ctx context.Context, rec BacktestRecord) error {
	params, err := json.Marshal(rec.Params)
	if err != nil {
		return err
	}
	metrics, err := json.Marshal(rec.Metrics)
	if err != nil {
		return err
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO backtests (run_id, label, params, start_date, end_date, metrics, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Label, string(params),
		rec.Start.Format(domain.DateLayout), rec.End.Format(domain.DateLayout),
		string(metrics), created.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting backtest: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}

	for i, t := range rec.Transactions {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO transactions (backtest_id, seq, symbol, side, shares, price, date, realized_pnl, reason)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, i, t.Symbol, string(t.Side), t.Shares, t.Price,
			t.Date.Format(domain.DateLayout), t.RealizedPnL, string(t.Reason),
		); err != nil {
			return fmt.Errorf("inserting transaction %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// ListBacktestTransactions returns the transaction log of every backtest
// stored under runID and label, in execution order.
func (s *SQLiteStore) ListBacktestTransactions(ctx context.Context, runID, label string) ([]domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.symbol, t.side, t.shares, t.price, t.date, t.realized_pnl, t.reason
		   FROM transactions t JOIN backtests b ON b.id = t.backtest_id
		  WHERE b.run_id = ? AND b.label = ?
		  ORDER BY b.id, t.seq`, runID, label)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		var (
			t          domain.Transaction
			side, date string
			reason     string
		)
		if err := rows.Scan(&t.Symbol, &side, &t.Shares, &t.Price, &date, &t.RealizedPnL, &reason); err != nil {
			return nil, err
		}
		t.Side = domain.Side(side)
		t.Reason = domain.ExitReason(reason)
		if t.Date, err = domain.ParseDate(date); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Optimization results
// ---------------------------------------------------------------------------

// SaveOptimizationResult inserts or replaces one scored parameter set.
func (s *SQLiteStore) SaveOptimizationResult(ctx context.Context, runID string, r domain.OptimizationResult) error {
	params, err := json.Marshal(r.Params)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO optimization_results
		 (run_id, idx, params, return_pct, sharpe, max_drawdown_pct, win_rate_pct, trades)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, r.Index, string(params), r.ReturnPct, r.Sharpe, r.MaxDrawdownPct, r.WinRatePct, r.Trades,
	)
	return err
}

// ListOptimizationResults returns a run's results in enumeration order.
func (s *SQLiteStore) ListOptimizationResults(ctx context.Context, runID string) ([]domain.OptimizationResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT idx, params, return_pct, sharpe, max_drawdown_pct, win_rate_pct, trades
		   FROM optimization_results WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.OptimizationResult
	for rows.Next() {
		var (
			r      domain.OptimizationResult
			params string
		)
		if err := rows.Scan(&r.Index, &params, &r.ReturnPct, &r.Sharpe, &r.MaxDrawdownPct, &r.WinRatePct, &r.Trades); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(params), &r.Params); err != nil {
			return nil, fmt.Errorf("decoding params: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Walk-forward windows
// ---------------------------------------------------------------------------

// SaveWalkForwardWindow inserts or replaces one window of a walk-forward run.
func (s *SQLiteStore) SaveWalkForwardWindow(ctx context.Context, runID string, rec WalkForwardRecord) error {
	params, err := json.Marshal(rec.Params)
	if err != nil {
		return err
	}
	train, err := json.Marshal(rec.Train)
	if err != nil {
		return err
	}
	test, err := json.Marshal(rec.Test)
	if err != nil {
		return err
	}
	w := rec.Window
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO walk_forward_windows
		 (run_id, label, train_start, train_end, test_start, test_end, params, train, test, err)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, rec.Label,
		w.TrainStart.Format(domain.DateLayout), w.TrainEnd.Format(domain.DateLayout),
		w.TestStart.Format(domain.DateLayout), w.TestEnd.Format(domain.DateLayout),
		string(params), string(train), string(test), rec.Err,
	)
	return err
}

// ListWalkForwardWindows returns a run's windows ordered by label and train
// start.
func (s *SQLiteStore) ListWalkForwardWindows(ctx context.Context, runID string) ([]WalkForwardRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT label, train_start, train_end, test_start, test_end, params, train, test, err
		   FROM walk_forward_windows WHERE run_id = ? ORDER BY label, train_start`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WalkForwardRecord
	for rows.Next() {
		var (
			rec                 WalkForwardRecord
			ts, te, vs, ve      string
			params, train, test string
		)
		if err := rows.Scan(&rec.Label, &ts, &te, &vs, &ve, &params, &train, &test, &rec.Err); err != nil {
			return nil, err
		}
		dates := []*time.Time{&rec.Window.TrainStart, &rec.Window.TrainEnd, &rec.Window.TestStart, &rec.Window.TestEnd}
		for i, raw := range []string{ts, te, vs, ve} {
			if *dates[i], err = domain.ParseDate(raw); err != nil {
				return nil, err
			}
		}
		if err := json.Unmarshal([]byte(params), &rec.Params); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(train), &rec.Train); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(test), &rec.Test); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
