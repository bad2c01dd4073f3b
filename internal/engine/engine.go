// Package engine simulates strategies over historical bars and coordinates
// batch backtests, grid searches and walk-forward validation across tickers.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"tradelab/internal/config"
	"tradelab/internal/dispatch"
	"tradelab/internal/domain"
	"tradelab/internal/optimize"
	"tradelab/internal/series"
	"tradelab/internal/store"
	"tradelab/internal/strategy"
	"tradelab/internal/util"
)

// Engine wires configuration, bar storage, the strategy registry and the
// result store into batch jobs. Each ticker, or each category sharing one
// portfolio, is an independent unit of work dispatched to a worker pool.
type Engine struct {
	cfg      *config.Config
	bars     store.BarStore
	results  store.ResultStore // nil disables persistence
	registry *strategy.Registry
	bt       *Backtester
	log      *slog.Logger

	// Progress, when set, receives grid-search progress per label.
	Progress func(label string, done, total int)
}

// NewEngine creates a new Engine wired with the given dependencies.
func NewEngine(
	cfg *config.Config,
	bars store.BarStore,
	results store.ResultStore,
	registry *strategy.Registry,
	log *slog.Logger,
) *Engine {
	log = util.OrDefault(log, "engine")
	return &Engine{
		cfg:      cfg,
		bars:     bars,
		results:  results,
		registry: registry,
		bt:       NewBacktester(BacktestConfigFrom(cfg.Backtest), log),
		log:      log,
	}
}

// BacktestConfigFrom maps the backtest configuration section onto a
// BacktestConfig.
func BacktestConfigFrom(c config.Backtest) BacktestConfig {
	return BacktestConfig{
		InitialCash:  c.InitialCash,
		RiskFreeRate: c.RiskFreeRate,
		Risk: RiskConfig{
			RiskPerTradeFraction:    c.RiskPerTradeFraction,
			ATRMultiplier:           c.ATRMultiplier,
			ATRWindow:               c.ATRWindow,
			RewardRiskRatio:         c.RewardRiskRatio,
			DefaultPositionFraction: c.DefaultPositionFraction,
			FallbackStopPct:         c.FallbackStopPct,
		},
	}
}

// OptimizationRunID is the key under which a label's grid results are
// stored for runID.
func OptimizationRunID(runID, label string) string {
	return runID + "/" + label
}

// ---------------------------------------------------------------------------
// Units of work
// ---------------------------------------------------------------------------

// unit is one independent simulation: a single ticker, or a category whose
// tickers share a portfolio.
type unit struct {
	label   string
	tickers []string
}

func (u unit) String() string { return u.label }

// units lists the configured tickers first, then categories by name.
func (e *Engine) units() []unit {
	var out []unit
	for _, t := range lo.Uniq(lo.Map(e.cfg.Backtest.Tickers, func(t string, _ int) string { return strings.ToUpper(t) })) {
		out = append(out, unit{label: t, tickers: []string{t}})
	}
	names := lo.Keys(e.cfg.Backtest.Categories)
	sort.Strings(names)
	for _, name := range names {
		tickers := lo.Uniq(lo.Map(e.cfg.Backtest.Categories[name], func(t string, _ int) string { return strings.ToUpper(t) }))
		out = append(out, unit{label: name, tickers: tickers})
	}
	return out
}

func allTickers(units []unit) []string {
	var out []string
	for _, u := range units {
		out = append(out, u.tickers...)
	}
	out = lo.Uniq(out)
	sort.Strings(out)
	return out
}

// warmupDays converts a bar count into calendar days, allowing for
// weekends and holidays.
func warmupDays(bars int) int {
	return bars*7/5 + 10
}

// load reads every ticker from the bar store, starting early enough that
// lookback bars exist before start.
func (e *Engine) load(ctx context.Context, tickers []string, lookback int, start, end time.Time) (*series.Store, map[string]error) {
	need := max(lookback, e.cfg.Backtest.ATRWindow+1)
	loadStart := start.AddDate(0, 0, -warmupDays(need))

	data, failed := series.Load(ctx, e.bars, e.cfg.Storage.Market, tickers, loadStart, end)
	for t, err := range failed {
		e.log.Warn("ticker not loaded", "ticker", t, "err", err)
	}
	e.log.Info("history loaded", "tickers", len(data.Tickers()), "failed", len(failed),
		"from", loadStart.Format(domain.DateLayout), "to", end.Format(domain.DateLayout))
	return data, failed
}

func (e *Engine) newStrategy(params domain.ParameterSet) (strategy.Strategy, error) {
	s, err := e.registry.New(e.cfg.Backtest.Strategy, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}
	return s, nil
}

// evaluator returns an optimize.Evaluator that backtests u with a fresh
// strategy instance per call.
func (e *Engine) evaluator(data *series.Store, u unit) optimize.Evaluator {
	return func(ctx context.Context, params domain.ParameterSet, start, end time.Time) (domain.Metrics, error) {
		strat, err := e.newStrategy(params)
		if err != nil {
			return domain.Metrics{}, err
		}
		res, err := e.bt.Run(ctx, strat, data, u.tickers, start, end)
		if err != nil {
			return domain.Metrics{}, err
		}
		return res.Metrics, nil
	}
}

// ---------------------------------------------------------------------------
// Backtest
// ---------------------------------------------------------------------------

// UnitRun is the backtest of one ticker or category.
type UnitRun struct {
	Label    string
	Tickers  []string
	Params   domain.ParameterSet
	Result   *Result
	Baseline *BaselineComparison // nil when no baseline is configured
}

// BacktestReport collects every unit of a batch backtest.
type BacktestReport struct {
	RunID        string
	Start        time.Time
	End          time.Time
	Runs         []UnitRun
	Failed       map[string]error // by unit label
	LoadFailures map[string]error // by ticker
}

// Backtest simulates every configured unit with params over the configured
// date range. Units run in parallel; a failing unit is reported in Failed
// and never stops the others. Completed runs are saved to the result store.
func (e *Engine) Backtest(ctx context.Context, runID string, params domain.ParameterSet) (*BacktestReport, error) {
	start, end, err := e.cfg.DateRange()
	if err != nil {
		return nil, err
	}
	strat, err := e.newStrategy(params)
	if err != nil {
		return nil, err
	}
	units := e.units()
	data, loadFailures := e.load(ctx, allTickers(units), strat.Lookback(), start, end)

	report := &BacktestReport{
		RunID:        runID,
		Start:        start,
		End:          end,
		Failed:       make(map[string]error),
		LoadFailures: loadFailures,
	}
	outcomes := dispatch.RunMany(ctx, units, e.cfg.Optimize.MaxWorkers, func(ctx context.Context, u unit) (UnitRun, error) {
		strat, err := e.newStrategy(params)
		if err != nil {
			return UnitRun{}, err
		}
		res, err := e.bt.Run(ctx, strat, data, u.tickers, start, end)
		if err != nil {
			return UnitRun{}, err
		}
		run := UnitRun{Label: u.label, Tickers: res.Tickers, Params: params, Result: res}
		if cmp, ok := CompareToBaseline(e.cfg.Baselines, u.label, res.Metrics); ok {
			run.Baseline = &cmp
		}
		e.saveBacktest(ctx, runID, run)
		return run, nil
	})
	for _, o := range outcomes {
		if o.Err != nil {
			e.log.Warn("backtest failed", "label", o.Item.label, "err", o.Err)
			report.Failed[o.Item.label] = o.Err
			continue
		}
		report.Runs = append(report.Runs, o.Result)
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}
	e.log.Info("backtest finished", "run_id", runID, "units", len(units), "failed", len(report.Failed))
	return report, nil
}

func (e *Engine) saveBacktest(ctx context.Context, runID string, run UnitRun) {
	if e.results == nil {
		return
	}
	rec := store.BacktestRecord{
		RunID:        runID,
		Label:        run.Label,
		Params:       run.Params,
		Start:        run.Result.Start,
		End:          run.Result.End,
		Metrics:      run.Result.Metrics,
		Transactions: run.Result.Transactions,
		CreatedAt:    time.Now().UTC(),
	}
	if err := e.results.SaveBacktest(ctx, rec); err != nil {
		e.log.Warn("saving backtest failed", "run_id", runID, "label", run.Label, "err", err)
	}
}

// ExportEquity writes each run's equity curve to dir as
// <run_id>_<label>.parquet and returns the paths written.
func (e *Engine) ExportEquity(dir string, report *BacktestReport) ([]string, error) {
	var paths []string
	for _, run := range report.Runs {
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.parquet", report.RunID, run.Label))
		if err := store.WriteEquityParquet(path, run.Label, run.Result.DailyEquity); err != nil {
			return paths, fmt.Errorf("exporting %s: %w", run.Label, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// ---------------------------------------------------------------------------
// Optimization
// ---------------------------------------------------------------------------

// ParamRanges builds the search space from the optimize section: the buy
// and sell threshold ranges first, then any extra ranges by name.
func ParamRanges(c config.Optimize) ([]optimize.ParamRange, error) {
	var out []optimize.ParamRange
	add := func(name string, triplet []float64) error {
		if len(triplet) == 0 {
			return nil
		}
		r, err := optimize.RangeFrom(name, triplet)
		if err != nil {
			return err
		}
		out = append(out, r)
		return nil
	}
	if err := add("buy_threshold", c.BuyThresholdRange); err != nil {
		return nil, err
	}
	if err := add("sell_threshold", c.SellThresholdRange); err != nil {
		return nil, err
	}
	names := lo.Keys(c.Ranges)
	sort.Strings(names)
	for _, name := range names {
		if err := add(name, c.Ranges[name]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// resultRecorder persists each scored parameter set under its label.
type resultRecorder struct {
	results store.ResultStore
	runID   string
}

func (r resultRecorder) Record(ctx context.Context, label string, res domain.OptimizationResult) error {
	return r.results.SaveOptimizationResult(ctx, OptimizationRunID(r.runID, label), res)
}

func (e *Engine) optimizer(runID string) (*optimize.Optimizer, error) {
	ranges, err := ParamRanges(e.cfg.Optimize)
	if err != nil {
		return nil, err
	}
	obj, err := optimize.ParseObjective(e.cfg.Optimize.Objective)
	if err != nil {
		return nil, err
	}
	o := &optimize.Optimizer{
		Ranges:     ranges,
		Objective:  obj,
		TopN:       e.cfg.Optimize.TopN,
		MaxWorkers: e.cfg.Optimize.MaxWorkers,
		OnProgress: e.Progress,
		Log:        e.log,
	}
	if e.results != nil {
		o.Recorder = resultRecorder{results: e.results, runID: runID}
	}
	return o, nil
}

// maxLookback is the deepest lookback any buildable strategy in the grid
// needs. Combinations that cannot be built fail later, per combination.
func (e *Engine) maxLookback(o *optimize.Optimizer) (int, error) {
	grid, err := optimize.Grid(o.Ranges)
	if err != nil {
		return 0, err
	}
	lookback := 0
	for _, ps := range grid {
		if s, err := e.newStrategy(ps); err == nil {
			lookback = max(lookback, s.Lookback())
		}
	}
	return lookback, nil
}

// OptimizeReport holds the grid search of every unit.
type OptimizeReport struct {
	RunID   string
	Reports map[string]*optimize.GridReport
	Best    map[string]domain.ParameterSet
	Failed  map[string]error
}

// Optimize grid-searches every configured ticker and, per category, one
// parameter set shared by all tickers of that category.
func (e *Engine) Optimize(ctx context.Context, runID string) (*OptimizeReport, error) {
	start, end, err := e.cfg.DateRange()
	if err != nil {
		return nil, err
	}
	o, err := e.optimizer(runID)
	if err != nil {
		return nil, err
	}
	lookback, err := e.maxLookback(o)
	if err != nil {
		return nil, err
	}
	units := e.units()
	data, _ := e.load(ctx, allTickers(units), lookback, start, end)

	report := &OptimizeReport{
		RunID:   runID,
		Reports: make(map[string]*optimize.GridReport),
		Best:    make(map[string]domain.ParameterSet),
		Failed:  make(map[string]error),
	}
	categories := make(map[string]optimize.Evaluator)
	for _, u := range units {
		if _, isCategory := e.cfg.Backtest.Categories[u.label]; isCategory {
			categories[u.label] = e.evaluator(data, u)
			continue
		}
		gr, err := o.GridSearch(ctx, u.label, e.evaluator(data, u), start, end)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return report, ctxErr
		}
		if err != nil {
			report.Failed[u.label] = err
			continue
		}
		report.Reports[u.label] = gr
		report.Best[u.label] = gr.Best.Params
	}

	if len(categories) > 0 {
		byCat, err := o.GridSearchByCategory(ctx, categories, start, end)
		if err != nil {
			return report, err
		}
		for cat, gr := range byCat.Reports {
			report.Reports[cat] = gr
		}
		for cat, ps := range byCat.Best {
			report.Best[cat] = ps
		}
		for cat, err := range byCat.Failed {
			report.Failed[cat] = err
		}
	}
	e.log.Info("optimization finished", "run_id", runID, "units", len(units), "failed", len(report.Failed))
	return report, nil
}

// ---------------------------------------------------------------------------
// Walk-forward
// ---------------------------------------------------------------------------

// WalkForwardSummary holds the walk-forward report of every unit.
type WalkForwardSummary struct {
	RunID   string
	Reports map[string]*optimize.WalkForwardReport
	Failed  map[string]error
}

// WalkForward validates every unit with rolling train/test windows over the
// configured range. Windows are saved to the result store as they finish.
func (e *Engine) WalkForward(ctx context.Context, runID string) (*WalkForwardSummary, error) {
	start, end, err := e.cfg.DateRange()
	if err != nil {
		return nil, err
	}
	o, err := e.optimizer(runID)
	if err != nil {
		return nil, err
	}
	o.Recorder = nil
	lookback, err := e.maxLookback(o)
	if err != nil {
		return nil, err
	}
	units := e.units()
	data, _ := e.load(ctx, allTickers(units), lookback, start, end)

	summary := &WalkForwardSummary{
		RunID:   runID,
		Reports: make(map[string]*optimize.WalkForwardReport),
		Failed:  make(map[string]error),
	}
	for _, u := range units {
		onWindow := func(wr optimize.WindowResult) { e.saveWindow(ctx, runID, u.label, wr) }
		wf, err := o.WalkForward(ctx, u.label, e.evaluator(data, u), start, end,
			e.cfg.Optimize.OptimizationWindow, e.cfg.Optimize.StepSize, onWindow)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return summary, ctxErr
		}
		if err != nil {
			e.log.Warn("walk-forward failed", "label", u.label, "err", err)
			summary.Failed[u.label] = err
			continue
		}
		summary.Reports[u.label] = wf
	}
	return summary, nil
}

func (e *Engine) saveWindow(ctx context.Context, runID, label string, wr optimize.WindowResult) {
	if e.results == nil {
		return
	}
	rec := store.WalkForwardRecord{
		Label:  label,
		Window: wr.Window,
		Params: wr.Params,
		Train:  wr.Train,
		Test:   wr.Test,
	}
	if wr.Err != nil {
		rec.Err = wr.Err.Error()
	}
	if err := e.results.SaveWalkForwardWindow(ctx, runID, rec); err != nil {
		e.log.Warn("saving window failed", "run_id", runID, "label", label, "err", err)
	}
}
