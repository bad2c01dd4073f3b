package optimize

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"tradelab/internal/dispatch"
	"tradelab/internal/domain"
	"tradelab/internal/util"
)

// Evaluator runs one full backtest with params over [start, end] and returns
// its metrics. It must be safe for concurrent use.
type Evaluator func(ctx context.Context, params domain.ParameterSet, start, end time.Time) (domain.Metrics, error)

// Recorder receives every scored parameter set as soon as it is known, so
// long searches can be persisted incrementally.
type Recorder interface {
	Record(ctx context.Context, label string, r domain.OptimizationResult) error
}

// Optimizer runs grid searches and walk-forward validation over Ranges.
// The zero value of every optional field is usable.
type Optimizer struct {
	Ranges     []ParamRange
	Objective  Objective
	TopN       int // 0 keeps every result in GridReport.Top
	MaxWorkers int // 0 means one per CPU

	// OnProgress is called after each evaluation with the count done so far
	// for the grid being searched. Calls are serialized.
	OnProgress func(label string, done, total int)
	Recorder   Recorder
	Log        *slog.Logger
}

// Failure is a parameter set whose backtest returned an error.
type Failure struct {
	Params domain.ParameterSet
	Err    error
}

// GridReport is the outcome of one grid search.
type GridReport struct {
	Label  string
	Best   domain.OptimizationResult
	Top    []domain.OptimizationResult // first TopN of Ranked
	Ranked []domain.OptimizationResult // every result, best first
	All    []domain.OptimizationResult // enumeration order
	Failed []Failure
}

// CategoryReport is the outcome of a per-category grid search.
type CategoryReport struct {
	Best    map[string]domain.ParameterSet
	Reports map[string]*GridReport
	Failed  map[string]error
}

type gridJob struct {
	index  int
	params domain.ParameterSet
}

func (o *Optimizer) logger() *slog.Logger {
	return util.OrDefault(o.Log, "optimize")
}

// GridSearch evaluates every combination of Ranges over [start, end] in
// parallel and ranks the results. A failing combination is reported in
// GridReport.Failed and does not stop the others. It returns an error only
// when the grid is invalid, ctx is cancelled, or every combination failed.
func (o *Optimizer) GridSearch(ctx context.Context, label string, eval Evaluator, start, end time.Time) (*GridReport, error) {
	return o.gridSearch(ctx, label, eval, start, end, o.Recorder, o.OnProgress)
}

func (o *Optimizer) gridSearch(ctx context.Context, label string, eval Evaluator, start, end time.Time, rec Recorder, progress func(label string, done, total int)) (*GridReport, error) {
	grid, err := Grid(o.Ranges)
	if err != nil {
		return nil, err
	}
	obj, err := ParseObjective(string(o.Objective))
	if err != nil {
		return nil, err
	}
	log := o.logger().With("label", label)
	log.Info("grid search started", "combinations", len(grid),
		"start", start.Format(domain.DateLayout), "end", end.Format(domain.DateLayout))

	jobs := lo.Map(grid, func(ps domain.ParameterSet, i int) gridJob { return gridJob{index: i, params: ps} })

	var (
		mu   sync.Mutex
		done int
	)
	outcomes := dispatch.RunMany(ctx, jobs, o.MaxWorkers, func(ctx context.Context, j gridJob) (domain.OptimizationResult, error) {
		defer func() {
			if progress == nil {
				return
			}
			mu.Lock()
			done++
			progress(label, done, len(jobs))
			mu.Unlock()
		}()

		m, err := eval(ctx, j.params, start, end)
		if err != nil {
			return domain.OptimizationResult{}, err
		}
		r := domain.ResultFromMetrics(j.params, j.index, m)
		if rec != nil {
			if err := rec.Record(ctx, label, r); err != nil {
				log.Warn("recording result failed", "params", j.params.String(), "err", err)
			}
		}
		return r, nil
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := &GridReport{Label: label}
	ok, failed := dispatch.Split(outcomes)
	for _, f := range failed {
		log.Warn("parameter set failed", "params", f.Item.params.String(), "err", f.Err)
		report.Failed = append(report.Failed, Failure{Params: f.Item.params, Err: f.Err})
	}
	report.All = lo.Map(ok, func(out dispatch.Outcome[gridJob, domain.OptimizationResult], _ int) domain.OptimizationResult {
		return out.Result
	})
	if len(report.All) == 0 {
		return report, fmt.Errorf("grid search %s: all %d parameter sets failed: %w", label, len(grid), report.Failed[0].Err)
	}

	ranked := Rank(report.All, obj)
	report.Best = ranked[0]
	report.Ranked = ranked
	report.Top = ranked
	if o.TopN > 0 && len(ranked) > o.TopN {
		report.Top = ranked[:o.TopN]
	}
	log.Info("grid search finished", "evaluated", len(report.All), "failed", len(report.Failed),
		"best", report.Best.Params.String(), "return_pct", report.Best.ReturnPct, "sharpe", report.Best.Sharpe)
	return report, nil
}

// GridSearchByCategory runs an independent grid search per category, in
// name order, and maps each category to its best ParameterSet. A category
// whose search fails is reported in Failed; only cancellation is returned
// as an error.
func (o *Optimizer) GridSearchByCategory(ctx context.Context, evals map[string]Evaluator, start, end time.Time) (*CategoryReport, error) {
	out := &CategoryReport{
		Best:    make(map[string]domain.ParameterSet, len(evals)),
		Reports: make(map[string]*GridReport, len(evals)),
		Failed:  make(map[string]error),
	}
	categories := lo.Keys(evals)
	sort.Strings(categories)

	for _, cat := range categories {
		report, err := o.GridSearch(ctx, cat, evals[cat], start, end)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out, ctxErr
		}
		if err != nil {
			o.logger().Warn("category search failed", "category", cat, "err", err)
			out.Failed[cat] = err
			continue
		}
		out.Best[cat] = report.Best.Params
		out.Reports[cat] = report
	}
	return out, nil
}
