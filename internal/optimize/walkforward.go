package optimize

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
	"gonum.org/v1/gonum/stat"

	"tradelab/internal/domain"
)

// Windows partitions [start, end] into calendar-day walk-forward windows.
// Training covers window days from s, testing the step days right after
// it, and s advances by step. Only windows whose test slice ends on or
// before end are produced.
func Windows(start, end time.Time, window, step int) ([]domain.WalkForwardWindow, error) {
	if window < 1 || step < 1 {
		return nil, fmt.Errorf("%w: optimization_window and step_size must be positive, got %d and %d",
			domain.ErrInvalidConfig, window, step)
	}
	start, end = domain.TruncateDate(start), domain.TruncateDate(end)

	var out []domain.WalkForwardWindow
	for s := start; ; s = s.AddDate(0, 0, step) {
		w := domain.WalkForwardWindow{
			TrainStart: s,
			TrainEnd:   s.AddDate(0, 0, window-1),
			TestStart:  s.AddDate(0, 0, window),
			TestEnd:    s.AddDate(0, 0, window+step-1),
		}
		if w.TestEnd.After(end) {
			break
		}
		out = append(out, w)
	}
	return out, nil
}

// WindowResult pairs the train-slice winner of one window with its score
// on the unseen test slice. Deltas are test minus train.
type WindowResult struct {
	Window      domain.WalkForwardWindow
	Params      domain.ParameterSet
	Train       domain.OptimizationResult
	Test        domain.OptimizationResult
	ReturnDelta float64
	SharpeDelta float64
	SignFlip    bool // train and test returns have opposite signs
	Err         error
}

// WalkForwardReport aggregates test-slice metrics over the windows that
// completed. Acceptance thresholds are left to the caller.
type WalkForwardReport struct {
	Label               string
	Windows             []WindowResult
	Completed           int
	MeanTestReturnPct   float64
	MeanTestSharpe      float64
	MeanTestDrawdownPct float64
}

// WalkForward re-optimizes on each window's training slice and scores the
// winner on its test slice only. Windows run in order; each grid search is
// parallel inside. A failing window is kept with Err set and left out of
// the means. onWindow, when non-nil, sees every window as it finishes.
func (o *Optimizer) WalkForward(ctx context.Context, label string, eval Evaluator, start, end time.Time, window, step int, onWindow func(WindowResult)) (*WalkForwardReport, error) {
	windows, err := Windows(start, end, window, step)
	if err != nil {
		return nil, err
	}
	if len(windows) == 0 {
		return nil, fmt.Errorf("%w: %s..%s is too short for a %d+%d day window",
			domain.ErrInvalidConfig, start.Format(domain.DateLayout), end.Format(domain.DateLayout), window, step)
	}
	log := o.logger().With("label", label)
	log.Info("walk-forward started", "windows", len(windows), "window", window, "step", step)

	report := &WalkForwardReport{Label: label}
	for i, w := range windows {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		wr := o.runWindow(ctx, label, eval, w)
		if wr.Err != nil {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			log.Warn("window failed", "window", i, "span", w.String(), "err", wr.Err)
		}
		report.Windows = append(report.Windows, wr)
		if onWindow != nil {
			onWindow(wr)
		}
	}

	ok := lo.Filter(report.Windows, func(wr WindowResult, _ int) bool { return wr.Err == nil })
	report.Completed = len(ok)
	if len(ok) > 0 {
		pick := func(f func(domain.OptimizationResult) float64) []float64 {
			return lo.Map(ok, func(wr WindowResult, _ int) float64 { return f(wr.Test) })
		}
		report.MeanTestReturnPct = stat.Mean(pick(func(r domain.OptimizationResult) float64 { return r.ReturnPct }), nil)
		report.MeanTestSharpe = stat.Mean(pick(func(r domain.OptimizationResult) float64 { return r.Sharpe }), nil)
		report.MeanTestDrawdownPct = stat.Mean(pick(func(r domain.OptimizationResult) float64 { return r.MaxDrawdownPct }), nil)
	}
	log.Info("walk-forward finished", "completed", report.Completed, "failed", len(report.Windows)-report.Completed,
		"mean_test_return_pct", report.MeanTestReturnPct, "mean_test_sharpe", report.MeanTestSharpe)
	return report, nil
}

func (o *Optimizer) runWindow(ctx context.Context, label string, eval Evaluator, w domain.WalkForwardWindow) WindowResult {
	wr := WindowResult{Window: w}

	// Train grids are not recorded individually; the window is.
	train, err := o.gridSearch(ctx, label, eval, w.TrainStart, w.TrainEnd, nil, nil)
	if err != nil {
		wr.Err = fmt.Errorf("train %s: %w", w.String(), err)
		return wr
	}
	wr.Params, wr.Train = train.Best.Params, train.Best

	m, err := eval(ctx, wr.Params, w.TestStart, w.TestEnd)
	if err != nil {
		wr.Err = fmt.Errorf("test %s: %w", w.String(), err)
		return wr
	}
	wr.Test = domain.ResultFromMetrics(wr.Params, wr.Train.Index, m)
	wr.ReturnDelta = wr.Test.ReturnPct - wr.Train.ReturnPct
	wr.SharpeDelta = wr.Test.Sharpe - wr.Train.Sharpe
	wr.SignFlip = wr.Train.ReturnPct*wr.Test.ReturnPct < 0
	return wr
}
