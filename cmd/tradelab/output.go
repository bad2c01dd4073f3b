package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/schollz/progressbar/v3"

	"tradelab/internal/domain"
	"tradelab/internal/engine"
)

// newProgress returns a grid-search progress callback that draws one bar
// per label.
func newProgress() func(label string, done, total int) {
	var (
		bar     *progressbar.ProgressBar
		current string
	)
	return func(label string, done, total int) {
		if bar == nil || label != current {
			bar = progressbar.Default(int64(total), label)
			current = label
		}
		_ = bar.Set(done)
		if done == total {
			_ = bar.Finish()
		}
	}
}

func pct(v float64) string { return fmt.Sprintf("%.2f %%", v) }

func ratio(v float64) string { return fmt.Sprintf("%.3f", v) }

func calmar(c *float64) string {
	if c == nil {
		return "-"
	}
	return ratio(*c)
}

func renderBacktest(w io.Writer, report *engine.BacktestReport) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Label", "Return", "Annual", "Sharpe", "Max DD", "Calmar", "Win", "Trades", "Gaps", "vs Baseline"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)

	for _, run := range report.Runs {
		m := run.Result.Metrics
		vs := "-"
		if b := run.Baseline; b != nil {
			vs = fmt.Sprintf("%+.2f %% / %+.2f", b.ReturnDelta, b.SharpeDelta)
		}
		table.Append([]string{
			run.Label,
			pct(m.TotalReturnPct),
			pct(m.AnnualizedReturn * 100),
			ratio(m.Sharpe),
			pct(m.MaxDrawdownPct()),
			calmar(m.CalmarRatio),
			pct(m.WinRatePct),
			strconv.Itoa(m.TotalTrades),
			strconv.Itoa(run.Result.DataGaps),
			vs,
		})
	}
	table.Render()
	renderFailures(w, report.Failed)
}

// renderOptimize prints each label's top results, or the full ranked table
// when all is set.
func renderOptimize(w io.Writer, report *engine.OptimizeReport, all bool) {
	labels := lo.Keys(report.Reports)
	sort.Strings(labels)
	for _, label := range labels {
		gr := report.Reports[label]
		fmt.Fprintf(w, "\n%s: best %s (%d evaluated, %d failed)\n", label, gr.Best.Params, len(gr.All), len(gr.Failed))

		table := tablewriter.NewWriter(w)
		table.SetHeader([]string{"#", "Params", "Return", "Sharpe", "Max DD", "Win", "Trades"})
		table.SetAlignment(tablewriter.ALIGN_RIGHT)
		rows := gr.Top
		if all {
			rows = gr.Ranked
		}
		for i, r := range rows {
			table.Append(optimizationRow(strconv.Itoa(i+1), r))
		}
		table.Render()
	}
	renderFailures(w, report.Failed)
}

func optimizationRow(first string, r domain.OptimizationResult) []string {
	return []string{
		first,
		r.Params.Key(),
		pct(r.ReturnPct),
		ratio(r.Sharpe),
		pct(r.MaxDrawdownPct),
		pct(r.WinRatePct),
		strconv.Itoa(r.Trades),
	}
}

func renderWalkForward(w io.Writer, summary *engine.WalkForwardSummary) {
	labels := lo.Keys(summary.Reports)
	sort.Strings(labels)
	for _, label := range labels {
		wf := summary.Reports[label]
		fmt.Fprintf(w, "\n%s: %d/%d windows, mean test return %s, sharpe %s, max DD %s\n",
			label, wf.Completed, len(wf.Windows), pct(wf.MeanTestReturnPct),
			ratio(wf.MeanTestSharpe), pct(wf.MeanTestDrawdownPct))

		table := tablewriter.NewWriter(w)
		table.SetHeader([]string{"Train", "Test", "Params", "Train Ret", "Test Ret", "Δ Ret", "Δ Sharpe", "Flip"})
		table.SetAlignment(tablewriter.ALIGN_RIGHT)
		for _, wr := range wf.Windows {
			train := wr.Window.TrainStart.Format(domain.DateLayout) + ".." + wr.Window.TrainEnd.Format(domain.DateLayout)
			test := wr.Window.TestStart.Format(domain.DateLayout) + ".." + wr.Window.TestEnd.Format(domain.DateLayout)
			if wr.Err != nil {
				table.Append([]string{train, test, "error: " + wr.Err.Error(), "", "", "", "", ""})
				continue
			}
			flip := ""
			if wr.SignFlip {
				flip = "yes"
			}
			table.Append([]string{
				train, test, wr.Params.Key(),
				pct(wr.Train.ReturnPct), pct(wr.Test.ReturnPct),
				pct(wr.ReturnDelta), ratio(wr.SharpeDelta), flip,
			})
		}
		table.Render()
	}
	renderFailures(w, summary.Failed)
}

func renderFailures(w io.Writer, failed map[string]error) {
	if len(failed) == 0 {
		return
	}
	labels := lo.Keys(failed)
	sort.Strings(labels)
	fmt.Fprintln(w, "\nfailed:")
	for _, label := range labels {
		fmt.Fprintf(w, "  %s: %v\n", label, failed[label])
	}
}
