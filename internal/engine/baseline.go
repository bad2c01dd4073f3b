package engine

import (
	"strings"

	"tradelab/internal/config"
	"tradelab/internal/domain"
)

// BaselineComparison is a run's metrics minus its reference metrics.
// Positive deltas are improvements except for drawdown, where a positive
// delta means a shallower drawdown.
type BaselineComparison struct {
	Label         string
	Baseline      config.Baseline
	ReturnDelta   float64
	SharpeDelta   float64
	DrawdownDelta float64
	WinRateDelta  float64
}

// Improved reports whether the run beat its baseline on return without
// giving up risk-adjusted return.
func (c BaselineComparison) Improved() bool {
	return c.ReturnDelta > 0 && c.SharpeDelta >= 0
}

// CompareToBaseline compares m against the baseline configured for label.
// Lookup is case-insensitive; ok is false when no baseline exists.
func CompareToBaseline(baselines map[string]config.Baseline, label string, m domain.Metrics) (BaselineComparison, bool) {
	b, ok := baselines[label]
	if !ok {
		for k, v := range baselines {
			if strings.EqualFold(k, label) {
				b, ok = v, true
				break
			}
		}
	}
	if !ok {
		return BaselineComparison{}, false
	}
	return BaselineComparison{
		Label:         label,
		Baseline:      b,
		ReturnDelta:   m.TotalReturnPct - b.ReturnPct,
		SharpeDelta:   m.Sharpe - b.Sharpe,
		DrawdownDelta: m.MaxDrawdownPct() - b.MaxDrawdownPct,
		WinRateDelta:  m.WinRatePct - b.WinRatePct,
	}, true
}
