package optimize

import (
	"fmt"
	"math"
	"sort"

	"tradelab/internal/domain"
)

// Objective selects the metric grid search maximizes.
type Objective string

const (
	ObjectiveReturn   Objective = "return"
	ObjectiveSharpe   Objective = "sharpe"
	ObjectiveDrawdown Objective = "drawdown" // shallowest drawdown wins
	ObjectiveWinRate  Objective = "win_rate"
)

// ParseObjective maps a configuration string to an Objective. The empty
// string selects ObjectiveReturn.
func ParseObjective(s string) (Objective, error) {
	switch o := Objective(s); o {
	case "":
		return ObjectiveReturn, nil
	case ObjectiveReturn, ObjectiveSharpe, ObjectiveDrawdown, ObjectiveWinRate:
		return o, nil
	}
	return "", fmt.Errorf("%w: unknown objective %q", domain.ErrInvalidConfig, s)
}

// Score returns r's value under the objective; higher is better. NaN
// scores sort last.
func (o Objective) Score(r domain.OptimizationResult) float64 {
	var v float64
	switch o {
	case ObjectiveSharpe:
		v = r.Sharpe
	case ObjectiveDrawdown:
		v = r.MaxDrawdownPct
	case ObjectiveWinRate:
		v = r.WinRatePct
	default:
		v = r.ReturnPct
	}
	if math.IsNaN(v) {
		return math.Inf(-1)
	}
	return v
}

// Rank returns a copy of results ordered best first: objective score, then
// higher Sharpe, then shallower drawdown, then enumeration order.
func Rank(results []domain.OptimizationResult, obj Objective) []domain.OptimizationResult {
	out := make([]domain.OptimizationResult, len(results))
	copy(out, results)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if sa, sb := obj.Score(a), obj.Score(b); sa != sb {
			return sa > sb
		}
		if a.Sharpe != b.Sharpe {
			return a.Sharpe > b.Sharpe
		}
		if a.MaxDrawdownPct != b.MaxDrawdownPct {
			return a.MaxDrawdownPct > b.MaxDrawdownPct
		}
		return a.Index < b.Index
	})
	return out
}
