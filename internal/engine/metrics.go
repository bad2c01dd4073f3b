package engine

import (
	"math"

	"github.com/samber/lo"
	"gonum.org/v1/gonum/stat"

	"tradelab/internal/domain"
)

// TradingDaysPerYear annualises daily statistics.
const TradingDaysPerYear = 252

// ComputeMetrics summarises a finished run. The equity curve is prefixed with
// the initial value so the first day's return counts.
func ComputeMetrics(initial float64, equity []domain.EquityPoint, txns []domain.Transaction, riskFreeRate float64) domain.Metrics {
	values := make([]float64, 0, len(equity)+1)
	values = append(values, initial)
	values = append(values, lo.Map(equity, func(p domain.EquityPoint, _ int) float64 { return p.Value })...)

	final := values[len(values)-1]
	m := domain.Metrics{
		InitialValue: initial,
		FinalValue:   final,
		TradingDays:  len(equity),
	}
	if initial > 0 {
		m.TotalReturnPct = (final/initial - 1) * 100
		m.AnnualizedReturn = AnnualizedReturn(initial, final, len(equity))
	}

	returns := DailyReturns(values)
	m.Volatility = Volatility(returns)
	m.Sharpe = SharpeRatio(returns, riskFreeRate)
	m.MaxDrawdown = MaxDrawdown(values)
	m.CalmarRatio = CalmarRatio(m.AnnualizedReturn, m.MaxDrawdown)

	sells := lo.Filter(txns, func(t domain.Transaction, _ int) bool { return t.Side == domain.SideSell })
	m.TotalTrades = len(sells)
	m.WinningTrades = len(lo.Filter(sells, func(t domain.Transaction, _ int) bool { return t.RealizedPnL > 0 }))
	if m.TotalTrades > 0 {
		m.WinRatePct = float64(m.WinningTrades) / float64(m.TotalTrades) * 100
	}
	return m
}

// AnnualizedReturn returns (final/initial)^(252/days) - 1.
func AnnualizedReturn(initial, final float64, days int) float64 {
	if initial <= 0 || days <= 0 {
		return 0
	}
	if final <= 0 {
		return -1
	}
	return math.Pow(final/initial, float64(TradingDaysPerYear)/float64(days)) - 1
}

// DailyReturns returns the simple returns between consecutive values.
func DailyReturns(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, values[i]/values[i-1]-1)
	}
	return out
}

// Volatility returns the annualised sample standard deviation of returns.
func Volatility(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	return stat.StdDev(returns, nil) * math.Sqrt(TradingDaysPerYear)
}

// SharpeRatio returns mean(excess)/stdev(excess)*sqrt(252), or 0 when the
// excess returns do not vary.
func SharpeRatio(returns []float64, riskFreeRate float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	daily := riskFreeRate / TradingDaysPerYear
	excess := lo.Map(returns, func(r float64, _ int) float64 { return r - daily })
	mean, sd := stat.MeanStdDev(excess, nil)
	if sd < 1e-12 || math.IsNaN(sd) {
		return 0
	}
	return mean / sd * math.Sqrt(TradingDaysPerYear)
}
