package engine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradelab/internal/domain"
)

func curve(values ...float64) []domain.EquityPoint {
	out := make([]domain.EquityPoint, len(values))
	for i, v := range values {
		out[i] = domain.EquityPoint{Date: day(i), Value: v}
	}
	return out
}

func TestComputeMetrics(t *testing.T) {
	txns := []domain.Transaction{
		{Side: domain.SideBuy},
		{Side: domain.SideSell, RealizedPnL: 50},
		{Side: domain.SideBuy},
		{Side: domain.SideSell, RealizedPnL: -10},
		{Side: domain.SideBuy},
		{Side: domain.SideSell, RealizedPnL: 0},
		{Side: domain.SideSell, RealizedPnL: 5},
	}
	m := ComputeMetrics(100, curve(120, 90, 150), txns, 0)

	assert.Equal(t, 150.0, m.FinalValue)
	assert.InDelta(t, 50, m.TotalReturnPct, 1e-9)
	assert.InDelta(t, -0.25, m.MaxDrawdown, 1e-12)
	assert.InDelta(t, -25, m.MaxDrawdownPct(), 1e-9)
	assert.Equal(t, 3, m.TradingDays)
	assert.Equal(t, 4, m.TotalTrades)
	assert.Equal(t, 2, m.WinningTrades)
	assert.InDelta(t, 50, m.WinRatePct, 1e-9)
	assert.InDelta(t, math.Pow(1.5, 84)-1, m.AnnualizedReturn, 1e-6*math.Pow(1.5, 84))
	require.NotNil(t, m.CalmarRatio)
	assert.InDelta(t, m.AnnualizedReturn/0.25, *m.CalmarRatio, 1e-6**m.CalmarRatio)
	assert.Greater(t, m.Volatility, 0.0)
}

func TestComputeMetricsEmptyRun(t *testing.T) {
	m := ComputeMetrics(1000, nil, nil, 0.02)
	assert.Equal(t, 1000.0, m.FinalValue)
	assert.Zero(t, m.TotalReturnPct)
	assert.Zero(t, m.Sharpe)
	assert.Zero(t, m.WinRatePct)
	assert.Nil(t, m.CalmarRatio)
}

func TestSharpeRatio(t *testing.T) {
	// Constant returns have no deviation.
	assert.Zero(t, SharpeRatio([]float64{0.01, 0.01, 0.01}, 0))
	assert.Zero(t, SharpeRatio([]float64{0.01}, 0))

	r := []float64{0.01, -0.005, 0.02, 0.0}
	mean := (0.01 - 0.005 + 0.02 + 0.0) / 4
	var ss float64
	for _, x := range r {
		ss += (x - mean) * (x - mean)
	}
	sd := math.Sqrt(ss / 3)
	assert.InDelta(t, mean/sd*math.Sqrt(252), SharpeRatio(r, 0), 1e-9)

	// A risk-free rate shifts the mean only.
	rf := 0.0252
	assert.InDelta(t, (mean-rf/252)/sd*math.Sqrt(252), SharpeRatio(r, rf), 1e-9)
}

func TestAnnualizedReturn(t *testing.T) {
	assert.InDelta(t, 0.1, AnnualizedReturn(100, 110, 252), 1e-12)
	assert.Equal(t, -1.0, AnnualizedReturn(100, 0, 10))
	assert.Zero(t, AnnualizedReturn(100, 110, 0))
}
