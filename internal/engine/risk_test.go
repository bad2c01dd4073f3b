package engine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradelab/internal/domain"
)

func testRiskConfig() RiskConfig {
	return RiskConfig{
		RiskPerTradeFraction:    0.01,
		ATRMultiplier:           2,
		ATRWindow:               2,
		RewardRiskRatio:         2,
		DefaultPositionFraction: 0.1,
		FallbackStopPct:         0.05,
	}
}

func TestStopAndTakeProfit(t *testing.T) {
	rm := NewRiskManager(testRiskConfig())
	assert.Equal(t, 96.0, rm.StopLossPrice(100, 2))
	assert.Equal(t, 108.0, rm.TakeProfitPrice(100, 2))

	lv := rm.Levels(100, 2, true)
	assert.Equal(t, domain.StopLevels{StopLoss: 96, TakeProfit: 108}, lv)
}

func TestLevelsBracketEntry(t *testing.T) {
	for _, mult := range []float64{0.5, 1, 3} {
		for _, rr := range []float64{0.5, 1, 2.5} {
			cfg := testRiskConfig()
			cfg.ATRMultiplier, cfg.RewardRiskRatio = mult, rr
			rm := NewRiskManager(cfg)
			for _, atr := range []float64{0, 0.1, 1.7, 60} {
				lv := rm.Levels(100, atr, atr > 0)
				assert.Less(t, lv.StopLoss, 100.0, "mult %v rr %v atr %v", mult, rr, atr)
				assert.Greater(t, lv.StopLoss, 0.0)
				assert.Greater(t, lv.TakeProfit, 100.0)
			}
		}
	}
}

func TestFallbackLevels(t *testing.T) {
	rm := NewRiskManager(testRiskConfig())
	lv := rm.Levels(200, 0, false)
	assert.InDelta(t, 190, lv.StopLoss, 1e-9)
	assert.InDelta(t, 220, lv.TakeProfit, 1e-9)
}

func TestAverageTrueRange(t *testing.T) {
	rm := NewRiskManager(testRiskConfig())
	bars := []domain.Bar{
		{High: 11, Low: 9, Close: 10},
		{High: 12, Low: 10, Close: 11}, // TR = max(2, |12-10|, |10-10|) = 2
		{High: 15, Low: 12, Close: 14}, // TR = max(3, |15-11|, |12-11|) = 4
	}
	atr, ok := rm.AverageTrueRange(bars, 2)
	require.True(t, ok)
	assert.Equal(t, 3.0, atr)

	// Without a prior close the oldest bar uses its own range.
	atr, ok = rm.AverageTrueRange(bars[1:], 2)
	require.True(t, ok)
	assert.Equal(t, 3.0, atr)

	_, ok = rm.AverageTrueRange(bars[:1], 2)
	assert.False(t, ok, "fewer bars than the window is the insufficient-data sentinel")

	// Close-only bars use the close as the range.
	closeOnly := []domain.Bar{{Close: 10}, {Close: 12}, {Close: 9}}
	atr, ok = rm.AverageTrueRange(closeOnly, 2)
	require.True(t, ok)
	assert.Equal(t, 2.5, atr)
}

func TestPositionSize(t *testing.T) {
	rm := NewRiskManager(testRiskConfig())

	// floor(100000*0.01 / (2*2)) = 250
	assert.Equal(t, 250, rm.PositionSize(100000, 2, 100000, 100))
	// Capped by cash: floor(10000/100) = 100.
	assert.Equal(t, 100, rm.PositionSize(100000, 2, 10000, 100))
	// No ATR: 10% of equity at entry price.
	assert.Equal(t, 100, rm.PositionSize(100000, 0, 100000, 100))
	assert.Equal(t, 100, rm.PositionSize(100000, math.NaN(), 100000, 100))
	// Degenerate inputs.
	assert.Zero(t, rm.PositionSize(100000, 2, 50, 100))
	assert.Zero(t, rm.PositionSize(0, 2, 100, 100))
	assert.Zero(t, rm.PositionSize(100000, 2, 100000, 0))
}

func TestMaxDrawdown(t *testing.T) {
	assert.InDelta(t, -0.25, MaxDrawdown([]float64{100, 120, 90, 150}), 1e-12)
	assert.Zero(t, MaxDrawdown([]float64{1, 2, 3}))
	assert.Zero(t, MaxDrawdown(nil))
	assert.Equal(t, -1.0, MaxDrawdown([]float64{100, 0}))

	for _, curve := range [][]float64{{5, 1, 7, 2}, {100, 99.9, 100.1}, {3}} {
		dd := MaxDrawdown(curve)
		assert.LessOrEqual(t, dd, 0.0)
		assert.GreaterOrEqual(t, dd, -1.0)
	}
}

func TestCalmarRatio(t *testing.T) {
	assert.Nil(t, CalmarRatio(0.2, 0))
	c := CalmarRatio(0.2, -0.1)
	require.NotNil(t, c)
	assert.InDelta(t, 2.0, *c, 1e-12)
}
