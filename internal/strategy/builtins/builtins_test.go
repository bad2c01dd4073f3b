package builtins

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradelab/internal/domain"
	"tradelab/internal/series"
	"tradelab/internal/strategy"
)

// sliceHistory serves a single ticker's bars in date order.
type sliceHistory map[string][]domain.Bar

func (h sliceHistory) Window(ticker string, date time.Time, n int) []domain.Bar {
	var out []domain.Bar
	for _, b := range h[ticker] {
		if !b.Timestamp.After(date) {
			out = append(out, b)
		}
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

func makeBars(symbol string, closes []float64) []domain.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]domain.Bar, len(closes))
	for i, c := range closes {
		out[i] = domain.Bar{Symbol: symbol, Timestamp: start.AddDate(0, 0, i), Close: c}
	}
	return out
}

func ramp(n int, from, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = from + float64(i)*step
	}
	return out
}

func TestDefaultRegistry(t *testing.T) {
	r := Default()
	assert.Equal(t, []string{"score-threshold", "sma-cross"}, r.List())

	s, err := r.New("score-threshold", domain.NewParameterSet(map[string]float64{"buy_threshold": 0.4, "sell_threshold": -0.1}))
	require.NoError(t, err)
	assert.Equal(t, "score-threshold", s.Name())

	_, err = r.New("score-threshold", domain.NewParameterSet(map[string]float64{"buy_threshold": -0.5, "sell_threshold": 0.5}))
	assert.Error(t, err, "inverted thresholds must be rejected")

	_, err = r.New("sma-cross", domain.NewParameterSet(map[string]float64{"short_period": 30, "long_period": 10}))
	assert.Error(t, err)
}

func TestScoreThresholdSignals(t *testing.T) {
	s, err := NewScoreThreshold(0.3, -0.3, 14, 20)
	require.NoError(t, err)

	n := s.Lookback() + 5
	hist := sliceHistory{
		"UP":   makeBars("UP", ramp(n, 100, 1)),
		"DOWN": makeBars("DOWN", ramp(n, 200, -1)),
		"FLAT": makeBars("FLAT", ramp(n, 50, 0)),
		"NEW":  makeBars("NEW", ramp(5, 10, 1)),
	}
	date := hist["UP"][n-1].Timestamp
	prices := map[string]float64{"UP": 1, "DOWN": 1, "FLAT": 1, "NEW": 1}

	got, err := s.Signals(context.Background(), date, prices, hist)
	require.NoError(t, err)

	assert.Equal(t, domain.SignalTypeBuy, got["UP"].Type)
	assert.Equal(t, domain.SignalTypeSell, got["DOWN"].Type)
	assert.Equal(t, domain.SignalTypeHold, got["FLAT"].Type)
	assert.NotContains(t, got, "NEW", "short history must not produce a signal")
	assert.InDelta(t, 0, got["FLAT"].Strength, 1e-9)
}

func TestSMACrossSignals(t *testing.T) {
	s, err := NewSMACross(2, 4)
	require.NoError(t, err)

	// Falling then a sharp rise: the 2-bar average crosses above the 4-bar.
	up := makeBars("X", []float64{10, 9, 8, 7, 6, 12})
	got, err := s.Signals(context.Background(), up[5].Timestamp, map[string]float64{"X": 12}, sliceHistory{"X": up})
	require.NoError(t, err)
	assert.Equal(t, domain.SignalTypeBuy, got["X"].Type)

	// Rising then a sharp drop crosses below.
	down := makeBars("X", []float64{6, 7, 8, 9, 10, 4})
	got, err = s.Signals(context.Background(), down[5].Timestamp, map[string]float64{"X": 4}, sliceHistory{"X": down})
	require.NoError(t, err)
	assert.Equal(t, domain.SignalTypeSell, got["X"].Type)

	// A steady trend does not cross.
	steady := makeBars("X", ramp(6, 1, 1))
	got, err = s.Signals(context.Background(), steady[5].Timestamp, map[string]float64{"X": 6}, sliceHistory{"X": steady})
	require.NoError(t, err)
	assert.Equal(t, domain.SignalTypeHold, got["X"].Type)
}

// withMalformed returns bars built from closes with a zero close spliced in
// before index at, and the same bars without it. Both share dates.
func withMalformed(t *testing.T, symbol string, closes []float64, at int) (clean, dirty strategy.History) {
	t.Helper()
	spliced := append(append(append([]float64{}, closes[:at]...), 0), closes[at:]...)
	all := makeBars(symbol, spliced)
	good := append(append([]domain.Bar{}, all[:at]...), all[at+1:]...)

	cs, err := series.New(symbol, good)
	require.NoError(t, err)
	ds, err := series.New(symbol, all)
	require.NoError(t, err)
	return series.NewStore(cs), series.NewStore(ds)
}

func TestStrategiesIgnoreMalformedBars(t *testing.T) {
	score, err := NewScoreThreshold(0.3, -0.3, 5, 5)
	require.NoError(t, err)
	cross, err := NewSMACross(2, 4)
	require.NoError(t, err)

	tests := []struct {
		name   string
		strat  strategy.Strategy
		closes []float64
	}{
		{"score-threshold", score, ramp(score.Lookback()+2, 100, 1)},
		{"sma-cross", cross, []float64{10, 9, 8, 7, 6, 12}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clean, dirty := withMalformed(t, "X", tt.closes, len(tt.closes)-3)
			date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, len(tt.closes))
			prices := map[string]float64{"X": tt.closes[len(tt.closes)-1]}

			want, err := tt.strat.Signals(context.Background(), date, prices, clean)
			require.NoError(t, err)
			require.Contains(t, want, "X")
			got, err := tt.strat.Signals(context.Background(), date, prices, dirty)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}
