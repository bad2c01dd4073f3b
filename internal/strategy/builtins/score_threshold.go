package builtins

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/markcheno/go-talib"

	"tradelab/internal/domain"
	"tradelab/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*ScoreThreshold)(nil)

// ScoreThreshold blends RSI momentum and the distance from a moving average
// into a score in [-1, 1]. It buys at or above buyThreshold and sells at or
// below sellThreshold. Both thresholds are the knobs tuned by grid search.
type ScoreThreshold struct {
	buyThreshold  float64
	sellThreshold float64
	rsiPeriod     int
	smaPeriod     int
}

// NewScoreThreshold validates and builds a ScoreThreshold.
func NewScoreThreshold(buy, sell float64, rsiPeriod, smaPeriod int) (*ScoreThreshold, error) {
	if buy <= sell {
		return nil, fmt.Errorf("score-threshold: buy_threshold %v must exceed sell_threshold %v", buy, sell)
	}
	if rsiPeriod < 2 || smaPeriod < 2 {
		return nil, fmt.Errorf("score-threshold: periods must be at least 2, got rsi %d sma %d", rsiPeriod, smaPeriod)
	}
	return &ScoreThreshold{
		buyThreshold:  buy,
		sellThreshold: sell,
		rsiPeriod:     rsiPeriod,
		smaPeriod:     smaPeriod,
	}, nil
}

// ScoreThresholdFactory reads buy_threshold (0.3), sell_threshold (-0.3),
// rsi_period (14) and sma_period (20).
func ScoreThresholdFactory(params domain.ParameterSet) (strategy.Strategy, error) {
	return NewScoreThreshold(
		params.Float("buy_threshold", 0.3),
		params.Float("sell_threshold", -0.3),
		int(params.Float("rsi_period", 14)),
		int(params.Float("sma_period", 20)),
	)
}

// Name returns "score-threshold".
func (s *ScoreThreshold) Name() string { return "score-threshold" }

// Lookback covers the RSI warm-up and the moving average.
func (s *ScoreThreshold) Lookback() int {
	return max(3*s.rsiPeriod, s.smaPeriod) + 1
}

// Score returns the blended score of a close series, oldest first. It
// returns false when the series is shorter than Lookback.
func (s *ScoreThreshold) Score(px []float64) (float64, bool) {
	if len(px) < s.Lookback() {
		return 0, false
	}
	n := len(px) - 1
	last := px[n]

	rsi := 50.0
	if !flat(px) {
		rsi = talib.Rsi(px, s.rsiPeriod)[n]
	}
	momentum := (rsi - 50) / 50

	var trend float64
	if sma := talib.Sma(px, s.smaPeriod)[n]; sma > 0 {
		trend = clamp((last/sma-1)*10, -1, 1)
	}
	return clamp((momentum+trend)/2, -1, 1), true
}

// Signals scores every priced ticker.
func (s *ScoreThreshold) Signals(_ context.Context, date time.Time, prices map[string]float64, hist strategy.History) (map[string]domain.Signal, error) {
	out := make(map[string]domain.Signal, len(prices))
	for ticker := range prices {
		score, ok := s.Score(closes(hist.Window(ticker, date, s.Lookback())))
		if !ok {
			continue
		}
		sig := domain.Signal{
			Symbol:    ticker,
			Type:      domain.SignalTypeHold,
			Strength:  math.Abs(score),
			Rationale: fmt.Sprintf("score %.3f (buy >= %g, sell <= %g)", score, s.buyThreshold, s.sellThreshold),
		}
		switch {
		case score >= s.buyThreshold:
			sig.Type = domain.SignalTypeBuy
		case score <= s.sellThreshold:
			sig.Type = domain.SignalTypeSell
		}
		out[ticker] = sig
	}
	return out, nil
}

func flat(px []float64) bool {
	for _, v := range px[1:] {
		if v != px[0] {
			return false
		}
	}
	return true
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
