// Package builtins provides built-in strategy implementations that ship with
// tradelab.
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
var _ strategy.Strategy = (*SMACross)(nil)

// SMACross implements a simple moving average crossover strategy. It generates
// a buy signal when the short-period SMA crosses above the long-period SMA,
// and a sell signal when it crosses below.
type SMACross struct {
	shortPeriod int
	longPeriod  int
}

// NewSMACross creates a new SMACross strategy with the specified short and
// long moving average periods.
func NewSMACross(short, long int) (*SMACross, error) {
	if short < 2 || long <= short {
		return nil, fmt.Errorf("sma-cross: need 2 <= short < long, got %d/%d", short, long)
	}
	return &SMACross{
		shortPeriod: short,
		longPeriod:  long,
	}, nil
}

// SMACrossFactory builds an SMACross from short_period and long_period
// (defaults 10 and 30).
func SMACrossFactory(params domain.ParameterSet) (strategy.Strategy, error) {
	return NewSMACross(
		int(params.Float("short_period", 10)),
		int(params.Float("long_period", 30)),
	)
}

// Name returns "sma-cross".
func (s *SMACross) Name() string {
	return "sma-cross"
}

// Lookback is one bar more than the long period so yesterday's averages are
// defined too.
func (s *SMACross) Lookback() int {
	return s.longPeriod + 1
}

// Signals compares today's and yesterday's moving averages per ticker.
func (s *SMACross) Signals(_ context.Context, date time.Time, prices map[string]float64, hist strategy.History) (map[string]domain.Signal, error) {
	out := make(map[string]domain.Signal, len(prices))
	for ticker := range prices {
		px := closes(hist.Window(ticker, date, s.Lookback()))
		if len(px) < s.Lookback() {
			continue
		}
		short := talib.Sma(px, s.shortPeriod)
		long := talib.Sma(px, s.longPeriod)
		n := len(px) - 1

		prevDiff := short[n-1] - long[n-1]
		diff := short[n] - long[n]
		sig := domain.Signal{Symbol: ticker, Type: domain.SignalTypeHold}
		if long[n] > 0 {
			sig.Strength = math.Min(math.Abs(diff)/long[n]*100, 1)
		}
		switch {
		case prevDiff <= 0 && diff > 0:
			sig.Type = domain.SignalTypeBuy
			sig.Rationale = fmt.Sprintf("SMA%d crossed above SMA%d", s.shortPeriod, s.longPeriod)
		case prevDiff >= 0 && diff < 0:
			sig.Type = domain.SignalTypeSell
			sig.Rationale = fmt.Sprintf("SMA%d crossed below SMA%d", s.shortPeriod, s.longPeriod)
		}
		out[ticker] = sig
	}
	return out, nil
}

func closes(bars []domain.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}
