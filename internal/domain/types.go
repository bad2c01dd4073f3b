// Package domain defines the core value types shared by the simulator, the
// optimizer and the storage layer.
package domain

import (
	"fmt"
	"math"
	"time"
)

// DateLayout is the canonical layout for timezone-naive trading dates.
const DateLayout = "2006-01-02"

// Bar is one daily OHLCV price bar.
type Bar struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// Date returns the bar's trading date truncated to midnight UTC.
func (b Bar) Date() time.Time {
	return TruncateDate(b.Timestamp)
}

// Validate reports whether the bar can be used for simulation. High and Low
// may be zero for close-only series.
func (b Bar) Validate() error {
	if b.Timestamp.IsZero() {
		return fmt.Errorf("bar %s: missing timestamp", b.Symbol)
	}
	for _, v := range []float64{b.Open, b.High, b.Low, b.Close} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("bar %s %s: invalid price %v", b.Symbol, b.Timestamp.Format(DateLayout), v)
		}
	}
	if b.Close <= 0 {
		return fmt.Errorf("bar %s %s: non-positive close", b.Symbol, b.Timestamp.Format(DateLayout))
	}
	if b.High > 0 && b.Low > 0 && b.High < b.Low {
		return fmt.Errorf("bar %s %s: high %.4f below low %.4f", b.Symbol, b.Timestamp.Format(DateLayout), b.High, b.Low)
	}
	return nil
}

// Range returns the day's low and high, falling back to the close when the
// bar carries no intraday range.
func (b Bar) Range() (low, high float64) {
	low, high = b.Low, b.High
	if low <= 0 {
		low = b.Close
	}
	if high <= 0 {
		high = b.Close
	}
	return low, high
}

// TruncateDate drops the clock component of t and returns midnight UTC.
func TruncateDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// SignalType is the action suggested by a strategy.
type SignalType string

const (
	SignalTypeBuy  SignalType = "BUY"
	SignalTypeSell SignalType = "SELL"
	SignalTypeHold SignalType = "HOLD"
)

// Signal is a strategy's verdict for one ticker on one date.
type Signal struct {
	Symbol    string     `json:"symbol"`
	Type      SignalType `json:"type"`
	Strength  float64    `json:"strength"`
	Rationale string     `json:"rationale"`
}

// Side is the direction of an executed trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ExitReason explains why a transaction happened.
type ExitReason string

const (
	ReasonSignal     ExitReason = "signal"
	ReasonStopLoss   ExitReason = "stop_loss"
	ReasonTakeProfit ExitReason = "take_profit"
)

// Position is an open long holding. It exists only while Shares > 0.
type Position struct {
	Symbol     string    `json:"symbol"`
	Shares     int       `json:"shares"`
	EntryPrice float64   `json:"entry_price"`
	EntryDate  time.Time `json:"entry_date"`
}

// StopLevels are the automatic exit prices attached to an open position.
type StopLevels struct {
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
}

// Transaction is one executed trade. RealizedPnL is only set for sells.
type Transaction struct {
	Symbol      string     `json:"symbol"`
	Side        Side       `json:"side"`
	Shares      int        `json:"shares"`
	Price       float64    `json:"price"`
	Date        time.Time  `json:"date"`
	RealizedPnL float64    `json:"realized_pnl"`
	Reason      ExitReason `json:"reason"`
}

// EquityPoint is one entry of the daily equity curve.
type EquityPoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// Metrics summarises one simulation run. Percentages are expressed in
// percent, ratios as plain fractions.
type Metrics struct {
	InitialValue     float64  `json:"initial_value"`
	FinalValue       float64  `json:"final_value"`
	TotalReturnPct   float64  `json:"total_return_pct"`
	AnnualizedReturn float64  `json:"annualized_return"`
	Volatility       float64  `json:"volatility"`
	Sharpe           float64  `json:"sharpe"`
	MaxDrawdown      float64  `json:"max_drawdown"`
	CalmarRatio      *float64 `json:"calmar_ratio"`
	WinRatePct       float64  `json:"win_rate_pct"`
	TotalTrades      int      `json:"total_trades"`
	WinningTrades    int      `json:"winning_trades"`
	TradingDays      int      `json:"trading_days"`
}

// MaxDrawdownPct returns the maximum drawdown in percent (<= 0).
func (m Metrics) MaxDrawdownPct() float64 {
	return m.MaxDrawdown * 100
}

// WalkForwardWindow is one rolling train/test split. All bounds are
// inclusive dates and TestStart is always after TrainEnd.
type WalkForwardWindow struct {
	TrainStart time.Time `json:"train_start"`
	TrainEnd   time.Time `json:"train_end"`
	TestStart  time.Time `json:"test_start"`
	TestEnd    time.Time `json:"test_end"`
}

func (w WalkForwardWindow) String() string {
	return fmt.Sprintf("train %s..%s test %s..%s",
		w.TrainStart.Format(DateLayout), w.TrainEnd.Format(DateLayout),
		w.TestStart.Format(DateLayout), w.TestEnd.Format(DateLayout))
}
