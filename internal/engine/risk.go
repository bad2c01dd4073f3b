package engine

import (
	"math"

	"tradelab/internal/domain"
)

// RiskConfig holds the sizing and exit parameters of a RiskManager.
type RiskConfig struct {
	RiskPerTradeFraction    float64 // fraction of equity risked per entry
	ATRMultiplier           float64 // stop distance in ATRs
	ATRWindow               int     // bars averaged by AverageTrueRange
	RewardRiskRatio         float64 // take-profit distance over stop distance
	DefaultPositionFraction float64 // equity fraction used when ATR is unknown
	FallbackStopPct         float64 // stop distance used when ATR is unknown
}

// RiskManager sizes entries from volatility and derives exit levels.
type RiskManager struct {
	cfg RiskConfig
}

// NewRiskManager creates a RiskManager with the given configuration.
func NewRiskManager(cfg RiskConfig) *RiskManager {
	return &RiskManager{cfg: cfg}
}

// Config returns the manager's configuration.
func (rm *RiskManager) Config() RiskConfig { return rm.cfg }

// ---------------------------------------------------------------------------
// Volatility
// ---------------------------------------------------------------------------

// AverageTrueRange returns the mean true range of the last window bars. The
// oldest bar uses the close before it when bars holds one more bar than
// window, and its own range otherwise. ok is false when fewer than window
// bars are available; callers then fall back to fixed-fraction sizing.
func (rm *RiskManager) AverageTrueRange(bars []domain.Bar, window int) (atr float64, ok bool) {
	if window < 1 || len(bars) < window {
		return 0, false
	}
	first := len(bars) - window
	var sum float64
	for i := first; i < len(bars); i++ {
		low, high := bars[i].Range()
		tr := high - low
		if i > 0 {
			prev := bars[i-1].Close
			tr = math.Max(tr, math.Max(math.Abs(high-prev), math.Abs(low-prev)))
		}
		sum += tr
	}
	return sum / float64(window), true
}

// ---------------------------------------------------------------------------
// Sizing and exits
// ---------------------------------------------------------------------------

// PositionSize returns the number of shares to buy at entry:
// floor(equity*risk / (atr_multiplier*atr)), capped by cash. With a zero or
// undefined ATR it buys the default fraction of equity instead.
func (rm *RiskManager) PositionSize(equity, atr, cash, entry float64) int {
	if entry <= 0 || equity <= 0 || cash <= 0 {
		return 0
	}
	var raw float64
	if atr > 0 && !math.IsNaN(atr) && rm.cfg.ATRMultiplier > 0 {
		raw = equity * rm.cfg.RiskPerTradeFraction / (rm.cfg.ATRMultiplier * atr)
	} else {
		raw = equity * rm.cfg.DefaultPositionFraction / entry
	}
	shares := math.Floor(raw)
	if affordable := math.Floor(cash / entry); shares > affordable {
		shares = affordable
	}
	if shares < 1 || math.IsInf(shares, 0) || math.IsNaN(shares) {
		return 0
	}
	return int(shares)
}

// StopLossPrice returns entry - atr_multiplier*atr.
func (rm *RiskManager) StopLossPrice(entry, atr float64) float64 {
	return entry - rm.cfg.ATRMultiplier*atr
}

// TakeProfitPrice returns entry + reward_risk_ratio*(entry - stop).
func (rm *RiskManager) TakeProfitPrice(entry, atr float64) float64 {
	return entry + rm.cfg.RewardRiskRatio*(entry-rm.StopLossPrice(entry, atr))
}

// Levels returns the stop levels for a new entry. Without a usable ATR, or
// when the ATR stop would be at or below zero, the stop sits FallbackStopPct
// below entry.
func (rm *RiskManager) Levels(entry, atr float64, atrOK bool) domain.StopLevels {
	if atrOK && atr > 0 {
		if stop := rm.StopLossPrice(entry, atr); stop > 0 {
			return domain.StopLevels{StopLoss: stop, TakeProfit: rm.TakeProfitPrice(entry, atr)}
		}
	}
	stop := entry * (1 - rm.cfg.FallbackStopPct)
	return domain.StopLevels{
		StopLoss:   stop,
		TakeProfit: entry + rm.cfg.RewardRiskRatio*(entry-stop),
	}
}

// ---------------------------------------------------------------------------
// Drawdown
// ---------------------------------------------------------------------------

// MaxDrawdown returns min over t of (v[t]-peak[t])/peak[t] as a fraction in
// [-1, 0]. Non-positive peaks are skipped.
func MaxDrawdown(values []float64) float64 {
	var peak, mdd float64
	for i, v := range values {
		if i == 0 || v > peak {
			peak = v
		}
		if peak <= 0 {
			continue
		}
		if dd := (v - peak) / peak; dd < mdd {
			mdd = dd
		}
	}
	return math.Max(mdd, -1)
}

// CalmarRatio returns annualReturn / |maxDrawdown|, or nil when the drawdown
// is zero.
func CalmarRatio(annualReturn, maxDrawdown float64) *float64 {
	if maxDrawdown == 0 || math.IsNaN(maxDrawdown) {
		return nil
	}
	c := annualReturn / math.Abs(maxDrawdown)
	return &c
}
