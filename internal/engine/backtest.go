package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"tradelab/internal/domain"
	"tradelab/internal/series"
	"tradelab/internal/strategy"
	"tradelab/internal/util"
)

// BacktestConfig holds the account and risk settings of a simulation.
type BacktestConfig struct {
	InitialCash  float64
	RiskFreeRate float64
	Risk         RiskConfig
}

// TickerError reports a ticker that was dropped before simulation.
type TickerError struct {
	Ticker string
	Err    error
}

func (e TickerError) Error() string { return e.Ticker + ": " + e.Err.Error() }

func (e TickerError) Unwrap() error { return e.Err }

// Result is the output of one simulation run.
type Result struct {
	Start        time.Time
	End          time.Time
	Tickers      []string
	DailyEquity  []domain.EquityPoint
	Transactions []domain.Transaction
	Metrics      domain.Metrics
	Failures     []TickerError
	DataGaps     int // ticker-days skipped for missing or malformed bars
	Rejected     int // orders refused by the portfolio
}

// Backtester replays pre-loaded history through a strategy one trading day
// at a time. It holds no per-run state and may be shared by parallel runs.
type Backtester struct {
	cfg  BacktestConfig
	risk *RiskManager
	log  *slog.Logger
}

// NewBacktester creates a Backtester. A nil logger uses the default one.
func NewBacktester(cfg BacktestConfig, log *slog.Logger) *Backtester {
	return &Backtester{
		cfg:  cfg,
		risk: NewRiskManager(cfg.Risk),
		log:  util.OrDefault(log, "backtest"),
	}
}

// Risk returns the backtester's RiskManager.
func (bt *Backtester) Risk() *RiskManager { return bt.risk }

// MinHistory returns the bars a ticker needs before it can be simulated
// with strat.
func (bt *Backtester) MinHistory(strat strategy.Strategy) int {
	return max(strat.Lookback(), bt.cfg.Risk.ATRWindow)
}

// Run simulates strat over tickers between start and end inclusive. Tickers
// without enough history are reported in Result.Failures and the remaining
// ones are simulated together in one portfolio. When no ticker survives Run
// returns an error wrapping domain.ErrInsufficientHistory.
func (bt *Backtester) Run(ctx context.Context, strat strategy.Strategy, data *series.Store, tickers []string, start, end time.Time) (*Result, error) {
	start, end = domain.TruncateDate(start), domain.TruncateDate(end)
	if len(tickers) == 0 {
		tickers = data.Tickers()
	}
	res := &Result{Start: start, End: end}

	// LOADING
	need := bt.MinHistory(strat)
	active := make(map[string]*series.Series)
	for _, t := range lo.Uniq(lo.Map(tickers, func(t string, _ int) string { return strings.ToUpper(t) })) {
		s, ok := data.Get(t)
		if !ok {
			res.Failures = append(res.Failures, TickerError{t, &domain.HistoryError{Symbol: t, Need: need}})
			continue
		}
		if have := s.CountThrough(end); have < need || len(s.Dates(start, end)) == 0 {
			res.Failures = append(res.Failures, TickerError{t, &domain.HistoryError{Symbol: t, Have: have, Need: need}})
			continue
		}
		active[t] = s
	}
	for _, f := range res.Failures {
		bt.log.Warn("ticker skipped", "ticker", f.Ticker, "err", f.Err)
	}
	if len(active) == 0 {
		return res, fmt.Errorf("%w: none of %d tickers can be simulated", domain.ErrInsufficientHistory, len(tickers))
	}
	res.Tickers = lo.Keys(active)
	sort.Strings(res.Tickers)

	// RUNNING
	sim := &simulation{
		bt:        bt,
		strat:     strat,
		data:      data,
		series:    active,
		tickers:   res.Tickers,
		portfolio: NewPortfolio(bt.cfg.InitialCash),
		res:       res,
	}
	for _, date := range data.Subset(res.Tickers).Calendar(start, end) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := sim.step(ctx, date); err != nil {
			return nil, err
		}
	}

	// FINALIZED
	res.DailyEquity = sim.portfolio.DailyEquity()
	res.Transactions = sim.portfolio.Transactions()
	res.Metrics = ComputeMetrics(bt.cfg.InitialCash, res.DailyEquity, res.Transactions, bt.cfg.RiskFreeRate)
	return res, nil
}

// ---------------------------------------------------------------------------
// Simulation state
// ---------------------------------------------------------------------------

// simulation is the mutable state of one Run.
type simulation struct {
	bt        *Backtester
	strat     strategy.Strategy
	data      *series.Store
	series    map[string]*series.Series
	tickers   []string // sorted
	portfolio *Portfolio
	res       *Result
}

// step processes one trading day: risk check, signal, execute, record.
func (s *simulation) step(ctx context.Context, date time.Time) error {
	bars := s.usableBars(date)
	exited := s.riskCheck(date, bars)

	prices := make(map[string]float64, len(bars))
	for t, b := range bars {
		prices[t] = b.Close
	}
	if len(prices) > 0 {
		signals, err := s.strat.Signals(ctx, date, prices, s.data)
		if err != nil {
			s.bt.log.Warn("signals failed", "date", date.Format(domain.DateLayout), "err", err)
		}
		s.execute(date, bars, signals, exited)
	}

	for t, b := range bars {
		s.portfolio.UpdatePrice(t, b.Close)
	}
	return s.portfolio.RecordDailyState(date)
}

// usableBars returns today's valid bar per ticker and logs data gaps. A
// ticker outside its own loaded range has no gap, just no data.
func (s *simulation) usableBars(date time.Time) map[string]domain.Bar {
	out := make(map[string]domain.Bar, len(s.tickers))
	for _, t := range s.tickers {
		ser := s.series[t]
		bar, ok := ser.At(date)
		var gap *domain.DataGapError
		switch {
		case !ok && date.After(ser.First()) && date.Before(ser.Last()):
			gap = &domain.DataGapError{Symbol: t, Date: date}
		case !ok:
			continue
		default:
			if err := bar.Validate(); err != nil {
				gap = &domain.DataGapError{Symbol: t, Date: date, Cause: err}
			}
		}
		if gap != nil {
			s.res.DataGaps++
			s.bt.log.Warn("skipping day", "ticker", t, "date", date.Format(domain.DateLayout), "err", gap)
			continue
		}
		out[t] = bar
	}
	return out
}

// riskCheck forces exits for positions whose stop or take-profit was
// crossed today. The stop is checked first, so a bar that spans both levels
// exits at the stop. It returns the tickers that were closed.
func (s *simulation) riskCheck(date time.Time, bars map[string]domain.Bar) map[string]bool {
	exited := make(map[string]bool)
	for _, t := range s.tickers {
		bar, ok := bars[t]
		if !ok {
			continue
		}
		pos, open := s.portfolio.Position(t)
		lv, hasStops := s.portfolio.Stops(t)
		if !open || !hasStops {
			continue
		}

		low, high := bar.Range()
		var (
			price  float64
			reason domain.ExitReason
		)
		switch {
		case low <= lv.StopLoss:
			price, reason = lv.StopLoss, domain.ReasonStopLoss
			if bar.Open > 0 && bar.Open < price {
				price = bar.Open
			}
		case high >= lv.TakeProfit:
			price, reason = lv.TakeProfit, domain.ReasonTakeProfit
		default:
			continue
		}

		if _, err := s.portfolio.Sell(t, pos.Shares, price, date, reason); err != nil {
			s.reject(t, date, err)
			continue
		}
		exited[t] = true
	}
	return exited
}

// execute applies the day's signals at the close.
func (s *simulation) execute(date time.Time, bars map[string]domain.Bar, signals map[string]domain.Signal, exited map[string]bool) {
	for _, t := range s.tickers {
		bar, ok := bars[t]
		sig, hasSignal := signals[t]
		if !ok || !hasSignal || exited[t] {
			continue
		}
		pos, open := s.portfolio.Position(t)

		switch {
		case sig.Type == domain.SignalTypeBuy && !open:
			s.enter(t, date, bar.Close)
		case sig.Type == domain.SignalTypeSell && open:
			if _, err := s.portfolio.Sell(t, pos.Shares, bar.Close, date, domain.ReasonSignal); err != nil {
				s.reject(t, date, err)
			}
		}
	}
}

// enter sizes and opens a position, then attaches its stop levels.
func (s *simulation) enter(ticker string, date time.Time, price float64) {
	rm := s.bt.risk
	window := rm.Config().ATRWindow
	atr, atrOK := rm.AverageTrueRange(s.data.Window(ticker, date, window+1), window)

	shares := rm.PositionSize(s.portfolio.LastEquity(), atr, s.portfolio.Cash(), price)
	if shares == 0 {
		s.bt.log.Debug("entry too small", "ticker", ticker, "date", date.Format(domain.DateLayout), "price", price)
		return
	}
	if err := s.portfolio.Buy(ticker, shares, price, date); err != nil {
		s.reject(ticker, date, err)
		return
	}
	if err := s.portfolio.SetStops(ticker, rm.Levels(price, atr, atrOK)); err != nil {
		s.reject(ticker, date, err)
	}
}

func (s *simulation) reject(ticker string, date time.Time, err error) {
	s.res.Rejected++
	level := slog.LevelWarn
	if errors.Is(err, domain.ErrInsufficientFunds) {
		level = slog.LevelInfo
	}
	s.bt.log.Log(context.Background(), level, "order rejected",
		"ticker", ticker, "date", date.Format(domain.DateLayout), "err", err)
}
