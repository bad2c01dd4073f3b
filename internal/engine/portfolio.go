package engine

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"tradelab/internal/domain"
)

// Portfolio owns cash, open long positions, their stop levels and the
// append-only transaction log. It is not safe for concurrent use; every
// simulation owns its own Portfolio.
type Portfolio struct {
	initialCash float64
	cash        float64
	positions   map[string]*domain.Position
	stops       map[string]domain.StopLevels
	marks       map[string]float64
	txns        []domain.Transaction
	equity      []domain.EquityPoint
}

// NewPortfolio creates a Portfolio holding only cash.
func NewPortfolio(cash float64) *Portfolio {
	return &Portfolio{
		initialCash: cash,
		cash:        cash,
		positions:   make(map[string]*domain.Position),
		stops:       make(map[string]domain.StopLevels),
		marks:       make(map[string]float64),
	}
}

// Cash returns the uninvested cash balance.
func (p *Portfolio) Cash() float64 { return p.cash }

// InitialCash returns the starting balance.
func (p *Portfolio) InitialCash() float64 { return p.initialCash }

// Position returns a copy of the open position in ticker.
func (p *Portfolio) Position(ticker string) (domain.Position, bool) {
	pos, ok := p.positions[strings.ToUpper(ticker)]
	if !ok {
		return domain.Position{}, false
	}
	return *pos, true
}

// Positions returns copies of all open positions sorted by ticker.
func (p *Portfolio) Positions() []domain.Position {
	out := lo.MapToSlice(p.positions, func(_ string, pos *domain.Position) domain.Position { return *pos })
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// ---------------------------------------------------------------------------
// Trading
// ---------------------------------------------------------------------------

// Buy opens a position of shares in ticker at price. Averaging into an open
// position is rejected.
func (p *Portfolio) Buy(ticker string, shares int, price float64, date time.Time) error {
	ticker = strings.ToUpper(ticker)
	reject := func(kind error, detail string) error {
		return &domain.OrderError{Kind: kind, Symbol: ticker, Side: domain.SideBuy, Shares: shares, Price: price, Detail: detail}
	}

	switch {
	case shares <= 0:
		return reject(domain.ErrInvalidOrder, "shares must be positive")
	case price <= 0:
		return reject(domain.ErrInvalidOrder, "price must be positive")
	}
	if _, open := p.positions[ticker]; open {
		return reject(domain.ErrInvalidOrder, "position already open")
	}
	cost := float64(shares) * price
	if cost > p.cash {
		return reject(domain.ErrInsufficientFunds, fmt.Sprintf("cost %.2f, cash %.2f", cost, p.cash))
	}

	p.cash -= cost
	p.positions[ticker] = &domain.Position{
		Symbol:     ticker,
		Shares:     shares,
		EntryPrice: price,
		EntryDate:  domain.TruncateDate(date),
	}
	p.marks[ticker] = price
	p.txns = append(p.txns, domain.Transaction{
		Symbol: ticker,
		Side:   domain.SideBuy,
		Shares: shares,
		Price:  price,
		Date:   domain.TruncateDate(date),
		Reason: domain.ReasonSignal,
	})
	return nil
}

// Sell closes or reduces the position in ticker and returns the recorded
// transaction. Stop levels are dropped once the position is fully closed.
func (p *Portfolio) Sell(ticker string, shares int, price float64, date time.Time, reason domain.ExitReason) (domain.Transaction, error) {
	ticker = strings.ToUpper(ticker)
	reject := func(kind error, detail string) error {
		return &domain.OrderError{Kind: kind, Symbol: ticker, Side: domain.SideSell, Shares: shares, Price: price, Detail: detail}
	}

	pos, open := p.positions[ticker]
	switch {
	case !open:
		return domain.Transaction{}, reject(domain.ErrNoPosition, "")
	case shares <= 0:
		return domain.Transaction{}, reject(domain.ErrInvalidOrder, "shares must be positive")
	case price <= 0:
		return domain.Transaction{}, reject(domain.ErrInvalidOrder, "price must be positive")
	case shares > pos.Shares:
		return domain.Transaction{}, reject(domain.ErrOverSell, fmt.Sprintf("holding %d", pos.Shares))
	}
	if reason == "" {
		reason = domain.ReasonSignal
	}

	p.cash += float64(shares) * price
	txn := domain.Transaction{
		Symbol:      ticker,
		Side:        domain.SideSell,
		Shares:      shares,
		Price:       price,
		Date:        domain.TruncateDate(date),
		RealizedPnL: (price - pos.EntryPrice) * float64(shares),
		Reason:      reason,
	}
	p.txns = append(p.txns, txn)

	pos.Shares -= shares
	if pos.Shares == 0 {
		delete(p.positions, ticker)
		delete(p.stops, ticker)
		delete(p.marks, ticker)
	} else {
		p.marks[ticker] = price
	}
	return txn, nil
}

// SetStops attaches stop levels to an open position.
func (p *Portfolio) SetStops(ticker string, levels domain.StopLevels) error {
	ticker = strings.ToUpper(ticker)
	if _, open := p.positions[ticker]; !open {
		return fmt.Errorf("%s: %w", ticker, domain.ErrNoPosition)
	}
	p.stops[ticker] = levels
	return nil
}

// Stops returns the stop levels attached to ticker.
func (p *Portfolio) Stops(ticker string) (domain.StopLevels, bool) {
	lv, ok := p.stops[strings.ToUpper(ticker)]
	return lv, ok
}

// ---------------------------------------------------------------------------
// Valuation
// ---------------------------------------------------------------------------

// UpdatePrice marks an open position to price. Cash and shares are not
// touched; unknown tickers are ignored.
func (p *Portfolio) UpdatePrice(ticker string, price float64) {
	ticker = strings.ToUpper(ticker)
	if _, open := p.positions[ticker]; !open || price <= 0 {
		return
	}
	p.marks[ticker] = price
}

// Equity returns cash plus the marked value of every open position.
func (p *Portfolio) Equity() float64 {
	total := p.cash
	for t, pos := range p.positions {
		total += float64(pos.Shares) * p.marks[t]
	}
	return total
}

// RecordDailyState appends today's equity. Dates must be strictly increasing.
func (p *Portfolio) RecordDailyState(date time.Time) error {
	date = domain.TruncateDate(date)
	if n := len(p.equity); n > 0 && !date.After(p.equity[n-1].Date) {
		return fmt.Errorf("recording %s: not after last recorded %s",
			date.Format(domain.DateLayout), p.equity[n-1].Date.Format(domain.DateLayout))
	}
	p.equity = append(p.equity, domain.EquityPoint{Date: date, Value: p.Equity()})
	return nil
}

// LastEquity returns the most recently recorded equity, or the initial cash
// before the first record.
func (p *Portfolio) LastEquity() float64 {
	if n := len(p.equity); n > 0 {
		return p.equity[n-1].Value
	}
	return p.initialCash
}

// DailyEquity returns a copy of the equity curve.
func (p *Portfolio) DailyEquity() []domain.EquityPoint {
	return append([]domain.EquityPoint(nil), p.equity...)
}

// Transactions returns a copy of the transaction log.
func (p *Portfolio) Transactions() []domain.Transaction {
	return append([]domain.Transaction(nil), p.txns...)
}
