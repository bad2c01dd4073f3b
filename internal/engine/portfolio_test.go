package engine

import (
	"errors"
	"testing"
	"time"

	"tradelab/internal/domain"
)

func day(n int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func TestPortfolioScenario(t *testing.T) {
	p := NewPortfolio(100000)

	// Day 1: buy 100 AAPL @ 150.
	if err := p.Buy("AAPL", 100, 150, day(1)); err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if p.Cash() != 85000 {
		t.Errorf("cash after buy = %v, want 85000", p.Cash())
	}
	pos, ok := p.Position("AAPL")
	if !ok || pos.Shares != 100 {
		t.Fatalf("position = %+v, %v", pos, ok)
	}
	if err := p.RecordDailyState(day(1)); err != nil {
		t.Fatalf("RecordDailyState: %v", err)
	}

	// Day 2: mark to 155.
	p.UpdatePrice("AAPL", 155)
	if got := p.Equity(); got != 100500 {
		t.Errorf("equity = %v, want 100500", got)
	}
	if err := p.RecordDailyState(day(2)); err != nil {
		t.Fatalf("RecordDailyState: %v", err)
	}

	// Day 3: sell 50 @ 155.
	txn, err := p.Sell("AAPL", 50, 155, day(3), domain.ReasonSignal)
	if err != nil {
		t.Fatalf("Sell: %v", err)
	}
	if p.Cash() != 92750 {
		t.Errorf("cash after sell = %v, want 92750", p.Cash())
	}
	if txn.RealizedPnL != 250 {
		t.Errorf("realized pnl = %v, want 250", txn.RealizedPnL)
	}
	if pos, _ := p.Position("AAPL"); pos.Shares != 50 {
		t.Errorf("remaining shares = %d, want 50", pos.Shares)
	}

	eq := p.DailyEquity()
	if len(eq) != 2 || eq[1].Value != 100500 {
		t.Errorf("daily equity = %+v", eq)
	}
	if txns := p.Transactions(); len(txns) != 2 || txns[0].Side != domain.SideBuy || txns[1].Side != domain.SideSell {
		t.Errorf("transactions = %+v", txns)
	}
}

func TestPortfolioRoundTrip(t *testing.T) {
	p := NewPortfolio(10000)
	if err := p.Buy("MSFT", 7, 123.25, day(0)); err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if err := p.SetStops("MSFT", domain.StopLevels{StopLoss: 120, TakeProfit: 130}); err != nil {
		t.Fatalf("SetStops: %v", err)
	}
	txn, err := p.Sell("MSFT", 7, 123.25, day(0), domain.ReasonSignal)
	if err != nil {
		t.Fatalf("Sell: %v", err)
	}
	if txn.RealizedPnL != 0 {
		t.Errorf("realized pnl = %v, want 0", txn.RealizedPnL)
	}
	if p.Cash() != 10000 {
		t.Errorf("cash = %v, want 10000", p.Cash())
	}
	if _, ok := p.Position("MSFT"); ok {
		t.Error("position still open after full sell")
	}
	if _, ok := p.Stops("MSFT"); ok {
		t.Error("stop levels survived the closed position")
	}
}

func TestPortfolioRejections(t *testing.T) {
	p := NewPortfolio(1000)

	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{"zero shares", func() error { return p.Buy("A", 0, 10, day(0)) }, domain.ErrInvalidOrder},
		{"zero price", func() error { return p.Buy("A", 1, 0, day(0)) }, domain.ErrInvalidOrder},
		{"too expensive", func() error { return p.Buy("A", 101, 10, day(0)) }, domain.ErrInsufficientFunds},
		{"sell without position", func() error { _, err := p.Sell("B", 1, 10, day(0), ""); return err }, domain.ErrNoPosition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.run(); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}

	if err := p.Buy("A", 10, 10, day(0)); err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if err := p.Buy("A", 1, 10, day(0)); !errors.Is(err, domain.ErrInvalidOrder) {
		t.Errorf("second buy = %v, want ErrInvalidOrder", err)
	}
	if _, err := p.Sell("A", 11, 10, day(1), ""); !errors.Is(err, domain.ErrOverSell) {
		t.Errorf("oversell = %v, want ErrOverSell", err)
	}
	if _, err := p.Sell("A", -1, 10, day(1), ""); !errors.Is(err, domain.ErrInvalidOrder) {
		t.Errorf("negative sell = %v, want ErrInvalidOrder", err)
	}
	if p.Cash() != 900 {
		t.Errorf("rejected orders changed cash: %v", p.Cash())
	}
	var oe *domain.OrderError
	if err := p.Buy("Z", 1000, 10, day(0)); !errors.As(err, &oe) || oe.Symbol != "Z" {
		t.Errorf("OrderError not returned: %v", err)
	}
}

func TestPortfolioCashNeverNegative(t *testing.T) {
	p := NewPortfolio(5000)
	ops := []struct {
		buy    bool
		ticker string
		shares int
		price  float64
	}{
		{true, "A", 30, 100}, {true, "B", 30, 100}, {true, "B", 10, 100},
		{false, "A", 30, 80}, {true, "C", 40, 50}, {true, "D", 1, 1},
		{false, "B", 10, 120}, {true, "E", 1000, 20}, {false, "C", 40, 10},
	}
	for i, op := range ops {
		if op.buy {
			_ = p.Buy(op.ticker, op.shares, op.price, day(i))
		} else {
			_, _ = p.Sell(op.ticker, op.shares, op.price, day(i), domain.ReasonSignal)
		}
		if p.Cash() < 0 {
			t.Fatalf("cash went negative after op %d: %v", i, p.Cash())
		}
	}
}

func TestRecordDailyStateRequiresIncreasingDates(t *testing.T) {
	p := NewPortfolio(100)
	if err := p.RecordDailyState(day(2)); err != nil {
		t.Fatalf("first record: %v", err)
	}
	if err := p.RecordDailyState(day(2)); err == nil {
		t.Error("duplicate date accepted")
	}
	if err := p.RecordDailyState(day(1)); err == nil {
		t.Error("earlier date accepted")
	}
	if got := p.LastEquity(); got != 100 {
		t.Errorf("LastEquity = %v, want 100", got)
	}
}

func TestUpdatePriceLeavesCashAlone(t *testing.T) {
	p := NewPortfolio(1000)
	if err := p.Buy("A", 5, 100, day(0)); err != nil {
		t.Fatalf("Buy: %v", err)
	}
	p.UpdatePrice("A", 120)
	p.UpdatePrice("UNKNOWN", 5)
	if p.Cash() != 500 || p.Equity() != 1100 {
		t.Errorf("cash %v equity %v, want 500 / 1100", p.Cash(), p.Equity())
	}
	if len(p.Positions()) != 1 {
		t.Errorf("positions = %+v", p.Positions())
	}
}
