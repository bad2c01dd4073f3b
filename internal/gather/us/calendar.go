package us

import (
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"tradelab/internal/domain"
	"tradelab/internal/gather"
)

// sessionSettle is when a day's bars are considered final, in New York time.
const sessionSettleHour, sessionSettleMin = 20, 5

// CalendarClient is the slice of the Alpaca trading client that serves the
// market calendar. *alpaca.Client satisfies it.
type CalendarClient interface {
	GetCalendar(req alpaca.GetCalendarRequest) ([]alpaca.CalendarDay, error)
}

// NewCalendarClient creates a trading client for calendar lookups. An empty
// baseURL uses the SDK default endpoint.
func NewCalendarClient(apiKey, apiSecret, baseURL string) *alpaca.Client {
	return alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})
}

// LatestFinishedTradingDay returns the most recent trading day at or before
// now whose session has settled. Today only counts after 20:05 ET.
func LatestFinishedTradingDay(client CalendarClient, now time.Time) (time.Time, error) {
	et, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.Time{}, fmt.Errorf("loading ET timezone: %w", err)
	}
	now = now.In(et)

	days, err := client.GetCalendar(alpaca.GetCalendarRequest{
		Start: now.AddDate(0, 0, -7),
		End:   now,
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("GetCalendar: %w", err)
	}

	today := now.Format(domain.DateLayout)
	cutoff := time.Date(now.Year(), now.Month(), now.Day(), sessionSettleHour, sessionSettleMin, 0, 0, et)
	for i := len(days) - 1; i >= 0; i-- {
		d, err := time.Parse(domain.DateLayout, days[i].Date)
		if err != nil {
			continue
		}
		switch {
		case days[i].Date == today:
			if now.After(cutoff) {
				return d, nil
			}
		case days[i].Date < today:
			return d, nil
		}
	}
	return time.Time{}, fmt.Errorf("no finished trading day in calendar")
}

// ClampRange moves r.End back to the latest finished trading day so a fetch
// never stores a partial session.
func ClampRange(client CalendarClient, r gather.DateRange, now time.Time) (gather.DateRange, error) {
	last, err := LatestFinishedTradingDay(client, now)
	if err != nil {
		return r, err
	}
	if r.End.After(last) {
		r.End = last
	}
	return r, nil
}
