// Package series holds pre-loaded, date-indexed price history. A Store is
// read-only once built and is shared by concurrent simulations.
package series

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"tradelab/internal/domain"
	"tradelab/internal/store"
)

// Series is the ordered daily history of one ticker.
type Series struct {
	Symbol string
	bars   []domain.Bar
	index  map[time.Time]int
	valid  []domain.Bar // bars passing Bar.Validate, ascending
}

// New builds a Series from bars in ascending date order. Dates are truncated
// to midnight UTC; a duplicate or out-of-order date is an error. A malformed
// bar is kept for At, so the simulator can report the gap, but it never
// appears in Window, Closes or CountThrough.
func New(symbol string, bars []domain.Bar) (*Series, error) {
	s := &Series{
		Symbol: strings.ToUpper(symbol),
		bars:   make([]domain.Bar, len(bars)),
		index:  make(map[time.Time]int, len(bars)),
	}
	for i, b := range bars {
		b.Timestamp = b.Date()
		if b.Symbol == "" {
			b.Symbol = s.Symbol
		}
		if i > 0 && !b.Timestamp.After(s.bars[i-1].Timestamp) {
			return nil, fmt.Errorf("%s: bar %s is not after %s", s.Symbol,
				b.Timestamp.Format(domain.DateLayout), s.bars[i-1].Timestamp.Format(domain.DateLayout))
		}
		s.bars[i] = b
		s.index[b.Timestamp] = i
		if b.Validate() == nil {
			s.valid = append(s.valid, b)
		}
	}
	return s, nil
}

// Len returns the number of bars.
func (s *Series) Len() int { return len(s.bars) }

// At returns the bar dated date.
func (s *Series) At(date time.Time) (domain.Bar, bool) {
	i, ok := s.index[domain.TruncateDate(date)]
	if !ok {
		return domain.Bar{}, false
	}
	return s.bars[i], true
}

// Window returns up to n valid bars ending on or before date, oldest first.
// The returned slice aliases the series and must not be modified.
func (s *Series) Window(date time.Time, n int) []domain.Bar {
	if n <= 0 {
		return nil
	}
	end := s.CountThrough(date)
	start := max(0, end-n)
	return s.valid[start:end:end]
}

// Closes returns the closing prices of Window(date, n).
func (s *Series) Closes(date time.Time, n int) []float64 {
	return lo.Map(s.Window(date, n), func(b domain.Bar, _ int) float64 { return b.Close })
}

// CountThrough returns how many valid bars are dated on or before date.
func (s *Series) CountThrough(date time.Time) int {
	d := domain.TruncateDate(date)
	return sort.Search(len(s.valid), func(i int) bool { return s.valid[i].Timestamp.After(d) })
}

// First returns the date of the oldest bar.
func (s *Series) First() time.Time {
	if len(s.bars) == 0 {
		return time.Time{}
	}
	return s.bars[0].Timestamp
}

// Last returns the date of the newest bar.
func (s *Series) Last() time.Time {
	if len(s.bars) == 0 {
		return time.Time{}
	}
	return s.bars[len(s.bars)-1].Timestamp
}

// Dates returns the bar dates within [start, end].
func (s *Series) Dates(start, end time.Time) []time.Time {
	start, end = domain.TruncateDate(start), domain.TruncateDate(end)
	var out []time.Time
	for _, b := range s.bars {
		if b.Timestamp.Before(start) {
			continue
		}
		if b.Timestamp.After(end) {
			break
		}
		out = append(out, b.Timestamp)
	}
	return out
}

// ---------------------------------------------------------------------------
// Store
// ---------------------------------------------------------------------------

// Store maps tickers to their Series.
type Store struct {
	series map[string]*Series
}

// NewStore builds a Store from the given series.
func NewStore(ss ...*Series) *Store {
	st := &Store{series: make(map[string]*Series, len(ss))}
	for _, s := range ss {
		st.series[s.Symbol] = s
	}
	return st
}

// Get returns the series for ticker.
func (st *Store) Get(ticker string) (*Series, bool) {
	s, ok := st.series[strings.ToUpper(ticker)]
	return s, ok
}

// Tickers returns the loaded tickers in sorted order.
func (st *Store) Tickers() []string {
	tickers := lo.Keys(st.series)
	sort.Strings(tickers)
	return tickers
}

// Subset returns a Store restricted to the given tickers. Unknown tickers are
// ignored.
func (st *Store) Subset(tickers []string) *Store {
	out := &Store{series: make(map[string]*Series, len(tickers))}
	for _, t := range tickers {
		if s, ok := st.Get(t); ok {
			out.series[s.Symbol] = s
		}
	}
	return out
}

// Window returns up to n bars of ticker ending on or before date.
func (st *Store) Window(ticker string, date time.Time, n int) []domain.Bar {
	s, ok := st.Get(ticker)
	if !ok {
		return nil
	}
	return s.Window(date, n)
}

// Calendar returns the sorted union of all bar dates within [start, end].
func (st *Store) Calendar(start, end time.Time) []time.Time {
	seen := make(map[time.Time]struct{})
	for _, s := range st.series {
		for _, d := range s.Dates(start, end) {
			seen[d] = struct{}{}
		}
	}
	dates := lo.Keys(seen)
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads each ticker's bars within [start, end] from bs. Tickers that
// fail to load or have no bars are returned in failed and left out of the
// Store.
func Load(ctx context.Context, bs store.BarStore, market string, tickers []string, start, end time.Time) (*Store, map[string]error) {
	st := &Store{series: make(map[string]*Series, len(tickers))}
	failed := make(map[string]error)

	for _, t := range lo.Uniq(lo.Map(tickers, func(t string, _ int) string { return strings.ToUpper(t) })) {
		if err := ctx.Err(); err != nil {
			failed[t] = err
			continue
		}
		bars, err := bs.ReadBars(ctx, t, market, start, end)
		if err != nil {
			failed[t] = fmt.Errorf("reading bars: %w", err)
			continue
		}
		if len(bars) == 0 {
			failed[t] = &domain.HistoryError{Symbol: t, Have: 0, Need: 1}
			continue
		}
		s, err := New(t, bars)
		if err != nil {
			failed[t] = err
			continue
		}
		st.series[s.Symbol] = s
	}
	return st, failed
}
