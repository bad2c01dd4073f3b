// Package us downloads daily bars for US equities from the Alpaca
// market-data API into a bar store.
package us

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/samber/lo"

	"tradelab/internal/dispatch"
	"tradelab/internal/domain"
	"tradelab/internal/gather"
	"tradelab/internal/store"
	"tradelab/internal/util"
)

// Compile-time interface check.
var _ gather.Gatherer = (*DailyBarGatherer)(nil)

// BarClient is the slice of the Alpaca market-data client the gatherer
// needs. *marketdata.Client satisfies it.
type BarClient interface {
	GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error)
}

// DailyBarConfig controls one download.
type DailyBarConfig struct {
	Symbols         []string
	Range           gather.DateRange
	Market          string // store partition, default "us"
	Feed            string // "iex" or "sip", default "iex"
	BatchSize       int    // symbols per API call, default 100
	MaxWorkers      int    // concurrent batches, default 4
	RateLimitPerMin int    // API calls per minute, default 200
	MaxAttempts     int    // per batch, default 3
	RetryDelay      time.Duration
}

func (c *DailyBarConfig) applyDefaults() {
	if c.Market == "" {
		c.Market = "us"
	}
	if c.Feed == "" {
		c.Feed = "iex"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 4
	}
	if c.RateLimitPerMin <= 0 {
		c.RateLimitPerMin = 200
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
}

// FetchReport summarises a download.
type FetchReport struct {
	Bars   int
	Hits   []string         // symbols that returned bars
	Empty  []string         // symbols the API had no bars for
	Failed map[string]error // symbols whose batch failed
}

// DailyBarGatherer downloads daily OHLCV bars for a fixed symbol list and
// writes them to a BarStore. Batches run in parallel under a shared rate
// limit and are retried with backoff.
type DailyBarGatherer struct {
	client  BarClient
	store   store.BarStore
	cfg     DailyBarConfig
	limiter *util.RateLimiter
	log     *slog.Logger
}

// NewAlpacaClient creates a market-data client. An empty dataURL uses the
// SDK default endpoint.
func NewAlpacaClient(apiKey, apiSecret, dataURL string) *marketdata.Client {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return marketdata.NewClient(opts)
}

// NewDailyBarGatherer creates a DailyBarGatherer writing into s.
func NewDailyBarGatherer(client BarClient, s store.BarStore, cfg DailyBarConfig, log *slog.Logger) *DailyBarGatherer {
	cfg.applyDefaults()
	cfg.Symbols = lo.Uniq(lo.Map(cfg.Symbols, func(sym string, _ int) string { return strings.ToUpper(sym) }))
	return &DailyBarGatherer{
		client:  client,
		store:   s,
		cfg:     cfg,
		limiter: util.NewRateLimiter(cfg.RateLimitPerMin),
		log:     util.OrDefault(log, "us-daily"),
	}
}

// Name returns the gatherer identifier.
func (g *DailyBarGatherer) Name() string { return "us-daily" }

// Run downloads every configured symbol. It fails only when no batch
// succeeded.
func (g *DailyBarGatherer) Run(ctx context.Context) error {
	report, err := g.Fetch(ctx)
	if err != nil {
		return err
	}
	if len(report.Failed) > 0 && len(report.Hits)+len(report.Empty) == 0 {
		return fmt.Errorf("all %d symbols failed", len(report.Failed))
	}
	return nil
}

// Fetch downloads the configured symbols in batches and reports per-symbol
// outcomes. A failed batch is recorded and the others go on.
func (g *DailyBarGatherer) Fetch(ctx context.Context) (*FetchReport, error) {
	if len(g.cfg.Symbols) == 0 {
		return nil, fmt.Errorf("%w: no symbols to fetch", domain.ErrInvalidConfig)
	}
	start, end := g.cfg.Range.Start, g.cfg.Range.End
	if !end.After(start) {
		return nil, fmt.Errorf("%w: fetch range %s..%s is empty", domain.ErrInvalidConfig,
			start.Format(domain.DateLayout), end.Format(domain.DateLayout))
	}

	batches := lo.Chunk(g.cfg.Symbols, g.cfg.BatchSize)
	g.log.Info("fetch started", "symbols", len(g.cfg.Symbols), "batches", len(batches), "days", g.cfg.Range.Days(),
		"start", start.Format(domain.DateLayout), "end", end.Format(domain.DateLayout))

	var (
		runStart = time.Now()
		finished atomic.Int64
	)
	outcomes := dispatch.RunMany(ctx, batches, g.cfg.MaxWorkers, func(ctx context.Context, batch []string) ([]domain.Bar, error) {
		bars, err := g.fetchBatch(ctx, batch, start, end)
		if err != nil {
			return nil, err
		}
		if len(bars) > 0 {
			if err := g.store.WriteBars(ctx, g.cfg.Market, bars); err != nil {
				return nil, fmt.Errorf("writing bars: %w", err)
			}
		}
		g.log.Info("batch done",
			"batch", fmt.Sprintf("%d/%d", finished.Add(1), len(batches)),
			"bars", len(bars),
			"elapsed", time.Since(runStart).Round(time.Second),
		)
		return bars, nil
	})

	report := &FetchReport{Failed: make(map[string]error)}
	for _, o := range outcomes {
		if o.Err != nil {
			g.log.Error("batch failed", "first", o.Item[0], "size", len(o.Item), "err", o.Err)
			for _, sym := range o.Item {
				report.Failed[sym] = o.Err
			}
			continue
		}
		hit := lo.Uniq(lo.Map(o.Result, func(b domain.Bar, _ int) string { return b.Symbol }))
		report.Bars += len(o.Result)
		report.Hits = append(report.Hits, hit...)
		report.Empty = append(report.Empty, lo.Without(o.Item, hit...)...)
	}
	sort.Strings(report.Hits)
	sort.Strings(report.Empty)
	if err := ctx.Err(); err != nil {
		return report, err
	}

	g.log.Info("fetch complete", "bars", report.Bars, "hits", len(report.Hits),
		"empty", len(report.Empty), "failed", len(report.Failed),
		"elapsed", time.Since(runStart).Round(time.Second))
	return report, nil
}

// fetchBatch fetches daily bars for symbols in a single API call, waiting
// for the rate limiter and retrying transient failures. Alpaca stamps a daily
// bar at midnight New York time, after midnight UTC, so the request runs to
// the day after end to include end itself.
func (g *DailyBarGatherer) fetchBatch(ctx context.Context, symbols []string, start, end time.Time) ([]domain.Bar, error) {
	var multiBars map[string][]marketdata.Bar
	err := util.Retry(ctx, g.cfg.MaxAttempts, g.cfg.RetryDelay, func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		var err error
		multiBars, err = g.client.GetMultiBars(symbols, marketdata.GetBarsRequest{
			TimeFrame: marketdata.OneDay,
			Start:     start,
			End:       end.AddDate(0, 0, 1),
			Feed:      marketdata.Feed(g.cfg.Feed),
		})
		if err != nil {
			g.log.Warn("GetMultiBars failed, retrying", "first", symbols[0], "err", err)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("GetMultiBars: %w", err)
	}

	var bars []domain.Bar
	for symbol, alpacaBars := range multiBars {
		for _, ab := range alpacaBars {
			bars = append(bars, domain.Bar{
				Symbol:    strings.ToUpper(symbol),
				Timestamp: domain.TruncateDate(ab.Timestamp),
				Open:      ab.Open,
				High:      ab.High,
				Low:       ab.Low,
				Close:     ab.Close,
				Volume:    int64(ab.Volume),
			})
		}
	}
	return bars, nil
}
