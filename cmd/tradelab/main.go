package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"

	"tradelab/internal/config"
	"tradelab/internal/domain"
	"tradelab/internal/engine"
	"tradelab/internal/gather"
	"tradelab/internal/gather/us"
	"tradelab/internal/store"
	"tradelab/internal/strategy/builtins"
	"tradelab/internal/util"
)

const defaultConfigPath = "config/tradelab.yaml"

func main() {
	app := &cli.App{
		Name:  "tradelab",
		Usage: "Backtest, optimize and walk-forward validate daily trading strategies",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML configuration",
				Value:   defaultConfigPath,
				EnvVars: []string{"TRADELAB_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override logging.level (debug, info, warn, error)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "fetch",
				Usage: "Download daily bars from Alpaca into the bar store",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:    "symbols",
						Aliases: []string{"s"},
						Usage:   "symbols to fetch (default: every configured ticker)",
					},
					&cli.IntFlag{
						Name:  "warmup-days",
						Usage: "calendar days fetched before start_date for indicator warm-up",
						Value: 120,
					},
					&cli.BoolFlag{
						Name:  "no-clamp",
						Usage: "skip trimming end_date to the latest finished trading day",
					},
				},
				Action: runFetch,
			},
			{
				Name:  "backtest",
				Usage: "Simulate the configured strategy on every ticker and category",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "params",
						Aliases: []string{"p"},
						Usage:   "strategy parameters, eg. buy_threshold=0.3,sell_threshold=-0.3",
					},
					&cli.StringFlag{
						Name:  "export",
						Usage: "directory to write equity curves to as parquet",
					},
				},
				Action: runBacktest,
			},
			{
				Name:  "optimize",
				Usage: "Grid-search strategy parameters per ticker and per category",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "all",
						Usage: "print every ranked parameter set instead of the top_n",
					},
				},
				Action: runOptimize,
			},
			{
				Name:   "walkforward",
				Usage:  "Validate optimized parameters on rolling out-of-sample windows",
				Action: runWalkForward,
			},
		},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

// ---------------------------------------------------------------------------
// Wiring
// ---------------------------------------------------------------------------

// env is everything a command needs, built from the configuration.
type env struct {
	cfg     *config.Config
	log     *slog.Logger
	bars    store.BarStore
	results *store.SQLiteStore
}

func setup(c *cli.Context) (*env, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	level := cfg.Logging.Level
	if l := c.String("log-level"); l != "" {
		level = l
	}
	logger := util.NewLogger(level, cfg.Logging.Format)
	util.SetDefault(logger)

	e := &env{cfg: cfg, log: logger}
	e.bars = store.NewParquetStore(cfg.Storage.DataDir)
	if cfg.Redis.Addr != "" {
		rdb, err := store.NewRedisClient(c.Context, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Warn("redis unavailable, reading bars without cache", "addr", cfg.Redis.Addr, "err", err)
		} else {
			e.bars = store.NewCachingBarStore(rdb, cfg.Redis.TTL, e.bars, "bars")
		}
	}
	if cfg.Storage.SQLitePath != "" {
		if e.results, err = store.NewSQLiteStore(cfg.Storage.SQLitePath); err != nil {
			return nil, fmt.Errorf("opening result store: %w", err)
		}
	}
	return e, nil
}

func (e *env) close() {
	if e.results != nil {
		e.results.Close()
	}
}

func (e *env) engine() *engine.Engine {
	var results store.ResultStore
	if e.results != nil {
		results = e.results
	}
	return engine.NewEngine(e.cfg, e.bars, results, builtins.Default(), e.log)
}

func newRunID() string {
	return time.Now().UTC().Format("20060102") + "-" + uuid.NewString()[:8]
}

// parseParams parses "name=value,name=value" into a ParameterSet.
func parseParams(s string) (domain.ParameterSet, error) {
	values := make(map[string]float64)
	for _, kv := range strings.Split(s, ",") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		name, raw, ok := strings.Cut(kv, "=")
		if !ok {
			return domain.ParameterSet{}, fmt.Errorf("parameter %q is not name=value", kv)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return domain.ParameterSet{}, fmt.Errorf("parameter %s: %w", name, err)
		}
		values[strings.TrimSpace(name)] = v
	}
	return domain.NewParameterSet(values), nil
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

func runFetch(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.close()

	start, end, err := e.cfg.DateRange()
	if err != nil {
		return err
	}
	symbols := c.StringSlice("symbols")
	if len(symbols) == 0 {
		symbols = lo.Uniq(append(append([]string{}, e.cfg.Backtest.Tickers...), e.cfg.AllCategoryTickers()...))
	}

	fetchRange := gather.DateRange{Start: start.AddDate(0, 0, -c.Int("warmup-days")), End: end}
	if !c.Bool("no-clamp") {
		cal := us.NewCalendarClient(e.cfg.Alpaca.APIKey, e.cfg.Alpaca.APISecret, e.cfg.Alpaca.TradingURL)
		if fetchRange, err = us.ClampRange(cal, fetchRange, time.Now()); err != nil {
			e.log.Warn("trading calendar unavailable, fetching the full range", "err", err)
		}
	}

	client := us.NewAlpacaClient(e.cfg.Alpaca.APIKey, e.cfg.Alpaca.APISecret, e.cfg.Alpaca.DataURL)
	g := us.NewDailyBarGatherer(client, e.bars, us.DailyBarConfig{
		Symbols:         symbols,
		Range:           fetchRange,
		Market:          e.cfg.Storage.Market,
		Feed:            e.cfg.Alpaca.Feed,
		MaxWorkers:      e.cfg.Optimize.MaxWorkers,
		RateLimitPerMin: e.cfg.Alpaca.RateLimitPerMin,
	}, e.log)

	report, err := g.Fetch(c.Context)
	if err != nil {
		return err
	}
	fmt.Printf("fetched %d bars: %d symbols with data, %d empty, %d failed\n",
		report.Bars, len(report.Hits), len(report.Empty), len(report.Failed))
	if len(report.Empty) > 0 {
		fmt.Printf("no data: %s\n", strings.Join(report.Empty, ", "))
	}
	return nil
}

func runBacktest(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.close()

	params, err := parseParams(c.String("params"))
	if err != nil {
		return err
	}
	runID := newRunID()
	eng := e.engine()
	report, err := eng.Backtest(c.Context, runID, params)
	if err != nil {
		return err
	}

	fmt.Printf("run %s  strategy %s %s  %s..%s\n\n", runID, e.cfg.Backtest.Strategy, params,
		report.Start.Format(domain.DateLayout), report.End.Format(domain.DateLayout))
	renderBacktest(os.Stdout, report)

	if dir := c.String("export"); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		paths, err := eng.ExportEquity(dir, report)
		if err != nil {
			return err
		}
		fmt.Printf("\nequity curves: %s\n", strings.Join(paths, ", "))
	}
	return nil
}

func runOptimize(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.close()

	runID := newRunID()
	eng := e.engine()
	eng.Progress = newProgress()
	report, err := eng.Optimize(c.Context, runID)
	if err != nil {
		return err
	}
	fmt.Printf("\nrun %s  objective %s\n", runID, e.cfg.Optimize.Objective)
	renderOptimize(os.Stdout, report, c.Bool("all"))
	return nil
}

func runWalkForward(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.close()

	runID := newRunID()
	eng := e.engine()
	summary, err := eng.WalkForward(c.Context, runID)
	if err != nil {
		return err
	}
	fmt.Printf("run %s  window %dd  step %dd\n", runID, e.cfg.Optimize.OptimizationWindow, e.cfg.Optimize.StepSize)
	renderWalkForward(os.Stdout, summary)
	return nil
}
