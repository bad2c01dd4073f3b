package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tradelab/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tradelab.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestLoadFull(t *testing.T) {
	path := writeConfig(t, `
storage:
  data_dir: "/tmp/tradelab/data"
  sqlite_path: "/tmp/tradelab/results.db"
logging:
  level: "debug"
  format: "text"
alpaca:
  api_key: "test-key"
  api_secret: "test-secret"
  feed: "sip"
redis:
  addr: "localhost:6379"
  ttl: 30m
backtest:
  tickers: [AAPL, MSFT]
  categories:
    tech: [AAPL, MSFT]
    energy: [XOM]
  start_date: "2022-01-01"
  end_date: "2023-12-31"
  initial_cash: 50000
  risk_per_trade_fraction: 0.02
  atr_multiplier: 3
  atr_window: 10
  reward_risk_ratio: 1.5
optimize:
  buy_threshold_range: [0.1, 0.5, 0.2]
  sell_threshold_range: [-0.5, -0.1, 0.2]
  optimization_window: 60
  step_size: 20
  top_n: 5
  objective: sharpe
  max_workers: 4
baselines:
  AAPL:
    return_pct: 12.5
    sharpe: 0.9
`)
	t.Setenv("DATA_DIR", "")
	t.Setenv("ALPACA_API_KEY", "")
	t.Setenv("APCA_API_KEY_ID", "")
	t.Setenv("APCA_API_SECRET_KEY", "")
	t.Setenv("TRADELAB_MAX_WORKERS", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	// -- Storage --
	if cfg.Storage.DataDir != "/tmp/tradelab/data" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Storage.Market != "us" {
		t.Errorf("Storage.Market default = %q, want %q", cfg.Storage.Market, "us")
	}

	// -- Logging / Alpaca / Redis --
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if cfg.Alpaca.APIKey != "test-key" || cfg.Alpaca.Feed != "sip" {
		t.Errorf("Alpaca = %+v", cfg.Alpaca)
	}
	if cfg.Redis.TTL != 30*time.Minute {
		t.Errorf("Redis.TTL = %v, want 30m", cfg.Redis.TTL)
	}

	// -- Backtest --
	bt := cfg.Backtest
	if len(bt.Tickers) != 2 || bt.Tickers[0] != "AAPL" {
		t.Errorf("Backtest.Tickers = %v", bt.Tickers)
	}
	if len(bt.Categories["tech"]) != 2 || len(bt.Categories["energy"]) != 1 {
		t.Errorf("Backtest.Categories = %v", bt.Categories)
	}
	if bt.InitialCash != 50000 || bt.ATRMultiplier != 3 || bt.ATRWindow != 10 || bt.RewardRiskRatio != 1.5 {
		t.Errorf("Backtest risk fields = %+v", bt)
	}
	if bt.DefaultPositionFraction != 0.1 || bt.FallbackStopPct != 0.05 {
		t.Errorf("Backtest defaults not applied: %+v", bt)
	}
	if bt.Strategy != "score-threshold" {
		t.Errorf("Backtest.Strategy default = %q", bt.Strategy)
	}

	// -- Optimize --
	opt := cfg.Optimize
	if len(opt.BuyThresholdRange) != 3 || opt.BuyThresholdRange[2] != 0.2 {
		t.Errorf("Optimize.BuyThresholdRange = %v", opt.BuyThresholdRange)
	}
	if opt.OptimizationWindow != 60 || opt.StepSize != 20 || opt.TopN != 5 || opt.MaxWorkers != 4 {
		t.Errorf("Optimize = %+v", opt)
	}
	if opt.Objective != "sharpe" {
		t.Errorf("Optimize.Objective = %q", opt.Objective)
	}

	// -- Baselines --
	if cfg.Baselines["AAPL"].ReturnPct != 12.5 {
		t.Errorf("Baselines[AAPL] = %+v", cfg.Baselines["AAPL"])
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
alpaca:
  api_key: "yaml-key"
  api_secret: "yaml-secret"
storage:
  data_dir: "/original/data"
backtest:
  tickers: [SPY]
  start_date: "2020-01-01"
  end_date: "2021-01-01"
`)

	t.Setenv("ALPACA_API_KEY", "env-key")
	t.Setenv("DATA_DIR", "/env/data")
	t.Setenv("TRADELAB_MAX_WORKERS", "3")
	t.Setenv("APCA_API_KEY_ID", "")
	t.Setenv("APCA_API_SECRET_KEY", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Alpaca.APIKey != "env-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q (env override)", cfg.Alpaca.APIKey, "env-key")
	}
	// api_secret should remain from YAML since no env override was set.
	if cfg.Alpaca.APISecret != "yaml-secret" {
		t.Errorf("Alpaca.APISecret = %q, want %q (from YAML)", cfg.Alpaca.APISecret, "yaml-secret")
	}
	if cfg.Storage.DataDir != "/env/data" {
		t.Errorf("Storage.DataDir = %q, want %q (env override)", cfg.Storage.DataDir, "/env/data")
	}
	if cfg.Optimize.MaxWorkers != 3 {
		t.Errorf("Optimize.MaxWorkers = %d, want 3", cfg.Optimize.MaxWorkers)
	}
}

func TestValidateRejectsInvalidTopLevel(t *testing.T) {
	base := func() *Config {
		cfg := &Config{Backtest: Backtest{
			Tickers:   []string{"AAPL"},
			StartDate: "2022-01-01",
			EndDate:   "2023-01-01",
		}}
		applyDefaults(cfg)
		return cfg
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("baseline config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero tickers", func(c *Config) { c.Backtest.Tickers = nil }},
		{"inverted dates", func(c *Config) { c.Backtest.StartDate, c.Backtest.EndDate = "2023-01-01", "2022-01-01" }},
		{"equal dates", func(c *Config) { c.Backtest.EndDate = c.Backtest.StartDate }},
		{"bad date", func(c *Config) { c.Backtest.StartDate = "01/02/2022" }},
		{"negative cash", func(c *Config) { c.Backtest.InitialCash = -1 }},
		{"negative atr multiplier", func(c *Config) { c.Backtest.ATRMultiplier = -2 }},
		{"short range", func(c *Config) { c.Optimize.BuyThresholdRange = []float64{0.1, 0.2} }},
		{"inverted range", func(c *Config) { c.Optimize.SellThresholdRange = []float64{0.5, 0.1, 0.1} }},
		{"unknown objective", func(c *Config) { c.Optimize.Objective = "luck" }},
		{"bad extra range", func(c *Config) { c.Optimize.Ranges = map[string][]float64{"long_period": {30, 20, 5}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, domain.ErrInvalidConfig) {
				t.Errorf("Validate() = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestValidateAcceptsCategoriesOnly(t *testing.T) {
	cfg := &Config{Backtest: Backtest{
		Categories: map[string][]string{"tech": {"AAPL"}},
		StartDate:  "2022-01-01",
		EndDate:    "2023-01-01",
	}}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}
