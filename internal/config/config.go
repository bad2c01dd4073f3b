package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"tradelab/internal/domain"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for tradelab.
type Config struct {
	Storage   Storage             `yaml:"storage"`
	Logging   Logging             `yaml:"logging"`
	Alpaca    Alpaca              `yaml:"alpaca"`
	Redis     Redis               `yaml:"redis"`
	Backtest  Backtest            `yaml:"backtest"`
	Optimize  Optimize            `yaml:"optimize"`
	Baselines map[string]Baseline `yaml:"baselines"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
	Market     string `yaml:"market"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Alpaca holds credentials and endpoints for the Alpaca market-data API.
type Alpaca struct {
	APIKey          string `yaml:"api_key"`
	APISecret       string `yaml:"api_secret"`
	DataURL         string `yaml:"data_url"`
	TradingURL      string `yaml:"trading_url"`
	Feed            string `yaml:"feed"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// Redis configures the optional bar cache. An empty Addr disables it.
type Redis struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// Backtest holds the simulation and risk parameters.
type Backtest struct {
	Tickers    []string            `yaml:"tickers"`
	Categories map[string][]string `yaml:"categories"`
	StartDate  string              `yaml:"start_date"`
	EndDate    string              `yaml:"end_date"`
	Strategy   string              `yaml:"strategy"`

	InitialCash             float64 `yaml:"initial_cash"`
	RiskPerTradeFraction    float64 `yaml:"risk_per_trade_fraction"`
	ATRMultiplier           float64 `yaml:"atr_multiplier"`
	ATRWindow               int     `yaml:"atr_window"`
	RewardRiskRatio         float64 `yaml:"reward_risk_ratio"`
	DefaultPositionFraction float64 `yaml:"default_position_fraction"`
	FallbackStopPct         float64 `yaml:"fallback_stop_pct"`
	RiskFreeRate            float64 `yaml:"risk_free_rate"`
}

// Optimize controls grid search and walk-forward validation.
type Optimize struct {
	BuyThresholdRange  []float64 `yaml:"buy_threshold_range"`
	SellThresholdRange []float64 `yaml:"sell_threshold_range"`

	// Ranges adds [start, stop, step] triplets for any other strategy knob,
	// keyed by parameter name.
	Ranges map[string][]float64 `yaml:"ranges"`

	OptimizationWindow int       `yaml:"optimization_window"`
	StepSize           int       `yaml:"step_size"`
	TopN               int       `yaml:"top_n"`
	Objective          string    `yaml:"objective"`
	MaxWorkers         int       `yaml:"max_workers"`
}

// Baseline holds reference metrics a run is compared against.
type Baseline struct {
	ReturnPct      float64 `yaml:"return_pct"`
	Sharpe         float64 `yaml:"sharpe"`
	MaxDrawdownPct float64 `yaml:"max_drawdown_pct"`
	WinRatePct     float64 `yaml:"win_rate_pct"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides and defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}
	if v := os.Getenv("ALPACA_TRADING_URL"); v != "" {
		cfg.Alpaca.TradingURL = v
	}

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("TRADELAB_MAX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Optimize.MaxWorkers = n
		}
	}

	// Standard Alpaca env vars (highest priority, canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

// applyDefaults fills unset fields with the values the simulator was tuned
// with.
func applyDefaults(cfg *Config) {
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Storage.Market == "" {
		cfg.Storage.Market = "us"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Alpaca.Feed == "" {
		cfg.Alpaca.Feed = "iex"
	}
	if cfg.Alpaca.RateLimitPerMin <= 0 {
		cfg.Alpaca.RateLimitPerMin = 200
	}
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = 6 * time.Hour
	}

	bt := &cfg.Backtest
	if bt.Strategy == "" {
		bt.Strategy = "score-threshold"
	}
	if bt.InitialCash == 0 {
		bt.InitialCash = 100000
	}
	if bt.RiskPerTradeFraction == 0 {
		bt.RiskPerTradeFraction = 0.01
	}
	if bt.ATRMultiplier == 0 {
		bt.ATRMultiplier = 2
	}
	if bt.ATRWindow == 0 {
		bt.ATRWindow = 14
	}
	if bt.RewardRiskRatio == 0 {
		bt.RewardRiskRatio = 2
	}
	if bt.DefaultPositionFraction == 0 {
		bt.DefaultPositionFraction = 0.1
	}
	if bt.FallbackStopPct == 0 {
		bt.FallbackStopPct = 0.05
	}

	opt := &cfg.Optimize
	if opt.OptimizationWindow == 0 {
		opt.OptimizationWindow = 180
	}
	if opt.StepSize == 0 {
		opt.StepSize = 30
	}
	if opt.TopN == 0 {
		opt.TopN = 10
	}
	if opt.Objective == "" {
		opt.Objective = "return"
	}
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate rejects configurations the core cannot run with. Every error
// wraps domain.ErrInvalidConfig.
func (c *Config) Validate() error {
	bt := c.Backtest
	if len(bt.Tickers) == 0 && len(c.AllCategoryTickers()) == 0 {
		return invalid("no tickers configured")
	}
	start, end, err := c.DateRange()
	if err != nil {
		return err
	}
	if !end.After(start) {
		return invalid("end_date %s is not after start_date %s", bt.EndDate, bt.StartDate)
	}
	if bt.InitialCash <= 0 {
		return invalid("initial_cash must be positive, got %v", bt.InitialCash)
	}
	if bt.RiskPerTradeFraction <= 0 || bt.RiskPerTradeFraction > 1 {
		return invalid("risk_per_trade_fraction must be in (0, 1], got %v", bt.RiskPerTradeFraction)
	}
	if bt.ATRMultiplier <= 0 {
		return invalid("atr_multiplier must be positive, got %v", bt.ATRMultiplier)
	}
	if bt.RewardRiskRatio <= 0 {
		return invalid("reward_risk_ratio must be positive, got %v", bt.RewardRiskRatio)
	}
	if bt.ATRWindow < 1 {
		return invalid("atr_window must be at least 1, got %d", bt.ATRWindow)
	}
	if bt.DefaultPositionFraction <= 0 || bt.DefaultPositionFraction > 1 {
		return invalid("default_position_fraction must be in (0, 1], got %v", bt.DefaultPositionFraction)
	}
	if bt.FallbackStopPct <= 0 || bt.FallbackStopPct >= 1 {
		return invalid("fallback_stop_pct must be in (0, 1), got %v", bt.FallbackStopPct)
	}

	opt := c.Optimize
	ranges := map[string][]float64{
		"buy_threshold_range":  opt.BuyThresholdRange,
		"sell_threshold_range": opt.SellThresholdRange,
	}
	for name, r := range opt.Ranges {
		ranges["ranges."+name] = r
	}
	for name, r := range ranges {
		if len(r) == 0 {
			continue
		}
		if len(r) != 3 {
			return invalid("%s must be [start, stop, step], got %v", name, r)
		}
		if r[2] <= 0 || r[1] < r[0] {
			return invalid("%s has an empty or inverted range %v", name, r)
		}
	}
	if opt.OptimizationWindow < 1 || opt.StepSize < 1 {
		return invalid("optimization_window and step_size must be positive")
	}
	switch opt.Objective {
	case "return", "sharpe", "drawdown", "win_rate":
	default:
		return invalid("unknown objective %q", opt.Objective)
	}
	return nil
}

// DateRange parses the configured start and end dates.
func (c *Config) DateRange() (start, end time.Time, err error) {
	start, err = domain.ParseDate(c.Backtest.StartDate)
	if err != nil {
		return start, end, invalid("start_date %q: %v", c.Backtest.StartDate, err)
	}
	end, err = domain.ParseDate(c.Backtest.EndDate)
	if err != nil {
		return start, end, invalid("end_date %q: %v", c.Backtest.EndDate, err)
	}
	return start, end, nil
}

// AllCategoryTickers returns every ticker referenced by a category.
func (c *Config) AllCategoryTickers() []string {
	var out []string
	for _, tickers := range c.Backtest.Categories {
		out = append(out, tickers...)
	}
	return out
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidConfig, fmt.Sprintf(format, args...))
}
