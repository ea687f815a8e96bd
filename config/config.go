// Package config loads the YAML configuration, applies .env and
// environment overrides and fills defaults.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"signal-backtest/internal/backtest"
	"signal-backtest/internal/indicator"
	"signal-backtest/internal/strategy"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Data sources.
const (
	SourceSQLite  = "sqlite"
	SourceParquet = "parquet"
	SourceYahoo   = "yahoo"
)

// Config is the full application configuration.
type Config struct {
	Strategy    StrategyConfig   `yaml:"strategy"`
	Indicators  indicator.Config `yaml:"indicators"`
	Grid        backtest.Grid    `yaml:"grid"`
	Data        DataConfig       `yaml:"data"`
	Redis       RedisConfig      `yaml:"redis"`
	Poller      PollerConfig     `yaml:"poller"`
	Notify      NotifyConfig     `yaml:"notify"`
	MetricsAddr string           `yaml:"metrics_addr"`
	APIAddr     string           `yaml:"api_addr"` // empty disables the HTTP API
	Log         LogConfig        `yaml:"log"`
}

// StrategyConfig controls the single-run backtest and live signals.
type StrategyConfig struct {
	InitialCapital float64 `yaml:"initial_capital"`
	Rule           string  `yaml:"rule"` // level | delta
	BuyThreshold   *int    `yaml:"buy_threshold"`
	SellThreshold  *int    `yaml:"sell_threshold"`
	CloseAtEnd     bool    `yaml:"close_open_positions_at_end"`
	MinBars        int     `yaml:"min_bars"`
	TopN           int     `yaml:"top_n"` // outperformers per ticker fed to the recommendation
}

// DataConfig selects where bars come from.
type DataConfig struct {
	Source            string  `yaml:"source"` // sqlite | parquet | yahoo
	SQLitePath        string  `yaml:"sqlite_path"`
	ParquetDir        string  `yaml:"parquet_dir"`
	YahooBaseURL      string  `yaml:"yahoo_base_url"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Bars              int     `yaml:"bars"`    // most recent N bars per series, 0 = all
	Archive           bool    `yaml:"archive"` // copy fetched bars into sqlite_path (non-sqlite sources)
}

// RedisConfig configures the result cache. An empty Addr disables it.
type RedisConfig struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

// PollerConfig drives the background refresh loop.
type PollerConfig struct {
	IntervalSeconds int      `yaml:"interval_seconds"`
	Tickers         []string `yaml:"tickers"`
	Intervals       []string `yaml:"intervals"`
	MarketHoursOnly bool     `yaml:"market_hours_only"`
	Session         Session  `yaml:"session"`
}

// Session describes the exchange trading day.
type Session struct {
	Timezone string   `yaml:"timezone"`
	Open     string   `yaml:"open"`  // HH:MM
	Close    string   `yaml:"close"` // HH:MM
	Holidays []string `yaml:"holidays"`
}

// NotifyConfig lists alert sinks. Empty fields disable the sink.
type NotifyConfig struct {
	WebhookURL       string `yaml:"webhook_url"`
	TelegramBotToken string `yaml:"telegram_bot_token"`
	TelegramChatID   string `yaml:"telegram_chat_id"`
}

// LogConfig controls slog output.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // json | text
}

// Load reads the YAML file at path (skipped when path is empty), then .env
// and environment overrides, then defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.Data.Source = getEnv("DATA_SOURCE", cfg.Data.Source)
	cfg.Data.SQLitePath = getEnv("SQLITE_PATH", cfg.Data.SQLitePath)
	cfg.Data.ParquetDir = getEnv("PARQUET_DIR", cfg.Data.ParquetDir)
	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.MetricsAddr = getEnv("METRICS_ADDR", cfg.MetricsAddr)
	cfg.APIAddr = getEnv("API_ADDR", cfg.APIAddr)
	cfg.Notify.WebhookURL = getEnv("WEBHOOK_URL", cfg.Notify.WebhookURL)
	cfg.Notify.TelegramBotToken = getEnv("TELEGRAM_BOT_TOKEN", cfg.Notify.TelegramBotToken)
	cfg.Notify.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", cfg.Notify.TelegramChatID)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)

	if v := os.Getenv("TICKERS"); v != "" {
		cfg.Poller.Tickers = ParseList(v)
	}
	if v := os.Getenv("INTERVALS"); v != "" {
		cfg.Poller.Intervals = ParseList(v)
	}
	if v := os.Getenv("INITIAL_CAPITAL"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Strategy.InitialCapital = f
		} else {
			log.Printf("[config] skipping invalid INITIAL_CAPITAL: %q", v)
		}
	}
}

func setDefaults(cfg *Config) {
	s := &cfg.Strategy
	if s.InitialCapital <= 0 {
		s.InitialCapital = backtest.DefaultInitialCapital
	}
	if s.Rule == "" {
		s.Rule = strategy.RuleLevel
	}
	if s.BuyThreshold == nil {
		s.BuyThreshold = intPtr(backtest.FallbackBuy)
	}
	if s.SellThreshold == nil {
		s.SellThreshold = intPtr(backtest.FallbackSell)
	}
	if s.MinBars <= 0 {
		s.MinBars = backtest.DefaultMinBars
	}
	if s.TopN <= 0 {
		s.TopN = 3
	}

	if cfg.Indicators == (indicator.Config{}) {
		cfg.Indicators = indicator.DefaultConfig()
	}
	if cfg.Grid == (backtest.Grid{}) {
		cfg.Grid = backtest.DefaultGrid()
	}

	if cfg.Data.Source == "" {
		cfg.Data.Source = SourceSQLite
	}
	if cfg.Data.SQLitePath == "" {
		cfg.Data.SQLitePath = "data/bars.db"
	}
	if cfg.Data.ParquetDir == "" {
		cfg.Data.ParquetDir = "data/parquet"
	}
	if cfg.Data.RequestsPerSecond <= 0 {
		cfg.Data.RequestsPerSecond = 2
	}

	if cfg.Redis.TTLSeconds <= 0 {
		cfg.Redis.TTLSeconds = 300
	}

	p := &cfg.Poller
	if p.IntervalSeconds <= 0 {
		p.IntervalSeconds = 300
	}
	if len(p.Intervals) == 0 {
		p.Intervals = []string{"1d"}
	}
	if p.Session.Timezone == "" {
		p.Session.Timezone = "Asia/Jakarta"
	}
	if p.Session.Open == "" {
		p.Session.Open = "09:00"
	}
	if p.Session.Close == "" {
		p.Session.Close = "16:00"
	}

	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = ":9090"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

// Validate reports every problem at once, each wrapping ErrInvalid.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if _, err := c.Rule(); err != nil {
		bad("strategy: %v", err)
	} else if c.Strategy.Rule == strategy.RuleLevel && deref(c.Strategy.BuyThreshold) <= deref(c.Strategy.SellThreshold) {
		bad("strategy: buy_threshold %d must exceed sell_threshold %d",
			deref(c.Strategy.BuyThreshold), deref(c.Strategy.SellThreshold))
	}
	if c.Strategy.InitialCapital <= 0 {
		bad("strategy.initial_capital must be positive")
	}
	if c.Grid.BuyMax < c.Grid.BuyMin {
		bad("grid.buy_max %d < grid.buy_min %d", c.Grid.BuyMax, c.Grid.BuyMin)
	}
	if c.Grid.SellMin >= c.Grid.BuyMax {
		bad("grid.sell_min %d must be below grid.buy_max %d", c.Grid.SellMin, c.Grid.BuyMax)
	}
	switch c.Data.Source {
	case SourceSQLite, SourceParquet, SourceYahoo:
	default:
		bad("data.source %q (want sqlite, parquet or yahoo)", c.Data.Source)
	}
	if c.Data.Bars < 0 {
		bad("data.bars must not be negative")
	}
	return errors.Join(errs...)
}

// Rule builds the configured trading rule.
func (c *Config) Rule() (strategy.Rule, error) {
	return strategy.ByName(c.Strategy.Rule, deref(c.Strategy.BuyThreshold), deref(c.Strategy.SellThreshold))
}

// Backtest returns the run configuration for the configured rule.
func (c *Config) Backtest() (backtest.Config, error) {
	rule, err := c.Rule()
	if err != nil {
		return backtest.Config{}, err
	}
	return backtest.Config{
		InitialCapital: c.Strategy.InitialCapital,
		MinBars:        c.Strategy.MinBars,
		CloseAtEnd:     c.Strategy.CloseAtEnd,
		Rule:           rule,
	}, nil
}

// PollInterval returns the poller period.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Poller.IntervalSeconds) * time.Second
}

// CacheTTL returns the result cache expiry.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Redis.TTLSeconds) * time.Second
}

// ParseList splits a comma-separated list, dropping blanks.
func ParseList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func intPtr(v int) *int { return &v }

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
