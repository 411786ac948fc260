// Package config defines the macrobet configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
)

// Config is the root configuration. Fields are populated from a TOML file
// and then optionally overridden by MACROBET_* environment variables.
type Config struct {
	Mode     string `toml:"mode"`
	LogLevel string `toml:"log_level"`

	Database  DatabaseConfig  `toml:"database"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Server    ServerConfig    `toml:"server"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Market    MarketConfig    `toml:"market"`
	Oracle    OracleConfig    `toml:"oracle"`
	Feed      FeedConfig      `toml:"feed"`
	Indicator IndicatorConfig `toml:"indicator"`
	Notify    NotifyConfig    `toml:"notify"`
	Watchdog  WatchdogConfig  `toml:"watchdog"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN            string   `toml:"dsn"`
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	Database       string   `toml:"database"`
	User           string   `toml:"user"`
	Password       string   `toml:"password"`
	SSLMode        string   `toml:"ssl_mode"`
	PoolMaxConns   int      `toml:"pool_max_conns"`
	PoolMinConns   int      `toml:"pool_min_conns"`
	ConnectTimeout Duration `toml:"connect_timeout"`
	// LockTimeout bounds how long a ledger transaction waits on a row lock.
	LockTimeout   Duration `toml:"lock_timeout"`
	RunMigrations bool     `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
	// TickRetention is how long price ticks are kept per asset.
	TickRetention Duration `toml:"tick_retention"`
}

// S3Config holds settlement report archive parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey protects mutating routes. Empty disables auth.
	APIKey string `toml:"api_key"`
	// RateLimit is the per-IP write requests allowed per RateWindow.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow Duration `toml:"rate_window"`
}

// SchedulerConfig tunes the stage job queue and its workers.
type SchedulerConfig struct {
	Workers           int      `toml:"workers"`
	PollInterval      Duration `toml:"poll_interval"`
	BatchSize         int      `toml:"batch_size"`
	VisibilityTimeout Duration `toml:"visibility_timeout"`
	JobTimeout        Duration `toml:"job_timeout"`
	MaxAttempts       int      `toml:"max_attempts"`
	BaseBackoff       Duration `toml:"base_backoff"`
	MaxBackoff        Duration `toml:"max_backoff"`
	// Stage offsets relative to the release time.
	BettingOffset Duration `toml:"betting_offset"`
	LockedOffset  Duration `toml:"locked_offset"`
	LiveOffset    Duration `toml:"live_offset"`
	SettleOffset  Duration `toml:"settle_offset"`
}

// MarketConfig holds the betting and judging rules. Decimal values accept
// TOML strings ("0.05") or numbers.
type MarketConfig struct {
	HouseFee decimal.Decimal `toml:"house_fee"`
	// ExposureCap is the most one option may hold. Zero disables the cap.
	ExposureCap      decimal.Decimal `toml:"exposure_cap"`
	RegularCutoff    Duration        `toml:"regular_cutoff"`
	SettlementWindow string          `toml:"settlement_window"`
	InitialBalance   decimal.Decimal `toml:"initial_balance"`
	Margin           decimal.Decimal `toml:"margin"`
	CalmThreshold    decimal.Decimal `toml:"calm_threshold"`
	TsunamiThreshold decimal.Decimal `toml:"tsunami_threshold"`
}

// OracleConfig selects and tunes the price oracle.
type OracleConfig struct {
	Asset      string   `toml:"asset"`
	TWAPWindow Duration `toml:"twap_window"`
	Timeout    Duration `toml:"timeout"`
	// StaticPrice, when set, replaces the tick-series oracle with a fixed
	// price. Meant for dev mode.
	StaticPrice string `toml:"static_price"`
}

// FeedConfig controls the live trade stream.
type FeedConfig struct {
	Enabled bool   `toml:"enabled"`
	URL     string `toml:"url"`
}

// IndicatorConfig points at the provider of released indicator values.
// An empty URL leaves the actual value to the operator.
type IndicatorConfig struct {
	URL     string   `toml:"url"`
	APIKey  string   `toml:"api_key"`
	Timeout Duration `toml:"timeout"`
}

// NotifyConfig holds alert channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// WatchdogConfig schedules the overdue-event sweep.
type WatchdogConfig struct {
	Enabled bool     `toml:"enabled"`
	Cron    string   `toml:"cron"`
	Grace   Duration `toml:"grace"`
}

// Duration is a time.Duration that decodes from TOML strings such as "5m".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func dur(d time.Duration) Duration { return Duration{d} }

// Defaults returns a Config populated with the documented defaults.
func Defaults() Config {
	return Config{
		Mode:     "full",
		LogLevel: "info",
		Database: DatabaseConfig{
			Host:           "localhost",
			Port:           5432,
			Database:       "macrobet",
			User:           "postgres",
			SSLMode:        "disable",
			PoolMaxConns:   10,
			PoolMinConns:   2,
			ConnectTimeout: dur(5 * time.Second),
			LockTimeout:    dur(5 * time.Second),
			RunMigrations:  true,
		},
		Redis: RedisConfig{
			Addr:          "localhost:6379",
			PoolSize:      20,
			MaxRetries:    3,
			KeyPrefix:     "macrobet:",
			TickRetention: dur(6 * time.Hour),
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "macrobet-reports",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   60,
			RateWindow:  dur(time.Minute),
		},
		Scheduler: SchedulerConfig{
			Workers:           4,
			PollInterval:      dur(time.Second),
			BatchSize:         16,
			VisibilityTimeout: dur(2 * time.Minute),
			JobTimeout:        dur(90 * time.Second),
			MaxAttempts:       8,
			BaseBackoff:       dur(5 * time.Second),
			MaxBackoff:        dur(5 * time.Minute),
			BettingOffset:     dur(-30 * time.Minute),
			LockedOffset:      dur(-15 * time.Minute),
			LiveOffset:        dur(0),
			SettleOffset:      dur(5 * time.Minute),
		},
		Market: MarketConfig{
			HouseFee:         decimal.RequireFromString("0.05"),
			ExposureCap:      decimal.NewFromInt(100000),
			RegularCutoff:    dur(5 * time.Minute),
			SettlementWindow: "24h",
			InitialBalance:   decimal.NewFromInt(10000),
			Margin:           decimal.RequireFromString("0.01"),
			CalmThreshold:    decimal.NewFromInt(200),
			TsunamiThreshold: decimal.NewFromInt(1000),
		},
		Oracle: OracleConfig{
			Asset:      "BTC",
			TWAPWindow: dur(time.Minute),
			Timeout:    dur(75 * time.Second),
		},
		Feed: FeedConfig{
			Enabled: true,
			URL:     "wss://stream.binance.com:9443/ws/btcusdt@trade",
		},
		Indicator: IndicatorConfig{
			Timeout: dur(10 * time.Second),
		},
		Notify: NotifyConfig{
			Events: []string{"judge_indeterminate", "job_dead_lettered", "event_overdue"},
		},
		Watchdog: WatchdogConfig{
			Enabled: true,
			Cron:    "@every 1m",
			Grace:   dur(10 * time.Minute),
		},
	}
}

var validModes = map[string]bool{
	"api":    true,
	"worker": true,
	"full":   true,
	"dev":    true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// UsesInfra reports whether the mode needs Postgres and Redis.
func (c *Config) UsesInfra() bool {
	return strings.ToLower(c.Mode) != "dev"
}

// Validate checks Config for invalid or missing values and returns one
// error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if !validModes[strings.ToLower(c.Mode)] {
		add("unknown mode %q (valid: api, worker, full, dev)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	if c.UsesInfra() {
		if strings.TrimSpace(c.Database.DSN) == "" {
			if c.Database.Host == "" {
				add("database: host must not be empty (or set database.dsn)")
			}
			if c.Database.Port <= 0 || c.Database.Port > 65535 {
				add("database: port must be 1-65535, got %d", c.Database.Port)
			}
			if c.Database.Database == "" {
				add("database: database must not be empty")
			}
		}
		if c.Database.PoolMaxConns < 1 {
			add("database: pool_max_conns must be >= 1")
		}
		if c.Database.PoolMinConns < 0 || c.Database.PoolMinConns > c.Database.PoolMaxConns {
			add("database: pool_min_conns must be between 0 and pool_max_conns")
		}
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			add("s3: bucket must not be empty when enabled")
		}
		if c.S3.Region == "" {
			add("s3: region must not be empty when enabled")
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("server: port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Server.RateLimit < 0 {
		add("server: rate_limit must be >= 0")
	}
	if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
		add("server: rate_window must be > 0 when rate_limit is set")
	}

	s := c.Scheduler
	if s.Workers < 1 {
		add("scheduler: workers must be >= 1")
	}
	if s.BatchSize < 1 {
		add("scheduler: batch_size must be >= 1")
	}
	if s.MaxAttempts < 1 {
		add("scheduler: max_attempts must be >= 1")
	}
	if s.PollInterval.Duration <= 0 {
		add("scheduler: poll_interval must be > 0")
	}
	if s.JobTimeout.Duration > 0 && s.VisibilityTimeout.Duration <= s.JobTimeout.Duration {
		add("scheduler: visibility_timeout (%s) must exceed job_timeout (%s)", s.VisibilityTimeout, s.JobTimeout)
	}
	if !(s.BettingOffset.Duration < s.LockedOffset.Duration &&
		s.LockedOffset.Duration <= s.LiveOffset.Duration &&
		s.LiveOffset.Duration < s.SettleOffset.Duration) {
		add("scheduler: stage offsets must satisfy betting < locked <= live < settle")
	}

	m := c.Market
	if m.HouseFee.IsNegative() || m.HouseFee.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		add("market: house_fee must be in [0, 1), got %s", m.HouseFee)
	}
	if m.ExposureCap.IsNegative() {
		add("market: exposure_cap must be >= 0")
	}
	if m.InitialBalance.IsNegative() {
		add("market: initial_balance must be >= 0")
	}
	if m.RegularCutoff.Duration < 0 {
		add("market: regular_cutoff must be >= 0")
	}
	if m.SettlementWindow != "30m" && m.SettlementWindow != "24h" {
		add("market: settlement_window must be 30m or 24h, got %q", m.SettlementWindow)
	}
	if m.Margin.IsNegative() {
		add("market: margin must be >= 0")
	}
	if !m.CalmThreshold.IsPositive() || m.TsunamiThreshold.LessThan(m.CalmThreshold) {
		add("market: need 0 < calm_threshold <= tsunami_threshold")
	}

	if c.Oracle.Asset == "" {
		add("oracle: asset must not be empty")
	}
	if c.Oracle.TWAPWindow.Duration <= 0 {
		add("oracle: twap_window must be > 0")
	}
	if c.Oracle.StaticPrice != "" {
		if p, err := decimal.NewFromString(c.Oracle.StaticPrice); err != nil || !p.IsPositive() {
			add("oracle: static_price %q must be a positive decimal", c.Oracle.StaticPrice)
		}
	}

	if c.Feed.Enabled && c.Oracle.StaticPrice == "" && c.Feed.URL == "" {
		add("feed: url must not be empty when enabled")
	}

	if u := c.Indicator.URL; u != "" && !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		add("indicator: url %q must be http or https", u)
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		add("notify: telegram_token and telegram_chat_id must be set together")
	}

	if c.Watchdog.Enabled {
		if _, err := cron.ParseStandard(c.Watchdog.Cron); err != nil {
			add("watchdog: cron %q: %v", c.Watchdog.Cron, err)
		}
		if c.Watchdog.Grace.Duration < 0 {
			add("watchdog: grace must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
