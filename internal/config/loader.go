package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Load reads the TOML file at path over the defaults, then applies a .env
// file if present and MACROBET_* environment overrides. An empty path skips
// the file. The result is not validated; call Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose MACROBET_* variable is set and
// non-empty, so secrets can be injected at deploy time.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "MACROBET_MODE")
	setStr(&cfg.LogLevel, "MACROBET_LOG_LEVEL")

	setStr(&cfg.Database.DSN, "MACROBET_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "DATABASE_URL")
	setStr(&cfg.Database.Host, "MACROBET_DATABASE_HOST")
	setInt(&cfg.Database.Port, "MACROBET_DATABASE_PORT")
	setStr(&cfg.Database.Database, "MACROBET_DATABASE_NAME")
	setStr(&cfg.Database.User, "MACROBET_DATABASE_USER")
	setStr(&cfg.Database.Password, "MACROBET_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "MACROBET_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "MACROBET_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "MACROBET_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "MACROBET_DATABASE_RUN_MIGRATIONS")

	setStr(&cfg.Redis.Addr, "MACROBET_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MACROBET_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MACROBET_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "MACROBET_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "MACROBET_REDIS_KEY_PREFIX")

	setBool(&cfg.S3.Enabled, "MACROBET_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "MACROBET_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MACROBET_S3_REGION")
	setStr(&cfg.S3.Bucket, "MACROBET_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MACROBET_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MACROBET_S3_SECRET_KEY")

	setInt(&cfg.Server.Port, "MACROBET_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "MACROBET_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "MACROBET_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "MACROBET_SERVER_RATE_LIMIT")

	setInt(&cfg.Scheduler.Workers, "MACROBET_SCHEDULER_WORKERS")
	setInt(&cfg.Scheduler.MaxAttempts, "MACROBET_SCHEDULER_MAX_ATTEMPTS")
	setDuration(&cfg.Scheduler.PollInterval, "MACROBET_SCHEDULER_POLL_INTERVAL")

	setDecimal(&cfg.Market.HouseFee, "MACROBET_MARKET_HOUSE_FEE")
	setDecimal(&cfg.Market.ExposureCap, "MACROBET_MARKET_EXPOSURE_CAP")
	setDuration(&cfg.Market.RegularCutoff, "MACROBET_MARKET_REGULAR_CUTOFF")
	setDecimal(&cfg.Market.InitialBalance, "MACROBET_MARKET_INITIAL_BALANCE")

	setStr(&cfg.Oracle.Asset, "MACROBET_ORACLE_ASSET")
	setStr(&cfg.Oracle.StaticPrice, "MACROBET_ORACLE_STATIC_PRICE")

	setBool(&cfg.Feed.Enabled, "MACROBET_FEED_ENABLED")
	setStr(&cfg.Feed.URL, "MACROBET_FEED_URL")

	setStr(&cfg.Indicator.URL, "MACROBET_INDICATOR_URL")
	setStr(&cfg.Indicator.APIKey, "MACROBET_INDICATOR_API_KEY")

	setStr(&cfg.Notify.TelegramToken, "MACROBET_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "MACROBET_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "MACROBET_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "MACROBET_NOTIFY_EVENTS")

	setBool(&cfg.Watchdog.Enabled, "MACROBET_WATCHDOG_ENABLED")
	setStr(&cfg.Watchdog.Cron, "MACROBET_WATCHDOG_CRON")
	setDuration(&cfg.Watchdog.Grace, "MACROBET_WATCHDOG_GRACE")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setDecimal(dst *decimal.Decimal, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(strings.TrimSpace(v)); err == nil {
			*dst = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
