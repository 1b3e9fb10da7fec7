package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PAPERBOT_* environment variable overrides, and
// returns the final Config. A missing file is not an error: defaults plus
// environment apply. The returned Config has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PAPERBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Portfolio ──
	setStr(&cfg.Portfolio.ID, "PAPERBOT_PORTFOLIO_ID")
	setDecimal(&cfg.Portfolio.InitialCapital, "PAPERBOT_PORTFOLIO_INITIAL_CAPITAL")
	setInt(&cfg.Portfolio.EquityHistorySize, "PAPERBOT_PORTFOLIO_EQUITY_HISTORY_SIZE")
	setBool(&cfg.Portfolio.Autosave, "PAPERBOT_PORTFOLIO_AUTOSAVE")

	// ── Autotrade ──
	setFloat64(&cfg.AutoTrade.MinConfidence, "PAPERBOT_AUTOTRADE_MIN_CONFIDENCE")
	setDecimal(&cfg.AutoTrade.DefaultPositionSize, "PAPERBOT_AUTOTRADE_DEFAULT_POSITION_SIZE")
	setInt(&cfg.AutoTrade.MaxOpenPositions, "PAPERBOT_AUTOTRADE_MAX_OPEN_POSITIONS")
	setDuration(&cfg.AutoTrade.Cooldown, "PAPERBOT_AUTOTRADE_COOLDOWN")
	setDuration(&cfg.AutoTrade.PollInterval, "PAPERBOT_AUTOTRADE_POLL_INTERVAL")
	setBool(&cfg.AutoTrade.Autostart, "PAPERBOT_AUTOTRADE_AUTOSTART")
	setDuration(&cfg.AutoTrade.DedupTTL, "PAPERBOT_AUTOTRADE_DEDUP_TTL")
	setInt(&cfg.AutoTrade.DecisionLogSize, "PAPERBOT_AUTOTRADE_DECISION_LOG_SIZE")
	setStr(&cfg.AutoTrade.SignalStream, "PAPERBOT_AUTOTRADE_SIGNAL_STREAM")
	setInt(&cfg.AutoTrade.BatchSize, "PAPERBOT_AUTOTRADE_BATCH_SIZE")

	// ── Analytics ──
	setFloat64(&cfg.Analytics.AnnualizationFactor, "PAPERBOT_ANALYTICS_ANNUALIZATION_FACTOR")
	setFloat64(&cfg.Analytics.RiskFreeRate, "PAPERBOT_ANALYTICS_RISK_FREE_RATE")
	setDuration(&cfg.Analytics.SampleInterval, "PAPERBOT_ANALYTICS_SAMPLE_INTERVAL")

	// ── Persistence ──
	setStr(&cfg.Persistence.Backend, "PAPERBOT_PERSISTENCE_BACKEND")
	setStr(&cfg.Persistence.FilePath, "PAPERBOT_PERSISTENCE_FILE_PATH")
	setStr(&cfg.Persistence.SQLitePath, "PAPERBOT_PERSISTENCE_SQLITE_PATH")
	setInt(&cfg.Persistence.HistoryKeep, "PAPERBOT_PERSISTENCE_HISTORY_KEEP")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "PAPERBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "PAPERBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "PAPERBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PAPERBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PAPERBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PAPERBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PAPERBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PAPERBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PAPERBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PAPERBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PAPERBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "PAPERBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PAPERBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PAPERBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PAPERBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PAPERBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PAPERBOT_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.PriceTTL, "PAPERBOT_REDIS_PRICE_TTL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "PAPERBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PAPERBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "PAPERBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PAPERBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PAPERBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PAPERBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PAPERBOT_S3_FORCE_PATH_STYLE")

	// ── Feed ──
	setBool(&cfg.Feed.Enabled, "PAPERBOT_FEED_ENABLED")
	setStr(&cfg.Feed.WSURL, "PAPERBOT_FEED_WS_URL")
	setDuration(&cfg.Feed.ReconnectDelay, "PAPERBOT_FEED_RECONNECT_DELAY")
	setDuration(&cfg.Feed.ReconnectMax, "PAPERBOT_FEED_RECONNECT_MAX")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "PAPERBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PAPERBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PAPERBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "PAPERBOT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "PAPERBOT_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "PAPERBOT_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PAPERBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PAPERBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PAPERBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.FCM.CredentialsFile, "PAPERBOT_NOTIFY_FCM_CREDENTIALS_FILE")
	setStr(&cfg.Notify.FCM.CredentialsJSON, "PAPERBOT_NOTIFY_FCM_CREDENTIALS_JSON")
	setStr(&cfg.Notify.FCM.Topic, "PAPERBOT_NOTIFY_FCM_TOPIC")
	setStringSlice(&cfg.Notify.FCM.DeviceTokens, "PAPERBOT_NOTIFY_FCM_DEVICE_TOKENS")
	setStringSlice(&cfg.Notify.Events, "PAPERBOT_NOTIFY_EVENTS")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "PAPERBOT_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "PAPERBOT_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "PAPERBOT_ARCHIVE_INTERVAL")

	// ── Top-level ──
	setStr(&cfg.Mode, "PAPERBOT_MODE")
	setStr(&cfg.LogLevel, "PAPERBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
