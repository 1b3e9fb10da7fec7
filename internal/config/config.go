// Package config defines the top-level configuration for paperbot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/paperbot/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PAPERBOT_* environment variables.
type Config struct {
	Portfolio   PortfolioConfig   `toml:"portfolio"`
	AutoTrade   AutoTradeConfig   `toml:"autotrade"`
	Analytics   AnalyticsConfig   `toml:"analytics"`
	Persistence PersistenceConfig `toml:"persistence"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Feed        FeedConfig        `toml:"feed"`
	Server      ServerConfig      `toml:"server"`
	Notify      NotifyConfig      `toml:"notify"`
	Archive     ArchiveConfig     `toml:"archive"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// PortfolioConfig describes the paper portfolio.
type PortfolioConfig struct {
	ID                string          `toml:"id"`
	InitialCapital    decimal.Decimal `toml:"initial_capital"`
	EquityHistorySize int             `toml:"equity_history_size"`
	// Autosave persists a snapshot after every executed trade.
	Autosave bool `toml:"autosave"`
}

// AutoTradeConfig holds the controller policy and signal intake settings.
type AutoTradeConfig struct {
	MinConfidence       float64         `toml:"min_confidence"`
	DefaultPositionSize decimal.Decimal `toml:"default_position_size"`
	MaxOpenPositions    int             `toml:"max_open_positions"`
	Cooldown            duration        `toml:"cooldown"`
	PollInterval        duration        `toml:"poll_interval"`
	Autostart           bool            `toml:"autostart"`
	DedupTTL            duration        `toml:"dedup_ttl"`
	DecisionLogSize     int             `toml:"decision_log_size"`
	SignalStream        string          `toml:"signal_stream"`
	BatchSize           int             `toml:"batch_size"`
}

// Policy converts the section into the controller's policy type.
func (a AutoTradeConfig) Policy() domain.AutoTradeConfig {
	return domain.AutoTradeConfig{
		MinConfidence:       a.MinConfidence,
		DefaultPositionSize: a.DefaultPositionSize,
		MaxOpenPositions:    a.MaxOpenPositions,
		Cooldown:            a.Cooldown.Duration,
		PollInterval:        a.PollInterval.Duration,
	}
}

// AnalyticsConfig tunes the performance analyzer and the equity sampler.
type AnalyticsConfig struct {
	AnnualizationFactor float64  `toml:"annualization_factor"`
	RiskFreeRate        float64  `toml:"risk_free_rate"`
	SampleInterval      duration `toml:"sample_interval"`
}

// Persistence backends.
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendS3       = "s3"
)

// PersistenceConfig selects where portfolio snapshots are stored.
type PersistenceConfig struct {
	Backend     string `toml:"backend"`
	FilePath    string `toml:"file_path"`
	SQLitePath  string `toml:"sqlite_path"`
	HistoryKeep int    `toml:"history_keep"`
}

// PostgresConfig holds PostgreSQL connection parameters. Besides the postgres
// snapshot backend, the pool backs the audit log and decision history when
// Enabled is set.
type PostgresConfig struct {
	Enabled       bool     `toml:"enabled"`
	DSN           string   `toml:"dsn"`
	Host          string   `toml:"host"`
	Port          int      `toml:"port"`
	Database      string   `toml:"database"`
	User          string   `toml:"user"`
	Password      string   `toml:"password"`
	SSLMode       string   `toml:"ssl_mode"`
	PoolMaxConns  int      `toml:"pool_max_conns"`
	PoolMinConns  int      `toml:"pool_min_conns"`
	ConnTimeout   duration `toml:"connect_timeout"`
	RunMigrations bool     `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. An empty Addr selects the
// in-process cache.
type RedisConfig struct {
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	PriceTTL   duration `toml:"price_ttl"`
	StreamLen  int64    `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// FeedConfig configures the upstream alert websocket.
type FeedConfig struct {
	Enabled        bool     `toml:"enabled"`
	WSURL          string   `toml:"ws_url"`
	ReconnectDelay duration `toml:"reconnect_delay"`
	ReconnectMax   duration `toml:"reconnect_max"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string    `toml:"telegram_token"`
	TelegramChatID    string    `toml:"telegram_chat_id"`
	DiscordWebhookURL string    `toml:"discord_webhook_url"`
	FCM               FCMConfig `toml:"fcm"`
	Events            []string  `toml:"events"`
}

// FCMConfig holds Firebase Cloud Messaging credentials and targets.
type FCMConfig struct {
	CredentialsFile string   `toml:"credentials_file"`
	CredentialsJSON string   `toml:"credentials_json"`
	Topic           string   `toml:"topic"`
	DeviceTokens    []string `toml:"device_tokens"`
	AndroidChannel  string   `toml:"android_channel"`
}

// Enabled reports whether any credential source is configured.
func (f FCMConfig) Enabled() bool {
	return f.CredentialsFile != "" || f.CredentialsJSON != ""
}

// ArchiveConfig controls the Postgres to S3 archiver.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// Retention returns the archive cutoff age.
func (a ArchiveConfig) Retention() time.Duration {
	return time.Duration(a.RetentionDays) * 24 * time.Hour
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	policy := domain.DefaultAutoTradeConfig()
	return Config{
		Portfolio: PortfolioConfig{
			ID:                "default",
			InitialCapital:    decimal.NewFromInt(10000),
			EquityHistorySize: 500,
			Autosave:          true,
		},
		AutoTrade: AutoTradeConfig{
			MinConfidence:       policy.MinConfidence,
			DefaultPositionSize: policy.DefaultPositionSize,
			MaxOpenPositions:    policy.MaxOpenPositions,
			Cooldown:            duration{policy.Cooldown},
			PollInterval:        duration{policy.PollInterval},
			DedupTTL:            duration{time.Hour},
			DecisionLogSize:     200,
			SignalStream:        domain.StreamSignals,
			BatchSize:           100,
		},
		Analytics: AnalyticsConfig{
			AnnualizationFactor: 0, // sqrt(252)
			SampleInterval:      duration{time.Minute},
		},
		Persistence: PersistenceConfig{
			Backend:     BackendFile,
			FilePath:    "data/portfolio.json",
			SQLitePath:  "data/paperbot.db",
			HistoryKeep: 50,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "paperbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			ConnTimeout:   duration{5 * time.Second},
			RunMigrations: true,
		},
		Redis: RedisConfig{
			PoolSize:   20,
			MaxRetries: 3,
			PriceTTL:   duration{15 * time.Minute},
			StreamLen:  10000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "paperbot-data",
			ForcePathStyle: true,
		},
		Feed: FeedConfig{
			ReconnectDelay: duration{time.Second},
			ReconnectMax:   duration{time.Minute},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateWindow:  duration{time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"trade.executed", "autotrade.started", "autotrade.stopped", "portfolio.reset"},
		},
		Archive: ArchiveConfig{
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// Run modes.
const (
	ModeFull    = "full"
	ModeServer  = "server"
	ModeFeed    = "feed"
	ModeArchive = "archive"
)

var validModes = map[string]bool{
	ModeFull:    true,
	ModeServer:  true,
	ModeFeed:    true,
	ModeArchive: true,
}

var validBackends = map[string]bool{
	BackendFile:     true,
	BackendSQLite:   true,
	BackendPostgres: true,
	BackendS3:       true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// UsePostgres reports whether a Postgres pool is needed.
func (c *Config) UsePostgres() bool {
	return c.Postgres.Enabled || c.Persistence.Backend == BackendPostgres || c.archiving()
}

// UseS3 reports whether an S3 client is needed.
func (c *Config) UseS3() bool {
	return c.Persistence.Backend == BackendS3 || c.archiving()
}

// UseRedis reports whether Redis is configured.
func (c *Config) UseRedis() bool {
	return strings.TrimSpace(c.Redis.Addr) != ""
}

func (c *Config) archiving() bool {
	return c.Archive.Enabled || c.Mode == ModeArchive
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, server, feed, archive)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Portfolio
	if strings.TrimSpace(c.Portfolio.ID) == "" {
		errs = append(errs, "portfolio: id must not be empty")
	}
	if !c.Portfolio.InitialCapital.IsPositive() {
		errs = append(errs, "portfolio: initial_capital must be > 0")
	}
	if c.Portfolio.EquityHistorySize < 1 {
		errs = append(errs, "portfolio: equity_history_size must be >= 1")
	}

	// Autotrade
	if err := c.AutoTrade.Policy().Validate(); err != nil {
		errs = append(errs, "autotrade: "+err.Error())
	}
	if c.AutoTrade.DedupTTL.Duration <= 0 {
		errs = append(errs, "autotrade: dedup_ttl must be positive")
	}
	if c.AutoTrade.DecisionLogSize < 1 {
		errs = append(errs, "autotrade: decision_log_size must be >= 1")
	}
	if c.AutoTrade.BatchSize < 1 {
		errs = append(errs, "autotrade: batch_size must be >= 1")
	}
	if c.AutoTrade.SignalStream == "" {
		errs = append(errs, "autotrade: signal_stream must not be empty")
	}

	// Analytics
	if c.Analytics.AnnualizationFactor < 0 {
		errs = append(errs, "analytics: annualization_factor must not be negative")
	}
	if c.Analytics.SampleInterval.Duration < 0 {
		errs = append(errs, "analytics: sample_interval must not be negative")
	}

	// Persistence
	switch {
	case !validBackends[c.Persistence.Backend]:
		errs = append(errs, fmt.Sprintf("persistence: unknown backend %q (valid: file, sqlite, postgres, s3)", c.Persistence.Backend))
	case c.Persistence.Backend == BackendFile && c.Persistence.FilePath == "":
		errs = append(errs, "persistence: file_path is required for the file backend")
	case c.Persistence.Backend == BackendSQLite && c.Persistence.SQLitePath == "":
		errs = append(errs, "persistence: sqlite_path is required for the sqlite backend")
	}

	// Postgres
	if c.UsePostgres() {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be within [0, pool_max_conns]")
		}
	}

	// Redis
	if c.UseRedis() && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.UseS3() {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Feed
	if (c.Feed.Enabled || c.Mode == ModeFeed) && strings.TrimSpace(c.Feed.WSURL) == "" {
		errs = append(errs, "feed: ws_url is required when the feed is enabled")
	}
	if c.Mode == ModeFeed && !c.UseRedis() {
		errs = append(errs, "feed: mode feed publishes to redis; redis.addr must be set")
	}

	// Server
	if c.Server.Enabled || c.Mode == ModeServer {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must not be negative")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}
	if c.Notify.FCM.Enabled() && c.Notify.FCM.Topic == "" && len(c.Notify.FCM.DeviceTokens) == 0 {
		errs = append(errs, "notify: fcm needs a topic or device_tokens")
	}

	// Archive
	if c.archiving() {
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be positive")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
