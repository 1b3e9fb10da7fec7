package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/paperbot/internal/blob/s3"
	"github.com/alanyoungcy/paperbot/internal/cache/memory"
	"github.com/alanyoungcy/paperbot/internal/cache/redis"
	"github.com/alanyoungcy/paperbot/internal/config"
	"github.com/alanyoungcy/paperbot/internal/domain"
	"github.com/alanyoungcy/paperbot/internal/notify"
	"github.com/alanyoungcy/paperbot/internal/server/handler"
	"github.com/alanyoungcy/paperbot/internal/store/file"
	"github.com/alanyoungcy/paperbot/internal/store/postgres"
	"github.com/alanyoungcy/paperbot/internal/store/sqlite"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Persistence
	SnapshotStore domain.SnapshotStore
	AuditStore    domain.AuditStore    // nil without Postgres
	DecisionStore domain.DecisionStore // nil without Postgres
	Archiver      domain.Archiver      // nil without Postgres and S3

	// Caches
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Notifications
	Notifier *notify.Notifier

	// Health lists the external services /api/health pings.
	Health map[string]handler.Pinger
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{Health: make(map[string]handler.Pinger)}

	// --- PostgreSQL ---
	var portfolioStore *postgres.PortfolioStore
	var auditStore *postgres.AuditStore
	var decisionStore *postgres.DecisionStore
	if cfg.UsePostgres() {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:            cfg.Postgres.DSN,
			Host:           cfg.Postgres.Host,
			Port:           cfg.Postgres.Port,
			Database:       cfg.Postgres.Database,
			User:           cfg.Postgres.User,
			Password:       cfg.Postgres.Password,
			SSLMode:        cfg.Postgres.SSLMode,
			MaxConns:       cfg.Postgres.PoolMaxConns,
			MinConns:       cfg.Postgres.PoolMinConns,
			ConnectTimeout: cfg.Postgres.ConnTimeout.Duration,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}

		pool := pgClient.Pool()
		portfolioStore = postgres.NewPortfolioStore(pool, cfg.Portfolio.ID)
		auditStore = postgres.NewAuditStore(pool, cfg.Portfolio.ID)
		decisionStore = postgres.NewDecisionStore(pool)
		deps.AuditStore = auditStore
		deps.DecisionStore = decisionStore
		deps.Health["postgres"] = pool
	}

	// --- Redis, or the in-process cache when no address is configured ---
	if cfg.UseRedis() {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Redis.PriceTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamLen)
		deps.Health["redis"] = redisClient
	} else {
		logger.InfoContext(ctx, "redis not configured, using in-process cache")
		deps.PriceCache = memory.NewPriceCache()
		deps.RateLimiter = memory.NewRateLimiter()
		deps.LockManager = memory.NewLockManager()
		deps.SignalBus = memory.NewSignalBus(int(cfg.Redis.StreamLen))
	}

	// --- S3 blob storage ---
	var bucket *s3blob.Bucket
	if cfg.UseS3() {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		bucket = s3blob.NewBucket(s3Client)
		deps.Health["s3"] = pingFunc(s3Client.Health)

		if portfolioStore != nil {
			deps.Archiver = s3blob.NewArchiver(bucket, portfolioStore, decisionStore, auditStore, auditStore)
		}
	}

	// --- Snapshot store ---
	switch cfg.Persistence.Backend {
	case config.BackendFile:
		deps.SnapshotStore = file.NewSnapshotStore(cfg.Persistence.FilePath)
	case config.BackendSQLite:
		store, err := sqlite.Open(cfg.Persistence.SQLitePath, cfg.Portfolio.ID, cfg.Persistence.HistoryKeep)
		if err != nil {
			return fail("sqlite", err)
		}
		closers = append(closers, func() { _ = store.Close() })
		deps.SnapshotStore = store
	case config.BackendPostgres:
		deps.SnapshotStore = portfolioStore
	case config.BackendS3:
		deps.SnapshotStore = s3blob.NewSnapshotStore(bucket, bucket, bucket, cfg.Portfolio.ID, cfg.Persistence.HistoryKeep)
	default:
		return fail("persistence", fmt.Errorf("unknown backend %q", cfg.Persistence.Backend))
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
			"",
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if cfg.Notify.FCM.Enabled() {
		fcm, err := notify.NewFCMSender(ctx, notify.FCMConfig{
			CredentialsFile: cfg.Notify.FCM.CredentialsFile,
			CredentialsJSON: cfg.Notify.FCM.CredentialsJSON,
			Topic:           cfg.Notify.FCM.Topic,
			DeviceTokens:    cfg.Notify.FCM.DeviceTokens,
			AndroidChannel:  cfg.Notify.FCM.AndroidChannel,
		})
		if err != nil {
			logger.WarnContext(ctx, "fcm notifications disabled", slog.String("error", err.Error()))
		} else {
			senders = append(senders, fcm)
		}
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
