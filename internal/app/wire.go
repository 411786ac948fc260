package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/macrobet/internal/blob/s3"
	memcache "github.com/alanyoungcy/macrobet/internal/cache/memory"
	"github.com/alanyoungcy/macrobet/internal/cache/redis"
	"github.com/alanyoungcy/macrobet/internal/config"
	"github.com/alanyoungcy/macrobet/internal/domain"
	"github.com/alanyoungcy/macrobet/internal/notify"
	"github.com/alanyoungcy/macrobet/internal/scheduler"
	"github.com/alanyoungcy/macrobet/internal/server/handler"
	memstore "github.com/alanyoungcy/macrobet/internal/store/memory"
	"github.com/alanyoungcy/macrobet/internal/store/postgres"
)

// Dependencies bundles the storage, cache and notification implementations
// the modes run on. Wire picks Postgres and Redis, or in-process stand-ins
// in dev mode.
type Dependencies struct {
	Events domain.EventStore
	Bets   domain.BetStore
	Users  domain.UserStore
	Ledger domain.Ledger
	Audit  domain.AuditStore

	Queue   domain.JobQueue
	Series  domain.PriceSeries
	Locks   domain.LockManager
	Bus     domain.SignalBus
	Limiter domain.RateLimiter

	// Archive is nil when S3 is disabled.
	Archive domain.ReportArchive
	Alerter *notify.Notifier

	Health map[string]handler.Check
}

// Wire builds Dependencies from cfg. The returned cleanup releases every
// connection that was opened and must be called on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Health: map[string]handler.Check{}}
	var err error
	if cfg.UsesInfra() {
		err = wireInfra(ctx, cfg, deps, &closers, logger)
	} else {
		wireMemory(cfg, deps, logger)
	}
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	if cfg.S3.Enabled {
		client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("app: s3: %w", err)
		}
		deps.Archive = s3blob.NewReportArchive(s3blob.NewWriter(client), s3blob.NewReader(client))
		deps.Health["s3"] = client.Health
		logger.Info("report archive enabled", slog.String("bucket", client.Bucket()))
	}

	deps.Alerter = notify.NewNotifier(senders(cfg.Notify), cfg.Notify.Events, logger)
	return deps, cleanup, nil
}

func wireInfra(ctx context.Context, cfg *config.Config, deps *Dependencies, closers *[]func(), logger *slog.Logger) error {
	pg, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:            cfg.Database.DSN,
		Host:           cfg.Database.Host,
		Port:           cfg.Database.Port,
		Database:       cfg.Database.Database,
		User:           cfg.Database.User,
		Password:       cfg.Database.Password,
		SSLMode:        cfg.Database.SSLMode,
		MaxConns:       cfg.Database.PoolMaxConns,
		MinConns:       cfg.Database.PoolMinConns,
		ConnectTimeout: cfg.Database.ConnectTimeout.Duration,
	})
	if err != nil {
		return fmt.Errorf("app: postgres: %w", err)
	}
	*closers = append(*closers, pg.Close)
	if cfg.Database.RunMigrations {
		if err := pg.RunMigrations(ctx); err != nil {
			return fmt.Errorf("app: migrations: %w", err)
		}
	}
	pool := pg.Pool()
	deps.Events = postgres.NewEventStore(pool)
	deps.Bets = postgres.NewBetStore(pool)
	deps.Users = postgres.NewUserStore(pool)
	deps.Ledger = postgres.NewLedger(pool, cfg.Database.LockTimeout.Duration)
	deps.Audit = postgres.NewAuditStore(pool)
	deps.Health["postgres"] = pool.Ping

	rc, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
		KeyPrefix:  cfg.Redis.KeyPrefix,
	})
	if err != nil {
		return fmt.Errorf("app: redis: %w", err)
	}
	*closers = append(*closers, func() { _ = rc.Close() })
	deps.Queue = redis.NewJobQueue(rc, cfg.Scheduler.VisibilityTimeout.Duration)
	deps.Series = redis.NewPriceSeries(rc, cfg.Redis.TickRetention.Duration)
	deps.Locks = redis.NewLockManager(rc)
	deps.Bus = redis.NewSignalBus(rc)
	deps.Limiter = redis.NewRateLimiter(rc)
	deps.Health["redis"] = rc.Ping

	logger.Info("infrastructure connected",
		slog.String("redis", cfg.Redis.Addr),
		slog.Bool("migrations", cfg.Database.RunMigrations),
	)
	return nil
}

// wireMemory backs everything with one in-process store. State is lost on
// exit.
func wireMemory(cfg *config.Config, deps *Dependencies, logger *slog.Logger) {
	store := memstore.New()
	deps.Events = store
	deps.Bets = store
	deps.Users = store.Users()
	deps.Ledger = store
	deps.Audit = store

	deps.Queue = scheduler.NewMemoryQueue(cfg.Scheduler.VisibilityTimeout.Duration)
	deps.Series = memcache.NewSeries(cfg.Redis.TickRetention.Duration)
	deps.Locks = memcache.NewLocks()
	deps.Bus = memcache.NewBus()
	deps.Limiter = memcache.NewLimiter()
	logger.Warn("dev mode: using in-memory storage")
}

func senders(cfg config.NotifyConfig) []notify.Sender {
	var out []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		out = append(out, notify.NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		out = append(out, notify.NewDiscordSender(cfg.DiscordWebhookURL))
	}
	return out
}
