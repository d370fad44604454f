package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/cyphercast/internal/address"
	s3blob "github.com/alanyoungcy/cyphercast/internal/blob/s3"
	memcache "github.com/alanyoungcy/cyphercast/internal/cache/memory"
	"github.com/alanyoungcy/cyphercast/internal/cache/redis"
	"github.com/alanyoungcy/cyphercast/internal/config"
	"github.com/alanyoungcy/cyphercast/internal/crypto"
	"github.com/alanyoungcy/cyphercast/internal/domain"
	"github.com/alanyoungcy/cyphercast/internal/engine"
	"github.com/alanyoungcy/cyphercast/internal/metrics"
	"github.com/alanyoungcy/cyphercast/internal/notify"
	"github.com/alanyoungcy/cyphercast/internal/server/handler"
	"github.com/alanyoungcy/cyphercast/internal/service"
	badgerstore "github.com/alanyoungcy/cyphercast/internal/store/badger"
	memstore "github.com/alanyoungcy/cyphercast/internal/store/memory"
	"github.com/alanyoungcy/cyphercast/internal/store/postgres"
)

// auditPruner is implemented by audit stores that support retention.
type auditPruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Storage
	Store      domain.Store
	AuditStore domain.AuditStore

	// Caches
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	StreamCache domain.StreamCache

	// Engine and the command path in front of it
	Metrics   *metrics.Collector
	Engine    *engine.Engine
	Publisher *service.EventPublisher
	Streams   *service.StreamService

	// Archive is nil unless S3 is enabled.
	Archiver *s3blob.Archiver

	Notifier *notify.Notifier

	// HealthChecks probe each wired backend.
	HealthChecks map[string]handler.HealthCheck
}

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
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{
		Metrics:      metrics.New(),
		HealthChecks: make(map[string]handler.HealthCheck),
	}

	// --- Record store ---
	switch strings.ToLower(cfg.Storage.Backend) {
	case "memory":
		deps.Store = memstore.New()

	case "badger":
		dir := cfg.Storage.BadgerDir
		if cfg.Storage.BadgerInMemory {
			dir = ""
		}
		bs, err := badgerstore.New(badgerstore.Config{Dir: dir}, logger)
		if err != nil {
			return fail(fmt.Errorf("wire: badger: %w", err))
		}
		closers = append(closers, func() { _ = bs.Close() })
		deps.Store = bs

	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.Store = pgClient.Store()
		deps.AuditStore = pgClient.AuditStore()
		deps.HealthChecks["postgres"] = func(ctx context.Context) error { return pgClient.Pool().Ping(ctx) }

	default:
		return fail(fmt.Errorf("wire: unknown storage backend %q", cfg.Storage.Backend))
	}

	// --- Caches: Redis when enabled, otherwise in process ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Namespace:  cfg.Redis.Namespace,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.RateLimiter = redis.NewRateLimiter(redisClient, 0, 0)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.StreamCache = redis.NewStreamCache(redisClient)
		deps.HealthChecks["redis"] = redisClient.Ping
	} else {
		deps.RateLimiter = memcache.NewRateLimiter(0, 0)
		deps.LockManager = memcache.NewLockManager()
		deps.SignalBus = memcache.NewSignalBus()
		deps.StreamCache = memcache.NewStreamCache(5 * time.Minute)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Engine ---
	deps.Engine = engine.New(deps.Store)
	deps.Publisher = service.NewEventPublisher(deps.SignalBus, deps.AuditStore, deps.Notifier, deps.Metrics, logger)
	deps.Engine.SetEmitter(deps.Publisher)

	if err := seedGenesis(ctx, deps.Engine, cfg.Genesis, logger); err != nil {
		return fail(fmt.Errorf("wire: genesis: %w", err))
	}

	deps.Streams = service.NewStreamService(
		deps.Engine,
		crypto.NewVerifier(cfg.Engine.EnvelopeMaxAge.Duration),
		deps.LockManager,
		deps.StreamCache,
		deps.Metrics,
		service.StreamServiceConfig{
			LockTTL:  cfg.Engine.LockTTL.Duration,
			LockWait: cfg.Engine.LockWait.Duration,
		},
		logger,
	)

	// --- S3 archive ---
	if cfg.S3.Enabled {
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
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(
			deps.Engine,
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.AuditStore,
			logger,
		)
		deps.HealthChecks["s3"] = s3Client.Health
	}

	return deps, cleanup, nil
}

// seedGenesis credits each configured allocation whose token account does
// not exist yet, so restarts against a durable store do not mint twice.
func seedGenesis(ctx context.Context, eng *engine.Engine, allocs []config.Allocation, logger *slog.Logger) error {
	var pending []engine.Allocation
	for _, a := range allocs {
		owner, err := domain.ParseAddress(a.Owner)
		if err != nil {
			return err
		}
		mint, err := domain.ParseAddress(a.Mint)
		if err != nil {
			return err
		}
		_, err = eng.TokenAccount(ctx, address.TokenAccount(mint, owner))
		switch {
		case err == nil:
			continue
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}
		pending = append(pending, engine.Allocation{Owner: owner, Mint: mint, Amount: a.Amount})
	}
	if len(pending) == 0 {
		return nil
	}
	if err := eng.SeedBalances(ctx, pending); err != nil {
		return err
	}
	logger.InfoContext(ctx, "wire: genesis allocations seeded", slog.Int("count", len(pending)))
	return nil
}
