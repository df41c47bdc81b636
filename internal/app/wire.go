package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/wesso80/marketscannerpros-sub008/internal/blob/s3"
	"github.com/wesso80/marketscannerpros-sub008/internal/bus/kafka"
	"github.com/wesso80/marketscannerpros-sub008/internal/cache/redis"
	"github.com/wesso80/marketscannerpros-sub008/internal/config"
	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
	"github.com/wesso80/marketscannerpros-sub008/internal/metrics"
	"github.com/wesso80/marketscannerpros-sub008/internal/notify"
	"github.com/wesso80/marketscannerpros-sub008/internal/params"
	"github.com/wesso80/marketscannerpros-sub008/internal/server/handler"
	"github.com/wesso80/marketscannerpros-sub008/internal/session"
	"github.com/wesso80/marketscannerpros-sub008/internal/store/postgres"
)

// Dependencies bundles every concrete dependency the application modes need.
// It is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	AccountStore   domain.AccountStateStore
	PositionStore  domain.PositionStore
	VerdictStore   domain.VerdictStore
	TradeStore     domain.TradeRecordStore
	EvolutionStore domain.EvolutionStore
	AuditStore     domain.AuditStore

	// Caches and live inputs
	Quotes      domain.MarketDataProvider
	Regimes     domain.RegimeClassifier
	Snapshots   domain.SnapshotCache
	ParamCache  domain.ParameterCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Optional sinks; nil when not configured.
	Archiver  domain.Archiver
	Publisher domain.EventPublisher

	Registry *params.Registry
	Sessions *session.Model
	Notifier *notify.Notifier
	Metrics  *metrics.Metrics

	// HealthChecks ping each connected backend.
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
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{
		Registry:     params.NewRegistry(),
		HealthChecks: make(map[string]handler.HealthCheck),
	}

	loc, err := time.LoadLocation(cfg.Session.Timezone)
	if err != nil {
		return fail("session timezone", err)
	}
	deps.Sessions, err = session.NewModel(cfg.Session.Timezone)
	if err != nil {
		return fail("session model", err)
	}

	if cfg.Metrics.Enabled {
		deps.Metrics = metrics.New(cfg.Metrics.Namespace)
	}

	// --- PostgreSQL ---
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
		return fail("postgres", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			return fail("postgres migrations", err)
		}
	}

	pool := pgClient.Pool()
	deps.AccountStore = postgres.NewAccountStateStore(pool, loc)
	deps.PositionStore = postgres.NewPositionStore(pool)
	verdicts := postgres.NewVerdictStore(pool)
	deps.VerdictStore = verdicts
	deps.TradeStore = postgres.NewTradeRecordStore(pool)
	deps.EvolutionStore = postgres.NewEvolutionStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)
	deps.HealthChecks["postgres"] = pgClient.Ping

	// --- Redis ---
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

	deps.Quotes = redis.NewQuoteCache(redisClient, cfg.Risk.StaleAfter.Duration)
	deps.Regimes = redis.NewRegimeCache(redisClient)
	deps.Snapshots = redis.NewSnapshotCache(redisClient)
	deps.ParamCache = redis.NewParameterCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient, int64(cfg.Redis.EventBacklog))
	deps.HealthChecks["redis"] = redisClient.Ping

	// --- S3 archive (optional) ---
	if cfg.S3.Bucket != "" {
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
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			verdicts,
			deps.AuditStore,
			logger,
		)
		deps.HealthChecks["s3"] = s3Client.Health
	}

	// --- Kafka event log (optional) ---
	if cfg.Kafka.Enabled() {
		producer, err := kafka.New(kafka.Config{
			Brokers:  cfg.Kafka.Brokers,
			ClientID: cfg.Kafka.ClientID,
		})
		if err != nil {
			return fail("kafka", err)
		}
		closers = append(closers, func() { _ = producer.Close() })
		deps.Publisher = producer
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

	return deps, cleanup, nil
}
