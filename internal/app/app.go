// Package app wires the sync engine from configuration. Both service binaries
// build on it so the API and the scheduler share one dependency graph.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"example.com/wearablesync/internal/auth"
	"example.com/wearablesync/internal/config"
	"example.com/wearablesync/internal/domain"
	"example.com/wearablesync/internal/downstream"
	"example.com/wearablesync/internal/outbox"
	"example.com/wearablesync/internal/persistence/memory"
	"example.com/wearablesync/internal/persistence/postgres"
	"example.com/wearablesync/internal/syncer"
	"example.com/wearablesync/internal/tokencrypt"
	"example.com/wearablesync/internal/tokens"
	"example.com/wearablesync/internal/whoop"
)

const serviceSubject = "wearable-sync"

// Store is every repository the engine needs.
type Store interface {
	domain.ConnectionRepository
	domain.TokenRepository
	domain.MetricRepository
	domain.SyncLogRepository
}

// App holds the wired engine.
type App struct {
	Config       config.Config
	Logger       *zap.Logger
	Store        Store
	Pool         *pgxpool.Pool // nil for the memory backend.
	OAuth        *whoop.OAuthClient
	Orchestrator *syncer.Orchestrator
	Batch        *syncer.BatchRunner
	Connector    *syncer.Connector
}

// AuthConfig returns the bearer token verification parameters.
func (a *App) AuthConfig() auth.Config {
	return auth.Config{Secret: a.Config.JWTSecret, Issuer: a.Config.JWTIssuer}
}

// Build wires the engine. Close must be called to release the database pool.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	a.Store = store

	a.OAuth = whoop.NewOAuthClient(whoop.OAuthConfig{
		AuthURL:      cfg.VendorAuthURL,
		TokenURL:     cfg.VendorTokenURL,
		ClientID:     cfg.VendorClientID,
		ClientSecret: cfg.VendorClientSecret,
		RedirectURL:  cfg.VendorRedirectURL,
		Scopes:       cfg.VendorScopes,
	}, &http.Client{Timeout: 15 * time.Second})

	// One limiter for every user sync so a batch cannot exceed the vendor quota.
	limiter := rate.NewLimiter(rate.Limit(cfg.VendorRequestRate), max(cfg.VendorRequestBurst, 1))
	fetcher := whoop.NewClient(cfg.VendorBaseURL,
		whoop.WithLimiter(limiter),
		whoop.WithPageSize(cfg.PageSize),
		whoop.WithRetryPolicy(whoop.RetryPolicy{
			MaxAttempts:  cfg.RetryAttempts,
			InitialDelay: cfg.RetryInitialDelay,
			MaxDelay:     cfg.RetryMaxDelay,
			Multiplier:   2,
		}),
		whoop.WithLogger(logger.Named("whoop")),
	)

	tokenManager := tokens.NewManager(store, store, a.OAuth,
		tokens.WithRefreshBuffer(cfg.RefreshBuffer),
		tokens.WithPlatform(cfg.Platform),
		tokens.WithLogger(logger.Named("tokens")),
	)

	deps := syncer.Dependencies{
		Connections: store,
		Metrics:     store,
		SyncLogs:    store,
		Tokens:      tokenManager,
		Fetcher:     fetcher,
	}
	if cfg.DownstreamBaseURL != "" {
		client := downstream.NewClient(cfg.DownstreamBaseURL, cfg.DownstreamTimeout,
			downstream.ServiceToken(a.AuthConfig(), serviceSubject))
		deps.Aggregator, deps.Alerts, deps.Assigner = client, client, client
	}

	a.Orchestrator = syncer.NewOrchestrator(deps,
		syncer.WithWindows(cfg.InitialWindowDays, cfg.IncrementalWindow),
		syncer.WithPlatform(cfg.Platform),
		syncer.WithLogger(logger.Named("sync")),
	)
	a.Batch = syncer.NewBatchRunner(store, a.Orchestrator,
		syncer.WithConcurrency(cfg.SyncConcurrency),
		syncer.WithBatchPlatform(cfg.Platform),
		syncer.WithBatchLogger(logger.Named("batch")),
	)
	a.Connector = syncer.NewConnector(a.OAuth, store, store, logger.Named("connect"))
	return a, nil
}

func (a *App) openStore(ctx context.Context) (Store, error) {
	switch a.Config.StoreBackend {
	case "memory":
		a.Logger.Warn("using in-memory store; data is lost on restart")
		return memory.NewStore(), nil
	case "postgres", "":
	default:
		return nil, fmt.Errorf("unknown store backend %q", a.Config.StoreBackend)
	}

	key, err := tokencrypt.ParseKey(a.Config.TokenEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("token encryption key: %w", err)
	}
	sealer, err := tokencrypt.NewSealer(key)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, a.Config.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	a.Pool = pool
	return postgres.NewRepository(pool, sealer, a.Config.OutboxTopic), nil
}

// Dispatcher returns the outbox dispatcher, or nil without a database.
func (a *App) Dispatcher() (*outbox.Dispatcher, *outbox.KafkaProducer) {
	if a.Pool == nil {
		return nil, nil
	}
	producer := outbox.NewKafkaProducer(outbox.ProducerConfig{Brokers: a.Config.KafkaBrokers}, a.Logger.Named("kafka"))
	registry := outbox.NewSchemaRegistryClient(a.Config.SchemaRegistryURL)
	return outbox.NewDispatcher(outbox.NewPGStore(a.Pool), producer, registry,
		outbox.WithPollInterval(a.Config.OutboxPollInterval),
		outbox.WithBatchSize(a.Config.OutboxBatchSize),
		outbox.WithSchemaCacheTTL(a.Config.SchemaCacheTTL),
		outbox.WithDispatcherLogger(a.Logger.Named("outbox")),
	), producer
}

// Replayer returns the dead-letter replayer, or nil without a database.
func (a *App) Replayer() *outbox.Replayer {
	if a.Pool == nil {
		return nil
	}
	return outbox.NewReplayer(outbox.NewPGStore(a.Pool), a.Config.DLQMaxRetries, a.Config.DLQBaseDelay, a.Logger.Named("dlq"))
}

// Close releases the database pool.
func (a *App) Close() {
	if a.Pool != nil {
		a.Pool.Close()
	}
}
