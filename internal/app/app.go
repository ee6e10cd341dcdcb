// Package app assembles the application from its components and owns
// their lifecycle.
package app

import (
	"strconv"
	"time"

	"visitor-tracker/internal/common/logging"
	"visitor-tracker/internal/config"
	"visitor-tracker/internal/enrichment"
	"visitor-tracker/internal/ratelimit"
	"visitor-tracker/internal/redis"
	"visitor-tracker/internal/retention"
	"visitor-tracker/internal/storage"
	"visitor-tracker/internal/storage/postgres"
	"visitor-tracker/internal/storage/sqlite"
	"visitor-tracker/internal/visitors"
)

// App holds all the application dependencies
type App struct {
	Config      *config.Config
	Storage     storage.Storage
	RedisClient *redis.Client
	Cache       visitors.Cache
	Limiter     *ratelimit.Limiter
	Aggregator  *enrichment.Aggregator
	Resolver    *visitors.Resolver
	Lifecycle   *visitors.Lifecycle
	Flusher     *visitors.Flusher
	Sweeper     *retention.Sweeper
	Logger      logging.Logger
}

// New creates a new application instance with all dependencies wired in
// order: storage and Redis first, then the services built on them.
func New(cfg *config.Config) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "app"}),
	}

	if err := app.initializeStorage(); err != nil {
		return nil, err
	}
	if err := app.initializeRedis(); err != nil {
		return nil, err
	}
	if err := app.initializeServices(); err != nil {
		return nil, err
	}

	return app, nil
}

func (app *App) initializeStorage() error {
	factory := storage.NewFactory(
		func(cfg *config.Config) (storage.Storage, error) {
			return postgres.NewAdapter(&postgres.Config{
				Host:     cfg.PostgresHost,
				Port:     cfg.PostgresPort,
				Database: cfg.PostgresDB,
				Username: cfg.PostgresUser,
				Password: cfg.PostgresPassword,
				SSLMode:  cfg.PostgresSSLMode,
			})
		},
		func(cfg *config.Config) (storage.Storage, error) {
			return sqlite.NewAdapter(&sqlite.Config{
				DatabasePath: cfg.DatabasePath,
			})
		},
	)

	store, err := factory.Create(app.Config)
	if err != nil {
		return err
	}

	app.Storage = store
	app.Logger.Info("storage initialized", logging.String("type", app.Config.DatabaseType))
	return nil
}

func (app *App) initializeRedis() error {
	db, _ := strconv.Atoi(app.Config.RedisDB)
	poolSize, _ := strconv.Atoi(app.Config.RedisPoolSize)

	client, err := redis.NewClient(&redis.Config{
		Address:  app.Config.RedisAddress,
		Password: app.Config.RedisPassword,
		DB:       db,
		PoolSize: poolSize,
	})
	if err != nil {
		return err
	}

	app.RedisClient = client
	app.Logger.Info("redis initialized", logging.String("address", app.Config.RedisAddress))
	return nil
}

func (app *App) initializeServices() error {
	cacheTTL, err := time.ParseDuration(app.Config.CacheTTL)
	if err != nil {
		return err
	}
	window, err := time.ParseDuration(app.Config.RateLimitWindow)
	if err != nil {
		return err
	}
	flushInterval, err := time.ParseDuration(app.Config.FlushInterval)
	if err != nil {
		return err
	}
	batchSize, err := strconv.Atoi(app.Config.FlushBatchSize)
	if err != nil {
		return err
	}
	retentionDays, err := strconv.Atoi(app.Config.RetentionDays)
	if err != nil {
		return err
	}

	app.Cache = visitors.NewRedisCache(app.RedisClient, cacheTTL, app.Logger)
	app.Limiter = ratelimit.NewLimiter(app.RedisClient, &ratelimit.Config{
		Window:  window,
		Enabled: app.Config.RateLimitEnabled,
	})

	providerConfigs, err := app.Config.Providers()
	if err != nil {
		return err
	}
	providers := make([]*enrichment.Provider, 0, len(providerConfigs))
	for _, pc := range providerConfigs {
		timeout, _ := time.ParseDuration(pc.Timeout)
		providers = append(providers, enrichment.NewProvider(enrichment.ProviderConfig{
			Name:     pc.Name,
			BaseURL:  pc.BaseURL,
			APIKey:   pc.APIKey,
			Timeout:  timeout,
			Priority: pc.Priority,
		}, app.Logger))
	}
	app.Aggregator = enrichment.NewAggregator(providers, app.Logger)

	app.Flusher = visitors.NewFlusher(app.Storage, app.RedisClient, flushInterval, batchSize, app.Logger)
	app.Lifecycle = visitors.NewLifecycle(app.Storage, app.Cache, app.Flusher,
		time.Duration(retentionDays)*24*time.Hour, app.Logger)
	app.Resolver = visitors.NewResolver(app.Storage, app.Cache, app.Limiter, app.Aggregator, app.Logger)
	app.Sweeper = retention.NewSweeper(app.Storage, app.Cache, app.Config.RetentionSchedule, app.Logger)

	app.Logger.Info("services initialized",
		logging.Int("enrichment_providers", len(providers)),
		logging.Duration("cache_ttl", cacheTTL),
		logging.Duration("flush_interval", flushInterval))
	return nil
}

// Start launches the background workers.
func (app *App) Start() error {
	app.Flusher.Start()
	return app.Sweeper.Start()
}

// Cleanup stops the background workers and closes connections. The
// flusher is stopped first so its final drain still has storage.
func (app *App) Cleanup() {
	if app.Flusher != nil {
		app.Flusher.Stop()
	}
	if app.Sweeper != nil {
		app.Sweeper.Stop()
	}
	if app.RedisClient != nil {
		if err := app.RedisClient.Close(); err != nil {
			app.Logger.Warn("error closing redis client", logging.Err(err))
		}
	}
	if app.Storage != nil {
		if err := app.Storage.Close(); err != nil {
			app.Logger.Warn("error closing storage", logging.Err(err))
		}
	}
}
