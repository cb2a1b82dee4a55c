// Package server builds the application from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	goredis "github.com/redis/go-redis/v9"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/batch-crawler/internal/admission"
	"github.com/JakeFAU/batch-crawler/internal/api"
	"github.com/JakeFAU/batch-crawler/internal/batch"
	memorycache "github.com/JakeFAU/batch-crawler/internal/cache/memory"
	rediscache "github.com/JakeFAU/batch-crawler/internal/cache/redis"
	"github.com/JakeFAU/batch-crawler/internal/clock/system"
	"github.com/JakeFAU/batch-crawler/internal/config"
	"github.com/JakeFAU/batch-crawler/internal/crawler"
	"github.com/JakeFAU/batch-crawler/internal/dispatcher"
	"github.com/JakeFAU/batch-crawler/internal/engine"
	collyfetcher "github.com/JakeFAU/batch-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/batch-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/batch-crawler/internal/hash/sha256"
	"github.com/JakeFAU/batch-crawler/internal/headless/detector"
	"github.com/JakeFAU/batch-crawler/internal/id/uuid"
	"github.com/JakeFAU/batch-crawler/internal/logging"
	"github.com/JakeFAU/batch-crawler/internal/metrics"
	"github.com/JakeFAU/batch-crawler/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/batch-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/batch-crawler/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/batch-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/batch-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/batch-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/batch-crawler/internal/storage/postgres"
	"github.com/JakeFAU/batch-crawler/internal/strategy"
	"github.com/JakeFAU/batch-crawler/internal/telemetry"
)

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	apiServer *api.Server
	service   *batch.Service
	pool      *dispatcher.Pool
	checks    []api.ReadinessCheck

	headless        *headlessfetcher.Renderer
	redisClient     *goredis.Client
	countStore      *pgstore.CountStore
	storage         *storage.Client
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	tracer          *sdktrace.TracerProvider

	closeOnce sync.Once
}

// Service exposes the batch service for in-process callers such as the CLI.
func (a *App) Service() *batch.Service {
	return a.service
}

// Config returns the configuration the app was built from.
func (a *App) Config() *config.Config {
	return a.cfg
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Start launches the worker pool. The pool stops when ctx ends.
func (a *App) Start(ctx context.Context) {
	a.pool.Start(ctx)
}

// Run starts the worker pool and the HTTP server and blocks until ctx is
// canceled or SIGINT/SIGTERM arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The pool outlives the signal context so in-flight batches can drain
	// while the HTTP server shuts down.
	poolCtx, stopPool := context.WithCancel(context.WithoutCancel(ctx))
	defer stopPool()
	a.Start(poolCtx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := time.Duration(a.cfg.Server.ShutdownTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	stopPool()
	closeErr := a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// Close drains the worker pool and releases every client. Calls after the
// first are no-ops.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.pool.Close()
		a.closeInfrastructure()
		a.logger.Info("shutdown complete")
		a.closeObservability(ctx)
	})
	return nil
}

func (a *App) closeInfrastructure() {
	if a.headless != nil {
		a.headless.Close()
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.countStore != nil {
		a.countStore.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// Build creates the application's dependencies. On error, whatever was
// already opened is closed before returning.
func Build(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.closeInfrastructure()
		}
	}()
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.Int("admission_capacity", cfg.Admission.MaxConcurrentRequests),
		zap.Int("pool_workers", cfg.Pool.Workers),
	)

	if cfg.Tracing.Enabled {
		app.tracer, err = telemetry.InitTracerProvider(ctx, telemetry.Config{
			ServiceName: cfg.Tracing.ServiceName,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if err != nil {
			return nil, fmt.Errorf("tracer init failed: %w", err)
		}
	}

	pageCache, err := setupCache(ctx, app)
	if err != nil {
		return nil, err
	}
	counts, err := setupCounts(ctx, app)
	if err != nil {
		return nil, err
	}
	blobs, err := setupStorage(ctx, app)
	if err != nil {
		return nil, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}

	eng, err := setupEngine(app, pageCache, counts, blobs)
	if err != nil {
		return nil, err
	}

	registry := strategy.NewRegistry(logger.Named("strategy"))
	if err = strategy.RegisterBuiltins(registry, strategy.BuiltinConfig{LLM: strategy.LLMConfig{
		APIKey:    cfg.LLM.APIKey,
		Model:     cfg.LLM.Model,
		MaxTokens: cfg.LLM.MaxTokens,
		BaseURL:   cfg.LLM.BaseURL,
	}}); err != nil {
		return nil, fmt.Errorf("strategy registry init failed: %w", err)
	}

	app.pool, err = dispatcher.NewPool(dispatcher.Config{
		Workers:       cfg.Pool.Workers,
		QueueDepth:    cfg.Pool.QueueDepth,
		SubmitTimeout: cfg.SubmitTimeout(),
	}, logger.Named("pool"))
	if err != nil {
		return nil, fmt.Errorf("worker pool init failed: %w", err)
	}

	gate, err := admission.New(cfg.Admission.MaxConcurrentRequests)
	if err != nil {
		return nil, fmt.Errorf("admission init failed: %w", err)
	}

	app.service, err = batch.New(batch.Deps{
		Admission:  gate,
		Strategies: registry,
		Dispatcher: dispatcher.New(app.pool, eng, logger.Named("dispatcher")),
		Cache:      pageCache,
		Counts:     counts,
		Publisher:  publisher,
		IDs:        uuid.New(),
		Clock:      system.New(),
	}, batch.Config{
		Topic:   cfg.PubSub.TopicName,
		MaxURLs: cfg.Crawler.MaxURLsPerBatch,
	}, logger.Named("batch"))
	if err != nil {
		return nil, fmt.Errorf("batch service init failed: %w", err)
	}

	app.apiServer = api.NewServer(app.service, *cfg, logger.Named("api"), app.checks...)
	return app, nil
}

func setupCache(ctx context.Context, app *App) (crawler.PageCache, error) {
	switch app.cfg.Cache.Backend {
	case config.BackendRedis:
		cache, client, err := rediscache.New(ctx, rediscache.Config{
			Addr:      app.cfg.Cache.Redis.Address,
			Password:  app.cfg.Cache.Redis.Password,
			DB:        app.cfg.Cache.Redis.DB,
			KeyPrefix: app.cfg.Cache.KeyPrefix,
			TTL:       app.cfg.CacheTTL(),
		})
		if err != nil {
			return nil, fmt.Errorf("redis cache init failed: %w", err)
		}
		app.redisClient = client
		app.checks = append(app.checks, api.ReadinessCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return client.Ping(ctx).Err() },
		})
		app.logger.Info("using redis page cache", zap.String("address", app.cfg.Cache.Redis.Address))
		return cache, nil
	case config.BackendNone:
		app.logger.Info("page cache disabled")
		return nil, nil
	default:
		app.logger.Info("using in-memory page cache", zap.Duration("ttl", app.cfg.CacheTTL()))
		return memorycache.New(app.cfg.CacheTTL()), nil
	}
}

func setupCounts(ctx context.Context, app *App) (crawler.CountStore, error) {
	if app.cfg.Database.DSN == "" {
		app.logger.Warn("No DSN specified for database, keeping processed counts in memory")
		return memorystorage.NewCountStore(), nil
	}
	store, err := pgstore.NewCountStore(ctx, pgstore.Config{
		DSN:             app.cfg.Database.DSN,
		Table:           app.cfg.Database.Table,
		MaxConns:        app.cfg.Database.MaxConns,
		MinConns:        app.cfg.Database.MinConns,
		MaxConnLifetime: time.Duration(app.cfg.Database.MaxConnLifetimeMinutes) * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("count store init failed: %w", err)
	}
	app.countStore = store
	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("count store migration failed: %w", err)
	}
	app.checks = append(app.checks, api.ReadinessCheck{
		Name: "postgres",
		Check: func(ctx context.Context) error {
			_, err := store.Count(ctx)
			return err
		},
	})
	app.logger.Info("count store initialized", zap.String("table", app.cfg.Database.Table))
	return store, nil
}

func setupStorage(ctx context.Context, app *App) (crawler.BlobStore, error) {
	switch app.cfg.Storage.Backend {
	case config.BackendGCS:
		app.logger.Info("using GCS storage backend", zap.String("bucket", app.cfg.Storage.Bucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.storage = client
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: app.cfg.Storage.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return store, nil
	case config.BackendLocal:
		app.logger.Info("using local storage backend", zap.String("path", app.cfg.Storage.BaseDir))
		store, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return store, nil
	case config.BackendNone:
		app.logger.Info("page archiving disabled")
		return nil, nil
	default:
		app.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	}
}

func setupPublisher(ctx context.Context, app *App) (crawler.Publisher, error) {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("No Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubClient = client
	app.pubsubPublisher = gcppublisher.New(client, app.cfg.PubSub.TopicName)
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return app.pubsubPublisher, nil
}

func setupEngine(app *App, cache crawler.PageCache, counts crawler.CountStore, blobs crawler.BlobStore) (*engine.Engine, error) {
	cfg := app.cfg
	static := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		RespectRobots: cfg.Crawler.RespectRobots,
		Timeout:       cfg.FetchTimeout(),
		MaxBodyBytes:  cfg.Crawler.MaxPageBytes,
	})
	app.logger.Info("using colly fetcher", zap.String("user_agent", cfg.Crawler.UserAgent))

	deps := engine.Deps{
		Fetcher: static,
		Cache:   cache,
		Counts:  counts,
		Clock:   system.New(),
	}
	if blobs != nil {
		deps.Blobs = blobs
		deps.Archiver = sha256.New()
	}
	if cfg.Headless.Enabled {
		headless, err := headlessfetcher.New(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
			SettleDelay:       time.Duration(cfg.Headless.SettleMillis) * time.Millisecond,
			MaxBodyBytes:      cfg.Crawler.MaxPageBytes,
		})
		if err != nil {
			app.logger.Warn("headless fetcher init failed, continuing without it", zap.Error(err))
		} else {
			app.headless = headless
			deps.Headless = headless
			deps.Detector = detector.NewHeuristic(cfg.Headless.PromotionThresh)
			app.logger.Info("using headless fetcher", zap.Int("max_parallel", cfg.Headless.MaxParallel))
		}
	}
	if cfg.RateLimit.Enabled {
		deps.Limiter = ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.RateLimit.DefaultRPS,
			DefaultBurst: cfg.RateLimit.DefaultBurst,
		})
		app.logger.Info("rate limiter enabled",
			zap.Float64("default_rps", cfg.RateLimit.DefaultRPS),
			zap.Int("default_burst", cfg.RateLimit.DefaultBurst),
		)
	}

	eng, err := engine.New(deps, engine.Config{
		BlobPrefix:  cfg.Storage.Prefix,
		ContentType: cfg.Storage.ContentType,
		Blocklist:   cfg.Crawler.Blocklist,
	}, app.logger.Named("engine"))
	if err != nil {
		return nil, fmt.Errorf("engine init failed: %w", err)
	}
	return eng, nil
}
