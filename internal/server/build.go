package server

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-price-matcher/internal/api"
	"github.com/JakeFAU/realtime-price-matcher/internal/cache"
	"github.com/JakeFAU/realtime-price-matcher/internal/clock/system"
	"github.com/JakeFAU/realtime-price-matcher/internal/config"
	"github.com/JakeFAU/realtime-price-matcher/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/realtime-price-matcher/internal/fetcher/colly"
	"github.com/JakeFAU/realtime-price-matcher/internal/fetcher/headless"
	"github.com/JakeFAU/realtime-price-matcher/internal/id/uuid"
	"github.com/JakeFAU/realtime-price-matcher/internal/logging"
	"github.com/JakeFAU/realtime-price-matcher/internal/matcher"
	"github.com/JakeFAU/realtime-price-matcher/internal/orchestrator"
	"github.com/JakeFAU/realtime-price-matcher/internal/policy/ratelimit"
	"github.com/JakeFAU/realtime-price-matcher/internal/pricing"
	memorypublisher "github.com/JakeFAU/realtime-price-matcher/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/realtime-price-matcher/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/realtime-price-matcher/internal/queue/memory"
	"github.com/JakeFAU/realtime-price-matcher/internal/query"
	"github.com/JakeFAU/realtime-price-matcher/internal/source"
	"github.com/JakeFAU/realtime-price-matcher/internal/source/browsersource"
	"github.com/JakeFAU/realtime-price-matcher/internal/source/htmlsource"
	"github.com/JakeFAU/realtime-price-matcher/internal/source/jsonsource"
	gcsstorage "github.com/JakeFAU/realtime-price-matcher/internal/storage/gcs"
	localstorage "github.com/JakeFAU/realtime-price-matcher/internal/storage/local"
	memorystorage "github.com/JakeFAU/realtime-price-matcher/internal/storage/memory"
	pgstore "github.com/JakeFAU/realtime-price-matcher/internal/storage/postgres"
	redisstore "github.com/JakeFAU/realtime-price-matcher/internal/storage/redis"
	"github.com/JakeFAU/realtime-price-matcher/internal/telemetry"
	"github.com/JakeFAU/realtime-price-matcher/internal/worker"
)

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return BuildWithLogger(ctx, cfg, logger)
}

// BuildWithLogger is Build with a caller-supplied logger.
//
//nolint:funlen // wiring is linear
func BuildWithLogger(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	app := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.Close(context.Background())
		}
	}()
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.Int("sources", len(cfg.Sources)),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.String("storage_backend", cfg.Storage.Backend),
	)

	if cfg.Tracing.Enabled {
		tp, tErr := telemetry.InitTracerProvider(ctx, telemetry.Options{
			ServiceName: cfg.Tracing.ServiceName,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if tErr != nil {
			return nil, fmt.Errorf("tracer init failed: %w", tErr)
		}
		app.tracerShutdown = tp.Shutdown
	}

	clock := system.New()

	snapshots, err := setupStorage(ctx, app)
	if err != nil {
		return nil, err
	}
	if err = setupBrowser(app); err != nil {
		return nil, err
	}
	registry, err := setupSources(app, snapshots, clock)
	if err != nil {
		return nil, err
	}
	limiter := setupLimiter(app)

	store, err := setupCacheStore(ctx, app)
	if err != nil {
		return nil, err
	}
	cacheOpts := []cache.Option{cache.WithLogger(logging.Component(logger, "cache"))}
	if store != nil {
		cacheOpts = append(cacheOpts, cache.WithStore(store))
	}
	app.cache = cache.New(clock, cacheOpts...)

	match := matcher.New(matcher.Config{
		Threshold:            cfg.Matcher.MatchThreshold,
		PlausibilityFraction: cfg.Matcher.PlausibilityFraction,
		ImplausiblePenalty:   cfg.Matcher.ImplausiblePenalty,
	})
	orch, err := orchestrator.New(orchestrator.Config{
		MaxConcurrency: cfg.Matcher.MaxConcurrency,
		AdapterTimeout: cfg.AdapterTimeout(),
		JobDeadline:    cfg.JobDeadline(),
		RetryLimit:     cfg.Matcher.RetryLimit,
		RetryBackoff:   time.Duration(cfg.Matcher.RetryBackoffMs) * time.Millisecond,
		BlockedBackoff: time.Duration(cfg.Matcher.BlockedBackoffMs) * time.Millisecond,
	}, match, clock,
		orchestrator.WithLimiter(limiter),
		orchestrator.WithLogger(logging.Component(logger, "orchestrator")),
		orchestrator.WithTracer(telemetry.Tracer()),
	)
	if err != nil {
		return nil, fmt.Errorf("orchestrator init failed: %w", err)
	}

	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}

	jobStore := memorystorage.NewJobStore()
	app.queue = queuememory.NewQueue(cfg.Matcher.QueueDepth)
	workerCfg := worker.Config{Topic: cfg.PubSub.TopicName, CacheTTL: cfg.CacheTTL()}
	runners := make([]dispatcher.Runner, 0, cfg.Matcher.JobWorkers)
	for i := 0; i < cfg.Matcher.JobWorkers; i++ {
		runners = append(runners, worker.New(
			app.queue,
			jobStore,
			app.cache,
			publisher,
			orch,
			registry.Adapters(),
			clock,
			workerCfg,
			logging.Component(logger, "worker").With(zap.Int("index", i)),
		))
	}
	app.dispatch = dispatcher.New(app.queue, runners)

	app.service = query.NewService(jobStore, app.cache, app.dispatch, uuid.New(), clock,
		logging.Component(logger, "query"))

	ready := map[string]api.Pinger{}
	if p, ok := store.(api.Pinger); ok {
		ready["cache_store"] = p
	}
	apiKey := ""
	if cfg.Auth.Enabled {
		apiKey = cfg.Auth.APIKey
	}
	app.apiServer = api.NewServer(app.service, api.Options{
		APIKey:      apiKey,
		WaitTimeout: cfg.WaitTimeout(),
		Ready:       ready,
	}, logging.Component(logger, "api"))

	return app, nil
}

func setupStorage(ctx context.Context, app *App) (pricing.BlobStore, error) {
	switch app.cfg.Storage.Backend {
	case config.BackendGCS:
		app.logger.Info("using GCS snapshot storage", zap.String("bucket", app.cfg.Storage.GCSBucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.storage = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket: app.cfg.Storage.GCSBucket,
			Prefix: app.cfg.Storage.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobs, nil
	case config.BackendLocal:
		app.logger.Info("using local snapshot storage", zap.String("path", app.cfg.Storage.LocalDir))
		blobs, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobs, nil
	default:
		app.logger.Info("using in-memory snapshot storage")
		return memorystorage.NewBlobStore(), nil
	}
}

func setupBrowser(app *App) error {
	if !app.cfg.Headless.Enabled {
		return nil
	}
	browser, err := headless.NewChromedp(headless.Config{
		MaxParallel:       app.cfg.Headless.MaxParallel,
		UserAgent:         app.cfg.Matcher.UserAgent,
		NavigationTimeout: time.Duration(app.cfg.Headless.NavTimeoutMs) * time.Millisecond,
		SelectorWait:      time.Duration(app.cfg.Headless.SelectorWaitMs) * time.Millisecond,
	})
	if err != nil {
		return fmt.Errorf("headless browser init failed: %w", err)
	}
	app.browser = browser
	app.logger.Info("headless browser ready", zap.Int("max_parallel", app.cfg.Headless.MaxParallel))
	return nil
}

func setupSources(app *App, snapshots pricing.BlobStore, clock pricing.Clock) (*source.Registry, error) {
	registry := source.NewRegistry()
	logger := logging.Component(app.logger, "source")
	httpFetcher := func(s source.Settings) *collyfetcher.Fetcher {
		ua := s.UserAgent
		if ua == "" {
			ua = app.cfg.Matcher.UserAgent
		}
		return collyfetcher.New(collyfetcher.Config{
			UserAgent:     ua,
			RespectRobots: s.RespectRobots,
			Timeout:       app.cfg.AdapterTimeout(),
		})
	}
	registry.RegisterKind(source.KindHTML, func(s source.Settings) (pricing.SourceAdapter, error) {
		return htmlsource.New(s, httpFetcher(s),
			htmlsource.WithClock(clock), htmlsource.WithLogger(logger)), nil
	})
	registry.RegisterKind(source.KindJSON, func(s source.Settings) (pricing.SourceAdapter, error) {
		return jsonsource.New(s, httpFetcher(s),
			jsonsource.WithClock(clock), jsonsource.WithLogger(logger)), nil
	})
	registry.RegisterKind(source.KindBrowser, func(s source.Settings) (pricing.SourceAdapter, error) {
		var nav browsersource.Navigator = headless.NewNoop()
		if app.browser != nil {
			nav = app.browser
		}
		return browsersource.New(s, nav,
			browsersource.WithClock(clock),
			browsersource.WithLogger(logger),
			browsersource.WithSnapshots(snapshots),
		), nil
	})
	if err := registry.Build(app.cfg.Sources); err != nil {
		return nil, fmt.Errorf("source registry: %w", err)
	}
	app.logger.Info("sources registered", zap.Strings("names", registry.Names()))
	return registry, nil
}

func setupLimiter(app *App) *ratelimit.Limiter {
	limiter := ratelimit.New(ratelimit.Config{})
	for _, s := range app.cfg.Sources {
		limiter.Configure(s.Name, s.RPS, s.Burst)
		if s.RPS > 0 {
			app.logger.Debug("source rate limit",
				zap.String("source", s.Name),
				zap.Float64("rps", s.RPS),
				zap.Int("burst", s.Burst),
			)
		}
	}
	return limiter
}

func setupCacheStore(ctx context.Context, app *App) (cache.Store, error) {
	switch app.cfg.Cache.Backend {
	case config.BackendPostgres:
		pg := app.cfg.Cache.Postgres
		store, err := pgstore.NewCacheStore(ctx, pgstore.CacheStoreConfig{
			DSN:      pg.DSN,
			Table:    pg.Table,
			MaxConns: pg.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres cache store init failed: %w", err)
		}
		app.cacheStore = store
		app.logger.Info("postgres cache store initialized", zap.String("table", pg.Table))
		return store, nil
	case config.BackendRedis:
		rc := app.cfg.Cache.Redis
		store, err := redisstore.NewCacheStore(ctx, redisstore.Config{
			Addr:      rc.Addr,
			Password:  rc.Password,
			DB:        rc.DB,
			KeyPrefix: rc.KeyPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("redis cache store init failed: %w", err)
		}
		app.redisClose = store.Close
		app.logger.Info("redis cache store initialized", zap.String("addr", rc.Addr))
		return store, nil
	default:
		app.logger.Info("result cache is process-local")
		return nil, nil
	}
}

func setupPublisher(ctx context.Context, app *App) (pricing.Publisher, error) {
	if !app.cfg.PubSub.Enabled {
		app.logger.Info("Pub/Sub disabled, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubClient = client
	app.publisher = gcppublisher.New(client)
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return app.publisher, nil
}
