package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/storebuilder/internal/assets"
	"git.home.luguber.info/inful/storebuilder/internal/breaker"
	"git.home.luguber.info/inful/storebuilder/internal/cache"
	"git.home.luguber.info/inful/storebuilder/internal/catalog"
	"git.home.luguber.info/inful/storebuilder/internal/config"
	"git.home.luguber.info/inful/storebuilder/internal/credentials"
	"git.home.luguber.info/inful/storebuilder/internal/deploy"
	"git.home.luguber.info/inful/storebuilder/internal/eventstore"
	foundationerrors "git.home.luguber.info/inful/storebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/storebuilder/internal/generator"
	"git.home.luguber.info/inful/storebuilder/internal/jobs"
	"git.home.luguber.info/inful/storebuilder/internal/logfields"
	"git.home.luguber.info/inful/storebuilder/internal/metrics"
	"git.home.luguber.info/inful/storebuilder/internal/quota"
	"git.home.luguber.info/inful/storebuilder/internal/render"
	"git.home.luguber.info/inful/storebuilder/internal/retry"
	"git.home.luguber.info/inful/storebuilder/internal/seo"
	"git.home.luguber.info/inful/storebuilder/internal/storage"
	"git.home.luguber.info/inful/storebuilder/internal/tenant"
)

// App is the storebuilder stack wired from one configuration.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Metrics   *prom.Registry // nil when metrics are disabled
	Recorder  metrics.Recorder
	Breakers  *breaker.Registry
	Caches    *cache.Manager
	Objects   storage.ObjectStore
	Events    *eventstore.Recorder
	Jobs      *jobs.Manager
	Generator *generator.Generator

	closers []func() error
}

// BuildApp wires every collaborator. Network dependencies (Postgres, NATS,
// Redis) are only dialed when configured. Call Close when done.
func BuildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{Config: cfg, Logger: logger, Recorder: metrics.NoopRecorder{}}
	defer func() {
		if err != nil {
			_ = app.closeAll()
		}
	}()
	clock := clockwork.NewRealClock()

	if cfg.Metrics.Enabled {
		app.Metrics = metrics.NewRegistry()
		app.Recorder = metrics.NewPrometheusRecorder(app.Metrics)
	}
	rec := app.Recorder

	app.Breakers = breaker.NewRegistry(breaker.SettingsFromConfig(cfg.Breakers),
		breaker.WithClock(clock),
		breaker.WithStateHook(func(name string, from, to breaker.State) {
			rec.SetBreakerState(name, int(to))
			logger.Warn("Circuit breaker state changed",
				logfields.Dependency(name),
				logfields.BreakerState(to.String()),
				slog.String("from", from.String()))
		}))

	remote, err := app.openRemote(ctx)
	if err != nil {
		return nil, err
	}
	observer := func(tier string, r cache.Result) { rec.IncCacheResult(tier, r.String()) }

	catalogOpts := []cache.Option[*catalog.Catalog]{cache.WithObserver[*catalog.Catalog](observer)}
	assetOpts := []cache.Option[*assets.Record]{cache.WithObserver[*assets.Record](observer)}
	if remote != nil {
		catalogOpts = append(catalogOpts, cache.WithRemote[*catalog.Catalog](remote, cache.JSONCodec[*catalog.Catalog]{}))
		assetOpts = append(assetOpts, cache.WithRemote[*assets.Record](remote, cache.JSONCodec[*assets.Record]{}))
	}
	// Plans hold compiled components and stay process-local.
	catalogTier := cache.NewTier("catalog", config.ParseDuration(cfg.Cache.CatalogTTL, 5*time.Minute), catalogOpts...)
	templateTier := cache.NewTier("templates", config.ParseDuration(cfg.Cache.TemplateTTL, time.Hour),
		cache.WithObserver[*render.Plan](observer))
	assetTier := cache.NewTier("assets", config.ParseDuration(cfg.Cache.AssetTTL, 24*time.Hour), assetOpts...)
	app.Caches = cache.NewManager(catalogTier, templateTier, assetTier)

	catalogs, err := app.openCatalog(ctx)
	if err != nil {
		return nil, err
	}

	sources := render.ChainSource{}
	if cfg.Render.TemplatesDir != "" {
		sources = append(sources, render.DirSource{Dir: cfg.Render.TemplatesDir})
	}
	sources = append(sources, render.NewMemorySource(render.Classic()))
	engine := render.NewEngine(sources, render.WithTier(templateTier), render.WithLogger(logger))

	if cfg.Assets.StorageDir != "" {
		objects, err := storage.NewFSStore(cfg.Assets.StorageDir)
		if err != nil {
			return nil, foundationerrors.WrapError(err, foundationerrors.CategoryConfig, "open asset storage").Build()
		}
		app.Objects = objects
	} else {
		app.Objects = storage.NewMemoryStore()
	}
	var assetSource assets.SourceProvider = assets.NewMemorySource()
	if cfg.Assets.SourceDir != "" {
		assetSource = assets.DirSource{Dir: cfg.Assets.SourceDir}
	}
	pipeline := assets.New(assetSource, app.Objects,
		assets.WithSpec(assets.SpecFromConfig(cfg.Assets)),
		assets.WithParallelism(cfg.Assets.Parallelism),
		assets.WithCDNBaseURL(cfg.Assets.CDNBaseURL),
		assets.WithTier(assetTier),
		assets.WithBreaker(app.Breakers.Get(breaker.AssetBackend)),
		assets.WithRecorder(rec),
		assets.WithLogger(logger))

	bindings, err := deploy.BindingsFromConfig(cfg.Deploy.Targets, clock)
	if err != nil {
		return nil, err
	}
	gateway := deploy.NewGateway(bindings, append(deploy.OptionsFromConfig(cfg.Deploy),
		deploy.WithCredentials(credentials.EnvStore{}),
		deploy.WithBreakers(app.Breakers),
		deploy.WithRecorder(rec),
		deploy.WithLogger(logger),
		deploy.WithClock(clock))...)

	if err := app.openEvents(); err != nil {
		return nil, err
	}

	if err := ensureParent(cfg.Store.Path); err != nil {
		return nil, err
	}
	jobStore, err := jobs.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, jobStore.Close)
	app.Jobs = jobs.NewManager(cfg.Jobs.MaxConcurrent, cfg.Jobs.QueueSize, append(jobs.OptionsFromConfig(cfg.Jobs),
		jobs.WithStore(jobStore),
		jobs.WithEmitter(app.Events),
		jobs.WithRecorder(rec),
		jobs.WithLogger(logger),
		jobs.WithClock(clock))...)

	app.Generator, err = generator.New(generator.Deps{
		Tenants:     tenant.NewFileProvider(cfg.Tenants.Dir),
		Catalogs:    catalogs,
		Renderer:    engine,
		Assets:      pipeline,
		SEO:         seo.New(seo.SettingsFromConfig(cfg.SEO), logger),
		Gateway:     gateway,
		Jobs:        app.Jobs,
		CatalogTier: catalogTier,
		Quota:       quota.NewManager(quota.LimitsFromConfig(cfg.Jobs), clock),
		Breakers:    app.Breakers,
		Retry:       retry.FromConfig(cfg.Retry),
		Logger:      logger,
		Clock:       clock,
	}, generator.SettingsFromConfig(cfg))
	if err != nil {
		return nil, err
	}
	return app, nil
}

// Start repairs jobs a previous process left behind and launches workers.
func (a *App) Start(ctx context.Context) error {
	n, err := a.Jobs.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover jobs: %w", err)
	}
	if n > 0 {
		a.Logger.Warn("Recovered interrupted jobs", logfields.Count(n))
	}
	a.Jobs.Start(ctx)
	return nil
}

// Close stops the job manager and releases every connection.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Jobs != nil {
		if err := a.Jobs.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.closeAll(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) openRemote(ctx context.Context) (cache.Remote, error) {
	c := a.Config.Cache
	maxTTL := max(
		config.ParseDuration(c.CatalogTTL, 5*time.Minute),
		config.ParseDuration(c.AssetTTL, 24*time.Hour))
	var (
		remote cache.Remote
		err    error
	)
	switch c.Remote {
	case config.RemoteCacheNATS:
		remote, err = cache.NewNATSRemote(ctx, c.NATSURL, c.NATSBucket, maxTTL)
	case config.RemoteCacheRedis:
		remote, err = cache.NewRedisRemote(ctx, c.RedisAddr, os.Getenv("STOREBUILDER_REDIS_PASSWORD"), 0, c.RedisPrefix)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, foundationerrors.WrapError(err, foundationerrors.CategoryConfig, "connect remote cache").
			WithContext("remote", string(c.Remote)).
			Build()
	}
	a.closers = append(a.closers, remote.Close)
	a.Logger.Info("Remote cache tier connected", slog.String("remote", string(c.Remote)))
	return remote, nil
}

func (a *App) openCatalog(ctx context.Context) (catalog.Provider, error) {
	t := a.Config.Tenants
	switch {
	case t.PostgresDSN != "":
		p, err := catalog.NewPostgresProvider(ctx, t.PostgresDSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { p.Close(); return nil })
		if err := p.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return p, nil
	case t.CatalogDir != "":
		return catalog.NewFileProvider(t.CatalogDir), nil
	default:
		return nil, foundationerrors.ConfigError("no catalog source configured (set tenants.catalog_dir or tenants.postgres_dsn)").Build()
	}
}

func (a *App) openEvents() error {
	path := eventsPath(a.Config.Store.Path)
	if err := ensureParent(path); err != nil {
		return err
	}
	store, err := eventstore.NewSQLiteStore(path)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, store.Close)

	var publishers []eventstore.Publisher
	if url := a.Config.Events.NATSURL; url != "" {
		pub, err := eventstore.NewNATSPublisher(url, a.Config.Events.Subject)
		if err != nil {
			return foundationerrors.WrapError(err, foundationerrors.CategoryConfig, "connect event publisher").Build()
		}
		a.closers = append(a.closers, pub.Close)
		publishers = append(publishers, pub)
	}
	a.Events = eventstore.NewRecorder(store, a.Logger, publishers...)
	return nil
}

// eventsPath places the event log next to the job store.
func eventsPath(storePath string) string {
	if storePath == ":memory:" {
		return storePath
	}
	ext := filepath.Ext(storePath)
	return strings.TrimSuffix(storePath, ext) + "-events" + ext
}

func ensureParent(path string) error {
	if path == ":memory:" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	return nil
}
