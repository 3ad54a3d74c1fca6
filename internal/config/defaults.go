package config

// DefaultApplier applies defaults for a specific configuration domain.
type DefaultApplier interface {
	ApplyDefaults(cfg *Config) error
	Domain() string
}

func defaultAppliers() []DefaultApplier {
	return []DefaultApplier{
		&serverDefaults{},
		&jobsDefaults{},
		&breakerDefaults{},
		&cacheDefaults{},
		&renderDefaults{},
		&assetDefaults{},
		&seoDefaults{},
		&deployDefaults{},
		&runtimeDefaults{},
	}
}

func applyDefaults(cfg *Config) error {
	if cfg.Version == "" {
		cfg.Version = "1.0"
	}
	for _, a := range defaultAppliers() {
		if err := a.ApplyDefaults(cfg); err != nil {
			return err
		}
	}
	return nil
}

type serverDefaults struct{}

func (serverDefaults) Domain() string { return "server" }

func (serverDefaults) ApplyDefaults(cfg *Config) error {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.RequestTimeout == "" {
		cfg.Server.RequestTimeout = "30s"
	}
	if cfg.Server.ShutdownTimeout == "" {
		cfg.Server.ShutdownTimeout = "15s"
	}
	return nil
}

type jobsDefaults struct{}

func (jobsDefaults) Domain() string { return "jobs" }

func (jobsDefaults) ApplyDefaults(cfg *Config) error {
	j := &cfg.Jobs
	if j.MaxConcurrent <= 0 {
		j.MaxConcurrent = 5
	}
	if j.QueueSize <= 0 {
		j.QueueSize = 100
	}
	if j.Timeout == "" {
		j.Timeout = "30s"
	}
	if j.HistorySize <= 0 {
		j.HistorySize = 200
	}
	if j.MaxActivePerTenant <= 0 {
		j.MaxActivePerTenant = 1
	}
	if j.Weights.Total() == 0 {
		j.Weights = StageWeights{Fetch: 0, Render: 30, Optimize: 40, SEO: 10, Deploy: 20}
	}
	return nil
}

type breakerDefaults struct{}

func (breakerDefaults) Domain() string { return "breakers" }

func (breakerDefaults) ApplyDefaults(cfg *Config) error {
	d := &cfg.Breakers.Defaults
	if d.FailureThreshold <= 0 {
		d.FailureThreshold = 5
	}
	if d.Window == "" {
		d.Window = "1m"
	}
	if d.Cooldown == "" {
		d.Cooldown = "30s"
	}
	if cfg.Retry.Mode == "" {
		cfg.Retry.Mode = RetryBackoffExponential
	} else if m := NormalizeRetryBackoff(string(cfg.Retry.Mode)); m != "" {
		cfg.Retry.Mode = m
	}
	if cfg.Retry.InitialDelay == "" {
		cfg.Retry.InitialDelay = "200ms"
	}
	if cfg.Retry.MaxDelay == "" {
		cfg.Retry.MaxDelay = "2s"
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry.MaxRetries = 2
	}
	return nil
}

type cacheDefaults struct{}

func (cacheDefaults) Domain() string { return "cache" }

func (cacheDefaults) ApplyDefaults(cfg *Config) error {
	c := &cfg.Cache
	if c.CatalogTTL == "" {
		c.CatalogTTL = "2m"
	}
	if c.TemplateTTL == "" {
		c.TemplateTTL = "30m"
	}
	if c.AssetTTL == "" {
		c.AssetTTL = "168h"
	}
	if c.Remote == "" {
		c.Remote = RemoteCacheNone
	}
	if c.NATSBucket == "" {
		c.NATSBucket = "storebuilder-cache"
	}
	if c.RedisPrefix == "" {
		c.RedisPrefix = "storebuilder:"
	}
	return nil
}

type renderDefaults struct{}

func (renderDefaults) Domain() string { return "render" }

func (renderDefaults) ApplyDefaults(cfg *Config) error {
	r := &cfg.Render
	if r.DefaultTemplate == "" {
		r.DefaultTemplate = "classic"
	}
	if r.DefaultLocale == "" {
		r.DefaultLocale = "en-US"
	}
	if r.ProductsPerPage <= 0 {
		r.ProductsPerPage = 48
	}
	return nil
}

type assetDefaults struct{}

func (assetDefaults) Domain() string { return "assets" }

func (assetDefaults) ApplyDefaults(cfg *Config) error {
	a := &cfg.Assets
	if a.Parallelism <= 0 {
		a.Parallelism = 8
	}
	if len(a.Widths) == 0 {
		a.Widths = []int{320, 640, 1280}
	}
	if a.PrimaryFormat == "" {
		a.PrimaryFormat = "webp"
	}
	if a.FallbackFormat == "" {
		a.FallbackFormat = "jpeg"
	}
	if a.Quality <= 0 {
		a.Quality = 80
	}
	if a.PlaceholderSize <= 0 {
		a.PlaceholderSize = 16
	}
	if a.StorageDir == "" {
		a.StorageDir = "./data/objects"
	}
	if a.CDNBaseURL == "" {
		a.CDNBaseURL = "/cdn"
	}
	return nil
}

type seoDefaults struct{}

func (seoDefaults) Domain() string { return "seo" }

func (seoDefaults) ApplyDefaults(cfg *Config) error {
	s := &cfg.SEO
	if s.TitleMin <= 0 {
		s.TitleMin = 10
	}
	if s.TitleMax <= 0 {
		s.TitleMax = 60
	}
	if s.DescriptionMin <= 0 {
		s.DescriptionMin = 50
	}
	if s.DescriptionMax <= 0 {
		s.DescriptionMax = 160
	}
	if s.EagerImages <= 0 {
		s.EagerImages = 2
	}
	if s.MinContrast <= 0 {
		s.MinContrast = 4.5
	}
	return nil
}

type deployDefaults struct{}

func (deployDefaults) Domain() string { return "deploy" }

func (deployDefaults) ApplyDefaults(cfg *Config) error {
	if cfg.Deploy.HealthTimeout == "" {
		cfg.Deploy.HealthTimeout = "5s"
	}
	for i := range cfg.Deploy.Targets {
		t := &cfg.Deploy.Targets[i]
		if t.Kind == TargetGitPages && t.Branch == "" {
			t.Branch = "gh-pages"
		}
	}
	return nil
}

type runtimeDefaults struct{}

func (runtimeDefaults) Domain() string { return "runtime" }

func (runtimeDefaults) ApplyDefaults(cfg *Config) error {
	if cfg.Tenants.PageSize <= 0 {
		cfg.Tenants.PageSize = 250
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "./data/storebuilder.db"
	}
	if cfg.Events.Subject == "" {
		cfg.Events.Subject = "storebuilder.jobs"
	}
	if cfg.Events.Retention == "" {
		cfg.Events.Retention = "720h"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Schedule.CacheSweep == "" {
		cfg.Schedule.CacheSweep = "5m"
	}
	if cfg.Schedule.EventPrune == "" {
		cfg.Schedule.EventPrune = "1h"
	}
	return nil
}
