package config

import (
	"errors"
	"fmt"
	"time"
)

// ValidateConfig validates the complete configuration structure.
func ValidateConfig(cfg *Config) error {
	return newConfigurationValidator(cfg).validate()
}

type configurationValidator struct {
	config *Config
}

func newConfigurationValidator(config *Config) *configurationValidator {
	return &configurationValidator{config: config}
}

func (cv *configurationValidator) validate() error {
	if err := cv.validateDurations(); err != nil {
		return err
	}
	if err := cv.validateJobs(); err != nil {
		return err
	}
	if err := cv.validateCache(); err != nil {
		return err
	}
	if err := cv.validateAssets(); err != nil {
		return err
	}
	return cv.validateTargets()
}

func (cv *configurationValidator) validateDurations() error {
	c := cv.config
	fields := map[string]string{
		"server.request_timeout":     c.Server.RequestTimeout,
		"server.shutdown_timeout":    c.Server.ShutdownTimeout,
		"jobs.timeout":               c.Jobs.Timeout,
		"breakers.defaults.window":   c.Breakers.Defaults.Window,
		"breakers.defaults.cooldown": c.Breakers.Defaults.Cooldown,
		"retry.initial_delay":        c.Retry.InitialDelay,
		"retry.max_delay":            c.Retry.MaxDelay,
		"cache.catalog_ttl":          c.Cache.CatalogTTL,
		"cache.template_ttl":         c.Cache.TemplateTTL,
		"cache.asset_ttl":            c.Cache.AssetTTL,
		"deploy.health_timeout":      c.Deploy.HealthTimeout,
		"schedule.cache_sweep":       c.Schedule.CacheSweep,
		"schedule.event_prune":       c.Schedule.EventPrune,
		"events.retention":           c.Events.Retention,
	}
	for name, o := range c.Breakers.Overrides {
		fields["breakers.overrides."+name+".window"] = o.Window
		fields["breakers.overrides."+name+".cooldown"] = o.Cooldown
	}
	for i, r := range c.Schedule.Regenerate {
		fields[fmt.Sprintf("schedule.regenerate[%d].interval", i)] = r.Interval
	}
	for name, raw := range fields {
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("%s: invalid duration %q: %w", name, raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s: duration must be positive", name)
		}
	}
	return nil
}

func (cv *configurationValidator) validateJobs() error {
	j := cv.config.Jobs
	w := j.Weights
	if w.Fetch < 0 || w.Render < 0 || w.Optimize < 0 || w.SEO < 0 || w.Deploy < 0 {
		return errors.New("jobs.weights: weights cannot be negative")
	}
	if j.QueueSize < j.MaxConcurrent {
		return fmt.Errorf("jobs.queue_size (%d) must be at least max_concurrent (%d)", j.QueueSize, j.MaxConcurrent)
	}
	if cv.config.Retry.MaxRetries < 0 {
		return errors.New("retry.max_retries cannot be negative")
	}
	if NormalizeRetryBackoff(string(cv.config.Retry.Mode)) == "" {
		return fmt.Errorf("retry.mode: unsupported backoff %q", cv.config.Retry.Mode)
	}
	return nil
}

func (cv *configurationValidator) validateCache() error {
	c := cv.config.Cache
	switch c.Remote {
	case RemoteCacheNone:
	case RemoteCacheNATS:
		if c.NATSURL == "" {
			return errors.New("cache.nats_url is required when cache.remote is nats")
		}
	case RemoteCacheRedis:
		if c.RedisAddr == "" {
			return errors.New("cache.redis_addr is required when cache.remote is redis")
		}
	default:
		return fmt.Errorf("cache.remote: unsupported kind %q", c.Remote)
	}
	return nil
}

func (cv *configurationValidator) validateAssets() error {
	a := cv.config.Assets
	for _, w := range a.Widths {
		if w <= 0 {
			return fmt.Errorf("assets.widths: invalid width %d", w)
		}
	}
	if a.Quality > 100 {
		return fmt.Errorf("assets.quality must be in 1..100, got %d", a.Quality)
	}
	switch a.PrimaryFormat {
	case "webp", "jpeg", "png":
	default:
		return fmt.Errorf("assets: unsupported output format %q", a.PrimaryFormat)
	}
	// The fallback must decode in every browser.
	switch a.FallbackFormat {
	case "jpeg", "png":
	default:
		return fmt.Errorf("assets: unsupported fallback format %q", a.FallbackFormat)
	}
	return nil
}

func (cv *configurationValidator) validateTargets() error {
	seen := make(map[string]struct{})
	for i, t := range cv.config.Deploy.Targets {
		if t.Name == "" {
			return fmt.Errorf("deploy.targets[%d]: name is required", i)
		}
		if _, dup := seen[t.Name]; dup {
			return fmt.Errorf("deploy.targets: duplicate target name %q", t.Name)
		}
		seen[t.Name] = struct{}{}
		switch t.Kind {
		case TargetStaticHost:
			if t.Dir == "" {
				return fmt.Errorf("deploy.targets[%s]: dir is required for statichost", t.Name)
			}
		case TargetGitPages:
			if t.RepoPath == "" {
				return fmt.Errorf("deploy.targets[%s]: repo_path is required for gitpages", t.Name)
			}
		case TargetHTTPHost:
			if t.Endpoint == "" {
				return fmt.Errorf("deploy.targets[%s]: endpoint is required for httphost", t.Name)
			}
		default:
			return fmt.Errorf("deploy.targets[%s]: unsupported kind %q", t.Name, t.Kind)
		}
	}
	return nil
}
