package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the storebuilder service configuration.
type Config struct {
	Version  string         `yaml:"version"`
	Server   ServerConfig   `yaml:"server"`
	Jobs     JobsConfig     `yaml:"jobs"`
	Breakers BreakersConfig `yaml:"breakers"`
	Retry    RetryConfig    `yaml:"retry"`
	Cache    CacheConfig    `yaml:"cache"`
	Render   RenderConfig   `yaml:"render"`
	Assets   AssetsConfig   `yaml:"assets"`
	SEO      SEOConfig      `yaml:"seo"`
	Deploy   DeployConfig   `yaml:"deploy"`
	Tenants  TenantsConfig  `yaml:"tenants"`
	Store    StoreConfig    `yaml:"store"`
	Events   EventsConfig   `yaml:"events"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Schedule ScheduleConfig `yaml:"schedule"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string `yaml:"addr"`
	RequestTimeout  string `yaml:"request_timeout"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// StageWeights assigns each stage its share of job progress.
type StageWeights struct {
	Fetch    float64 `yaml:"fetch"`
	Render   float64 `yaml:"render"`
	Optimize float64 `yaml:"optimize"`
	SEO      float64 `yaml:"seo"`
	Deploy   float64 `yaml:"deploy"`
}

// Total returns the sum of all weights.
func (w StageWeights) Total() float64 {
	return w.Fetch + w.Render + w.Optimize + w.SEO + w.Deploy
}

// JobsConfig configures the job manager.
type JobsConfig struct {
	MaxConcurrent      int          `yaml:"max_concurrent"`
	QueueSize          int          `yaml:"queue_size"`
	Timeout            string       `yaml:"timeout"`
	HistorySize        int          `yaml:"history_size"`
	MaxActivePerTenant int          `yaml:"max_active_per_tenant"`
	MaxPerTenantHour   int          `yaml:"max_per_tenant_hour"`
	MaxPerTenantDay    int          `yaml:"max_per_tenant_day"`
	Weights            StageWeights `yaml:"weights"`
}

// BreakerSettings configures one circuit breaker.
type BreakerSettings struct {
	FailureThreshold int    `yaml:"failure_threshold"`
	Window           string `yaml:"window"`
	Cooldown         string `yaml:"cooldown"`
}

// BreakersConfig holds default breaker settings and per-dependency overrides
// keyed by dependency name (tenant-store, catalog-store, asset-backend,
// target:<name>).
type BreakersConfig struct {
	Defaults  BreakerSettings            `yaml:"defaults"`
	Overrides map[string]BreakerSettings `yaml:"overrides,omitempty"`
}

// For returns the effective settings for a dependency.
func (b BreakersConfig) For(name string) BreakerSettings {
	s := b.Defaults
	o, ok := b.Overrides[name]
	if !ok {
		return s
	}
	if o.FailureThreshold > 0 {
		s.FailureThreshold = o.FailureThreshold
	}
	if o.Window != "" {
		s.Window = o.Window
	}
	if o.Cooldown != "" {
		s.Cooldown = o.Cooldown
	}
	return s
}

// RemoteCacheKind selects an optional shared cache tier.
type RemoteCacheKind string

const (
	RemoteCacheNone  RemoteCacheKind = "none"
	RemoteCacheNATS  RemoteCacheKind = "nats"
	RemoteCacheRedis RemoteCacheKind = "redis"
)

// CacheConfig configures the three cache tiers.
type CacheConfig struct {
	CatalogTTL  string          `yaml:"catalog_ttl"`
	TemplateTTL string          `yaml:"template_ttl"`
	AssetTTL    string          `yaml:"asset_ttl"`
	Remote      RemoteCacheKind `yaml:"remote"`
	NATSURL     string          `yaml:"nats_url,omitempty"`
	NATSBucket  string          `yaml:"nats_bucket,omitempty"`
	RedisAddr   string          `yaml:"redis_addr,omitempty"`
	RedisPrefix string          `yaml:"redis_prefix,omitempty"`
}

// RenderConfig configures the template engine.
type RenderConfig struct {
	TemplatesDir    string `yaml:"templates_dir"`
	DefaultTemplate string `yaml:"default_template"`
	DefaultLocale   string `yaml:"default_locale"`
	ProductsPerPage int    `yaml:"products_per_page"`
}

// AssetsConfig configures the asset optimization pipeline.
type AssetsConfig struct {
	Parallelism     int    `yaml:"parallelism"`
	Widths          []int  `yaml:"widths"`
	PrimaryFormat   string `yaml:"primary_format"`
	FallbackFormat  string `yaml:"fallback_format"`
	Quality         int    `yaml:"quality"`
	PlaceholderSize int    `yaml:"placeholder_size"`
	SourceDir       string `yaml:"source_dir"`
	StorageDir      string `yaml:"storage_dir"`
	CDNBaseURL      string `yaml:"cdn_base_url"`
}

// SEOConfig configures the SEO/accessibility engine.
type SEOConfig struct {
	TitleMin       int     `yaml:"title_min"`
	TitleMax       int     `yaml:"title_max"`
	DescriptionMin int     `yaml:"description_min"`
	DescriptionMax int     `yaml:"description_max"`
	EagerImages    int     `yaml:"eager_images"`
	MinContrast    float64 `yaml:"min_contrast"`
}

// TargetKind names a deployment target implementation.
type TargetKind string

const (
	TargetStaticHost TargetKind = "statichost"
	TargetGitPages   TargetKind = "gitpages"
	TargetHTTPHost   TargetKind = "httphost"
)

// TargetConfig describes one hosting target.
type TargetConfig struct {
	Name          string     `yaml:"name"`
	Kind          TargetKind `yaml:"kind"`
	Dir           string     `yaml:"dir,omitempty"`
	RepoPath      string     `yaml:"repo_path,omitempty"`
	Branch        string     `yaml:"branch,omitempty"`
	Endpoint      string     `yaml:"endpoint,omitempty"`
	CredentialRef string     `yaml:"credential_ref,omitempty"`
	PublicURL     string     `yaml:"public_url,omitempty"`
}

// DeployConfig configures the deployment gateway.
type DeployConfig struct {
	RevertOnPartial bool           `yaml:"revert_on_partial"`
	HealthTimeout   string         `yaml:"health_timeout"`
	Targets         []TargetConfig `yaml:"targets"`
}

// TenantsConfig configures the tenant and catalog collaborators.
type TenantsConfig struct {
	Dir         string `yaml:"dir"`
	CatalogDir  string `yaml:"catalog_dir,omitempty"`
	PostgresDSN string `yaml:"postgres_dsn,omitempty"`
	PageSize    int    `yaml:"page_size"`
}

// StoreConfig configures durable job state.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// EventsConfig configures lifecycle event publication.
type EventsConfig struct {
	NATSURL string `yaml:"nats_url,omitempty"`
	Subject string `yaml:"subject"`
	// Retention bounds how long recorded events are kept.
	Retention string `yaml:"retention"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// RegenerateEntry schedules periodic regeneration of one tenant.
type RegenerateEntry struct {
	TenantID string `yaml:"tenant_id"`
	Interval string `yaml:"interval"`
}

// ScheduleConfig configures background jobs.
type ScheduleConfig struct {
	CacheSweep string            `yaml:"cache_sweep"`
	EventPrune string            `yaml:"event_prune"`
	Regenerate []RegenerateEntry `yaml:"regenerate,omitempty"`
}

// Load loads a configuration file, applying env files, ${VAR} expansion,
// defaults and validation.
func Load(configPath string) (*Config, error) {
	if path, err := loadEnvFile(); err != nil {
		slog.Warn("Environment file could not be loaded", "error", err)
	} else if path != "" {
		slog.Debug("Loaded environment variables", "path", path)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s", configPath)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes raw YAML, expands environment variables, applies defaults
// and validates.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := applyDefaults(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	if err := ValidateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	_ = applyDefaults(cfg)
	return cfg
}

// Init creates a new configuration file with example content.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}

	example := Default()
	example.Tenants.Dir = "./tenants"
	example.Tenants.CatalogDir = "./catalogs"
	example.Render.TemplatesDir = "./templates"
	example.Deploy.Targets = []TargetConfig{
		{Name: "static-host", Kind: TargetStaticHost, Dir: "./public", PublicURL: "https://shop.example.com"},
		{Name: "pages", Kind: TargetGitPages, RepoPath: "./pages.git", Branch: "gh-pages", PublicURL: "https://pages.example.com"},
		{Name: "serverless-host", Kind: TargetHTTPHost, Endpoint: "https://deploy.example.net/api", CredentialRef: "SERVERLESS_TOKEN", PublicURL: "https://edge.example.net"},
	}
	example.Schedule.Regenerate = []RegenerateEntry{{TenantID: "acme", Interval: "6h"}}

	data, err := yaml.Marshal(example)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ParseDuration parses raw, returning fallback when raw is empty or invalid.
func ParseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
