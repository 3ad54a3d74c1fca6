// Package generator is the generation controller. It admits requests,
// captures the tenant snapshot, and drives each job through fetch, render,
// asset optimization, SEO and deployment.
package generator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"git.home.luguber.info/inful/storebuilder/internal/assets"
	"git.home.luguber.info/inful/storebuilder/internal/breaker"
	"git.home.luguber.info/inful/storebuilder/internal/cache"
	"git.home.luguber.info/inful/storebuilder/internal/catalog"
	"git.home.luguber.info/inful/storebuilder/internal/config"
	"git.home.luguber.info/inful/storebuilder/internal/deploy"
	foundationerrors "git.home.luguber.info/inful/storebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/storebuilder/internal/jobs"
	"git.home.luguber.info/inful/storebuilder/internal/logfields"
	"git.home.luguber.info/inful/storebuilder/internal/quota"
	"git.home.luguber.info/inful/storebuilder/internal/render"
	"git.home.luguber.info/inful/storebuilder/internal/retry"
	"git.home.luguber.info/inful/storebuilder/internal/seo"
	"git.home.luguber.info/inful/storebuilder/internal/tenant"
)

// Deps are the collaborators a Generator drives. Everything up to Jobs is
// required.
type Deps struct {
	Tenants  tenant.ConfigProvider
	Catalogs catalog.Provider
	Renderer *render.Engine
	Assets   *assets.Pipeline
	SEO      *seo.Engine
	Gateway  *deploy.Gateway
	Jobs     *jobs.Manager

	CatalogTier *cache.Tier[*catalog.Catalog]
	Quota       *quota.Manager
	Breakers    *breaker.Registry
	Retry       retry.Policy
	Logger      *slog.Logger
	Clock       clockwork.Clock
}

// Settings are the controller's defaults.
type Settings struct {
	DefaultTemplate string
	DefaultLocale   string
	DefaultCurrency string
	ProductsPerPage int
	CatalogPageSize int
}

// SettingsFromConfig reads the render and tenants sections.
func SettingsFromConfig(c *config.Config) Settings {
	return Settings{
		DefaultTemplate: c.Render.DefaultTemplate,
		DefaultLocale:   c.Render.DefaultLocale,
		ProductsPerPage: c.Render.ProductsPerPage,
		CatalogPageSize: c.Tenants.PageSize,
	}
}

// Request asks for one store generation.
type Request struct {
	TenantID  string           `json:"tenantId"`
	Overrides tenant.Overrides `json:"configOverrides"`
}

// Generator is the generation controller.
type Generator struct {
	d        Deps
	settings Settings

	catalogBreaker *breaker.Breaker
	tenantBreaker  *breaker.Breaker
	assetBreaker   *breaker.Breaker

	mu       sync.Mutex
	releases map[string]func()
}

// New validates deps and creates a generator.
func New(d Deps, s Settings) (*Generator, error) {
	switch {
	case d.Tenants == nil, d.Catalogs == nil, d.Renderer == nil, d.Assets == nil,
		d.SEO == nil, d.Gateway == nil, d.Jobs == nil:
		return nil, foundationerrors.ConfigError("generator is missing a required collaborator").Build()
	}
	if d.CatalogTier == nil {
		d.CatalogTier = cache.NewTier[*catalog.Catalog]("catalog", 5*time.Minute)
	}
	if d.Quota == nil {
		d.Quota = quota.NewManager(quota.Limits{}, d.Clock)
	}
	if d.Breakers == nil {
		d.Breakers = breaker.NewRegistry(nil)
	}
	if d.Retry.Initial <= 0 {
		d.Retry = retry.DefaultPolicy()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if s.DefaultTemplate == "" {
		s.DefaultTemplate = "classic"
	}
	if s.DefaultLocale == "" {
		s.DefaultLocale = "en-US"
	}
	if s.DefaultCurrency == "" {
		s.DefaultCurrency = "USD"
	}
	g := &Generator{
		d:              d,
		settings:       s,
		catalogBreaker: d.Breakers.Get(breaker.CatalogStore),
		tenantBreaker:  d.Breakers.Get(breaker.TenantStore),
		assetBreaker:   d.Breakers.Get(breaker.AssetBackend),
		releases:       make(map[string]func()),
	}
	d.Jobs.OnFinish(g.release)
	return g, nil
}

// GenerateStore admits a request and returns the job record right away.
// Requests rejected before a job exists (bad input, an open circuit on any
// dependency, tenant quota) return an error and no job. Once a job exists,
// failures are recorded on it and the job is returned with a nil error.
func (g *Generator) GenerateStore(ctx context.Context, req Request) (*jobs.Job, error) {
	if !tenant.ValidID(req.TenantID) {
		return nil, foundationerrors.ValidationError("tenant id is malformed").WithContext("tenant_id", req.TenantID).Build()
	}
	if err := req.Overrides.Validate(); err != nil {
		return nil, foundationerrors.WrapError(err, foundationerrors.CategoryValidation, "invalid config overrides").
			WithContext("tenant_id", req.TenantID).
			Build()
	}
	for _, br := range []*breaker.Breaker{g.tenantBreaker, g.catalogBreaker, g.assetBreaker} {
		if err := br.Allow(); err != nil {
			return nil, err
		}
	}
	release, err := g.d.Quota.Acquire(req.TenantID)
	if err != nil {
		return nil, err
	}
	job, err := g.d.Jobs.Create(ctx, req.TenantID)
	if err != nil {
		release()
		return nil, err
	}
	g.mu.Lock()
	g.releases[job.ID] = release
	g.mu.Unlock()

	log := g.d.Logger.With(logfields.JobID(job.ID), logfields.TenantID(req.TenantID))
	run, err := g.admit(ctx, job.ID, req)
	if err != nil {
		if ferr := g.d.Jobs.Fail(ctx, job.ID, err); ferr != nil {
			log.Error("Failed to record admission failure", logfields.Error(ferr))
		}
		return g.d.Jobs.Get(ctx, job.ID)
	}
	// A full queue fails the job itself; the record says why.
	if err := g.d.Jobs.Submit(job.ID, run); err != nil {
		log.Warn("Job not queued", logfields.Error(err))
	}
	return g.d.Jobs.Get(ctx, job.ID)
}

// admit captures the snapshot and validates the template while the job is
// still Queued, so a bad template never reaches a working stage.
func (g *Generator) admit(ctx context.Context, jobID string, req Request) (jobs.Runner, error) {
	h, err := g.d.Jobs.Handle(jobID)
	if err != nil {
		return nil, err
	}
	snap, err := g.fetchSnapshot(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}
	snap = req.Overrides.Apply(snap)
	snap.CapturedAt = g.d.Clock.Now()
	if snap.TemplateID == "" {
		snap.TemplateID = g.settings.DefaultTemplate
	}
	if snap.Commerce.Locale == "" {
		snap.Commerce.Locale = g.settings.DefaultLocale
	}
	if snap.Commerce.Currency == "" {
		snap.Commerce.Currency = g.settings.DefaultCurrency
	}
	if len(snap.Targets) == 0 {
		snap.Targets = g.d.Gateway.Targets()
	}
	if err := g.d.Gateway.Resolve(snap.Targets); err != nil {
		return nil, err
	}
	h.Info("tenant snapshot " + snap.Version + " captured")

	plan, err := g.d.Renderer.Load(ctx, snap.TemplateID, snap.TemplateVersion)
	if err != nil {
		if !foundationerrors.HasCategory(err, foundationerrors.CategoryTemplateValidation) {
			err = foundationerrors.WrapError(err, foundationerrors.CategoryTemplateValidation, "template could not be loaded").
				WithContext("template", snap.TemplateID).
				Build()
		}
		return nil, err
	}
	h.SetTemplate(plan.Ref)
	return g.runner(snap, plan), nil
}

func (g *Generator) fetchSnapshot(ctx context.Context, tenantID string) (*tenant.Snapshot, error) {
	var snap *tenant.Snapshot
	err := g.d.Retry.Do(ctx, func(ctx context.Context) error {
		s, err := breaker.Call(ctx, g.tenantBreaker, func(ctx context.Context) (*tenant.Snapshot, error) {
			return g.d.Tenants.Fetch(ctx, tenantID)
		})
		snap = s
		return err
	})
	if err != nil {
		if foundationerrors.HasCategory(err, foundationerrors.CategoryCircuitOpen) {
			return nil, err
		}
		return nil, foundationerrors.WrapError(err, foundationerrors.CategoryConfigFetch, "tenant configuration could not be fetched").
			WithContext("tenant_id", tenantID).
			Build()
	}
	return snap.Clone(), nil
}

// Status returns a copy of the job record.
func (g *Generator) Status(ctx context.Context, jobID string) (*jobs.Job, error) {
	return g.d.Jobs.Get(ctx, jobID)
}

// Cancel requests cooperative cancellation of a job.
func (g *Generator) Cancel(ctx context.Context, jobID string) error {
	return g.d.Jobs.Cancel(ctx, jobID)
}

// Subscribe streams job updates until the job is terminal.
func (g *Generator) Subscribe(ctx context.Context, jobID string) (<-chan *jobs.Job, func(), error) {
	return g.d.Jobs.Subscribe(ctx, jobID)
}

// Recent lists a tenant's latest jobs.
func (g *Generator) Recent(ctx context.Context, tenantID string, limit int) ([]*jobs.Job, error) {
	return g.d.Jobs.Recent(ctx, tenantID, limit)
}

// InvalidateTenant drops cached catalog data of a tenant after its
// configuration changed. It returns the number of entries removed.
func (g *Generator) InvalidateTenant(ctx context.Context, tenantID string) int {
	n := g.d.CatalogTier.InvalidatePrefix(ctx, cache.Key(tenantID, ""))
	g.d.Logger.Info("Tenant cache invalidated", logfields.TenantID(tenantID), logfields.Count(n))
	return n
}

// InvalidateTemplate drops every compiled version of a template.
func (g *Generator) InvalidateTemplate(ctx context.Context, templateID string) int {
	n := g.d.Renderer.InvalidateTemplate(ctx, templateID)
	g.d.Logger.Info("Template cache invalidated", logfields.Template(templateID), logfields.Count(n))
	return n
}

func (g *Generator) release(j *jobs.Job) {
	g.mu.Lock()
	fn, ok := g.releases[j.ID]
	delete(g.releases, j.ID)
	g.mu.Unlock()
	if ok {
		fn()
	}
}
