package generator

import (
	"context"
	"fmt"

	"git.home.luguber.info/inful/storebuilder/internal/breaker"
	"git.home.luguber.info/inful/storebuilder/internal/cache"
	"git.home.luguber.info/inful/storebuilder/internal/catalog"
	"git.home.luguber.info/inful/storebuilder/internal/deploy"
	foundationerrors "git.home.luguber.info/inful/storebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/storebuilder/internal/jobs"
	"git.home.luguber.info/inful/storebuilder/internal/logfields"
	"git.home.luguber.info/inful/storebuilder/internal/render"
	"git.home.luguber.info/inful/storebuilder/internal/seo"
	"git.home.luguber.info/inful/storebuilder/internal/tenant"
)

const htmlContentType = "text/html; charset=utf-8"

// runner binds the admitted snapshot and compiled template into the job's
// stage sequence. Each stage consumes only the previous stage's output.
func (g *Generator) runner(snap *tenant.Snapshot, plan *render.Plan) jobs.Runner {
	return func(ctx context.Context, h *jobs.Handle) (jobs.Status, error) {
		log := g.d.Logger.With(logfields.JobID(h.ID()), logfields.TenantID(snap.TenantID))

		if err := h.Enter(ctx, jobs.StatusFetchingConfig); err != nil {
			return jobs.StatusFailed, err
		}
		cat, err := g.loadCatalog(ctx, snap)
		if err != nil {
			return jobs.StatusFailed, err
		}
		h.Info(fmt.Sprintf("catalog %s loaded with %d products", cat.Version, len(cat.Products)))

		if err := h.Enter(ctx, jobs.StatusRendering); err != nil {
			return jobs.StatusFailed, err
		}
		out, err := g.d.Renderer.RenderAll(ctx, plan, &render.Input{
			Snapshot:        snap,
			Catalog:         cat,
			Locale:          snap.Commerce.Locale,
			Currency:        snap.Commerce.Currency,
			Now:             snap.CapturedAt,
			ProductsPerPage: g.settings.ProductsPerPage,
		})
		if err != nil {
			return jobs.StatusFailed, err
		}
		h.Info(fmt.Sprintf("rendered %d pages", len(out.Pages)))

		if err := h.Enter(ctx, jobs.StatusOptimizingAssets); err != nil {
			return jobs.StatusFailed, err
		}
		optimized, err := g.d.Assets.Optimize(ctx, snap.TenantID, out.AssetIDs())
		if err != nil {
			return jobs.StatusFailed, err
		}
		for _, w := range optimized.Warnings {
			h.Warn(ctx, "asset "+w.AssetID+" replaced by fallback", w.Err)
		}
		h.Info(fmt.Sprintf("assets: %d computed, %d cached, %d fallbacks", optimized.Computed, optimized.CacheHits, optimized.Fallbacks))
		pages := make([]render.RenderedPage, len(out.Pages))
		for i, p := range out.Pages {
			p.Document = optimized.Rewrite(p.Document)
			pages[i] = p
		}

		if err := h.Enter(ctx, jobs.StatusApplyingSEO); err != nil {
			return jobs.StatusFailed, err
		}
		tuned, err := g.d.SEO.Process(ctx, seo.Site{
			Snapshot: snap,
			Locale:   snap.Commerce.Locale,
			Currency: snap.Commerce.Currency,
			Now:      snap.CapturedAt,
		}, pages)
		if err != nil {
			return jobs.StatusFailed, err
		}
		for _, b := range tuned.Blocked {
			h.Error(ctx, "page "+b.Route+" withheld from deployment", b.Err)
		}
		for _, f := range tuned.Warnings {
			h.Warn(ctx, f.String(), nil)
		}
		if len(tuned.Pages) == 0 {
			return jobs.StatusFailed, foundationerrors.SEOValidationError("no page passed validation").Build()
		}

		if err := h.Enter(ctx, jobs.StatusDeploying); err != nil {
			return jobs.StatusFailed, err
		}
		bundle, err := buildBundle(snap.TenantID, tuned, out.Files)
		if err != nil {
			return jobs.StatusFailed, err
		}
		h.SetVersion(bundle.Version)
		summary, err := g.d.Gateway.Deploy(ctx, bundle, snap.Targets)
		if err != nil {
			return jobs.StatusFailed, err
		}
		if ctx.Err() != nil {
			// Timed out or cancelled while deploying: nothing this job
			// activated may stay live.
			log.Warn("Rolling back activated targets", logfields.Version(bundle.Version), logfields.Error(context.Cause(ctx)))
			g.d.Gateway.RollbackActivated(context.WithoutCancel(ctx), summary)
			h.SetTargets(ctx, targetResults(summary))
			return jobs.StatusFailed, context.Cause(ctx)
		}
		h.SetTargets(ctx, targetResults(summary))
		for _, r := range summary.Results {
			if r.Outcome == deploy.OutcomeFailed && r.Err != nil {
				h.Error(ctx, "target "+r.Target+" failed", r.Err)
			}
		}

		switch summary.Status {
		case deploy.StatusCompleted:
			return jobs.StatusCompleted, nil
		case deploy.StatusPartiallyDeployed:
			return jobs.StatusPartiallyDeployed, nil
		default:
			return jobs.StatusFailed, foundationerrors.DeploymentError(fmt.Sprintf("no target is serving version %s", bundle.Version)).
				WithContext("tenant_id", snap.TenantID).
				Build()
		}
	}
}

// loadCatalog reads the catalog through the catalog tier, so concurrent jobs
// for the same tenant version share one fetch.
func (g *Generator) loadCatalog(ctx context.Context, snap *tenant.Snapshot) (*catalog.Catalog, error) {
	version := snap.CatalogVersion
	key := cache.Key(snap.TenantID, version)
	if version == "" {
		key = cache.Key(snap.TenantID, "latest")
	}
	cat, _, err := g.d.CatalogTier.GetOrLoad(ctx, key, func(ctx context.Context) (*catalog.Catalog, error) {
		var c *catalog.Catalog
		err := g.d.Retry.Do(ctx, func(ctx context.Context) error {
			var err error
			c, err = breaker.Call(ctx, g.catalogBreaker, func(ctx context.Context) (*catalog.Catalog, error) {
				return catalog.FetchAll(ctx, g.d.Catalogs, snap.TenantID, version, g.settings.CatalogPageSize)
			})
			return err
		})
		if err != nil {
			return nil, err
		}
		if c.Version == "" {
			c.Version = c.Fingerprint()
		}
		return c, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
		if foundationerrors.HasCategory(err, foundationerrors.CategoryCircuitOpen) {
			return nil, err
		}
		return nil, foundationerrors.WrapError(err, foundationerrors.CategoryConfigFetch, "catalog could not be fetched").
			WithContext("tenant_id", snap.TenantID).
			WithContext("catalog_version", version).
			Build()
	}
	return cat, nil
}

// buildBundle collects the deployable pages and the static files of both the
// renderer and the SEO engine.
func buildBundle(tenantID string, tuned *seo.Result, static []render.File) (*deploy.Bundle, error) {
	files := make([]deploy.File, 0, len(tuned.Pages)+len(static)+len(tuned.Files))
	for _, p := range tuned.Pages {
		files = append(files, deploy.File{Path: deploy.PagePath(p.Route), ContentType: htmlContentType, Data: []byte(p.Document)})
	}
	for _, group := range [][]render.File{static, tuned.Files} {
		for _, f := range group {
			files = append(files, deploy.File{Path: f.Path, ContentType: f.ContentType, Data: f.Data})
		}
	}
	return deploy.NewBundle(tenantID, files)
}

func targetResults(s *deploy.Summary) []jobs.TargetResult {
	out := make([]jobs.TargetResult, 0, len(s.Results))
	for _, r := range s.Results {
		out = append(out, jobs.TargetResult{
			Target:   r.Target,
			Kind:     string(r.Kind),
			Outcome:  string(r.Outcome),
			Version:  r.Version,
			Previous: r.Previous,
			URL:      r.URL,
			Error:    r.Error,
			At:       r.At,
		})
	}
	return out
}
