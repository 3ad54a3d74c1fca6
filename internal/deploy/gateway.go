package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sourcegraph/conc/pool"

	"git.home.luguber.info/inful/storebuilder/internal/breaker"
	"git.home.luguber.info/inful/storebuilder/internal/config"
	"git.home.luguber.info/inful/storebuilder/internal/credentials"
	foundationerrors "git.home.luguber.info/inful/storebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/storebuilder/internal/logfields"
	"git.home.luguber.info/inful/storebuilder/internal/metrics"
)

// Gateway deploys bundles to its bound targets concurrently. Deployments of
// one tenant to the same target are serialized, and so are rollbacks.
type Gateway struct {
	bindings        map[string]Binding
	creds           credentials.Store
	breakers        *breaker.Registry
	recorder        metrics.Recorder
	logger          *slog.Logger
	clock           clockwork.Clock
	healthTimeout   time.Duration
	revertOnPartial bool

	mu    sync.Mutex
	locks map[lockKey]*sync.Mutex
}

type lockKey struct {
	target string
	tenant string
}

// Option configures a Gateway.
type Option func(*Gateway)

func WithCredentials(s credentials.Store) Option { return func(g *Gateway) { g.creds = s } }
func WithBreakers(r *breaker.Registry) Option    { return func(g *Gateway) { g.breakers = r } }
func WithRecorder(r metrics.Recorder) Option     { return func(g *Gateway) { g.recorder = r } }
func WithLogger(l *slog.Logger) Option           { return func(g *Gateway) { g.logger = l } }
func WithClock(c clockwork.Clock) Option         { return func(g *Gateway) { g.clock = c } }

// WithHealthTimeout bounds each target's health check.
func WithHealthTimeout(d time.Duration) Option { return func(g *Gateway) { g.healthTimeout = d } }

// WithRevertOnPartial reverts targets that succeeded when any other target
// failed, keeping all targets on the same version.
func WithRevertOnPartial(v bool) Option { return func(g *Gateway) { g.revertOnPartial = v } }

// NewGateway creates a gateway over bindings.
func NewGateway(bindings []Binding, opts ...Option) *Gateway {
	g := &Gateway{
		bindings:      make(map[string]Binding, len(bindings)),
		locks:         make(map[lockKey]*sync.Mutex, len(bindings)),
		recorder:      metrics.NoopRecorder{},
		logger:        slog.Default(),
		clock:         clockwork.NewRealClock(),
		healthTimeout: 30 * time.Second,
	}
	for _, b := range bindings {
		g.bindings[b.Target.Name()] = b
	}
	for _, o := range opts {
		o(g)
	}
	if g.breakers == nil {
		g.breakers = breaker.NewRegistry(nil)
	}
	return g
}

// OptionsFromConfig maps the deploy config section to gateway options.
func OptionsFromConfig(c config.DeployConfig) []Option {
	return []Option{
		WithRevertOnPartial(c.RevertOnPartial),
		WithHealthTimeout(config.ParseDuration(c.HealthTimeout, 30*time.Second)),
	}
}

// Targets returns the bound target names, sorted.
func (g *Gateway) Targets() []string {
	names := make([]string, 0, len(g.bindings))
	for n := range g.bindings {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Resolve checks every name is bound.
func (g *Gateway) Resolve(names []string) error {
	if len(names) == 0 {
		return foundationerrors.ValidationError("no deployment targets").Build()
	}
	for _, n := range names {
		if _, ok := g.bindings[n]; !ok {
			return foundationerrors.ValidationError("unknown deployment target").WithContext("target", n).Build()
		}
	}
	return nil
}

func (g *Gateway) lock(target, tenantID string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	k := lockKey{target: target, tenant: tenantID}
	l, ok := g.locks[k]
	if !ok {
		l = &sync.Mutex{}
		g.locks[k] = l
	}
	return l
}

// Deploy publishes b to the named targets. Per-target failures are reported
// in the summary; the returned error covers only invalid requests.
func (g *Gateway) Deploy(ctx context.Context, b *Bundle, names []string) (*Summary, error) {
	if b == nil {
		return nil, foundationerrors.ValidationError("nothing to deploy").Build()
	}
	if err := g.Resolve(names); err != nil {
		return nil, err
	}
	names = append([]string(nil), names...)
	sort.Strings(names)

	results := make([]Result, len(names))
	p := pool.New().WithMaxGoroutines(len(names))
	for i, name := range names {
		p.Go(func() {
			results[i] = g.deployOne(ctx, b, g.bindings[name])
		})
	}
	p.Wait()

	summary := &Summary{Version: b.Version, Results: results}
	summary.Status = statusOf(results)
	if summary.Status == StatusPartiallyDeployed && g.revertOnPartial {
		g.logger.Warn("Reverting successful targets after partial deployment", logfields.Version(b.Version))
		g.revert(ctx, summary.Results)
		summary.Status = StatusFailed
	}
	for _, r := range summary.Results {
		g.recorder.IncDeployResult(r.Target, string(r.Outcome))
	}
	return summary, nil
}

func (g *Gateway) deployOne(ctx context.Context, b *Bundle, bind Binding) Result {
	t := bind.Target
	res := Result{Target: t.Name(), TenantID: b.TenantID, Kind: t.Kind(), Version: b.Version}
	log := g.logger.With(
		logfields.TenantID(b.TenantID),
		logfields.Target(t.Name()),
		logfields.TargetKind(string(t.Kind())),
		logfields.Version(b.Version),
	)

	l := g.lock(t.Name(), b.TenantID)
	l.Lock()
	defer l.Unlock()

	fail := func(stage string, err error) Result {
		res.Outcome = OutcomeFailed
		res.Err = foundationerrors.DeploymentError(fmt.Sprintf("deploy to %s failed during %s", t.Name(), stage)).
			WithCause(err).
			WithContext("target", t.Name()).
			WithContext("tenant_id", b.TenantID).
			WithContext("stage", stage).
			Build()
		res.Error = res.Err.Error()
		res.At = g.clock.Now()
		log.Warn("Deployment failed", logfields.Stage(stage), logfields.Error(err))
		return res
	}

	if ctx.Err() != nil {
		return fail("admission", context.Cause(ctx))
	}

	previous, err := t.ActiveVersion(ctx, b.TenantID)
	if err != nil {
		return fail("inspect", err)
	}
	res.Previous = previous

	if bind.CredentialRef != "" {
		if g.creds == nil {
			return fail("credentials", foundationerrors.ConfigError("no credential store configured").Build())
		}
		cred, err := g.creds.Get(ctx, bind.CredentialRef)
		if err != nil {
			return fail("credentials", err)
		}
		ctx = credentials.WithCredential(ctx, cred)
	}

	stage := "prepare"
	br := g.breakers.Get(breaker.TargetName(t.Name()))
	err = br.Execute(ctx, func(ctx context.Context) error {
		if err := t.Prepare(ctx, b); err != nil {
			return err
		}
		stage = "upload"
		if err := t.Upload(ctx, b); err != nil {
			return err
		}
		stage = "health"
		hctx, cancel := context.WithTimeout(ctx, g.healthTimeout)
		defer cancel()
		if err := t.HealthCheck(hctx, b.TenantID, b.Version); err != nil {
			return err
		}
		stage = "activate"
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		// Activation is atomic and must not be interrupted half way.
		return t.Activate(context.WithoutCancel(ctx), b.TenantID, b.Version)
	})
	if err != nil {
		if !foundationerrors.HasCategory(err, foundationerrors.CategoryCircuitOpen) {
			if rbErr := t.Rollback(context.WithoutCancel(ctx), b.TenantID, previous); rbErr != nil {
				log.Error("Rollback failed", logfields.Error(rbErr))
			}
		}
		return fail(stage, err)
	}

	res.Outcome = OutcomeSuccess
	res.Activated = true
	res.URL = bind.PublicURL
	res.At = g.clock.Now()
	log.Info("Deployment activated", slog.String("previous", previous))
	return res
}

func (g *Gateway) revert(ctx context.Context, results []Result) {
	ctx = context.WithoutCancel(ctx)
	for i := range results {
		r := &results[i]
		if r.Outcome != OutcomeSuccess || !r.Activated {
			continue
		}
		bind, ok := g.bindings[r.Target]
		if !ok {
			continue
		}
		g.revertOne(ctx, bind.Target, r)
	}
}

// revertOne restores r.Previous only while r.Version is still live. A target
// another job has activated since is left alone and marked superseded.
func (g *Gateway) revertOne(ctx context.Context, t Target, r *Result) {
	log := g.logger.With(logfields.TenantID(r.TenantID), logfields.Target(r.Target), logfields.Version(r.Version))

	l := g.lock(r.Target, r.TenantID)
	l.Lock()
	defer l.Unlock()

	live, err := t.ActiveVersion(ctx, r.TenantID)
	if err != nil {
		log.Error("Rollback skipped, live version unknown", logfields.Error(err))
		r.Error = "rollback failed: " + err.Error()
		return
	}
	if live != r.Version {
		log.Warn("Rollback skipped, target superseded", slog.String("live", live))
		r.Outcome = OutcomeSuperseded
		r.Activated = false
		r.At = g.clock.Now()
		return
	}
	if err := t.Rollback(ctx, r.TenantID, r.Previous); err != nil {
		log.Error("Rollback failed", logfields.Error(err))
		r.Error = "rollback failed: " + err.Error()
		return
	}
	r.Outcome = OutcomeRolledBack
	r.Activated = false
	r.At = g.clock.Now()
	log.Info("Target rolled back", slog.String("previous", r.Previous))
}

// RollbackActivated returns every target the summary activated to its
// previous version, skipping targets a later job has since replaced. It runs
// to completion even when ctx is done.
func (g *Gateway) RollbackActivated(ctx context.Context, s *Summary) {
	if s == nil {
		return
	}
	g.revert(ctx, s.Results)
	s.Status = statusOf(s.Results)
	for _, r := range s.Results {
		if r.Outcome == OutcomeRolledBack || r.Outcome == OutcomeSuperseded {
			g.recorder.IncDeployResult(r.Target, string(r.Outcome))
		}
	}
}
