package generator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/storebuilder/internal/breaker"
	foundationerrors "git.home.luguber.info/inful/storebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/storebuilder/internal/jobs"
	"git.home.luguber.info/inful/storebuilder/internal/quota"
	"git.home.luguber.info/inful/storebuilder/internal/render"
	"git.home.luguber.info/inful/storebuilder/internal/tenant"
)

func TestGenerateStoreCompletes(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	job, err := f.gen.GenerateStore(context.Background(), Request{TenantID: "acme"})
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)

	final := f.wait(t, job.ID)
	require.Equal(t, jobs.StatusCompleted, final.Status, "causes: %v", final.Causes)
	assert.InDelta(t, 1.0, final.Progress, 1e-9)
	assert.Equal(t, "classic@1.0", final.Template)
	require.NotEmpty(t, final.Version)
	require.Len(t, final.Targets, 2)
	for _, r := range final.Targets {
		assert.Equal(t, "success", r.Outcome, r.Target)
		assert.Equal(t, final.Version, r.Version)
	}

	active, _, _ := f.static.state()
	assert.Equal(t, final.Version, active)
	active, _, _ = f.serverless.state()
	assert.Equal(t, final.Version, active)
	var stages []jobs.Status
	for _, sp := range final.Stages {
		require.NotNil(t, sp.CompletedAt, sp.Stage)
		stages = append(stages, sp.Stage)
	}
	assert.Equal(t, jobs.Stages, stages)
}

func TestPartialDeployKeepsHealthyTarget(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.serverless.failUpload = true

	job, err := f.gen.GenerateStore(context.Background(), Request{TenantID: "acme"})
	require.NoError(t, err)
	final := f.wait(t, job.ID)

	require.Equal(t, jobs.StatusPartiallyDeployed, final.Status)
	active, _, _ := f.static.state()
	assert.Equal(t, final.Version, active)
	active, _, _ = f.serverless.state()
	assert.Equal(t, "v0", active)

	var failures []jobs.LogEntry
	for _, e := range final.Log {
		if e.Kind == "DeploymentError" {
			failures = append(failures, e)
		}
	}
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0].Message, "serverless-host")
}

func TestPartialDeployRevertsInLockstep(t *testing.T) {
	f := newFixture(t, fixtureOptions{revert: true})
	f.serverless.failUpload = true

	job, err := f.gen.GenerateStore(context.Background(), Request{TenantID: "acme"})
	require.NoError(t, err)
	final := f.wait(t, job.ID)

	require.Equal(t, jobs.StatusFailed, final.Status)
	assert.Equal(t, "DeploymentError", final.ErrorKind)
	active, _, rollbacks := f.static.state()
	assert.Equal(t, "v0", active)
	assert.Equal(t, []string{"v0"}, rollbacks)
}

func TestInvalidTemplateFailsBeforeAnyStage(t *testing.T) {
	f := newFixture(t, fixtureOptions{templates: []*render.Template{brokenTemplate()}})

	job, err := f.gen.GenerateStore(context.Background(), Request{
		TenantID:  "acme",
		Overrides: tenant.Overrides{TemplateID: "broken"},
	})
	require.NoError(t, err)
	require.Equal(t, jobs.StatusFailed, job.Status)
	assert.Equal(t, "TemplateValidationError", job.ErrorKind)
	assert.Nil(t, job.StartedAt)
	for _, sp := range job.Stages {
		assert.Nil(t, sp.StartedAt, sp.Stage)
	}
	assert.Zero(t, f.pipeline.Computations())
	assert.Zero(t, f.sources.openCount())
	_, activations, _ := f.static.state()
	assert.Empty(t, activations)
}

func TestCancelDuringAssetOptimization(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	started, release := f.sources.hold()
	defer release()

	job, err := f.gen.GenerateStore(context.Background(), Request{TenantID: "acme"})
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("asset optimization never started")
	}
	require.NoError(t, f.gen.Cancel(context.Background(), job.ID))
	release()

	final := f.wait(t, job.ID)
	require.Equal(t, jobs.StatusCancelled, final.Status)
	assert.Equal(t, "CancelledError", final.ErrorKind)
	assert.Empty(t, final.Targets)
	for _, tgt := range []*memTarget{f.static, f.serverless} {
		active, activations, _ := tgt.state()
		assert.Equal(t, "v0", active)
		assert.Empty(t, activations)
	}

	err = f.gen.Cancel(context.Background(), job.ID)
	assert.True(t, foundationerrors.HasCategory(err, foundationerrors.CategoryConflict))
}

func TestTimeoutDuringDeployRollsBack(t *testing.T) {
	f := newFixture(t, fixtureOptions{timeout: 2 * time.Second})
	f.serverless.blockHealth = true

	job, err := f.gen.GenerateStore(context.Background(), Request{TenantID: "acme"})
	require.NoError(t, err)
	final := f.wait(t, job.ID)

	require.Equal(t, jobs.StatusFailed, final.Status)
	assert.Equal(t, "TimeoutError", final.ErrorKind)
	active, activations, rollbacks := f.static.state()
	assert.Equal(t, "v0", active)
	assert.Equal(t, []string{final.Version}, activations)
	assert.Contains(t, rollbacks, "v0")
	active, _, _ = f.serverless.state()
	assert.Equal(t, "v0", active)
}

func TestIdenticalAssetsComputedOnceAcrossTenants(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	a, err := f.gen.GenerateStore(context.Background(), Request{TenantID: "acme"})
	require.NoError(t, err)
	b, err := f.gen.GenerateStore(context.Background(), Request{TenantID: "globex"})
	require.NoError(t, err)

	assert.Equal(t, jobs.StatusCompleted, f.wait(t, a.ID).Status)
	assert.Equal(t, jobs.StatusCompleted, f.wait(t, b.ID).Status)
	assert.EqualValues(t, 1, f.pipeline.Computations())
}

func TestTenantQuotaRejectsBeforeJobExists(t *testing.T) {
	f := newFixture(t, fixtureOptions{limits: quota.Limits{MaxActive: 1}})
	started, release := f.sources.hold()

	first, err := f.gen.GenerateStore(context.Background(), Request{TenantID: "acme"})
	require.NoError(t, err)
	<-started

	_, err = f.gen.GenerateStore(context.Background(), Request{TenantID: "acme"})
	require.Error(t, err)
	assert.True(t, foundationerrors.HasCategory(err, foundationerrors.CategoryQuota))

	other, err := f.gen.GenerateStore(context.Background(), Request{TenantID: "globex"})
	require.NoError(t, err, "quota is per tenant")

	release()
	assert.Equal(t, jobs.StatusCompleted, f.wait(t, first.ID).Status)
	assert.Equal(t, jobs.StatusCompleted, f.wait(t, other.ID).Status)

	var again *jobs.Job
	require.Eventually(t, func() bool {
		again, err = f.gen.GenerateStore(context.Background(), Request{TenantID: "acme"})
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, jobs.StatusCompleted, f.wait(t, again.ID).Status)
}

func TestOpenTenantCircuitFailsFast(t *testing.T) {
	f := newFixture(t, fixtureOptions{breakers: func(name string) breaker.Settings {
		return breaker.Settings{FailureThreshold: 2, Window: time.Minute, Cooldown: time.Hour}
	}})
	f.tenants.FetchHook = func(context.Context, string) error {
		return errors.New("tenant store unavailable")
	}

	job, err := f.gen.GenerateStore(context.Background(), Request{TenantID: "acme"})
	require.NoError(t, err)
	require.Equal(t, jobs.StatusFailed, job.Status)
	assert.Equal(t, "ConfigFetchError", job.ErrorKind)

	running, queued := f.jobs.Stats()
	_, err = f.gen.GenerateStore(context.Background(), Request{TenantID: "acme"})
	require.Error(t, err)
	assert.True(t, foundationerrors.HasCategory(err, foundationerrors.CategoryCircuitOpen))
	recent, err := f.gen.Recent(context.Background(), "acme", 10)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
	r2, q2 := f.jobs.Stats()
	assert.Equal(t, running, r2)
	assert.Equal(t, queued, q2)
}

func TestOpenDependencyCircuitRejectsBeforeJobExists(t *testing.T) {
	for _, dep := range []string{breaker.CatalogStore, breaker.AssetBackend} {
		t.Run(dep, func(t *testing.T) {
			f := newFixture(t, fixtureOptions{breakers: func(string) breaker.Settings {
				return breaker.Settings{FailureThreshold: 1, Window: time.Minute, Cooldown: time.Hour}
			}})
			br := f.gen.d.Breakers.Get(dep)
			_ = br.Execute(context.Background(), func(context.Context) error {
				return errors.New(dep + " unavailable")
			})
			require.Equal(t, breaker.Open, br.State())

			job, err := f.gen.GenerateStore(context.Background(), Request{TenantID: "acme"})
			require.Error(t, err)
			assert.Nil(t, job)
			assert.Equal(t, "CircuitOpenError", foundationerrors.KindOf(err))

			recent, err := f.gen.Recent(context.Background(), "acme", 10)
			require.NoError(t, err)
			assert.Empty(t, recent, "no job slot is consumed")
			running, queued := f.jobs.Stats()
			assert.Zero(t, running)
			assert.Zero(t, queued)
		})
	}
}

func TestUnqueuedJobIsLogged(t *testing.T) {
	var logs logBuffer
	f := newFixture(t, fixtureOptions{logger: slog.New(slog.NewTextHandler(&logs, nil))})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.jobs.Stop(ctx))

	job, err := f.gen.GenerateStore(context.Background(), Request{TenantID: "acme"})
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCancelled, job.Status)

	out := logs.String()
	assert.Contains(t, out, "Job not queued")
	assert.Contains(t, out, "job_id="+job.ID)
	assert.Contains(t, out, "tenant_id=acme")
}

func TestUnknownTenantFailsJob(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	job, err := f.gen.GenerateStore(context.Background(), Request{TenantID: "initech"})
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, job.Status)
	assert.Equal(t, "ConfigFetchError", job.ErrorKind)
}

func TestRequestValidation(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	for name, req := range map[string]Request{
		"empty tenant":     {},
		"malformed tenant": {TenantID: "../etc"},
		"bad color":        {TenantID: "acme", Overrides: tenant.Overrides{PrimaryColor: "red;}"}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.gen.GenerateStore(context.Background(), req)
			require.Error(t, err)
			assert.True(t, foundationerrors.HasCategory(err, foundationerrors.CategoryValidation), err.Error())
		})
	}
}

func TestUnknownTargetOverrideFailsJob(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	job, err := f.gen.GenerateStore(context.Background(), Request{
		TenantID:  "acme",
		Overrides: tenant.Overrides{Targets: []string{"mars-host"}},
	})
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, job.Status)
	assert.True(t, strings.Contains(strings.Join(job.Causes, " "), "unknown deployment target"), job.Causes)
}

func TestInvalidateTenantDropsCatalog(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	job, err := f.gen.GenerateStore(context.Background(), Request{TenantID: "acme"})
	require.NoError(t, err)
	require.Equal(t, jobs.StatusCompleted, f.wait(t, job.ID).Status)

	assert.Equal(t, 1, f.gen.InvalidateTenant(context.Background(), "acme"))
	assert.Equal(t, 0, f.gen.InvalidateTenant(context.Background(), "acme"))
	assert.Equal(t, 1, f.gen.InvalidateTemplate(context.Background(), "classic"))
}
