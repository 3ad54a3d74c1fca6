package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/storebuilder/internal/config"
	foundationerrors "git.home.luguber.info/inful/storebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/storebuilder/internal/generator"
	"git.home.luguber.info/inful/storebuilder/internal/jobs"
)

func newScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s, err := New(context.Background(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

type countingSweeper struct{ n atomic.Int32 }

func (c *countingSweeper) SweepAll() int { c.n.Add(1); return 1 }

type recordingGenerator struct {
	mu      sync.Mutex
	tenants []string
	err     error
}

func (g *recordingGenerator) GenerateStore(_ context.Context, req generator.Request) (*jobs.Job, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tenants = append(g.tenants, req.TenantID)
	if g.err != nil {
		return nil, g.err
	}
	return &jobs.Job{ID: "j", TenantID: req.TenantID, Status: jobs.StatusQueued}, nil
}

func (g *recordingGenerator) calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.tenants...)
}

func TestScheduleCron(t *testing.T) {
	t.Run("returns job id for valid cron", func(t *testing.T) {
		s := newScheduler(t)
		id, err := s.ScheduleCron("test", "0 */4 * * *", func(context.Context) {})
		require.NoError(t, err)
		require.NotEmpty(t, id)
	})

	t.Run("rejects invalid cron", func(t *testing.T) {
		s := newScheduler(t)
		_, err := s.ScheduleCron("test", "this is not a cron", func(context.Context) {})
		require.Error(t, err)
		require.True(t, foundationerrors.HasCategory(err, foundationerrors.CategoryValidation))
	})
}

func TestScheduleEvery(t *testing.T) {
	t.Run("rejects non-positive interval", func(t *testing.T) {
		s := newScheduler(t)
		_, err := s.ScheduleEvery("test", 0, func(context.Context) {})
		require.Error(t, err)
	})

	t.Run("runs repeatedly", func(t *testing.T) {
		s := newScheduler(t)
		sw := &countingSweeper{}
		_, err := s.ScheduleCacheSweep(20*time.Millisecond, sw)
		require.NoError(t, err)
		s.Start()
		require.Eventually(t, func() bool { return sw.n.Load() >= 2 }, 5*time.Second, 10*time.Millisecond)
	})
}

func TestScheduledRegeneration(t *testing.T) {
	s := newScheduler(t)
	gen := &recordingGenerator{err: foundationerrors.QuotaError("tenant busy").Build()}
	require.NoError(t, s.FromConfig(config.ScheduleConfig{
		Regenerate: []config.RegenerateEntry{{TenantID: "acme", Interval: "20ms"}},
	}, nil, gen))
	s.Start()

	// Quota rejections are skipped; the schedule keeps firing.
	require.Eventually(t, func() bool { return len(gen.calls()) >= 2 }, 5*time.Second, 10*time.Millisecond)
	for _, tenant := range gen.calls() {
		require.Equal(t, "acme", tenant)
	}
}

func TestFromConfigNeedsGenerator(t *testing.T) {
	s := newScheduler(t)
	err := s.FromConfig(config.ScheduleConfig{
		Regenerate: []config.RegenerateEntry{{TenantID: "acme", Interval: "1h"}},
	}, nil, nil)
	require.True(t, foundationerrors.HasCategory(err, foundationerrors.CategoryConfig))
}

type countingPruner struct {
	n         atomic.Int32
	retention atomic.Int64
}

func (p *countingPruner) Prune(_ context.Context, retention time.Duration) (int64, error) {
	p.n.Add(1)
	p.retention.Store(int64(retention))
	return 0, nil
}

func TestScheduleEventPrune(t *testing.T) {
	s := newScheduler(t)
	_, err := s.ScheduleEventPrune(20*time.Millisecond, 0, &countingPruner{})
	require.Error(t, err)

	p := &countingPruner{}
	_, err = s.ScheduleEventPrune(20*time.Millisecond, time.Hour, p)
	require.NoError(t, err)
	s.Start()
	require.Eventually(t, func() bool { return p.n.Load() >= 1 }, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, int64(time.Hour), p.retention.Load())
}
