package eventstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJobID = "job-1"

func newStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStoreAppendAndRetrieve(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	e, err := NewLifecycleEvent(testJobID, TypeStageStarted, at, Lifecycle{TenantID: "acme", Stage: "rendering", Progress: 0.3})
	require.NoError(t, err)
	id, err := store.Append(ctx, e)
	require.NoError(t, err)
	assert.Positive(t, id)

	other, err := NewLifecycleEvent("job-2", TypeJobQueued, at, Lifecycle{TenantID: "globex"})
	require.NoError(t, err)
	_, err = store.Append(ctx, other)
	require.NoError(t, err)

	events, err := store.GetByJobID(ctx, testJobID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	got := events[0]
	assert.Equal(t, testJobID, got.JobID())
	assert.Equal(t, TypeStageStarted, got.Type())
	assert.True(t, at.Equal(got.Timestamp()))
	assert.Equal(t, "acme", got.Metadata()["tenant_id"])

	l, err := DecodeLifecycle(got)
	require.NoError(t, err)
	assert.Equal(t, "rendering", l.Stage)
	assert.InDelta(t, 0.3, l.Progress, 1e-9)
}

func TestSQLiteStoreTenantQueryAndPrune(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, tenantID := range []string{"acme", "acme", "globex", "acme"} {
		e, err := NewLifecycleEvent(testJobID, TypeJobWarning, base.Add(time.Duration(i)*time.Hour), Lifecycle{TenantID: tenantID})
		require.NoError(t, err)
		_, err = store.Append(ctx, e)
		require.NoError(t, err)
	}

	events, err := store.GetByTenant(ctx, "acme", base.Add(30*time.Minute))
	require.NoError(t, err)
	require.Len(t, events, 2)
	for _, e := range events {
		assert.Equal(t, "acme", e.TenantID())
	}

	n, err := store.Prune(ctx, base.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	events, err = store.GetByTenant(ctx, "acme", time.Time{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, base.Add(3*time.Hour).UnixMilli(), events[0].Timestamp().UnixMilli())
}

type capturePublisher struct {
	mu     sync.Mutex
	events []Event
	fail   bool
}

func (c *capturePublisher) Publish(_ context.Context, e Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("broker down")
	}
	c.events = append(c.events, e)
	return nil
}

func TestRecorderStoresAndPublishes(t *testing.T) {
	store := newStore(t)
	pub := &capturePublisher{}
	broken := &capturePublisher{fail: true}
	rec := NewRecorder(store, nil, broken, pub)
	ctx := context.Background()

	e, err := NewLifecycleEvent(testJobID, TypeJobFinished, time.Now(), Lifecycle{TenantID: "acme", Status: "completed"})
	require.NoError(t, err)
	require.NoError(t, rec.Record(ctx, e), "publisher failures never fail recording")

	require.Len(t, pub.events, 1)
	assert.Positive(t, pub.events[0].ID())

	history, err := rec.History(ctx, testJobID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, TypeJobFinished, history[0].Type())
}

func TestNATSSubject(t *testing.T) {
	p := NewNATSPublisherConn(nil, "")
	e, err := NewLifecycleEvent(testJobID, TypeJobQueued, time.Now(), Lifecycle{TenantID: "acme.eu"})
	require.NoError(t, err)
	assert.Equal(t, "storebuilder.jobs.acme_eu.JobQueued", p.Subject(e))
}

func TestRecorderPruneAndTenantHistory(t *testing.T) {
	store := newStore(t)
	rec := NewRecorder(store, nil)
	ctx := context.Background()

	old, err := NewLifecycleEvent(testJobID, TypeJobQueued, time.Now().Add(-48*time.Hour), Lifecycle{TenantID: "acme"})
	require.NoError(t, err)
	fresh, err := NewLifecycleEvent(testJobID, TypeJobFinished, time.Now(), Lifecycle{TenantID: "acme"})
	require.NoError(t, err)
	require.NoError(t, rec.Record(ctx, old))
	require.NoError(t, rec.Record(ctx, fresh))

	n, err := rec.Prune(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n, "non-positive retention keeps everything")

	n, err = rec.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	history, err := rec.TenantHistory(ctx, "acme", time.Time{})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, TypeJobFinished, history[0].Type())
}
