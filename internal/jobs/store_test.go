package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	foundationerrors "git.home.luguber.info/inful/storebuilder/internal/foundation/errors"
)

func TestSQLiteStoreSaveLoadList(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, tenant := range []string{"acme", "acme", "globex"} {
		j := &Job{ID: string(rune('a' + i)), TenantID: tenant, Status: StatusQueued, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, store.Save(ctx, j))
	}
	j, err := store.Load(ctx, "a")
	require.NoError(t, err)
	j.Status = StatusCompleted
	j.Log = append(j.Log, LogEntry{Time: base, Level: LevelInfo, Message: "done"})
	require.NoError(t, store.Save(ctx, j))

	got, err := store.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Len(t, got.Log, 1)

	acme, err := store.List(ctx, "acme", 10)
	require.NoError(t, err)
	require.Len(t, acme, 2)
	assert.Equal(t, "b", acme[0].ID, "newest first")

	all, err := store.List(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	unfinished, err := store.Unfinished(ctx)
	require.NoError(t, err)
	assert.Len(t, unfinished, 2)

	_, err = store.Load(ctx, "zzz")
	assert.True(t, foundationerrors.HasCategory(err, foundationerrors.CategoryNotFound))
}

func TestRecoverFailsInterruptedJobs(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, &Job{ID: "r1", TenantID: "acme", Status: StatusRendering, CreatedAt: time.Now()}))
	require.NoError(t, store.Save(ctx, &Job{ID: "r2", TenantID: "acme", Status: StatusCompleted, CreatedAt: time.Now()}))

	m := NewManager(1, 1, WithStore(store))
	n, err := m.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	j, err := m.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, j.Status)
	assert.Equal(t, "InternalError", j.ErrorKind)
	assert.NotNil(t, j.CompletedAt)
}
