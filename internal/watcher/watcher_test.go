package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu        sync.Mutex
	tenants   map[string]int
	templates map[string]int
}

func newRecorder() *recorder {
	return &recorder{tenants: map[string]int{}, templates: map[string]int{}}
}

func (r *recorder) InvalidateTenant(_ context.Context, id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenants[id]++
	return 1
}

func (r *recorder) InvalidateTemplate(_ context.Context, id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[id]++
	return 1
}

func (r *recorder) counts() (tenants, templates map[string]int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tenants, templates = map[string]int{}, map[string]int{}
	for k, v := range r.tenants {
		tenants[k] = v
	}
	for k, v := range r.templates {
		templates[k] = v
	}
	return tenants, templates
}

func startWatcher(t *testing.T) (templatesDir, tenantsDir string, rec *recorder) {
	t.Helper()
	root := t.TempDir()
	templatesDir = filepath.Join(root, "templates")
	tenantsDir = filepath.Join(root, "tenants")
	require.NoError(t, os.MkdirAll(filepath.Join(templatesDir, "classic"), 0o755))
	require.NoError(t, os.MkdirAll(tenantsDir, 0o755))

	rec = newRecorder()
	w, err := New(templatesDir, tenantsDir, rec, WithDebounce(50*time.Millisecond))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() {
		cancel()
		_ = w.Close()
	})
	return templatesDir, tenantsDir, rec
}

func TestTenantEditsAreDebounced(t *testing.T) {
	_, tenantsDir, rec := startWatcher(t)

	path := filepath.Join(tenantsDir, "acme.yaml")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("name: Acme\n"), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(tenantsDir, "notes.txt"), []byte("ignored"), 0o644))

	require.Eventually(t, func() bool {
		tenants, _ := rec.counts()
		return tenants["acme"] == 1
	}, 5*time.Second, 20*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	tenants, templates := rec.counts()
	assert.Equal(t, map[string]int{"acme": 1}, tenants)
	assert.Empty(t, templates)
}

func TestTemplateEditsInvalidateTemplate(t *testing.T) {
	templatesDir, _, rec := startWatcher(t)

	require.NoError(t, os.WriteFile(filepath.Join(templatesDir, "classic", "1.1.yaml"), []byte("id: classic\n"), 0o644))

	require.Eventually(t, func() bool {
		_, templates := rec.counts()
		return templates["classic"] == 1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestNewTemplateDirectoryIsWatched(t *testing.T) {
	templatesDir, _, rec := startWatcher(t)

	dir := filepath.Join(templatesDir, "modern")
	require.NoError(t, os.Mkdir(dir, 0o755))
	require.Eventually(t, func() bool {
		_, templates := rec.counts()
		return templates["modern"] >= 1
	}, 5*time.Second, 20*time.Millisecond)

	// Give the new watch a moment, then edit a file inside it.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1.0.yaml"), []byte("id: modern\n"), 0o644))
	require.Eventually(t, func() bool {
		_, templates := rec.counts()
		return templates["modern"] >= 2
	}, 5*time.Second, 20*time.Millisecond)
}
