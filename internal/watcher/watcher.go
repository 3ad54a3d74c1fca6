// Package watcher turns edits under the templates and tenants directories
// into cache invalidations.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/storebuilder/internal/logfields"
	"git.home.luguber.info/inful/storebuilder/internal/tenant"
)

// Invalidator drops cached data for a tenant or template.
type Invalidator interface {
	InvalidateTenant(ctx context.Context, tenantID string) int
	InvalidateTemplate(ctx context.Context, templateID string) int
}

type scope string

const (
	scopeTenant   scope = "tenant"
	scopeTemplate scope = "template"
)

type key struct {
	scope scope
	id    string
}

// Watcher monitors the templates dir (<dir>/<id>/<version>.yaml) and the
// tenants dir (<dir>/<tenant>.yaml).
type Watcher struct {
	templatesDir string
	tenantsDir   string
	target       Invalidator
	watcher      *fsnotify.Watcher
	debounce     time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	pending map[key]*time.Timer
	wg      sync.WaitGroup
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets how long a burst of edits is coalesced.
func WithDebounce(d time.Duration) Option { return func(w *Watcher) { w.debounce = d } }

// WithLogger sets the watcher logger.
func WithLogger(l *slog.Logger) Option { return func(w *Watcher) { w.logger = l } }

// New creates a watcher. Either directory may be empty.
func New(templatesDir, tenantsDir string, target Invalidator, opts ...Option) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	w := &Watcher{
		watcher:  fw,
		target:   target,
		debounce: 500 * time.Millisecond,
		logger:   slog.Default(),
		pending:  make(map[key]*time.Timer),
	}
	for _, o := range opts {
		o(w)
	}
	if templatesDir != "" {
		if w.templatesDir, err = filepath.Abs(templatesDir); err != nil {
			_ = fw.Close()
			return nil, fmt.Errorf("failed to resolve templates dir: %w", err)
		}
	}
	if tenantsDir != "" {
		if w.tenantsDir, err = filepath.Abs(tenantsDir); err != nil {
			_ = fw.Close()
			return nil, fmt.Errorf("failed to resolve tenants dir: %w", err)
		}
	}
	return w, nil
}

// Start adds the watches and processes events until ctx is done or Close
// is called.
func (w *Watcher) Start(ctx context.Context) error {
	if w.templatesDir != "" {
		if err := w.watcher.Add(w.templatesDir); err != nil {
			return fmt.Errorf("failed to watch templates dir %s: %w", w.templatesDir, err)
		}
		entries, err := os.ReadDir(w.templatesDir)
		if err != nil {
			return fmt.Errorf("failed to list templates dir: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() {
				w.addDir(filepath.Join(w.templatesDir, e.Name()))
			}
		}
	}
	if w.tenantsDir != "" {
		if err := w.watcher.Add(w.tenantsDir); err != nil {
			return fmt.Errorf("failed to watch tenants dir %s: %w", w.tenantsDir, err)
		}
	}
	w.logger.Info("Watching configuration directories",
		slog.String("templates_dir", w.templatesDir),
		slog.String("tenants_dir", w.tenantsDir))

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.loop(ctx)
	}()
	return nil
}

// Close stops watching and cancels pending invalidations.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	w.wg.Wait()
	w.mu.Lock()
	for k, t := range w.pending {
		t.Stop()
		delete(w.pending, k)
	}
	w.mu.Unlock()
	return err
}

func (w *Watcher) addDir(dir string) {
	if err := w.watcher.Add(dir); err != nil {
		w.logger.Warn("Failed to watch directory", logfields.Path(dir), logfields.Error(err))
	}
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ctx, ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("File watcher error", logfields.Error(err))
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod {
		return
	}
	// A new template directory needs its own watch.
	if ev.Op&fsnotify.Create != 0 && filepath.Dir(ev.Name) == w.templatesDir {
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			w.addDir(ev.Name)
		}
	}
	k, ok := w.classify(ev.Name)
	if !ok {
		return
	}
	w.logger.Debug("Configuration change detected", logfields.Path(ev.Name), slog.String("op", ev.Op.String()))
	w.schedule(ctx, k)
}

// classify maps a changed path to the cache entry it affects.
func (w *Watcher) classify(path string) (key, bool) {
	if w.tenantsDir != "" && filepath.Dir(path) == w.tenantsDir {
		if id, ok := tenant.IDFromPath(path); ok {
			return key{scopeTenant, id}, true
		}
		return key{}, false
	}
	if w.templatesDir != "" {
		rel, err := filepath.Rel(w.templatesDir, path)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			return key{}, false
		}
		id := strings.Split(filepath.ToSlash(rel), "/")[0]
		if id == "" || strings.HasPrefix(id, ".") {
			return key{}, false
		}
		return key{scopeTemplate, id}, true
	}
	return key{}, false
}

// schedule coalesces edits to the same key within the debounce window.
func (w *Watcher) schedule(ctx context.Context, k key) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[k]; ok {
		t.Reset(w.debounce)
		return
	}
	w.pending[k] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, k)
		w.mu.Unlock()
		w.fire(ctx, k)
	})
}

func (w *Watcher) fire(ctx context.Context, k key) {
	if ctx.Err() != nil {
		return
	}
	var n int
	switch k.scope {
	case scopeTenant:
		n = w.target.InvalidateTenant(ctx, k.id)
	case scopeTemplate:
		n = w.target.InvalidateTemplate(ctx, k.id)
	}
	w.logger.Info("Invalidated after file change", slog.String("scope", string(k.scope)), slog.String("id", k.id), logfields.Count(n))
}
