// Package cache provides read-through, TTL-bounded cache tiers with
// singleflight population.
//
// A Tier collapses concurrent misses on one key into a single load that every
// waiter observes. Population is insert-if-absent, errors are never cached and
// nothing is invalidated implicitly: entries live until their TTL expires or
// until Invalidate / InvalidatePrefix is called.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"git.home.luguber.info/inful/storebuilder/internal/logfields"
)

// Result describes how a GetOrLoad call was served.
type Result int

const (
	// Miss means this call's flight ran the loader.
	Miss Result = iota
	// Hit means a stored, unexpired entry was returned.
	Hit
	// Shared means the call joined a flight started by another caller.
	Shared
	// RemoteHit means the value came from the shared remote tier.
	RemoteHit
)

func (r Result) String() string {
	switch r {
	case Hit:
		return "hit"
	case Shared:
		return "shared"
	case RemoteHit:
		return "remote_hit"
	default:
		return "miss"
	}
}

// Observer is notified of every lookup outcome.
type Observer func(tier string, result Result)

// Stats are cumulative counters for a tier.
type Stats struct {
	Name       string `json:"name"`
	Entries    int    `json:"entries"`
	Hits       int64  `json:"hits"`
	Misses     int64  `json:"misses"`
	Shared     int64  `json:"shared"`
	RemoteHits int64  `json:"remote_hits"`
	Loads      int64  `json:"loads"`
	Evictions  int64  `json:"evictions"`
}

type entry[V any] struct {
	value   V
	expires time.Time
}

// Option configures a Tier.
type Option[V any] func(*Tier[V])

// WithClock replaces the wall clock.
func WithClock[V any](c clockwork.Clock) Option[V] {
	return func(t *Tier[V]) { t.clock = c }
}

// WithObserver registers a lookup observer.
func WithObserver[V any](o Observer) Option[V] {
	return func(t *Tier[V]) { t.observer = o }
}

// WithRemote attaches a shared byte-level tier consulted before the loader.
func WithRemote[V any](r Remote, codec Codec[V]) Option[V] {
	return func(t *Tier[V]) {
		t.remote = r
		t.codec = codec
	}
}

// Tier is one independently keyed, independently TTL'd cache.
type Tier[V any] struct {
	name     string
	ttl      time.Duration
	clock    clockwork.Clock
	observer Observer
	remote   Remote
	codec    Codec[V]

	mu      sync.RWMutex
	entries map[string]entry[V]
	group   singleflight.Group

	hits, misses, shared, remoteHits, loads, evictions atomic.Int64
}

// NewTier creates an empty tier.
func NewTier[V any](name string, ttl time.Duration, opts ...Option[V]) *Tier[V] {
	t := &Tier[V]{
		name:    name,
		ttl:     ttl,
		clock:   clockwork.NewRealClock(),
		entries: make(map[string]entry[V]),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Name returns the tier name.
func (t *Tier[V]) Name() string { return t.name }

// TTL returns the entry lifetime.
func (t *Tier[V]) TTL() time.Duration { return t.ttl }

// Get returns a stored, unexpired value without loading.
func (t *Tier[V]) Get(key string) (V, bool) {
	t.mu.RLock()
	e, ok := t.entries[key]
	t.mu.RUnlock()
	if !ok || !t.clock.Now().Before(e.expires) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// GetOrLoad returns the cached value for key or runs loader to produce it.
// Concurrent callers missing on the same key share one loader invocation.
// The loader runs detached from the cancellation of any single caller; a
// caller whose ctx ends stops waiting and returns ctx's error while the
// flight completes for everyone else.
func (t *Tier[V]) GetOrLoad(ctx context.Context, key string, loader func(ctx context.Context) (V, error)) (V, Result, error) {
	if v, ok := t.Get(key); ok {
		t.observe(Hit)
		return v, Hit, nil
	}

	type flight struct {
		value  V
		result Result
	}
	ch := t.group.DoChan(key, func() (any, error) {
		loadCtx := context.WithoutCancel(ctx)
		if v, ok := t.Get(key); ok {
			return flight{value: v, result: Hit}, nil
		}
		if v, ok := t.fromRemote(loadCtx, key); ok {
			return flight{value: t.insertIfAbsent(key, v), result: RemoteHit}, nil
		}
		t.loads.Add(1)
		v, err := loader(loadCtx)
		if err != nil {
			return nil, err
		}
		stored := t.insertIfAbsent(key, v)
		t.toRemote(loadCtx, key, stored)
		return flight{value: stored, result: Miss}, nil
	})

	var zero V
	select {
	case <-ctx.Done():
		return zero, Miss, context.Cause(ctx)
	case res := <-ch:
		if res.Err != nil {
			t.observe(Miss)
			return zero, Miss, res.Err
		}
		f := res.Val.(flight)
		result := f.result
		if res.Shared && result == Miss {
			result = Shared
		}
		t.observe(result)
		return f.value, result, nil
	}
}

// insertIfAbsent stores v unless a live entry already exists, returning the
// value that ends up cached.
func (t *Tier[V]) insertIfAbsent(key string, v V) V {
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[key]; ok && now.Before(e.expires) {
		return e.value
	}
	t.entries[key] = entry[V]{value: v, expires: now.Add(t.ttl)}
	return v
}

// Invalidate drops key locally and remotely.
func (t *Tier[V]) Invalidate(ctx context.Context, key string) bool {
	t.mu.Lock()
	_, ok := t.entries[key]
	delete(t.entries, key)
	t.mu.Unlock()
	if t.remote != nil {
		if err := t.remote.Delete(ctx, t.remoteKey(key)); err != nil {
			slog.Warn("Remote cache delete failed", logfields.CacheTier(t.name), logfields.Error(err))
		}
	}
	return ok
}

// InvalidatePrefix drops every key starting with prefix and returns how many
// local entries were removed.
func (t *Tier[V]) InvalidatePrefix(ctx context.Context, prefix string) int {
	t.mu.Lock()
	n := 0
	for k := range t.entries {
		if strings.HasPrefix(k, prefix) {
			delete(t.entries, k)
			n++
		}
	}
	t.mu.Unlock()
	if t.remote != nil {
		if err := t.remote.DeletePrefix(ctx, t.remoteKey(prefix)); err != nil {
			slog.Warn("Remote cache prefix delete failed", logfields.CacheTier(t.name), logfields.Error(err))
		}
	}
	if n > 0 {
		slog.Debug("Cache entries invalidated", logfields.CacheTier(t.name), slog.String("prefix", prefix), logfields.Count(n))
	}
	return n
}

// Sweep removes expired entries.
func (t *Tier[V]) Sweep() int {
	now := t.clock.Now()
	t.mu.Lock()
	n := 0
	for k, e := range t.entries {
		if !now.Before(e.expires) {
			delete(t.entries, k)
			n++
		}
	}
	t.mu.Unlock()
	t.evictions.Add(int64(n))
	return n
}

// Stats returns a snapshot of the tier's counters.
func (t *Tier[V]) Stats() Stats {
	t.mu.RLock()
	n := len(t.entries)
	t.mu.RUnlock()
	return Stats{
		Name:       t.name,
		Entries:    n,
		Hits:       t.hits.Load(),
		Misses:     t.misses.Load(),
		Shared:     t.shared.Load(),
		RemoteHits: t.remoteHits.Load(),
		Loads:      t.loads.Load(),
		Evictions:  t.evictions.Load(),
	}
}

func (t *Tier[V]) observe(r Result) {
	switch r {
	case Hit:
		t.hits.Add(1)
	case Shared:
		t.shared.Add(1)
	case RemoteHit:
		t.remoteHits.Add(1)
	default:
		t.misses.Add(1)
	}
	if t.observer != nil {
		t.observer(t.name, r)
	}
}

func (t *Tier[V]) remoteKey(key string) string {
	return t.name + "/" + key
}

func (t *Tier[V]) fromRemote(ctx context.Context, key string) (V, bool) {
	var zero V
	if t.remote == nil {
		return zero, false
	}
	raw, err := t.remote.Get(ctx, t.remoteKey(key))
	if err != nil {
		if err != ErrMiss {
			slog.Warn("Remote cache read failed", logfields.CacheTier(t.name), logfields.Error(err))
		}
		return zero, false
	}
	v, err := t.codec.Decode(raw)
	if err != nil {
		slog.Warn("Remote cache entry undecodable", logfields.CacheTier(t.name), logfields.Error(err))
		return zero, false
	}
	return v, true
}

func (t *Tier[V]) toRemote(ctx context.Context, key string, v V) {
	if t.remote == nil {
		return
	}
	raw, err := t.codec.Encode(v)
	if err != nil {
		slog.Warn("Remote cache entry unencodable", logfields.CacheTier(t.name), logfields.Error(err))
		return
	}
	if err := t.remote.Put(ctx, t.remoteKey(key), raw, t.ttl); err != nil {
		slog.Warn("Remote cache write failed", logfields.CacheTier(t.name), logfields.Error(err))
	}
}

// Key joins parts into a cache key.
func Key(parts ...string) string {
	return strings.Join(parts, "|")
}

// VersionedKey formats an id@version key.
func VersionedKey(id, version string) string {
	return fmt.Sprintf("%s@%s", id, version)
}
