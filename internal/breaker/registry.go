package breaker

import (
	"sort"
	"sync"
	"time"

	"git.home.luguber.info/inful/storebuilder/internal/config"
)

// Well-known dependency names.
const (
	TenantStore  = "tenant-store"
	CatalogStore = "catalog-store"
	AssetBackend = "asset-backend"
)

// TargetName returns the breaker name for a deployment target.
func TargetName(target string) string { return "target:" + target }

// SettingsFunc resolves settings for a dependency name.
type SettingsFunc func(name string) Settings

// SettingsFromConfig resolves settings from the breakers config section.
func SettingsFromConfig(c config.BreakersConfig) SettingsFunc {
	return func(name string) Settings {
		s := c.For(name)
		return Settings{
			FailureThreshold: s.FailureThreshold,
			Window:           config.ParseDuration(s.Window, time.Minute),
			Cooldown:         config.ParseDuration(s.Cooldown, 30*time.Second),
		}
	}
}

// Registry hands out one shared breaker per dependency.
type Registry struct {
	settings SettingsFunc
	opts     []Option

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates a registry; opts apply to every breaker it creates.
func NewRegistry(settings SettingsFunc, opts ...Option) *Registry {
	if settings == nil {
		settings = func(string) Settings { return Settings{} }
	}
	return &Registry{settings: settings, opts: opts, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := New(name, r.settings(name), r.opts...)
	r.breakers[name] = b
	return b
}

// Snapshot returns the state of every breaker created so far, sorted by name.
func (r *Registry) Snapshot() []Status {
	r.mu.Lock()
	list := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		list = append(list, b)
	}
	r.mu.Unlock()

	out := make([]Status, 0, len(list))
	for _, b := range list {
		out = append(out, Status{Name: b.Name(), State: b.State().String()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Status is a breaker name with its current state.
type Status struct {
	Name  string `json:"name"`
	State string `json:"state"`
}
