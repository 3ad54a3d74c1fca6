package cache

import (
	"context"
	"sort"
	"sync"
)

// Managed is the type-erased view of a Tier used for housekeeping.
type Managed interface {
	Name() string
	Sweep() int
	Stats() Stats
	InvalidatePrefix(ctx context.Context, prefix string) int
}

// Manager groups tiers for sweeping, stats and bulk invalidation.
type Manager struct {
	mu    sync.RWMutex
	tiers map[string]Managed
}

// NewManager creates a manager over tiers.
func NewManager(tiers ...Managed) *Manager {
	m := &Manager{tiers: make(map[string]Managed)}
	for _, t := range tiers {
		m.Register(t)
	}
	return m
}

// Register adds a tier, replacing any tier with the same name.
func (m *Manager) Register(t Managed) {
	m.mu.Lock()
	m.tiers[t.Name()] = t
	m.mu.Unlock()
}

// Tier returns a registered tier by name.
func (m *Manager) Tier(name string) (Managed, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tiers[name]
	return t, ok
}

// SweepAll drops expired entries from every tier.
func (m *Manager) SweepAll() int {
	n := 0
	for _, t := range m.list() {
		n += t.Sweep()
	}
	return n
}

// Stats returns per-tier stats sorted by name.
func (m *Manager) Stats() []Stats {
	list := m.list()
	out := make([]Stats, 0, len(list))
	for _, t := range list {
		out = append(out, t.Stats())
	}
	return out
}

func (m *Manager) list() []Managed {
	m.mu.RLock()
	out := make([]Managed, 0, len(m.tiers))
	for _, t := range m.tiers {
		out = append(out, t)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}
