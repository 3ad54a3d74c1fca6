// Package quota limits how much generation work a single tenant may admit.
package quota

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"git.home.luguber.info/inful/storebuilder/internal/config"
	foundationerrors "git.home.luguber.info/inful/storebuilder/internal/foundation/errors"
)

// Limits bounds one tenant's jobs. Zero means unlimited.
type Limits struct {
	MaxActive  int // jobs queued or running at once
	MaxPerHour int
	MaxPerDay  int
}

// LimitsFromConfig reads the per-tenant limits of the jobs section.
func LimitsFromConfig(c config.JobsConfig) Limits {
	return Limits{MaxActive: c.MaxActivePerTenant, MaxPerHour: c.MaxPerTenantHour, MaxPerDay: c.MaxPerTenantDay}
}

// Usage is a tenant's current consumption.
type Usage struct {
	TenantID  string
	Active    int
	ThisHour  int
	Today     int
	HourStart time.Time
	DayStart  time.Time
}

// Manager tracks usage for all tenants.
type Manager struct {
	defaults  Limits
	overrides map[string]Limits
	usage     map[string]*Usage
	clock     clockwork.Clock
	mu        sync.Mutex
}

// NewManager creates a manager applying defaults to every tenant without an
// override. A nil clock uses the real clock.
func NewManager(defaults Limits, clock clockwork.Clock) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Manager{
		defaults:  defaults,
		overrides: make(map[string]Limits),
		usage:     make(map[string]*Usage),
		clock:     clock,
	}
}

// SetLimits overrides the limits of one tenant.
func (m *Manager) SetLimits(tenantID string, l Limits) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[tenantID] = l
}

// LimitsFor returns the effective limits of a tenant.
func (m *Manager) LimitsFor(tenantID string) Limits {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limitsLocked(tenantID)
}

func (m *Manager) limitsLocked(tenantID string) Limits {
	if l, ok := m.overrides[tenantID]; ok {
		return l
	}
	return m.defaults
}

// Acquire admits one job for tenantID. The returned release must be called
// exactly once when the job reaches a terminal state; extra calls are
// ignored.
func (m *Manager) Acquire(tenantID string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	limits := m.limitsLocked(tenantID)
	u := m.usageLocked(tenantID)
	now := m.clock.Now()

	if limits.MaxActive > 0 && u.Active >= limits.MaxActive {
		return nil, limitError(tenantID, "active jobs", u.Active, limits.MaxActive, 0)
	}
	if limits.MaxPerHour > 0 && u.ThisHour >= limits.MaxPerHour {
		return nil, limitError(tenantID, "jobs per hour", u.ThisHour, limits.MaxPerHour, u.HourStart.Add(time.Hour).Sub(now))
	}
	if limits.MaxPerDay > 0 && u.Today >= limits.MaxPerDay {
		return nil, limitError(tenantID, "jobs per day", u.Today, limits.MaxPerDay, u.DayStart.Add(24*time.Hour).Sub(now))
	}
	u.Active++
	u.ThisHour++
	u.Today++

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if u.Active > 0 {
				u.Active--
			}
		})
	}, nil
}

// usageLocked returns the tenant's usage with windows rolled forward.
func (m *Manager) usageLocked(tenantID string) *Usage {
	now := m.clock.Now()
	u, ok := m.usage[tenantID]
	if !ok {
		u = &Usage{TenantID: tenantID, HourStart: now, DayStart: now}
		m.usage[tenantID] = u
	}
	if now.Sub(u.HourStart) >= time.Hour {
		u.ThisHour = 0
		u.HourStart = now
	}
	if now.Sub(u.DayStart) >= 24*time.Hour {
		u.Today = 0
		u.DayStart = now
	}
	return u
}

// Usage returns a copy of the tenant's usage.
func (m *Manager) Usage(tenantID string) Usage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.usageLocked(tenantID)
}

// DeleteTenant forgets a tenant's usage and override.
func (m *Manager) DeleteTenant(tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.usage, tenantID)
	delete(m.overrides, tenantID)
}

func limitError(tenantID, limit string, current, maximum int, retryAfter time.Duration) error {
	b := foundationerrors.QuotaError(fmt.Sprintf("tenant %s reached its limit of %d %s", tenantID, maximum, limit)).
		WithContext("tenant_id", tenantID).
		WithContext("limit", limit).
		WithContext("current", current).
		WithContext("maximum", maximum)
	if retryAfter > 0 {
		b = b.WithContext("retry_after", retryAfter.Round(time.Second).String())
	}
	return b.Retryable().Build()
}
