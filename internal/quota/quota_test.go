package quota

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"git.home.luguber.info/inful/storebuilder/internal/config"
	foundationerrors "git.home.luguber.info/inful/storebuilder/internal/foundation/errors"
)

func TestLimitsFromConfig(t *testing.T) {
	l := LimitsFromConfig(config.JobsConfig{MaxActivePerTenant: 1, MaxPerTenantHour: 4, MaxPerTenantDay: 20})
	if l.MaxActive != 1 || l.MaxPerHour != 4 || l.MaxPerDay != 20 {
		t.Fatalf("unexpected limits %+v", l)
	}
}

func TestActiveLimit(t *testing.T) {
	m := NewManager(Limits{MaxActive: 1}, nil)

	release, err := m.Acquire("acme")
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if _, err := m.Acquire("acme"); !foundationerrors.HasCategory(err, foundationerrors.CategoryQuota) {
		t.Fatalf("expected quota error, got %v", err)
	}
	if _, err := m.Acquire("globex"); err != nil {
		t.Fatalf("other tenants are independent: %v", err)
	}

	release()
	release()
	if got := m.Usage("acme").Active; got != 0 {
		t.Fatalf("expected 0 active after release, got %d", got)
	}
	if _, err := m.Acquire("acme"); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestHourlyWindowRolls(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	m := NewManager(Limits{MaxPerHour: 2}, clock)

	for range 2 {
		release, err := m.Acquire("acme")
		if err != nil {
			t.Fatalf("acquire: %v", err)
		}
		release()
	}
	_, err := m.Acquire("acme")
	if !foundationerrors.HasCategory(err, foundationerrors.CategoryQuota) {
		t.Fatalf("expected hourly limit, got %v", err)
	}
	if !foundationerrors.CanRetry(err) {
		t.Fatal("quota errors are retryable")
	}

	clock.Advance(time.Hour)
	if _, err := m.Acquire("acme"); err != nil {
		t.Fatalf("expected window to roll over: %v", err)
	}
}

func TestDailyLimit(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewManager(Limits{MaxPerDay: 1}, clock)
	release, err := m.Acquire("acme")
	if err != nil {
		t.Fatal(err)
	}
	release()
	if _, err := m.Acquire("acme"); err == nil {
		t.Fatal("expected daily limit")
	}
	clock.Advance(24 * time.Hour)
	if _, err := m.Acquire("acme"); err != nil {
		t.Fatalf("expected new day: %v", err)
	}
}

func TestOverridesAndDelete(t *testing.T) {
	m := NewManager(Limits{MaxActive: 1}, nil)
	m.SetLimits("enterprise", Limits{MaxActive: 3})
	for range 3 {
		if _, err := m.Acquire("enterprise"); err != nil {
			t.Fatalf("override should allow 3: %v", err)
		}
	}
	if _, err := m.Acquire("enterprise"); err == nil {
		t.Fatal("expected fourth acquire to fail")
	}
	m.DeleteTenant("enterprise")
	if got := m.LimitsFor("enterprise"); got.MaxActive != 1 {
		t.Fatalf("expected defaults after delete, got %+v", got)
	}
	if got := m.Usage("enterprise").Active; got != 0 {
		t.Fatalf("expected usage reset, got %d", got)
	}
}
