package logfields

import (
	"errors"
	"log/slog"
	"testing"
	"time"
)

// TestHelperKeyNames verifies string-based helper key/value stability.
func TestHelperKeyNames(t *testing.T) {
	cases := []struct {
		name    string
		attrKey string
		attrVal string
		attr    slog.Attr
	}{
		{"JobID", KeyJobID, "123", JobID("123")},
		{"JobStatus", KeyJobStatus, "queued", JobStatus("queued")},
		{"TenantID", KeyTenantID, "acme", TenantID("acme")},
		{"Stage", KeyStage, "rendering", Stage("rendering")},
		{"Target", KeyTarget, "static-host", Target("static-host")},
		{"Page", KeyPage, "/about/", Page("/about/")},
		{"Asset", KeyAsset, "hero", Asset("hero")},
		{"Dependency", KeyDependency, "tenant-store", Dependency("tenant-store")},
		{"BreakerState", KeyBreakerState, "open", BreakerState("open")},
		{"CacheTier", KeyCacheTier, "assets", CacheTier("assets")},
		{"Kind", KeyKind, "DeploymentError", Kind("DeploymentError")},
	}

	for _, tc := range cases {
		if tc.attr.Key != tc.attrKey {
			t.Fatalf("%s: expected key %s, got %s", tc.name, tc.attrKey, tc.attr.Key)
		}
		if got := tc.attr.Value.String(); got != tc.attrVal {
			t.Fatalf("%s: expected value %s, got %v", tc.name, tc.attrVal, got)
		}
	}
}

func TestNumericHelpers(t *testing.T) {
	if v := Status(200); v.Key != KeyStatus {
		t.Fatalf("Status key mismatch: %s", v.Key)
	}
	if v := Count(3); v.Value.Int64() != 3 {
		t.Fatalf("Count value mismatch: %v", v.Value)
	}
	if v := Since(time.Now()); v.Key != KeyDurationMS {
		t.Fatalf("Since key mismatch: %s", v.Key)
	}
}

// TestErrorHelper ensures Error() handles nil and non-nil errors predictably.
func TestErrorHelper(t *testing.T) {
	attr := Error(nil)
	if attr.Value.String() != "" {
		t.Fatalf("expected empty error string, got %s", attr.Value.String())
	}
	attr = Error(errors.New("err-test"))
	if attr.Value.String() != "err-test" {
		t.Fatalf("expected 'err-test', got %s", attr.Value.String())
	}
}
