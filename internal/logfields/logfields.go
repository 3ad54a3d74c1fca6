package logfields

import (
	"log/slog"
	"time"
)

// Canonical log field name constants to avoid drift across packages.
const (
	KeyJobID        = "job_id"
	KeyJobStatus    = "job_status"
	KeyTenantID     = "tenant_id"
	KeyStage        = "stage"
	KeyDurationMS   = "duration_ms"
	KeyTarget       = "target"
	KeyTargetKind   = "target_kind"
	KeyPage         = "page"
	KeyAsset        = "asset"
	KeyTemplate     = "template"
	KeyDependency   = "dependency"
	KeyBreakerState = "breaker_state"
	KeyVersion      = "version"
	KeyCacheTier    = "cache_tier"
	KeyKind         = "kind"
	KeyPath         = "path"
	KeyMethod       = "method"
	KeyStatus       = "status"
	KeyRequestID    = "request_id"
	KeyScheduleName = "schedule_name"
	KeyCount        = "count"
	KeyError        = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func JobID(id string) slog.Attr        { return slog.String(KeyJobID, id) }
func JobStatus(s string) slog.Attr     { return slog.String(KeyJobStatus, s) }
func TenantID(id string) slog.Attr     { return slog.String(KeyTenantID, id) }
func Stage(name string) slog.Attr      { return slog.String(KeyStage, name) }
func Target(name string) slog.Attr     { return slog.String(KeyTarget, name) }
func TargetKind(kind string) slog.Attr { return slog.String(KeyTargetKind, kind) }
func Page(route string) slog.Attr      { return slog.String(KeyPage, route) }
func Asset(id string) slog.Attr        { return slog.String(KeyAsset, id) }
func Template(ref string) slog.Attr    { return slog.String(KeyTemplate, ref) }
func Dependency(name string) slog.Attr { return slog.String(KeyDependency, name) }
func BreakerState(s string) slog.Attr  { return slog.String(KeyBreakerState, s) }
func Version(v string) slog.Attr       { return slog.String(KeyVersion, v) }
func CacheTier(name string) slog.Attr  { return slog.String(KeyCacheTier, name) }
func Kind(kind string) slog.Attr       { return slog.String(KeyKind, kind) }
func Path(p string) slog.Attr          { return slog.String(KeyPath, p) }
func Method(m string) slog.Attr        { return slog.String(KeyMethod, m) }
func Status(code int) slog.Attr        { return slog.Int(KeyStatus, code) }
func RequestID(id string) slog.Attr    { return slog.String(KeyRequestID, id) }
func ScheduleName(n string) slog.Attr  { return slog.String(KeyScheduleName, n) }
func Count(n int) slog.Attr            { return slog.Int(KeyCount, n) }
func DurationMS(ms float64) slog.Attr  { return slog.Float64(KeyDurationMS, ms) }
func Since(start time.Time) slog.Attr {
	return DurationMS(float64(time.Since(start).Microseconds()) / 1000)
}

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
