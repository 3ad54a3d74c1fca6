package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// Compile-time checks that both implementations satisfy Recorder.
var (
	_ Recorder = NoopRecorder{}
	_ Recorder = (*PrometheusRecorder)(nil)
)

func TestNoopRecorder(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.ObserveStageDuration("rendering", time.Second)
	r.IncStageResult("rendering", ResultSuccess)
	r.IncJobOutcome("completed")
	r.SetBreakerState("tenant-store", 1)
}

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.ObserveStageDuration("rendering", 150*time.Millisecond)
	pr.IncStageResult("rendering", ResultSuccess)
	pr.ObserveJobDuration(2 * time.Second)
	pr.IncJobOutcome("partially_deployed")
	pr.SetJobsRunning(3)
	pr.SetJobsQueued(1)
	pr.IncCacheResult("assets", "hit")
	pr.IncAssetResult(AssetComputed)
	pr.SetBreakerState("target:static-host", 1)
	pr.IncDeployResult("static-host", "success")
	pr.ObserveHTTPRequest("/generate-store", http.MethodPost, http.StatusAccepted, time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) < 10 {
		t.Fatalf("expected all metric families, got %d", len(mfs))
	}
	for _, mf := range mfs {
		if !strings.HasPrefix(mf.GetName(), "storebuilder_") {
			t.Errorf("metric %s is missing the namespace", mf.GetName())
		}
	}
}

func TestHTTPHandlerServesRegistry(t *testing.T) {
	reg := prom.NewRegistry()
	NewPrometheusRecorder(reg).IncJobOutcome("completed")

	rec := httptest.NewRecorder()
	HTTPHandler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `storebuilder_job_outcomes_total{status="completed"} 1`) {
		t.Errorf("body missing job outcome counter:\n%s", rec.Body.String())
	}
}

func TestNewRegistryCarriesRuntimeCollectors(t *testing.T) {
	reg := NewRegistry()
	h := HTTPHandler(reg)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{"go_goroutines", "promhttp_metric_handler_requests_total"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %s", want)
		}
	}
}
