package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/storebuilder/internal/breaker"
	"git.home.luguber.info/inful/storebuilder/internal/eventstore"
	foundationerrors "git.home.luguber.info/inful/storebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/storebuilder/internal/generator"
	"git.home.luguber.info/inful/storebuilder/internal/jobs"
	"git.home.luguber.info/inful/storebuilder/internal/server/responses"
	"git.home.luguber.info/inful/storebuilder/internal/storage"
)

type fakeService struct {
	mu          sync.Mutex
	jobs        map[string]*jobs.Job
	generateErr error
	lastRequest generator.Request
	updates     chan *jobs.Job
	tenantHits  map[string]int
	templates   map[string]int
}

func newFakeService() *fakeService {
	return &fakeService{
		jobs:       map[string]*jobs.Job{},
		tenantHits: map[string]int{},
		templates:  map[string]int{},
	}
}

func (f *fakeService) put(j *jobs.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[j.ID] = j
}

func (f *fakeService) GenerateStore(_ context.Context, req generator.Request) (*jobs.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastRequest = req
	if f.generateErr != nil {
		return nil, f.generateErr
	}
	j := &jobs.Job{ID: "job-1", TenantID: req.TenantID, Status: jobs.StatusQueued, CreatedAt: time.Now()}
	f.jobs[j.ID] = j
	return j.Clone(), nil
}

func (f *fakeService) Status(_ context.Context, id string) (*jobs.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, foundationerrors.NotFoundError("job not found").WithContext("job_id", id).Build()
	}
	return j.Clone(), nil
}

func (f *fakeService) Cancel(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return foundationerrors.NotFoundError("job not found").Build()
	}
	if j.Status.Terminal() {
		return foundationerrors.ConflictError("job already " + string(j.Status)).Build()
	}
	if j.Status == jobs.StatusQueued {
		j.Status = jobs.StatusCancelled
	}
	return nil
}

func (f *fakeService) Subscribe(ctx context.Context, id string) (<-chan *jobs.Job, func(), error) {
	if _, err := f.Status(ctx, id); err != nil {
		return nil, nil, err
	}
	return f.updates, func() {}, nil
}

func (f *fakeService) Recent(_ context.Context, tenantID string, limit int) ([]*jobs.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*jobs.Job
	for _, j := range f.jobs {
		if j.TenantID == tenantID && len(out) < limit {
			out = append(out, j.Clone())
		}
	}
	return out, nil
}

func (f *fakeService) InvalidateTenant(_ context.Context, id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tenantHits[id]++
	return 2
}

func (f *fakeService) InvalidateTemplate(_ context.Context, id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.templates[id]++
	return 1
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != "" {
		rd = bytes.NewReader([]byte(body))
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, rd)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestGenerateStoreAccepted(t *testing.T) {
	svc := newFakeService()
	srv := NewServer(":0", svc)

	w := do(t, srv.Handler(), http.MethodPost, "/generate-store",
		`{"tenantId":"acme","configOverrides":{"templateId":"classic","targets":["static-host"]}}`)

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var resp responses.GenerateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "job-1", resp.JobID)
	assert.Equal(t, "queued", resp.Status)
	assert.Equal(t, "/generation-status/job-1", w.Header().Get("Location"))
	assert.Equal(t, "classic", svc.lastRequest.Overrides.TemplateID)
	assert.Equal(t, []string{"static-host"}, svc.lastRequest.Overrides.Targets)
}

func TestGenerateStoreRejections(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
		kind   string
	}{
		{name: "malformed body", body: `{"tenantId":`, status: http.StatusBadRequest, kind: "ValidationError"},
		{name: "unknown field", body: `{"tenant":"acme"}`, status: http.StatusBadRequest, kind: "ValidationError"},
		{name: "quota", body: `{"tenantId":"acme"}`, err: foundationerrors.QuotaError("too many active jobs").Build(), status: http.StatusTooManyRequests, kind: "QuotaError"},
		{name: "circuit open", body: `{"tenantId":"acme"}`, err: foundationerrors.CircuitOpenError("tenant-store").Build(), status: http.StatusServiceUnavailable, kind: "CircuitOpenError"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newFakeService()
			svc.generateErr = tt.err
			w := do(t, NewServer(":0", svc).Handler(), http.MethodPost, "/generate-store", tt.body)

			require.Equal(t, tt.status, w.Code, w.Body.String())
			var resp foundationerrors.HTTPErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.kind, resp.Kind)
		})
	}
}

func TestGenerationStatus(t *testing.T) {
	svc := newFakeService()
	started := time.Now()
	svc.put(&jobs.Job{
		ID: "j1", TenantID: "acme", Status: jobs.StatusPartiallyDeployed, Progress: 1, StartedAt: &started,
		Targets: []jobs.TargetResult{
			{Target: "static-host", Outcome: "success", Version: "v1"},
			{Target: "serverless-host", Outcome: "failed", Error: "upload failed"},
		},
		Log: []jobs.LogEntry{{Level: jobs.LevelError, Stage: jobs.StatusDeploying, Message: "target serverless-host failed", Kind: "DeploymentError"}},
	})
	srv := NewServer(":0", svc)

	w := do(t, srv.Handler(), http.MethodGet, "/generation-status/j1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp responses.StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "j1", resp.JobID)
	assert.Equal(t, "partially_deployed", resp.Status)
	require.Len(t, resp.PerTargetResults, 2)
	assert.Equal(t, "failed", resp.PerTargetResults[1].Outcome)
	require.Len(t, resp.Logs, 1)
	assert.Equal(t, "DeploymentError", resp.Logs[0].Kind)

	w = do(t, srv.Handler(), http.MethodGet, "/generation-status/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelEndpoint(t *testing.T) {
	svc := newFakeService()
	svc.put(&jobs.Job{ID: "queued", Status: jobs.StatusQueued})
	svc.put(&jobs.Job{ID: "running", Status: jobs.StatusRendering})
	svc.put(&jobs.Job{ID: "done", Status: jobs.StatusCompleted})
	h := NewServer(":0", svc).Handler()

	w := do(t, h, http.MethodPost, "/cancel/queued", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	var resp responses.CancelResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "cancelled", resp.Status)

	w = do(t, h, http.MethodPost, "/cancel/running", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "cancelling", resp.Status)

	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/cancel/done", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/cancel/nope", "").Code)
}

func TestTenantJobsLimit(t *testing.T) {
	svc := newFakeService()
	svc.put(&jobs.Job{ID: "a", TenantID: "acme", Status: jobs.StatusCompleted})
	h := NewServer(":0", svc).Handler()

	w := do(t, h, http.MethodGet, "/tenants/acme/jobs?limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp responses.JobListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Jobs, 1)
	assert.Equal(t, "a", resp.Jobs[0].JobID)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/tenants/acme/jobs?limit=0", "").Code)
}

func TestInvalidationEndpoints(t *testing.T) {
	svc := newFakeService()
	h := NewServer(":0", svc).Handler()

	w := do(t, h, http.MethodPost, "/tenants/acme/invalidate", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp responses.InvalidateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, responses.InvalidateResponse{Scope: "tenant", ID: "acme", Removed: 2}, resp)

	w = do(t, h, http.MethodPost, "/templates/classic/invalidate", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, svc.templates["classic"])
}

func TestHealthReportsOpenCircuits(t *testing.T) {
	reg := breaker.NewRegistry(func(string) breaker.Settings {
		return breaker.Settings{FailureThreshold: 1, Window: time.Minute, Cooldown: time.Hour}
	})
	_ = reg.Get(breaker.TenantStore).Execute(context.Background(), func(context.Context) error {
		return foundationerrors.StorageError("down").Build()
	})
	h := NewServer(":0", newFakeService(), WithBreakers(reg)).Handler()

	w := do(t, h, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp responses.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	require.Len(t, resp.Breakers, 1)
	assert.Equal(t, "open", resp.Breakers[0].State)
}

func TestCDNServesStoredVariants(t *testing.T) {
	store := storage.NewMemoryStore()
	hash, err := store.Put(context.Background(), &storage.Object{Type: storage.ObjectTypeVariant, ContentType: "image/png", Data: []byte("png-bytes")})
	require.NoError(t, err)
	h := NewServer(":0", newFakeService(), WithObjectStore(store)).Handler()

	w := do(t, h, http.MethodGet, "/cdn/"+hash+".png", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, "png-bytes", w.Body.String())
	assert.Contains(t, w.Header().Get("Cache-Control"), "immutable")

	missing := strings.Repeat("0", 64)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/cdn/"+missing+".png", "").Code)
}

func TestTenantEventHistory(t *testing.T) {
	store, err := eventstore.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	rec := eventstore.NewRecorder(store, nil)
	ctx := context.Background()
	now := time.Now().UTC()
	for _, l := range []eventstore.Lifecycle{{TenantID: "acme"}, {TenantID: "globex"}} {
		e, err := eventstore.NewLifecycleEvent("j-"+l.TenantID, eventstore.TypeJobQueued, now, l)
		require.NoError(t, err)
		require.NoError(t, rec.Record(ctx, e))
	}
	h := NewServer(":0", newFakeService(), WithEventLog(rec)).Handler()

	w := do(t, h, http.MethodGet, "/tenants/acme/events", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp responses.EventListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "j-acme", resp.Events[0].JobID)
	assert.Equal(t, eventstore.TypeJobQueued, resp.Events[0].Type)

	w = do(t, h, http.MethodGet, "/tenants/acme/events?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestJobEventsStreamUntilTerminal(t *testing.T) {
	svc := newFakeService()
	svc.put(&jobs.Job{ID: "j1", Status: jobs.StatusQueued})
	svc.updates = make(chan *jobs.Job, 3)
	svc.updates <- &jobs.Job{ID: "j1", Status: jobs.StatusQueued}
	svc.updates <- &jobs.Job{ID: "j1", Status: jobs.StatusRendering, Progress: 0.3}
	svc.updates <- &jobs.Job{ID: "j1", Status: jobs.StatusCompleted, Progress: 1}

	ts := httptest.NewServer(NewServer(":0", svc).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/generation-status/j1/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var events []string
	var statuses []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			events = append(events, strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			var s responses.StatusResponse
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &s))
			statuses = append(statuses, s.Status)
		}
	}
	assert.Equal(t, []string{"status", "status", "terminal"}, events)
	assert.Equal(t, []string{"queued", "rendering", "completed"}, statuses)
}

func TestJobEventsUnknownJob(t *testing.T) {
	h := NewServer(":0", newFakeService()).Handler()
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/generation-status/nope/events", "").Code)
}

func TestPanicsBecomeInternalErrors(t *testing.T) {
	srv := NewServer(":0", newFakeService())
	srv.router.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("boom") })

	w := do(t, srv.Handler(), http.MethodGet, "/boom", "")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	var resp foundationerrors.HTTPErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "InternalError", resp.Kind)
}
