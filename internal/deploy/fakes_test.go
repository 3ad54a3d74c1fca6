package deploy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"git.home.luguber.info/inful/storebuilder/internal/config"
)

func testBundle(content string) *Bundle {
	return tenantBundle("acme", content)
}

func tenantBundle(tenantID, content string) *Bundle {
	b, err := NewBundle(tenantID, []File{
		{Path: "/index.html", ContentType: "text/html", Data: []byte("<h1>" + content + "</h1>")},
		{Path: "/products/widget/index.html", ContentType: "text/html", Data: []byte("widget " + content)},
		{Path: "/sitemap.xml", ContentType: "application/xml", Data: []byte("<urlset/>")},
	})
	if err != nil {
		panic(err)
	}
	return b
}

// fakeTarget records calls and fails at a chosen step. active is the live
// version of every tenant the target has not published for yet.
type fakeTarget struct {
	name   string
	failAt string
	delay  time.Duration

	mu     sync.Mutex
	active string
	live   map[string]string
	calls  []string

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeTarget) record(call string) error {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	if strings.HasPrefix(call, f.failAt+":") || call == f.failAt {
		return errors.New(f.failAt + " exploded")
	}
	return nil
}

func (f *fakeTarget) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeTarget) Name() string            { return f.name }
func (f *fakeTarget) Kind() config.TargetKind { return "fake" }

func (f *fakeTarget) Prepare(context.Context, *Bundle) error { return f.record("prepare") }

func (f *fakeTarget) Upload(_ context.Context, b *Bundle) error {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(f.delay)
	return f.record("upload:" + b.Version)
}

func (f *fakeTarget) HealthCheck(_ context.Context, _, v string) error {
	return f.record("health:" + v)
}

func (f *fakeTarget) setLive(tenantID, v string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.live == nil {
		f.live = map[string]string{}
	}
	f.live[tenantID] = v
}

func (f *fakeTarget) Activate(_ context.Context, tenantID, v string) error {
	if err := f.record("activate:" + v); err != nil {
		return err
	}
	f.setLive(tenantID, v)
	return nil
}

func (f *fakeTarget) Rollback(_ context.Context, tenantID, prev string) error {
	if err := f.record("rollback:" + prev); err != nil {
		return err
	}
	f.setLive(tenantID, prev)
	return nil
}

func (f *fakeTarget) ActiveVersion(_ context.Context, tenantID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.live[tenantID]; ok {
		return v, nil
	}
	return f.active, nil
}

// fakeHostAPI implements the hosting API HTTPHost talks to. live holds the
// acme site's live version; other sites start empty.
type fakeHostAPI struct {
	mu         sync.Mutex
	live       string
	sites      map[string]string
	uploadDown bool
	unhealthy  bool
	files      map[string]map[string]string
	tokens     []string
}

func newFakeHostAPI(live string) *fakeHostAPI {
	return &fakeHostAPI{live: live, sites: map[string]string{}, files: map[string]map[string]string{}}
}

func (f *fakeHostAPI) Live() string { return f.SiteLive("acme") }

func (f *fakeHostAPI) SiteLive(tenantID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.siteLive(tenantID)
}

func (f *fakeHostAPI) siteLive(tenantID string) string {
	if v, ok := f.sites[tenantID]; ok {
		return v
	}
	if tenantID == "acme" {
		return f.live
	}
	return ""
}

func (f *fakeHostAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, r.Header.Get("Authorization"))
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 3 || parts[0] != "sites" {
		http.NotFound(w, r)
		return
	}
	site := parts[1]
	parts = parts[2:]

	switch {
	case parts[0] == "live":
		switch r.Method {
		case http.MethodGet:
			v := f.siteLive(site)
			if v == "" {
				http.NotFound(w, r)
				return
			}
			_ = json.NewEncoder(w).Encode(liveVersion{Version: v})
		case http.MethodPut:
			var lv liveVersion
			if err := json.NewDecoder(r.Body).Decode(&lv); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			f.sites[site] = lv.Version
			w.WriteHeader(http.StatusNoContent)
		case http.MethodDelete:
			f.sites[site] = ""
			w.WriteHeader(http.StatusNoContent)
		}
	case parts[0] == "versions" && len(parts) == 2:
		f.files[site+"/"+parts[1]] = map[string]string{}
		w.WriteHeader(http.StatusCreated)
	case parts[0] == "versions" && len(parts) == 3 && parts[2] == "health":
		if f.unhealthy {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		if _, ok := f.files[site+"/"+parts[1]]["index.html"]; !ok {
			http.Error(w, "no index", http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusOK)
	case parts[0] == "versions" && len(parts) > 3 && parts[2] == "files":
		if f.uploadDown {
			http.Error(w, "storage offline", http.StatusServiceUnavailable)
			return
		}
		body, _ := io.ReadAll(r.Body)
		f.files[site+"/"+parts[1]][strings.Join(parts[3:], "/")] = string(body)
		w.WriteHeader(http.StatusCreated)
	default:
		http.NotFound(w, r)
	}
}
