package generator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/storebuilder/internal/assets"
	"git.home.luguber.info/inful/storebuilder/internal/breaker"
	"git.home.luguber.info/inful/storebuilder/internal/cache"
	"git.home.luguber.info/inful/storebuilder/internal/catalog"
	"git.home.luguber.info/inful/storebuilder/internal/config"
	"git.home.luguber.info/inful/storebuilder/internal/deploy"
	"git.home.luguber.info/inful/storebuilder/internal/jobs"
	"git.home.luguber.info/inful/storebuilder/internal/quota"
	"git.home.luguber.info/inful/storebuilder/internal/render"
	"git.home.luguber.info/inful/storebuilder/internal/retry"
	"git.home.luguber.info/inful/storebuilder/internal/seo"
	"git.home.luguber.info/inful/storebuilder/internal/storage"
	"git.home.luguber.info/inful/storebuilder/internal/tenant"
)

func solidPNG(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 24, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 24; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// memTarget is an in-memory hosting target serving a single tenant.
type memTarget struct {
	name string

	mu          sync.Mutex
	uploaded    map[string]bool
	active      string
	activations []string
	rollbacks   []string
	failUpload  bool
	// blockHealth makes HealthCheck wait for its context.
	blockHealth bool
}

func newMemTarget(name, live string) *memTarget {
	return &memTarget{name: name, active: live, uploaded: map[string]bool{}}
}

func (m *memTarget) Name() string            { return m.name }
func (m *memTarget) Kind() config.TargetKind { return "memory" }

func (m *memTarget) Prepare(context.Context, *deploy.Bundle) error { return nil }

func (m *memTarget) Upload(_ context.Context, b *deploy.Bundle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpload {
		return errors.New("host unreachable")
	}
	m.uploaded[b.Version] = true
	return nil
}

func (m *memTarget) HealthCheck(ctx context.Context, _, version string) error {
	m.mu.Lock()
	block := m.blockHealth
	ok := m.uploaded[version]
	m.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if !ok {
		return fmt.Errorf("version %s not uploaded", version)
	}
	return nil
}

func (m *memTarget) Activate(_ context.Context, _, version string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = version
	m.activations = append(m.activations, version)
	return nil
}

func (m *memTarget) Rollback(_ context.Context, _, previous string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = previous
	m.rollbacks = append(m.rollbacks, previous)
	return nil
}

func (m *memTarget) ActiveVersion(context.Context, string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active, nil
}

func (m *memTarget) state() (active string, activations, rollbacks []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active, append([]string(nil), m.activations...), append([]string(nil), m.rollbacks...)
}

// logBuffer is a goroutine-safe log sink.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (l *logBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.Write(p)
}

func (l *logBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.String()
}

// gatedSource can hold asset loads until released.
type gatedSource struct {
	inner *assets.MemorySource

	mu      sync.Mutex
	gate    chan struct{}
	started chan struct{}
	opens   int
}

func (g *gatedSource) Open(ctx context.Context, tenantID, assetID string) ([]byte, error) {
	g.mu.Lock()
	g.opens++
	gate, started := g.gate, g.started
	g.mu.Unlock()
	if gate != nil {
		select {
		case started <- struct{}{}:
		default:
		}
		<-gate
	}
	return g.inner.Open(ctx, tenantID, assetID)
}

func (g *gatedSource) hold() (started <-chan struct{}, release func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gate = make(chan struct{})
	g.started = make(chan struct{}, 1)
	gate := g.gate
	var once sync.Once
	return g.started, func() { once.Do(func() { close(gate) }) }
}

func (g *gatedSource) openCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.opens
}

type fixture struct {
	gen        *Generator
	jobs       *jobs.Manager
	tenants    *tenant.MemoryProvider
	catalogs   *catalog.MemoryProvider
	sources    *gatedSource
	pipeline   *assets.Pipeline
	static     *memTarget
	serverless *memTarget
}

type fixtureOptions struct {
	timeout   time.Duration
	limits    quota.Limits
	breakers  breaker.SettingsFunc
	revert    bool
	templates []*render.Template
	logger    *slog.Logger
}

func testSnapshot(id string) *tenant.Snapshot {
	return &tenant.Snapshot{
		TenantID: id,
		Version:  "3",
		Name:     "Acme Parts",
		BaseURL:  "https://" + id + ".example",
		Branding: tenant.Branding{
			PrimaryColor: "#123456", TextColor: "#111111", BackgroundColor: "#ffffff",
			LogoAsset: "logo", Tagline: "Parts that fit every bench",
		},
		Features:       tenant.Features{Search: true, Reviews: true, FAQ: true},
		Commerce:       tenant.Commerce{Currency: "USD", Locale: "en-US"},
		CatalogVersion: "v1",
		TemplateID:     "classic",
		Targets:        []string{"serverless-host", "static-host"},
		About:          "We sell **parts**.",
		FAQ:            []tenant.FAQEntry{{Question: "Do you ship?", Answer: "Yes."}},
	}
}

func testProducts() []catalog.Product {
	out := make([]catalog.Product, 0, 3)
	for i := 0; i < 3; i++ {
		out = append(out, catalog.Product{
			ID:          fmt.Sprintf("p%d", i),
			Name:        fmt.Sprintf("Widget %d", i),
			Description: fmt.Sprintf("A sturdy widget number %d for every workbench.", i),
			Category:    "tools",
			PriceMinor:  int64(1000 + i*100),
			ImageIDs:    []string{fmt.Sprintf("img-%d", i)},
			Rating:      4,
			InStock:     true,
		})
	}
	return out
}

func newFixture(t *testing.T, o fixtureOptions) *fixture {
	t.Helper()
	if o.timeout == 0 {
		o.timeout = 30 * time.Second
	}
	f := &fixture{
		tenants:    tenant.NewMemoryProvider(testSnapshot("acme"), testSnapshot("globex")),
		catalogs:   catalog.NewMemoryProvider(),
		sources:    &gatedSource{inner: assets.NewMemorySource()},
		static:     newMemTarget("static-host", "v0"),
		serverless: newMemTarget("serverless-host", "v0"),
	}
	f.catalogs.Put("acme", "v1", testProducts())
	f.catalogs.Put("globex", "v1", testProducts())
	// One image shared by every id and tenant.
	shared := solidPNG(t, color.RGBA{R: 180, G: 40, B: 40, A: 255})
	for _, id := range []string{"logo", "img-0", "img-1", "img-2"} {
		f.sources.inner.Put("", id, shared)
	}

	registry := breaker.NewRegistry(o.breakers)
	f.pipeline = assets.New(f.sources, storage.NewMemoryStore(),
		assets.WithParallelism(2),
		assets.WithSpec(assets.Spec{Widths: []int{16}, PrimaryFormat: assets.FormatJPEG, FallbackFormat: assets.FormatPNG, Quality: 70, PlaceholderSize: 4}),
		assets.WithBreaker(registry.Get(breaker.AssetBackend)),
	)
	templates := append([]*render.Template{render.Classic()}, o.templates...)
	renderer := render.NewEngine(render.NewMemorySource(templates...),
		render.WithTier(cache.NewTier[*render.Plan]("templates", time.Hour)))

	gateway := deploy.NewGateway([]deploy.Binding{
		{Target: f.static, PublicURL: "https://shop.example"},
		{Target: f.serverless},
	}, deploy.WithBreakers(registry), deploy.WithHealthTimeout(time.Minute), deploy.WithRevertOnPartial(o.revert))

	f.jobs = jobs.NewManager(2, 10, jobs.WithTimeout(o.timeout))
	f.jobs.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = f.jobs.Stop(ctx)
	})

	gen, err := New(Deps{
		Tenants:     f.tenants,
		Catalogs:    f.catalogs,
		Renderer:    renderer,
		Assets:      f.pipeline,
		SEO:         seo.New(seo.Settings{}, nil),
		Gateway:     gateway,
		Jobs:        f.jobs,
		CatalogTier: cache.NewTier[*catalog.Catalog]("catalog", time.Hour),
		Quota:       quota.NewManager(o.limits, nil),
		Breakers:    registry,
		Retry:       retry.NewPolicy(config.RetryBackoffFixed, time.Millisecond, time.Millisecond, 1),
		Logger:      o.logger,
	}, Settings{ProductsPerPage: 2})
	require.NoError(t, err)
	f.gen = gen
	return f
}

// wait blocks until the job is terminal and returns its final record.
func (f *fixture) wait(t *testing.T, id string) *jobs.Job {
	t.Helper()
	ch, _, err := f.gen.Subscribe(context.Background(), id)
	require.NoError(t, err)
	var last *jobs.Job
	timeout := time.After(10 * time.Second)
	for {
		select {
		case j, ok := <-ch:
			if !ok {
				require.NotNil(t, last)
				return last
			}
			last = j
		case <-timeout:
			t.Fatalf("job %s did not finish", id)
		}
	}
}

func brokenTemplate() *render.Template {
	tpl := render.Classic()
	tpl.ID = "broken"
	page := tpl.Pages[render.KindProduct]
	page.Placeholders = nil
	delete(page.Slots, "breadcrumbs")
	tpl.Pages[render.KindProduct] = page
	return tpl
}
