package deploy

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/storebuilder/internal/config"
	"git.home.luguber.info/inful/storebuilder/internal/credentials"
)

func cycle(t *testing.T, target Target, b *Bundle) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, target.Prepare(ctx, b))
	require.NoError(t, target.Upload(ctx, b))
	require.NoError(t, target.HealthCheck(ctx, b.TenantID, b.Version))
	require.NoError(t, target.Activate(ctx, b.TenantID, b.Version))
}

func TestStaticHostSwapsVersions(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	host := NewStaticHost("static", dir)

	v, err := host.ActiveVersion(ctx, "acme")
	require.NoError(t, err)
	assert.Empty(t, v)

	first, second := testBundle("one"), testBundle("two")
	cycle(t, host, first)
	cycle(t, host, second)

	v, err = host.ActiveVersion(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, second.Version, v)
	data, err := os.ReadFile(filepath.Join(host.LiveDir("acme"), "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "<h1>two</h1>", string(data))

	require.NoError(t, host.Rollback(ctx, "acme", first.Version))
	data, err = os.ReadFile(filepath.Join(host.LiveDir("acme"), "products", "widget", "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "widget one", string(data))

	require.NoError(t, host.Rollback(ctx, "acme", ""))
	v, err = host.ActiveVersion(ctx, "acme")
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestStaticHostHealthCheckDetectsDamage(t *testing.T) {
	ctx := context.Background()
	host := NewStaticHost("static", t.TempDir())
	b := testBundle("one")
	require.NoError(t, host.Prepare(ctx, b))
	require.NoError(t, host.Upload(ctx, b))
	require.NoError(t, os.Remove(filepath.Join(host.versionDir("acme", b.Version), "sitemap.xml")))
	assert.Error(t, host.HealthCheck(ctx, "acme", b.Version))
	assert.Error(t, host.Activate(ctx, "acme", "missing"))
}

func TestGitPagesPublishesCommits(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	pages := NewGitPages("pages", filepath.Join(t.TempDir(), "site.git"), "", "", clock)

	v, err := pages.ActiveVersion(ctx, "acme")
	require.NoError(t, err)
	assert.Empty(t, v)

	first, second := testBundle("one"), testBundle("two")
	cycle(t, pages, first)
	cycle(t, pages, second)

	v, err = pages.ActiveVersion(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, second.Version, v)
	body, err := pages.ReadFile("acme", "products/widget/index.html")
	require.NoError(t, err)
	assert.Equal(t, "widget two", body)

	require.NoError(t, pages.Rollback(ctx, "acme", first.Version))
	v, err = pages.ActiveVersion(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, first.Version, v)
	body, err = pages.ReadFile("acme", "index.html")
	require.NoError(t, err)
	assert.Equal(t, "<h1>one</h1>", body)

	require.NoError(t, pages.Upload(ctx, first), "re-uploading a version is a no-op")
	assert.Error(t, pages.HealthCheck(ctx, "acme", "0000000000000000"))
}

func TestHTTPHostSendsBearerToken(t *testing.T) {
	api := newFakeHostAPI("")
	srv := httptest.NewServer(api)
	defer srv.Close()

	host := NewHTTPHost("edge", srv.URL, srv.Client())
	ctx := credentials.WithCredential(context.Background(), credentials.Credential{Ref: "edge", Secret: "s3cret", ExpiresAt: time.Now().Add(time.Minute)})
	b := testBundle("one")
	cycle(t, host, b)

	v, err := host.ActiveVersion(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, b.Version, v)

	require.NoError(t, host.Prepare(ctx, b))
	api.mu.Lock()
	last := api.tokens[len(api.tokens)-1]
	api.mu.Unlock()
	assert.Equal(t, "Bearer s3cret", last)

	require.NoError(t, host.Rollback(ctx, "acme", ""))
	assert.Empty(t, api.Live())
}

func TestHTTPHostReportsUnhealthyVersion(t *testing.T) {
	api := newFakeHostAPI("")
	api.unhealthy = true
	srv := httptest.NewServer(api)
	defer srv.Close()

	host := NewHTTPHost("edge", srv.URL, srv.Client())
	b := testBundle("one")
	ctx := context.Background()
	require.NoError(t, host.Prepare(ctx, b))
	require.NoError(t, host.Upload(ctx, b))
	assert.Error(t, host.HealthCheck(ctx, "acme", b.Version))
}

func TestNewTargetFromConfig(t *testing.T) {
	_, err := NewTarget(config.TargetConfig{Name: "s", Kind: config.TargetStaticHost}, nil)
	assert.Error(t, err)
	_, err = NewTarget(config.TargetConfig{Name: "x", Kind: "ftp"}, nil)
	assert.Error(t, err)

	bindings, err := BindingsFromConfig([]config.TargetConfig{
		{Name: "s", Kind: config.TargetStaticHost, Dir: t.TempDir(), PublicURL: "https://shop.example"},
		{Name: "g", Kind: config.TargetGitPages, RepoPath: t.TempDir()},
		{Name: "h", Kind: config.TargetHTTPHost, Endpoint: "https://api.example", CredentialRef: "edge"},
	}, nil)
	require.NoError(t, err)
	require.Len(t, bindings, 3)
	assert.Equal(t, config.TargetHTTPHost, bindings[2].Target.Kind())
	assert.Equal(t, "edge", bindings[2].CredentialRef)
}

func TestGitPagesKeepsBranchPerTenant(t *testing.T) {
	ctx := context.Background()
	pages := NewGitPages("pages", filepath.Join(t.TempDir(), "site.git"), "", "", nil)

	acme, globex := tenantBundle("acme", "acme"), tenantBundle("globex", "globex")
	cycle(t, pages, acme)
	cycle(t, pages, globex)

	v, err := pages.ActiveVersion(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, acme.Version, v)
	body, err := pages.ReadFile("acme", "index.html")
	require.NoError(t, err)
	assert.Equal(t, "<h1>acme</h1>", body)
	assert.Equal(t, "refs/heads/pages/globex", pages.Branch("globex").String())

	require.NoError(t, pages.Rollback(ctx, "globex", ""))
	v, err = pages.ActiveVersion(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, acme.Version, v)
	assert.Error(t, pages.HealthCheck(ctx, "globex", acme.Version), "versions are not shared across tenants")
}

func TestHTTPHostScopesLiveVersionBySite(t *testing.T) {
	api := newFakeHostAPI("")
	srv := httptest.NewServer(api)
	defer srv.Close()

	host := NewHTTPHost("edge", srv.URL, srv.Client())
	acme, globex := tenantBundle("acme", "acme"), tenantBundle("globex", "globex")
	cycle(t, host, acme)
	cycle(t, host, globex)

	assert.Equal(t, acme.Version, api.SiteLive("acme"))
	assert.Equal(t, globex.Version, api.SiteLive("globex"))
	v, err := host.ActiveVersion(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, acme.Version, v)
}

func TestStaticHostRejectsUnsafeTenant(t *testing.T) {
	host := NewStaticHost("static", t.TempDir())
	_, err := host.ActiveVersion(context.Background(), "../other")
	assert.Error(t, err)
	assert.Error(t, host.Activate(context.Background(), "..", "v1"))
}
