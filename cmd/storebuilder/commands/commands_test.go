package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/storebuilder/internal/catalog"
	"git.home.luguber.info/inful/storebuilder/internal/config"
	"git.home.luguber.info/inful/storebuilder/internal/generator"
	"git.home.luguber.info/inful/storebuilder/internal/server/responses"
	"git.home.luguber.info/inful/storebuilder/internal/tenant"
)

const tenantYAML = `name: Acme Parts
version: "1"
base_url: https://shop.example
branding:
  primary_color: "#123456"
  text_color: "#111111"
  background_color: "#ffffff"
  logo_asset: logo
commerce:
  currency: USD
  locale: en-US
features:
  search: true
catalog_version: v1
template_id: classic
targets: [static-host]
about: We sell **parts**.
`

// testEnv lays out a self-contained storebuilder workspace.
type testEnv struct {
	root string
	cfg  *config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()
	mkdir := func(parts ...string) string {
		dir := filepath.Join(append([]string{root}, parts...)...)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		return dir
	}
	tenants := mkdir("tenants")
	require.NoError(t, os.WriteFile(filepath.Join(tenants, "acme.yaml"), []byte(tenantYAML), 0o644))

	catalogs := mkdir("catalogs", "acme")
	products := []catalog.Product{
		{ID: "p1", Name: "Brake Pad", Description: "Quiet ceramic pads.", Category: "brakes", PriceMinor: 2599, ImageIDs: []string{"pad"}, Rating: 4.5, InStock: true},
		{ID: "p2", Name: "Oil Filter", Description: "Fits most engines.", Category: "filters", PriceMinor: 899, ImageIDs: []string{"missing"}, InStock: true},
	}
	data, err := json.Marshal(products)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(catalogs, "v1.json"), data, 0o644))

	shared := mkdir("assets", "shared")
	writePNG(t, filepath.Join(shared, "pad.png"))
	writePNG(t, filepath.Join(shared, "logo.png"))

	raw := `
tenants:
  dir: ` + tenants + `
  catalog_dir: ` + filepath.Join(root, "catalogs") + `
render:
  templates_dir: ` + mkdir("templates") + `
assets:
  source_dir: ` + filepath.Join(root, "assets") + `
  storage_dir: ` + filepath.Join(root, "objects") + `
  widths: [16]
store:
  path: ` + filepath.Join(root, "data", "storebuilder.db") + `
metrics:
  enabled: true
deploy:
  targets:
    - name: static-host
      kind: statichost
      dir: ` + filepath.Join(root, "public") + `
      public_url: https://shop.example
`
	cfg, err := config.Parse([]byte(raw))
	require.NoError(t, err)
	return &testEnv{root: root, cfg: cfg}
}

func writePNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 24, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 24; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 40, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunGenerateDeploysStaticSite(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var out bytes.Buffer
	err := RunGenerate(ctx, env.cfg, quietLogger(), generator.Request{TenantID: "acme"}, &out)
	require.NoError(t, err, out.String())

	var status responses.StatusResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &status))
	assert.Equal(t, "completed", status.Status)
	require.Len(t, status.PerTargetResults, 1)
	assert.Equal(t, "static-host", status.PerTargetResults[0].Target)

	index := filepath.Join(env.root, "public", "current", "index.html")
	html, err := os.ReadFile(index)
	require.NoError(t, err)
	assert.Contains(t, string(html), "Acme Parts")

	// Optimized variants land in the configured object store.
	objects, err := os.ReadDir(filepath.Join(env.root, "objects", "objects"))
	require.NoError(t, err)
	assert.NotEmpty(t, objects)
}

func TestRunGenerateReportsFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var out bytes.Buffer
	req := generator.Request{TenantID: "acme", Overrides: tenant.Overrides{TemplateID: "does-not-exist"}}
	err := RunGenerate(ctx, env.cfg, quietLogger(), req, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")
	assert.Contains(t, out.String(), `"status": "failed"`)
}

func TestBuildAppNeedsCatalogSource(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Tenants.CatalogDir = ""

	_, err := BuildApp(context.Background(), env.cfg, quietLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog")
}

func TestRunServeStopsOnCancel(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Server.Addr = "127.0.0.1:0"
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- RunServe(ctx, env.cfg, quietLogger(), true) }()
	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(30 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestRunInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	var out bytes.Buffer
	require.NoError(t, RunInit(path, false, &out))
	assert.Contains(t, out.String(), "initialized successfully")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Deploy.Targets)

	out.Reset()
	require.Error(t, RunInit(path, false, &out))
	assert.Contains(t, out.String(), "Initialization failed")
	require.NoError(t, RunInit(path, true, &out))
}

func TestRunValidateTemplates(t *testing.T) {
	dir := t.TempDir()
	good, err := os.ReadFile(filepath.Join("..", "..", "..", "internal", "render", "builtin", "classic.yaml"))
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "classic"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "classic", "1.0.yaml"), good, 0o644))

	var out bytes.Buffer
	require.NoError(t, RunValidateTemplates([]string{dir}, &out))
	assert.True(t, strings.HasPrefix(out.String(), "ok"))

	broken := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("id: broken\nversion: \"1\"\nlayout:\n  document: \"<html></html>\"\n"), 0o644))
	out.Reset()
	err = RunValidateTemplates([]string{broken}, &out)
	require.Error(t, err)
	assert.Contains(t, out.String(), "INVALID "+broken)
}
