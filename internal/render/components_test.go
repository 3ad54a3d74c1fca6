package render

import (
	"context"
	"strings"
	"testing"

	"github.com/a-h/templ"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func renderString(t *testing.T, c templ.Component) string {
	t.Helper()
	var sb strings.Builder
	require.NoError(t, c.Render(context.Background(), &sb))
	return sb.String()
}

func TestPictureRendersTokensAndEscapesAlt(t *testing.T) {
	got := renderString(t, picture("hero", `Bolt "M6" <steel>`, "100vw", "hero-image"))
	assert.Equal(t, `<picture class="hero-image">`+
		`<source type="asset-type://hero/primary" srcset="asset-srcset://hero/primary" sizes="100vw"> `+
		`<img src="asset://hero" srcset="asset-srcset://hero/fallback" sizes="100vw" alt="Bolt &#34;M6&#34; &lt;steel&gt;" `+
		`style="background-color:asset-color://hero;background-image:url(asset-blur://hero);"></picture>`, got)

	assert.Empty(t, renderString(t, picture("../etc", "x", "", "thumb")))
}

func TestBreadcrumbsSanitizeUnsafeRoutes(t *testing.T) {
	p := &Page{Store: testInput(1), Breadcrumbs: []Crumb{
		{Name: "Home", Route: "/"},
		{Name: "Trap", Route: "javascript:alert(1)"},
	}}
	got := renderString(t, breadcrumbs(p))
	assert.Contains(t, got, `<li><a href="/">Home</a></li>`)
	assert.Contains(t, got, `href="about:invalid#TemplFailedSanitizationURL" aria-current="page">Trap</a>`)
	assert.NotContains(t, got, "javascript:")
}

func TestFooterAndFragmentsSkipEmptyData(t *testing.T) {
	in := testInput(0)
	p := &Page{Store: in, Heading: "Products"}

	assert.Equal(t, "<p>&copy; 2026 Acme Parts</p>", renderString(t, siteFooter(p)))
	assert.Empty(t, renderString(t, breadcrumbs(p)))
	assert.Empty(t, renderString(t, pagination(p)))
	assert.Empty(t, renderString(t, productDetail(p)))
	assert.Equal(t, `<p class="empty">No products yet.</p>`, renderString(t, productGrid(p)))
}

func TestBrandStyleFallsBackOnUnsafeValues(t *testing.T) {
	in := testInput(1)
	in.Snapshot.Branding.PrimaryColor = "red;}</style><script>"
	in.Snapshot.Branding.FontFamily = "x}</style>"
	got := renderString(t, brandStyle(&Page{Store: in}))
	assert.Contains(t, got, "--primary:#1f3a5f")
	assert.Contains(t, got, "font-family:system-ui, sans-serif")
	assert.NotContains(t, got, "<script>")
	assert.True(t, strings.HasSuffix(got, `<link rel="stylesheet" href="/assets/site.css">`))
}

func TestComponentRenderHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var sb strings.Builder
	err := hero(&Page{Store: testInput(1)}).Render(ctx, &sb)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, sb.String())
}
