package render

import (
	"context"
	"fmt"
	"io"
	"regexp"

	"github.com/a-h/templ"

	"git.home.luguber.info/inful/storebuilder/internal/catalog"
	"git.home.luguber.info/inful/storebuilder/internal/markdown"
)

//go:generate go run github.com/a-h/templ/cmd/templ@v0.3.906 generate -f components.templ

// Component is a pure function of page data to an HTML fragment.
type Component func(p *Page) templ.Component

// DefaultComponents returns the builtin component set keyed by the names
// templates reference.
func DefaultComponents() map[string]Component {
	return map[string]Component{
		"page-title":        pageTitle,
		"page-description":  pageDescription,
		"brand-style":       brandStyle,
		"site-header":       siteHeader,
		"site-footer":       siteFooter,
		"breadcrumbs":       breadcrumbs,
		"hero":              hero,
		"featured-products": featuredProducts,
		"category-list":     categoryList,
		"page-heading":      pageHeading,
		"product-grid":      productGrid,
		"pagination":        pagination,
		"product-detail":    productDetail,
		"product-reviews":   productReviews,
		"search-box":        searchBox,
		"search-results":    searchResults,
		"about-content":     aboutContent,
		"faq-list":          faqList,
	}
}

func esc(s string) string { return templ.EscapeString(s) }

var (
	hexColor = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6}|[0-9a-fA-F]{8})$`)
	fontName = regexp.MustCompile(`^[A-Za-z0-9 ,'-]{1,80}$`)
)

func colorOr(c, fallback string) string {
	if hexColor.MatchString(c) {
		return c
	}
	return fallback
}

// brandCSS is the critical inline stylesheet. Branding values only reach
// it after matching the color and font patterns above.
func brandCSS(p *Page) string {
	b := p.Store.Snapshot.Branding
	font := "system-ui, sans-serif"
	if fontName.MatchString(b.FontFamily) {
		font = b.FontFamily
	}
	return fmt.Sprintf(`<style data-critical>:root{--primary:%s;--accent:%s;--text:%s;--bg:%s}`+
		`body{margin:0 auto;max-width:72rem;padding:0 1rem;font-family:%s;color:var(--text);background:var(--bg)}`+
		`a{color:var(--primary)}</style>`,
		colorOr(b.PrimaryColor, "#1f3a5f"), colorOr(b.AccentColor, "#b8430b"),
		colorOr(b.TextColor, "#1a1a1a"), colorOr(b.BackgroundColor, "#ffffff"), font)
}

// imageStyle paints the dominant color and blur placeholder behind an
// image until it loads. Both values are asset tokens.
func imageStyle(ref ImageReference) templ.SafeCSS {
	return templ.SafeCSS("background-color:" + ref.DominantColor + ";background-image:url(" + ref.Placeholder + ")")
}

// featuredCount is how many products the home page shows.
const featuredCount = 8

func featured(p *Page) []catalog.Product {
	products := p.Store.Catalog.Products
	if len(products) > featuredCount {
		products = products[:featuredCount]
	}
	return products
}

// markdownBlock renders merchant markdown with headings shifted below the
// page heading. what names the source in conversion errors.
func markdownBlock(src string, shift int, what string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		body, err := markdown.ToHTML(src, shift)
		if err != nil {
			return fmt.Errorf("%s: %w", what, err)
		}
		_, err = io.WriteString(w, body)
		return err
	})
}
