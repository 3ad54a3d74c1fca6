package render

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"git.home.luguber.info/inful/storebuilder/internal/assets"
	"git.home.luguber.info/inful/storebuilder/internal/cache"
	"git.home.luguber.info/inful/storebuilder/internal/catalog"
	foundationerrors "git.home.luguber.info/inful/storebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/storebuilder/internal/logfields"
	"git.home.luguber.info/inful/storebuilder/internal/markdown"
)

// SearchIndexRoute is where the client-side search index is published.
const SearchIndexRoute = "/search/index.json"

//go:embed static/site.css
var siteCSS []byte

//go:embed static/search.js
var searchJS []byte

// RenderedPage is one page document plus the metadata later stages need.
type RenderedPage struct {
	Route       string
	Kind        PageKind
	Document    string
	AssetIDs    []string
	Title       string
	Description string
	Product     *catalog.Product
	Category    *catalog.Category
	Items       []Crumb // products listed on the page, in order
	Breadcrumbs []Crumb
}

// File is a static, non-page output such as the search index.
type File struct {
	Path        string
	ContentType string
	Data        []byte
}

// Output is a whole rendered store.
type Output struct {
	Template string
	Pages    []RenderedPage
	Files    []File
}

// AssetIDs returns every asset referenced by any page, sorted.
func (o *Output) AssetIDs() []string {
	var ids []string
	for _, p := range o.Pages {
		ids = append(ids, p.AssetIDs...)
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

// Engine validates, compiles and renders templates.
type Engine struct {
	source     Source
	components map[string]Component
	tier       *cache.Tier[*Plan]
	logger     *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithComponents replaces the component set.
func WithComponents(c map[string]Component) Option {
	return func(e *Engine) { e.components = c }
}

// WithTier caches compiled plans.
func WithTier(t *cache.Tier[*Plan]) Option {
	return func(e *Engine) { e.tier = t }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an engine reading templates from source. A nil source
// serves only the builtin template.
func NewEngine(source Source, opts ...Option) *Engine {
	if source == nil {
		source = NewMemorySource(Classic())
	}
	e := &Engine{source: source, components: DefaultComponents(), logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// InvalidateTemplate drops every cached version of template id.
func (e *Engine) InvalidateTemplate(ctx context.Context, id string) int {
	if e.tier == nil {
		return 0
	}
	return e.tier.InvalidatePrefix(ctx, id+"@")
}

// RenderAll renders every page of the store described by in. Output pages
// are sorted by route and byte-identical for identical inputs.
func (e *Engine) RenderAll(ctx context.Context, plan *Plan, in *Input) (*Output, error) {
	if plan == nil || in == nil || in.Snapshot == nil || in.Catalog == nil {
		return nil, foundationerrors.ValidationError("render needs a plan, snapshot and catalog").Build()
	}
	pages := buildPages(in)
	out := &Output{Template: plan.Ref, Pages: make([]RenderedPage, 0, len(pages))}
	var buf bytes.Buffer
	for _, p := range pages {
		if err := ctx.Err(); err != nil {
			return nil, context.Cause(ctx)
		}
		buf.Reset()
		if err := e.renderPage(ctx, &buf, plan, p); err != nil {
			return nil, foundationerrors.InternalError("render "+p.Route).
				WithCause(err).
				WithContext("template", plan.Ref).
				WithContext("page", p.Route).
				Build()
		}
		doc := buf.String()
		out.Pages = append(out.Pages, RenderedPage{
			Route:       p.Route,
			Kind:        p.Kind,
			Document:    doc,
			AssetIDs:    assets.ReferencedIDs(doc),
			Title:       p.Title,
			Description: p.Description,
			Product:     p.Product,
			Category:    p.Category,
			Items:       itemsOf(p.Products),
			Breadcrumbs: p.Breadcrumbs,
		})
	}
	slices.SortFunc(out.Pages, func(a, b RenderedPage) int { return strings.Compare(a.Route, b.Route) })

	index, err := searchIndex(in)
	if err != nil {
		return nil, err
	}
	out.Files = []File{
		{Path: "/assets/search.js", ContentType: "text/javascript", Data: searchJS},
		{Path: "/assets/site.css", ContentType: "text/css", Data: siteCSS},
		{Path: SearchIndexRoute, ContentType: "application/json", Data: index},
	}
	e.logger.Debug("Rendered store",
		logfields.TenantID(in.Snapshot.TenantID),
		logfields.Template(plan.Ref),
		logfields.Count(len(out.Pages)))
	return out, nil
}

func (e *Engine) renderPage(ctx context.Context, buf *bytes.Buffer, plan *Plan, p *Page) error {
	for _, seg := range plan.segments {
		switch {
		case seg.lang:
			buf.WriteString(esc(languageTag(p.Locale()).String()))
		case seg.slot != "":
			for _, name := range plan.Components(p.Kind, seg.slot) {
				comp, ok := e.components[name]
				if !ok {
					return fmt.Errorf("component %q is not registered", name)
				}
				if err := comp(p).Render(ctx, buf); err != nil {
					return fmt.Errorf("component %s: %w", name, err)
				}
			}
		default:
			buf.WriteString(seg.text)
		}
	}
	return nil
}

func itemsOf(products []catalog.Product) []Crumb {
	if len(products) == 0 {
		return nil
	}
	out := make([]Crumb, len(products))
	for i := range products {
		out[i] = Crumb{Name: products[i].Name, Route: productRoute(&products[i])}
	}
	return out
}

// buildPages lays out every page of the store from the catalog.
func buildPages(in *Input) []*Page {
	s := in.Snapshot
	cat := in.Catalog
	perPage := in.ProductsPerPage
	if perPage <= 0 {
		perPage = 48
	}
	home := Crumb{Name: "Home", Route: "/"}
	var pages []*Page

	homeDesc := s.Branding.Tagline
	if homeDesc == "" {
		homeDesc = fmt.Sprintf("Shop %d products at %s.", len(cat.Products), s.Name)
	}
	homeTitle := s.Name
	if s.Branding.Tagline != "" {
		homeTitle = s.Name + " | " + s.Branding.Tagline
	}
	pages = append(pages, &Page{Store: in, Kind: KindHome, Route: "/", Title: homeTitle, Description: homeDesc, Heading: s.Name})

	pageCount := max(1, (len(cat.Products)+perPage-1)/perPage)
	for n := 1; n <= pageCount; n++ {
		lo := min((n-1)*perPage, len(cat.Products))
		hi := min(n*perPage, len(cat.Products))
		title := "All products | " + s.Name
		if n > 1 {
			title = fmt.Sprintf("All products, page %d | %s", n, s.Name)
		}
		pages = append(pages, &Page{
			Store: in, Kind: KindCatalog, Route: catalogRoute(n),
			Title:       title,
			Description: fmt.Sprintf("Browse all %d products from %s, page %d of %d.", len(cat.Products), s.Name, n, pageCount),
			Heading:     "All products",
			Products:    cat.Products[lo:hi],
			PageNum:     n, PageCount: pageCount,
		})
	}

	categoryOf := make(map[string]*catalog.Category, len(cat.Categories))
	for i := range cat.Categories {
		c := &cat.Categories[i]
		for _, id := range c.ProductIDs {
			categoryOf[id] = c
		}
		var products []catalog.Product
		for _, id := range c.ProductIDs {
			if prod, ok := cat.Product(id); ok {
				products = append(products, prod)
			}
		}
		pages = append(pages, &Page{
			Store: in, Kind: KindCategory, Route: categoryRoute(c),
			Title:       c.Name + " | " + s.Name,
			Description: fmt.Sprintf("%d products in %s at %s.", len(c.ProductIDs), c.Name, s.Name),
			Heading:     c.Name,
			Category:    c,
			Products:    products,
			Breadcrumbs: []Crumb{home, {Name: c.Name, Route: categoryRoute(c)}},
		})
	}

	for i := range cat.Products {
		prod := &cat.Products[i]
		crumbs := []Crumb{home}
		if c, ok := categoryOf[prod.ID]; ok {
			crumbs = append(crumbs, Crumb{Name: c.Name, Route: categoryRoute(c)})
		} else {
			crumbs = append(crumbs, Crumb{Name: "Products", Route: catalogRoute(1)})
		}
		crumbs = append(crumbs, Crumb{Name: prod.Name, Route: productRoute(prod)})
		pages = append(pages, &Page{
			Store: in, Kind: KindProduct, Route: productRoute(prod),
			Title:       prod.Name + " | " + s.Name,
			Description: markdown.PlainText(prod.Description),
			Heading:     prod.Name,
			Product:     prod,
			Category:    categoryOf[prod.ID],
			Breadcrumbs: crumbs,
		})
	}

	pages = append(pages, &Page{
		Store: in, Kind: KindSearch, Route: "/search/",
		Title:       "Search | " + s.Name,
		Description: fmt.Sprintf("Search the %s catalog of %d products.", s.Name, len(cat.Products)),
		Heading:     "Search",
	})

	aboutDesc := markdown.PlainText(s.About)
	if aboutDesc == "" {
		aboutDesc = "About " + s.Name + "."
	}
	pages = append(pages, &Page{
		Store: in, Kind: KindAbout, Route: "/about/",
		Title:       "About " + s.Name,
		Description: aboutDesc,
		Heading:     "About " + s.Name,
	})
	return pages
}

type searchEntry struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	URL      string `json:"url"`
	Price    string `json:"price"`
	Category string `json:"category"`
}

func searchIndex(in *Input) ([]byte, error) {
	entries := make([]searchEntry, 0, len(in.Catalog.Products))
	for i := range in.Catalog.Products {
		prod := &in.Catalog.Products[i]
		cur := prod.Currency
		if cur == "" {
			cur = in.Currency
		}
		entries = append(entries, searchEntry{
			ID:       prod.ID,
			Name:     prod.Name,
			URL:      productRoute(prod),
			Price:    FormatPrice(prod.PriceMinor, cur, in.Locale),
			Category: prod.Category,
		})
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return nil, foundationerrors.InternalError("encode search index").WithCause(err).Build()
	}
	return data, nil
}
