// Package seo post-processes rendered store pages: it validates and tunes
// meta tags, injects structured data, applies performance transforms and
// runs accessibility checks. A page missing a required field is blocked from
// deployment; everything else is reported as a warning.
package seo

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"git.home.luguber.info/inful/storebuilder/internal/config"
	foundationerrors "git.home.luguber.info/inful/storebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/storebuilder/internal/logfields"
	"git.home.luguber.info/inful/storebuilder/internal/render"
	"git.home.luguber.info/inful/storebuilder/internal/tenant"
)

// Settings bounds meta lengths and tunes the transforms.
type Settings struct {
	TitleMin       int
	TitleMax       int
	DescriptionMin int
	DescriptionMax int
	EagerImages    int
	MinContrast    float64
}

// SettingsFromConfig maps the seo config section.
func SettingsFromConfig(c config.SEOConfig) Settings {
	return Settings{
		TitleMin: c.TitleMin, TitleMax: c.TitleMax,
		DescriptionMin: c.DescriptionMin, DescriptionMax: c.DescriptionMax,
		EagerImages: c.EagerImages, MinContrast: c.MinContrast,
	}
}

// Site is the store-wide context pages are processed in.
type Site struct {
	Snapshot *tenant.Snapshot
	Locale   string
	Currency string
	Now      time.Time
}

func (s Site) absolute(route string) string {
	if strings.HasPrefix(route, "http://") || strings.HasPrefix(route, "https://") || strings.HasPrefix(route, "data:") {
		return route
	}
	return strings.TrimRight(s.Snapshot.BaseURL, "/") + "/" + strings.TrimLeft(route, "/")
}

// Finding is a non-blocking issue on one page. Route is empty for
// store-wide findings.
type Finding struct {
	Route   string `json:"route,omitempty"`
	Check   string `json:"check"`
	Message string `json:"message"`
}

func (f Finding) String() string {
	if f.Route == "" {
		return f.Check + ": " + f.Message
	}
	return f.Route + ": " + f.Check + ": " + f.Message
}

// Page is a processed, deployable page.
type Page struct {
	Route       string
	Kind        render.PageKind
	Document    string
	Title       string
	Description string
}

// Blocked is a page withheld from deployment.
type Blocked struct {
	Route string
	Err   error
}

// Result is the SEO stage output.
type Result struct {
	Pages    []Page
	Blocked  []Blocked
	Warnings []Finding
	Files    []render.File
}

// Engine applies the SEO and accessibility transforms.
type Engine struct {
	settings Settings
	logger   *slog.Logger
}

// New creates an engine. Zero settings fall back to common search-engine
// limits.
func New(s Settings, logger *slog.Logger) *Engine {
	if s.TitleMax <= 0 {
		s.TitleMax = 60
	}
	if s.TitleMin <= 0 {
		s.TitleMin = 10
	}
	if s.DescriptionMax <= 0 {
		s.DescriptionMax = 160
	}
	if s.DescriptionMin <= 0 {
		s.DescriptionMin = 50
	}
	if s.MinContrast <= 0 {
		s.MinContrast = 4.5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{settings: s, logger: logger}
}

// Process runs every page through the engine. Pages are checked for
// cancellation between pages.
func (e *Engine) Process(ctx context.Context, site Site, pages []render.RenderedPage) (*Result, error) {
	if site.Snapshot == nil {
		return nil, foundationerrors.ValidationError("seo needs a tenant snapshot").Build()
	}
	res := &Result{}
	res.Warnings = append(res.Warnings, e.contrastFindings(site.Snapshot.Branding)...)
	for i := range pages {
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
		page, findings, err := e.processPage(site, &pages[i])
		res.Warnings = append(res.Warnings, findings...)
		if err != nil {
			e.logger.Warn("Page blocked from deployment",
				logfields.TenantID(site.Snapshot.TenantID), logfields.Page(pages[i].Route), logfields.Error(err))
			res.Blocked = append(res.Blocked, Blocked{Route: pages[i].Route, Err: err})
			continue
		}
		res.Pages = append(res.Pages, page)
	}
	res.Warnings = append(res.Warnings, duplicateFindings(res.Pages)...)
	sort.Slice(res.Pages, func(i, j int) bool { return res.Pages[i].Route < res.Pages[j].Route })

	sitemap, err := buildSitemap(site, res.Pages)
	if err != nil {
		return nil, err
	}
	res.Files = []render.File{
		{Path: "/robots.txt", ContentType: "text/plain", Data: buildRobots(site)},
		{Path: "/sitemap.xml", ContentType: "application/xml", Data: sitemap},
	}
	return res, nil
}

func blocked(route, message string) error {
	return foundationerrors.SEOValidationError(message).WithContext("page", route).Build()
}

func (e *Engine) processPage(site Site, p *render.RenderedPage) (Page, []Finding, error) {
	doc, err := html.Parse(strings.NewReader(p.Document))
	if err != nil {
		return Page{}, nil, foundationerrors.SEOValidationError("page is not parseable HTML").
			WithCause(err).WithContext("page", p.Route).Build()
	}
	root := findFirst(doc, atom.Html)
	head := findFirst(doc, atom.Head)
	body := findFirst(doc, atom.Body)
	if root == nil || head == nil || body == nil {
		return Page{}, nil, blocked(p.Route, "page has no document structure")
	}
	r := &report{route: p.Route}

	titleEl := findFirst(head, atom.Title)
	if titleEl == nil || textContent(titleEl) == "" {
		return Page{}, r.findings, blocked(p.Route, "page has no title")
	}
	if p.Kind == render.KindProduct {
		if err := requireProductFields(p, body); err != nil {
			return Page{}, r.findings, err
		}
	}

	title, description := e.tuneMeta(site, p, head, body, titleEl, r)
	e.structuredData(site, p, head, body)
	e.performance(head, body)
	e.accessibility(site, root, body, r)

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return Page{}, r.findings, foundationerrors.InternalError("serialize page").WithCause(err).Build()
	}
	return Page{
		Route:       p.Route,
		Kind:        p.Kind,
		Document:    buf.String(),
		Title:       title,
		Description: description,
	}, r.findings, nil
}

func requireProductFields(p *render.RenderedPage, body *html.Node) error {
	if p.Product == nil || strings.TrimSpace(p.Product.Name) == "" {
		return blocked(p.Route, "product page has no product name")
	}
	if h1 := findFirst(body, atom.H1); h1 == nil || textContent(h1) == "" {
		return blocked(p.Route, "product page has no product name heading")
	}
	var price string
	walk(body, func(n *html.Node) bool {
		if price == "" && n.Type == html.ElementNode && hasClass(n, "price") {
			price = textContent(n)
		}
		return price == ""
	})
	if price == "" {
		return blocked(p.Route, "product page has no price")
	}
	return nil
}

type report struct {
	route    string
	findings []Finding
}

func (r *report) warn(check, format string, args ...any) {
	r.findings = append(r.findings, Finding{Route: r.route, Check: check, Message: fmt.Sprintf(format, args...)})
}

// truncate shortens s to at most limit runes, preferring a word boundary,
// and marks the cut with an ellipsis.
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	cut := string(runes[:limit-1])
	if i := strings.LastIndexByte(cut, ' '); i > len(cut)/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,.;:") + "…"
}

func duplicateFindings(pages []Page) []Finding {
	var out []Finding
	check := func(field string, value func(Page) string) {
		routes := map[string][]string{}
		for _, p := range pages {
			if v := value(p); v != "" {
				routes[v] = append(routes[v], p.Route)
			}
		}
		var dupes []string
		for v, rs := range routes {
			if len(rs) > 1 {
				sort.Strings(rs)
				dupes = append(dupes, fmt.Sprintf("%q shared by %s", v, strings.Join(rs, ", ")))
			}
		}
		sort.Strings(dupes)
		for _, d := range dupes {
			out = append(out, Finding{Check: "duplicate-" + field, Message: d})
		}
	}
	check("title", func(p Page) string { return p.Title })
	check("description", func(p Page) string { return p.Description })
	return out
}
