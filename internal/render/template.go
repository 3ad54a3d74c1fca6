// Package render is the storefront template engine. A Template is a
// composition tree (layout, pages, partials, components) that is validated
// and flattened once into a Plan; the Plan renders every page of a store
// deterministically from a tenant snapshot and its catalog.
package render

import (
	"slices"
	"strings"
)

// PageKind names one of the fixed page types a storefront is built from.
type PageKind string

const (
	KindHome     PageKind = "home"
	KindCatalog  PageKind = "catalog"
	KindProduct  PageKind = "product"
	KindCategory PageKind = "category"
	KindSearch   PageKind = "search"
	KindAbout    PageKind = "about"
)

// Kinds lists every page kind in render order.
var Kinds = []PageKind{KindHome, KindCatalog, KindProduct, KindCategory, KindSearch, KindAbout}

// Placeholder names used by the required sets below.
const (
	PlaceholderTitle       = "title"
	PlaceholderDescription = "description"
	PlaceholderHeader      = "header"
	PlaceholderMain        = "main"
	PlaceholderFooter      = "footer"
	PlaceholderBreadcrumbs = "breadcrumbs"
	PlaceholderSearch      = "search"
)

var basePlaceholders = []string{
	PlaceholderTitle, PlaceholderDescription, PlaceholderHeader, PlaceholderMain, PlaceholderFooter,
}

// RequiredPlaceholders returns the placeholders a template must declare for
// kind, sorted.
func RequiredPlaceholders(kind PageKind) []string {
	req := slices.Clone(basePlaceholders)
	switch kind {
	case KindProduct, KindCategory:
		req = append(req, PlaceholderBreadcrumbs)
	case KindSearch:
		req = append(req, PlaceholderSearch)
	}
	slices.Sort(req)
	return req
}

// Template is a versioned composition tree. Templates are read-only inputs.
type Template struct {
	ID       string                `yaml:"id"`
	Version  string                `yaml:"version"`
	Layout   Layout                `yaml:"layout"`
	Pages    map[PageKind]PageSpec `yaml:"pages"`
	Partials map[string][]string   `yaml:"partials,omitempty"`
}

// Layout declares the structural blocks shared by every page and the HTML
// document they are placed into. The document marks blocks with
// {{slot:name}} and the document language with {{lang}}.
type Layout struct {
	Placeholders []string `yaml:"placeholders"`
	Document     string   `yaml:"document"`
}

// PageSpec fills placeholders for one page kind. Each slot holds an ordered
// list of nodes; a node is a component name or "partial:<name>".
type PageSpec struct {
	Placeholders []string            `yaml:"placeholders,omitempty"`
	Slots        map[string][]string `yaml:"slots"`
}

// Ref identifies a template version, "id@version".
func (t *Template) Ref() string {
	return t.ID + "@" + t.Version
}

// Declared returns the placeholders available to kind: the layout's plus any
// the page adds, sorted and de-duplicated.
func (t *Template) Declared(kind PageKind) []string {
	out := slices.Clone(t.Layout.Placeholders)
	if page, ok := t.Pages[kind]; ok {
		out = append(out, page.Placeholders...)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

const partialPrefix = "partial:"

func partialName(node string) (string, bool) {
	if name, ok := strings.CutPrefix(node, partialPrefix); ok {
		return name, true
	}
	return "", false
}
