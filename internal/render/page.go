package render

import (
	"fmt"
	"time"

	"git.home.luguber.info/inful/storebuilder/internal/catalog"
	"git.home.luguber.info/inful/storebuilder/internal/tenant"
)

// Input is everything a store render depends on. Now is the only source of
// time; the engine never reads the wall clock.
type Input struct {
	Snapshot        *tenant.Snapshot
	Catalog         *catalog.Catalog
	Locale          string
	Currency        string
	Now             time.Time
	ProductsPerPage int
}

// Crumb is one breadcrumb entry.
type Crumb struct {
	Name  string `json:"name"`
	Route string `json:"route"`
}

// Page is the data one page renders from. Components read it and never
// modify it.
type Page struct {
	Store       *Input
	Kind        PageKind
	Route       string
	Title       string
	Description string
	Heading     string
	Product     *catalog.Product
	Category    *catalog.Category
	Products    []catalog.Product
	PageNum     int
	PageCount   int
	Breadcrumbs []Crumb
}

// Locale of the page.
func (p *Page) Locale() string { return p.Store.Locale }

// Currency for p, preferring the product's own currency.
func (p *Page) currencyFor(prod *catalog.Product) string {
	if prod != nil && prod.Currency != "" {
		return prod.Currency
	}
	return p.Store.Currency
}

func productRoute(prod *catalog.Product) string { return "/products/" + prod.Slug + "/" }
func categoryRoute(c *catalog.Category) string  { return "/categories/" + c.Slug + "/" }

func catalogRoute(n int) string {
	if n <= 1 {
		return "/products/"
	}
	return fmt.Sprintf("/products/page/%d/", n)
}
