// Package catalog models tenant product catalogs and the providers that
// stream them page by page.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/inful/mdfp"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Review is a customer review shown on product pages.
type Review struct {
	Author string  `json:"author"`
	Rating float64 `json:"rating"`
	Body   string  `json:"body"`
}

// Product is one catalog entry.
type Product struct {
	ID            string   `json:"id"`
	SKU           string   `json:"sku"`
	Name          string   `json:"name"`
	Slug          string   `json:"slug"`
	Description   string   `json:"description"` // markdown
	Category      string   `json:"category"`
	PriceMinor    int64    `json:"price_minor"`
	Currency      string   `json:"currency"`
	ImageIDs      []string `json:"image_ids"`
	Compatibility float64  `json:"compatibility"` // 0..1
	Rating        float64  `json:"rating"`
	Reviews       []Review `json:"reviews,omitempty"`
	InStock       bool     `json:"in_stock"`
}

// Category groups products by their category label.
type Category struct {
	Slug       string   `json:"slug"`
	Name       string   `json:"name"`
	ProductIDs []string `json:"product_ids"`
}

// Catalog is the complete, ordered product set of one tenant version.
type Catalog struct {
	TenantID   string     `json:"tenant_id"`
	Version    string     `json:"version"`
	Products   []Product  `json:"products"`
	Categories []Category `json:"categories"`
}

// Page is one slice of a paginated listing.
type Page struct {
	Products   []Product
	NextCursor string // empty when exhausted
}

// Provider streams products for a tenant and catalog version using an opaque
// cursor. An empty cursor starts from the beginning.
type Provider interface {
	ListProducts(ctx context.Context, tenantID, version, cursor string, limit int) (Page, error)
}

// maxPages guards against providers that never exhaust.
const maxPages = 10_000

// FetchAll drains every page into a Catalog sorted by product id with derived
// categories.
func FetchAll(ctx context.Context, p Provider, tenantID, version string, pageSize int) (*Catalog, error) {
	if pageSize <= 0 {
		pageSize = 250
	}
	c := &Catalog{TenantID: tenantID, Version: version}
	cursor := ""
	for i := 0; ; i++ {
		if i >= maxPages {
			return nil, fmt.Errorf("catalog %s/%s: pagination did not terminate", tenantID, version)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := p.ListProducts(ctx, tenantID, version, cursor, pageSize)
		if err != nil {
			return nil, err
		}
		c.Products = append(c.Products, page.Products...)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	c.normalize()
	return c, nil
}

func (c *Catalog) normalize() {
	sort.Slice(c.Products, func(i, j int) bool { return c.Products[i].ID < c.Products[j].ID })
	title := cases.Title(language.Und)
	byCat := map[string]*Category{}
	used := make(map[string]bool, len(c.Products))
	for i := range c.Products {
		p := &c.Products[i]
		if p.Slug == "" {
			p.Slug = Slugify(p.Name)
		}
		// Slugs become routes and must be unique within the store.
		if p.Slug == "" || used[p.Slug] {
			p.Slug = strings.Trim(p.Slug+"-"+Slugify(p.ID), "-")
		}
		used[p.Slug] = true
		if p.Category == "" {
			continue
		}
		slug := Slugify(p.Category)
		cat, ok := byCat[slug]
		if !ok {
			cat = &Category{Slug: slug, Name: title.String(p.Category)}
			byCat[slug] = cat
		}
		cat.ProductIDs = append(cat.ProductIDs, p.ID)
	}
	c.Categories = c.Categories[:0]
	for _, cat := range byCat {
		c.Categories = append(c.Categories, *cat)
	}
	sort.Slice(c.Categories, func(i, j int) bool { return c.Categories[i].Slug < c.Categories[j].Slug })
}

// Product returns the product with id.
func (c *Catalog) Product(id string) (Product, bool) {
	i := sort.Search(len(c.Products), func(i int) bool { return c.Products[i].ID >= id })
	if i < len(c.Products) && c.Products[i].ID == id {
		return c.Products[i], true
	}
	return Product{}, false
}

// AssetIDs returns every referenced image id, sorted and deduplicated.
func (c *Catalog) AssetIDs() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, p := range c.Products {
		for _, id := range p.ImageIDs {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				out = append(out, id)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Fingerprint identifies the catalog content. It is used as the catalog
// version when the provider does not supply one.
func (c *Catalog) Fingerprint() string {
	var head, body strings.Builder
	head.WriteString("tenant: " + c.TenantID + "\n")
	head.WriteString("products: " + strconv.Itoa(len(c.Products)) + "\n")
	for _, p := range c.Products {
		fmt.Fprintf(&body, "%s|%s|%s|%d|%s|%s|%v|%.4f|%.2f\n",
			p.ID, p.SKU, p.Name, p.PriceMinor, p.Currency, p.Category, p.InStock, p.Compatibility, p.Rating)
		body.WriteString(p.Description)
		body.WriteString("\n")
		body.WriteString(strings.Join(p.ImageIDs, ","))
		body.WriteString("\n")
	}
	return mdfp.CalculateFingerprintFromParts(head.String(), body.String())
}

// Slugify lowercases s and joins alphanumeric runs with dashes.
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		default:
			if b.Len() > 0 && !dash {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
