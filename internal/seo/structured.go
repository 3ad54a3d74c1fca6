package seo

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/text/currency"

	"git.home.luguber.info/inful/storebuilder/internal/catalog"
	"git.home.luguber.info/inful/storebuilder/internal/markdown"
	"git.home.luguber.info/inful/storebuilder/internal/render"
)

const schemaContext = "https://schema.org"

type jsonLD = map[string]any

// structuredData appends one application/ld+json script per schema.org
// object describing the page.
func (e *Engine) structuredData(site Site, p *render.RenderedPage, head, body *html.Node) {
	var objects []jsonLD
	switch p.Kind {
	case render.KindHome:
		objects = append(objects, organization(site), website(site))
	case render.KindProduct:
		if p.Product != nil {
			objects = append(objects, productLD(site, p, body))
		}
	case render.KindCatalog, render.KindCategory:
		objects = append(objects, itemList(site, p))
	case render.KindAbout:
		if faq := faqPage(site); faq != nil {
			objects = append(objects, faq)
		}
	}
	if len(p.Breadcrumbs) > 0 {
		objects = append(objects, breadcrumbList(site, p.Breadcrumbs))
	}
	for _, obj := range objects {
		obj["@context"] = schemaContext
		// encoding/json escapes <, > and & so the payload cannot close the
		// script element.
		data, err := json.Marshal(obj)
		if err != nil {
			e.logger.Warn("Skipping structured data", "page", p.Route, "error", err)
			continue
		}
		script := element(atom.Script, "type", "application/ld+json")
		appendText(script, string(data))
		head.AppendChild(script)
	}
}

func organization(site Site) jsonLD {
	org := jsonLD{"@type": "Organization", "name": site.Snapshot.Name, "url": site.absolute("/")}
	if logo := site.Snapshot.Branding.LogoAsset; logo != "" {
		org["logo"] = site.absolute("/assets/" + logo)
	}
	return org
}

func website(site Site) jsonLD {
	ws := jsonLD{"@type": "WebSite", "name": site.Snapshot.Name, "url": site.absolute("/")}
	if site.Snapshot.Features.Search {
		ws["potentialAction"] = jsonLD{
			"@type":       "SearchAction",
			"target":      site.absolute("/search/") + "?q={search_term_string}",
			"query-input": "required name=search_term_string",
		}
	}
	return ws
}

func productLD(site Site, p *render.RenderedPage, body *html.Node) jsonLD {
	prod := p.Product
	code := prod.Currency
	if code == "" {
		code = site.Currency
	}
	availability := "https://schema.org/OutOfStock"
	if prod.InStock {
		availability = "https://schema.org/InStock"
	}
	obj := jsonLD{
		"@type": "Product",
		"name":  prod.Name,
		"url":   site.absolute(p.Route),
		"offers": jsonLD{
			"@type":         "Offer",
			"price":         priceDecimal(prod.PriceMinor, code),
			"priceCurrency": strings.ToUpper(code),
			"availability":  availability,
			"url":           site.absolute(p.Route),
		},
	}
	if prod.SKU != "" {
		obj["sku"] = prod.SKU
	}
	if d := markdown.PlainText(prod.Description); d != "" {
		obj["description"] = d
	}
	if images := productImages(site, body); len(images) > 0 {
		obj["image"] = images
	}
	if site.Snapshot.Features.Reviews && len(prod.Reviews) > 0 {
		obj["aggregateRating"] = jsonLD{
			"@type":       "AggregateRating",
			"ratingValue": ratingValue(averageRating(prod)),
			"reviewCount": len(prod.Reviews),
			"bestRating":  "5",
		}
		reviews := make([]jsonLD, 0, len(prod.Reviews))
		for _, rv := range prod.Reviews {
			reviews = append(reviews, jsonLD{
				"@type":        "Review",
				"author":       jsonLD{"@type": "Person", "name": rv.Author},
				"reviewRating": jsonLD{"@type": "Rating", "ratingValue": ratingValue(rv.Rating), "bestRating": "5"},
				"reviewBody":   rv.Body,
			})
		}
		obj["review"] = reviews
	}
	return obj
}

func productImages(site Site, body *html.Node) []string {
	var out []string
	walk(body, func(n *html.Node) bool {
		if n.Type != html.ElementNode || !hasClass(n, "product-detail") {
			return true
		}
		for _, img := range findAll(n, atom.Img) {
			if src, _ := attr(img, "src"); src != "" && !strings.HasPrefix(src, "data:") {
				out = append(out, site.absolute(src))
			}
		}
		return false
	})
	return out
}

func averageRating(p *catalog.Product) float64 {
	if p.Rating > 0 {
		return p.Rating
	}
	var sum float64
	for _, r := range p.Reviews {
		sum += r.Rating
	}
	return sum / float64(len(p.Reviews))
}

func ratingValue(r float64) string {
	return strconv.FormatFloat(math.Round(r*10)/10, 'f', 1, 64)
}

// priceDecimal renders minor units as a plain decimal using the currency's
// standard scale.
func priceDecimal(minor int64, code string) string {
	scale := 2
	if unit, err := currency.ParseISO(strings.ToUpper(code)); err == nil {
		scale, _ = currency.Standard.Rounding(unit)
	}
	return strconv.FormatFloat(float64(minor)/math.Pow10(scale), 'f', scale, 64)
}

func itemList(site Site, p *render.RenderedPage) jsonLD {
	items := make([]jsonLD, 0, len(p.Items))
	for i, it := range p.Items {
		items = append(items, jsonLD{
			"@type":    "ListItem",
			"position": i + 1,
			"name":     it.Name,
			"url":      site.absolute(it.Route),
		})
	}
	return jsonLD{"@type": "ItemList", "name": p.Title, "numberOfItems": len(items), "itemListElement": items}
}

func breadcrumbList(site Site, crumbs []render.Crumb) jsonLD {
	items := make([]jsonLD, 0, len(crumbs))
	for i, c := range crumbs {
		items = append(items, jsonLD{
			"@type":    "ListItem",
			"position": i + 1,
			"name":     c.Name,
			"item":     site.absolute(c.Route),
		})
	}
	return jsonLD{"@type": "BreadcrumbList", "itemListElement": items}
}

func faqPage(site Site) jsonLD {
	if !site.Snapshot.Features.FAQ || len(site.Snapshot.FAQ) == 0 {
		return nil
	}
	entries := make([]jsonLD, 0, len(site.Snapshot.FAQ))
	for _, f := range site.Snapshot.FAQ {
		entries = append(entries, jsonLD{
			"@type": "Question",
			"name":  f.Question,
			"acceptedAnswer": jsonLD{
				"@type": "Answer",
				"text":  markdown.PlainText(f.Answer),
			},
		})
	}
	return jsonLD{"@type": "FAQPage", "mainEntity": entries}
}
