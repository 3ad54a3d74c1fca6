package seo

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"git.home.luguber.info/inful/storebuilder/internal/render"
)

// tuneMeta brings the title and description within bounds and adds the
// canonical link and social tags. It returns the final title and description.
func (e *Engine) tuneMeta(site Site, p *render.RenderedPage, head, body, titleEl *html.Node, r *report) (string, string) {
	s := e.settings

	title := textContent(titleEl)
	if n := utf8.RuneCountInString(title); n > s.TitleMax {
		title = truncate(title, s.TitleMax)
		r.warn("title-length", "title truncated from %d to %d characters", n, s.TitleMax)
	} else if n < s.TitleMin {
		r.warn("title-length", "title has %d characters, fewer than %d", n, s.TitleMin)
	}
	setText(titleEl, title)

	description := ""
	if m := findMeta(head, "name", "description"); m != nil {
		description, _ = attr(m, "content")
		description = strings.Join(strings.Fields(description), " ")
	}
	if description == "" {
		if main := findFirst(body, atom.Main); main != nil {
			description = textContent(main)
		}
		if description == "" {
			description = site.Snapshot.Branding.Tagline
		}
		if description != "" {
			r.warn("description-missing", "description derived from page content")
		}
	}
	if n := utf8.RuneCountInString(description); n > s.DescriptionMax {
		description = truncate(description, s.DescriptionMax)
	} else if n < s.DescriptionMin {
		r.warn("description-length", "description has %d characters, fewer than %d", n, s.DescriptionMin)
	}
	upsertMeta(head, "name", "description", description)

	canonical := site.absolute(p.Route)
	if link := findLink(head, "canonical"); link != nil {
		setAttr(link, "href", canonical)
	} else {
		head.AppendChild(element(atom.Link, "rel", "canonical", "href", canonical))
	}

	ogType := "website"
	if p.Kind == render.KindProduct {
		ogType = "product"
	}
	upsertMeta(head, "property", "og:type", ogType)
	upsertMeta(head, "property", "og:site_name", site.Snapshot.Name)
	upsertMeta(head, "property", "og:title", title)
	upsertMeta(head, "property", "og:description", description)
	upsertMeta(head, "property", "og:url", canonical)
	if site.Locale != "" {
		upsertMeta(head, "property", "og:locale", strings.ReplaceAll(site.Locale, "-", "_"))
	}
	card := "summary"
	if img := firstImage(body); img != "" {
		upsertMeta(head, "property", "og:image", site.absolute(img))
		card = "summary_large_image"
	}
	upsertMeta(head, "name", "twitter:card", card)
	upsertMeta(head, "name", "twitter:title", title)
	upsertMeta(head, "name", "twitter:description", description)
	return title, description
}

func setText(n *html.Node, text string) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	appendText(n, text)
}

func findLink(head *html.Node, rel string) *html.Node {
	for _, l := range findAll(head, atom.Link) {
		if v, _ := attr(l, "rel"); v == rel {
			return l
		}
	}
	return nil
}

// firstImage returns the src of the first content image, ignoring the logo.
func firstImage(body *html.Node) string {
	root := findFirst(body, atom.Main)
	if root == nil {
		root = body
	}
	for _, img := range findAll(root, atom.Img) {
		if src, _ := attr(img, "src"); src != "" && !strings.HasPrefix(src, "data:") {
			return src
		}
	}
	return ""
}
