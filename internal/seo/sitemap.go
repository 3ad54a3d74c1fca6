package seo

import (
	"bytes"
	"encoding/xml"
	"strings"

	foundationerrors "git.home.luguber.info/inful/storebuilder/internal/foundation/errors"
)

const sitemapNS = "http://www.sitemaps.org/schemas/sitemap/0.9"

type urlSet struct {
	XMLName xml.Name     `xml:"urlset"`
	XMLNS   string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc      string  `xml:"loc"`
	LastMod  string  `xml:"lastmod,omitempty"`
	Priority float64 `xml:"priority,omitempty"`
}

func pagePriority(route string) float64 {
	switch {
	case route == "/":
		return 1.0
	case strings.HasPrefix(route, "/products/") && !strings.HasPrefix(route, "/products/page/"):
		return 0.8
	default:
		return 0.5
	}
}

// buildSitemap lists every deployable page. Pages arrive sorted by route.
func buildSitemap(site Site, pages []Page) ([]byte, error) {
	set := urlSet{XMLNS: sitemapNS}
	lastmod := ""
	if !site.Now.IsZero() {
		lastmod = site.Now.UTC().Format("2006-01-02")
	}
	for _, p := range pages {
		set.URLs = append(set.URLs, sitemapURL{Loc: site.absolute(p.Route), LastMod: lastmod, Priority: pagePriority(p.Route)})
	}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(set); err != nil {
		return nil, foundationerrors.InternalError("encode sitemap").WithCause(err).Build()
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func buildRobots(site Site) []byte {
	return []byte("User-agent: *\nAllow: /\n\nSitemap: " + site.absolute("/sitemap.xml") + "\n")
}
