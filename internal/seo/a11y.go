package seo

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"git.home.luguber.info/inful/storebuilder/internal/tenant"
)

var headingLevels = map[atom.Atom]int{
	atom.H1: 1, atom.H2: 2, atom.H3: 3, atom.H4: 4, atom.H5: 5, atom.H6: 6,
}

// accessibility checks document language, image alternatives, heading
// structure and landmarks. Only the missing lang attribute is repaired.
func (e *Engine) accessibility(site Site, root, body *html.Node, r *report) {
	if lang, _ := attr(root, "lang"); strings.TrimSpace(lang) == "" {
		fallback := site.Locale
		if fallback == "" {
			fallback = "en"
		}
		setAttr(root, "lang", fallback)
		r.warn("lang", "document language missing, set to %s", fallback)
	}

	for _, img := range findAll(body, atom.Img) {
		if _, ok := attr(img, "alt"); !ok {
			src, _ := attr(img, "src")
			r.warn("img-alt", "image %s has no alt text", src)
		}
	}

	var levels []int
	walk(body, func(n *html.Node) bool {
		if n.Type == html.ElementNode {
			if l, ok := headingLevels[n.DataAtom]; ok {
				levels = append(levels, l)
			}
		}
		return true
	})
	h1 := 0
	prev := 0
	for _, l := range levels {
		if l == 1 {
			h1++
		}
		if prev > 0 && l > prev+1 {
			r.warn("heading-order", "heading level jumps from h%d to h%d", prev, l)
		}
		prev = l
	}
	switch {
	case h1 == 0:
		r.warn("heading-h1", "page has no h1")
	case h1 > 1:
		r.warn("heading-h1", "page has %d h1 elements", h1)
	}

	if findFirst(body, atom.Main) == nil {
		r.warn("landmark", "page has no main landmark")
	}
	if findFirst(body, atom.Nav) == nil {
		r.warn("landmark", "page has no navigation landmark")
	}
}

// contrastFindings checks the branding palette against the configured
// minimum WCAG contrast ratio.
func (e *Engine) contrastFindings(b tenant.Branding) []Finding {
	bg := b.BackgroundColor
	if bg == "" {
		bg = "#ffffff"
	}
	pairs := []struct{ name, fg string }{
		{"text", b.TextColor},
		{"primary", b.PrimaryColor},
	}
	var out []Finding
	for _, pair := range pairs {
		if pair.fg == "" {
			continue
		}
		ratio, err := ContrastRatio(pair.fg, bg)
		if err != nil {
			out = append(out, Finding{Check: "contrast", Message: err.Error()})
			continue
		}
		if ratio < e.settings.MinContrast {
			out = append(out, Finding{
				Check:   "contrast",
				Message: fmt.Sprintf("%s colour %s on %s has contrast %.2f:1, below %.1f:1", pair.name, pair.fg, bg, ratio, e.settings.MinContrast),
			})
		}
	}
	return out
}

// ContrastRatio returns the WCAG 2 contrast ratio of two hex colours.
func ContrastRatio(fg, bg string) (float64, error) {
	l1, err := luminance(fg)
	if err != nil {
		return 0, err
	}
	l2, err := luminance(bg)
	if err != nil {
		return 0, err
	}
	if l1 < l2 {
		l1, l2 = l2, l1
	}
	return (l1 + 0.05) / (l2 + 0.05), nil
}

func luminance(hex string) (float64, error) {
	rgb, err := parseHex(hex)
	if err != nil {
		return 0, err
	}
	var ch [3]float64
	for i, v := range rgb {
		c := float64(v) / 255
		if c <= 0.03928 {
			ch[i] = c / 12.92
		} else {
			ch[i] = math.Pow((c+0.055)/1.055, 2.4)
		}
	}
	return 0.2126*ch[0] + 0.7152*ch[1] + 0.0722*ch[2], nil
}

func parseHex(s string) ([3]uint8, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	var out [3]uint8
	if len(h) != 6 {
		return out, fmt.Errorf("invalid colour %q", s)
	}
	for i := range out {
		v, err := strconv.ParseUint(h[i*2:i*2+2], 16, 8)
		if err != nil {
			return out, fmt.Errorf("invalid colour %q", s)
		}
		out[i] = uint8(v)
	}
	return out, nil
}
