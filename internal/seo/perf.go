package seo

import (
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// performance reorders and annotates resources: critical CSS ahead of any
// stylesheet, non-blocking stylesheet loads, deferred scripts and explicit
// image loading hints.
func (e *Engine) performance(head, body *html.Node) {
	hoistCriticalStyles(head)
	for _, link := range findAll(head, atom.Link) {
		if rel, _ := attr(link, "rel"); rel == "stylesheet" {
			preloadStylesheet(link)
		}
	}
	for _, s := range findAll(head.Parent, atom.Script) {
		src, ok := attr(s, "src")
		if !ok || src == "" {
			continue
		}
		_, async := attr(s, "async")
		if !async {
			setAttr(s, "defer", "")
		}
	}
	for i, img := range findAll(body, atom.Img) {
		if i < e.settings.EagerImages {
			setAttr(img, "loading", "eager")
			if i == 0 {
				setAttr(img, "fetchpriority", "high")
			}
			continue
		}
		setAttr(img, "loading", "lazy")
		setAttr(img, "decoding", "async")
	}
}

// hoistCriticalStyles moves data-critical style blocks before the first
// stylesheet link or script in the head.
func hoistCriticalStyles(head *html.Node) {
	var anchor *html.Node
	for c := head.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		if c.DataAtom == atom.Script {
			anchor = c
			break
		}
		if rel, _ := attr(c, "rel"); c.DataAtom == atom.Link && rel == "stylesheet" {
			anchor = c
			break
		}
	}
	if anchor == nil {
		return
	}
	for _, st := range findAll(head, atom.Style) {
		if _, critical := attr(st, "data-critical"); !critical {
			continue
		}
		if precedes(st, anchor) {
			continue
		}
		st.Parent.RemoveChild(st)
		head.InsertBefore(st, anchor)
	}
}

// precedes reports whether a is an earlier sibling of b.
func precedes(a, b *html.Node) bool {
	if a.Parent != b.Parent {
		return false
	}
	for c := a.NextSibling; c != nil; c = c.NextSibling {
		if c == b {
			return true
		}
	}
	return false
}

// preloadStylesheet converts a blocking stylesheet into a preload that
// applies itself on load, with a noscript fallback.
func preloadStylesheet(link *html.Node) {
	href, _ := attr(link, "href")
	setAttr(link, "rel", "preload")
	setAttr(link, "as", "style")
	setAttr(link, "onload", "this.onload=null;this.rel='stylesheet'")
	noscript := element(atom.Noscript)
	noscript.AppendChild(element(atom.Link, "rel", "stylesheet", "href", href))
	link.Parent.InsertBefore(noscript, link.NextSibling)
}
