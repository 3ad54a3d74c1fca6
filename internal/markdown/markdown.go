// Package markdown renders the markdown fields of tenant and catalog data
// (product descriptions, about pages, FAQ answers) to HTML fragments.
package markdown

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	gmast "github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

// md is shared; goldmark instances are safe for concurrent use. Raw HTML in
// the source is dropped because the unsafe renderer option is not set.
var md = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithParserOptions(parser.WithAutoHeadingID()),
)

// ToHTML converts src to an HTML fragment. Headings are shifted down by
// shift levels so page content never competes with the page's own h1.
func ToHTML(src string, shift int) (string, error) {
	source := []byte(src)
	root := md.Parser().Parse(text.NewReader(source))
	if shift > 0 {
		_ = gmast.Walk(root, func(n gmast.Node, entering bool) (gmast.WalkStatus, error) {
			if h, ok := n.(*gmast.Heading); ok && entering {
				h.Level = min(h.Level+shift, 6)
			}
			return gmast.WalkContinue, nil
		})
	}
	var buf bytes.Buffer
	if err := md.Renderer().Render(&buf, source, root); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// PlainText returns the visible text of src with whitespace collapsed.
func PlainText(src string) string {
	source := []byte(src)
	root := md.Parser().Parse(text.NewReader(source))
	var b strings.Builder
	_ = gmast.Walk(root, func(n gmast.Node, entering bool) (gmast.WalkStatus, error) {
		if !entering {
			if n.Type() == gmast.TypeBlock {
				b.WriteByte(' ')
			}
			return gmast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *gmast.Text:
			b.Write(node.Segment.Value(source))
			if node.SoftLineBreak() || node.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *gmast.CodeSpan:
			for c := node.FirstChild(); c != nil; c = c.NextSibling() {
				if t, ok := c.(*gmast.Text); ok {
					b.Write(t.Segment.Value(source))
				}
			}
			return gmast.WalkSkipChildren, nil
		}
		return gmast.WalkContinue, nil
	})
	return strings.Join(strings.Fields(b.String()), " ")
}
