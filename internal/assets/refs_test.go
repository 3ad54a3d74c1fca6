package assets

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReferencedIDs(t *testing.T) {
	doc := `<img src="asset://hero" srcset="asset-srcset://hero/fallback"><img src="asset://p-1.front"> asset:// nothing`
	assert.Equal(t, []string{"hero", "p-1.front"}, ReferencedIDs(doc))
}

func TestRewriteReferences(t *testing.T) {
	rec := &Record{
		URL:            "https://cdn/x.png",
		PrimaryFormat:  FormatJPEG,
		FallbackFormat: FormatPNG,
		Placeholder:    "data:image/png;base64,AA==",
		DominantColor:  "#112233",
		Variants: []Variant{
			{Width: 320, Format: FormatJPEG, URL: "https://cdn/a.jpg"},
			{Width: 320, Format: FormatPNG, URL: "https://cdn/a.png"},
		},
	}
	doc := `<source type="asset-type://hero/primary" srcset="asset-srcset://hero/primary">` +
		`<img src="asset://hero" style="background:asset-color://hero url(asset-blur://hero)"><img src="asset://other">`
	got := RewriteReferences(doc, map[string]*Record{"hero": rec})
	assert.Equal(t, `<source type="image/jpeg" srcset="https://cdn/a.jpg 320w">`+
		`<img src="https://cdn/x.png" style="background:#112233 url(data:image/png;base64,AA==)"><img src="asset://other">`, got)
}

func TestValidID(t *testing.T) {
	assert.True(t, ValidID("img-1"))
	assert.True(t, ValidID("a.b_c"))
	assert.False(t, ValidID("trailing."))
	assert.False(t, ValidID("../x"))
	assert.False(t, ValidID(""))
}
