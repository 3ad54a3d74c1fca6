package assets

import (
	"strconv"
	"strings"
)

// Variant is one stored rendition of an asset.
type Variant struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`
	Hash   string `json:"hash"`
	URL    string `json:"url"`
	Bytes  int    `json:"bytes"`
}

// Record is the result of optimizing one source under one spec. Records are
// shared by every job and tenant with the same input and must not be
// modified.
type Record struct {
	Key            string    `json:"key"`
	SourceHash     string    `json:"source_hash"`
	Spec           string    `json:"spec"`
	Width          int       `json:"width"`
	Height         int       `json:"height"`
	PrimaryFormat  string    `json:"primary_format"`
	FallbackFormat string    `json:"fallback_format"`
	Variants       []Variant `json:"variants"`
	URL            string    `json:"url"`
	Placeholder    string    `json:"placeholder"`
	DominantColor  string    `json:"dominant_color"`
	Fallback       bool      `json:"fallback,omitempty"`
}

// Format maps a variant role to its output format.
func (r *Record) Format(variant string) string {
	if variant == VariantPrimary {
		return r.PrimaryFormat
	}
	return r.FallbackFormat
}

// SrcSet lists the variants of format as a srcset attribute value.
func (r *Record) SrcSet(format string) string {
	var parts []string
	for _, v := range r.Variants {
		if v.Format == format {
			parts = append(parts, v.URL+" "+strconv.Itoa(v.Width)+"w")
		}
	}
	if len(parts) == 0 {
		return r.URL
	}
	return strings.Join(parts, ", ")
}

// Objects returns the content hashes of every stored variant.
func (r *Record) Objects() []string {
	out := make([]string, 0, len(r.Variants))
	for _, v := range r.Variants {
		if v.Hash != "" {
			out = append(out, v.Hash)
		}
	}
	return out
}

// fallbackImage is a neutral inline image used when an asset cannot be
// processed.
const fallbackImage = "data:image/svg+xml,%3Csvg xmlns='http://www.w3.org/2000/svg' viewBox='0 0 4 3'%3E%3Crect width='4' height='3' fill='%23d9d9d9'/%3E%3C/svg%3E"

// FallbackRecord stands in for an asset that failed to process.
func FallbackRecord() *Record {
	return &Record{
		URL:            fallbackImage,
		Placeholder:    fallbackImage,
		DominantColor:  "#d9d9d9",
		PrimaryFormat:  "svg+xml",
		FallbackFormat: "svg+xml",
		Fallback:       true,
	}
}
