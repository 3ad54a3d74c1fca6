package assets

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"git.home.luguber.info/inful/storebuilder/internal/config"
)

// Supported output formats. WebP variants are lossless.
const (
	FormatWebP = "webp"
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
)

// Spec describes how every asset is transformed.
type Spec struct {
	Widths          []int
	PrimaryFormat   string
	FallbackFormat  string
	Quality         int
	PlaceholderSize int
}

// SpecFromConfig builds a normalized spec from the assets section.
func SpecFromConfig(c config.AssetsConfig) Spec {
	return Spec{
		Widths:          c.Widths,
		PrimaryFormat:   c.PrimaryFormat,
		FallbackFormat:  c.FallbackFormat,
		Quality:         c.Quality,
		PlaceholderSize: c.PlaceholderSize,
	}.normalized()
}

func (s Spec) normalized() Spec {
	widths := slices.Clone(s.Widths)
	widths = slices.DeleteFunc(widths, func(w int) bool { return w <= 0 })
	if len(widths) == 0 {
		widths = []int{320, 640, 1280}
	}
	slices.Sort(widths)
	s.Widths = slices.Compact(widths)
	if s.PrimaryFormat == "" {
		s.PrimaryFormat = FormatWebP
	}
	if s.FallbackFormat == "" {
		s.FallbackFormat = FormatJPEG
	}
	if s.Quality <= 0 || s.Quality > 100 {
		s.Quality = 80
	}
	if s.PlaceholderSize <= 0 {
		s.PlaceholderSize = 16
	}
	return s
}

// Fingerprint is the canonical form of s used in record keys.
func (s Spec) Fingerprint() string {
	s = s.normalized()
	ws := make([]string, len(s.Widths))
	for i, w := range s.Widths {
		ws[i] = strconv.Itoa(w)
	}
	return fmt.Sprintf("w=%s;p=%s;f=%s;q=%d;ph=%d",
		strings.Join(ws, ","), s.PrimaryFormat, s.FallbackFormat, s.Quality, s.PlaceholderSize)
}

// Key is the record key for source under s: hash(sourceBytes, spec).
func (s Spec) Key(source []byte) string {
	h := sha256.New()
	h.Write(source)
	h.Write([]byte{0})
	h.Write([]byte(s.Fingerprint()))
	return hex.EncodeToString(h.Sum(nil))
}
