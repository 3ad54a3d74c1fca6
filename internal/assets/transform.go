package assets

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	_ "image/gif" // decoder registration
	"image/jpeg"
	"image/png"

	"github.com/HugoSmits86/nativewebp"
	"golang.org/x/image/draw"

	foundationerrors "git.home.luguber.info/inful/storebuilder/internal/foundation/errors"
)

// maxSourcePixels bounds decoded images so one upload cannot exhaust memory.
const maxSourcePixels = 40_000_000

type encoded struct {
	width, height int
	format        string
	data          []byte
}

func decode(src []byte) (image.Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(src))
	if err != nil {
		return nil, foundationerrors.AssetProcessingError("unsupported or corrupt image").WithCause(err).Build()
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > maxSourcePixels {
		return nil, foundationerrors.AssetProcessingError(
			fmt.Sprintf("image dimensions %dx%d out of range", cfg.Width, cfg.Height)).Build()
	}
	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, foundationerrors.AssetProcessingError("decode image").WithCause(err).Build()
	}
	return img, nil
}

// targetWidths keeps the configured widths that do not upscale the source;
// a source narrower than every width is kept at its own size.
func targetWidths(widths []int, source int) []int {
	var out []int
	for _, w := range widths {
		if w <= source {
			out = append(out, w)
		}
	}
	if len(out) == 0 {
		out = []int{source}
	}
	return out
}

func resize(img image.Image, width int) *image.RGBA {
	b := img.Bounds()
	height := max(1, b.Dy()*width/b.Dx())
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

func encode(img image.Image, format string, quality int) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch format {
	case FormatWebP:
		err = nativewebp.Encode(&buf, img, nil)
	case FormatJPEG:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality})
	case FormatPNG:
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		err = enc.Encode(&buf, img)
	default:
		return nil, foundationerrors.AssetProcessingError("unsupported output format " + format).Build()
	}
	if err != nil {
		return nil, foundationerrors.AssetProcessingError("encode " + format).WithCause(err).Build()
	}
	return buf.Bytes(), nil
}

func variants(img image.Image, spec Spec) ([]encoded, error) {
	formats := []string{spec.PrimaryFormat}
	if spec.FallbackFormat != spec.PrimaryFormat {
		formats = append(formats, spec.FallbackFormat)
	}
	var out []encoded
	for _, w := range targetWidths(spec.Widths, img.Bounds().Dx()) {
		resized := resize(img, w)
		for _, f := range formats {
			data, err := encode(resized, f, spec.Quality)
			if err != nil {
				return nil, err
			}
			out = append(out, encoded{width: w, height: resized.Bounds().Dy(), format: f, data: data})
		}
	}
	return out, nil
}

// placeholder returns a tiny PNG data URI browsers blur while the real image
// loads.
func placeholder(img image.Image, size int) (string, error) {
	small := resize(img, min(size, img.Bounds().Dx()))
	data, err := encode(small, FormatPNG, 0)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data), nil
}

// dominantColor quantizes a thumbnail to 4 bits per channel and returns the
// average of the most populated bucket. Ties go to the lowest bucket so the
// result is deterministic.
func dominantColor(img image.Image) string {
	thumb := resize(img, min(32, img.Bounds().Dx()))
	type acc struct{ n, r, g, b int }
	buckets := make(map[int]*acc)
	bounds := thumb.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(thumb.At(x, y)).(color.NRGBA)
			if c.A < 128 {
				continue
			}
			key := int(c.R>>4)<<8 | int(c.G>>4)<<4 | int(c.B>>4)
			a := buckets[key]
			if a == nil {
				a = &acc{}
				buckets[key] = a
			}
			a.n++
			a.r += int(c.R)
			a.g += int(c.G)
			a.b += int(c.B)
		}
	}
	bestKey, best := -1, (*acc)(nil)
	for k, a := range buckets {
		if best == nil || a.n > best.n || (a.n == best.n && k < bestKey) {
			bestKey, best = k, a
		}
	}
	if best == nil {
		return "#ffffff"
	}
	return fmt.Sprintf("#%02x%02x%02x", best.r/best.n, best.g/best.n, best.b/best.n)
}
