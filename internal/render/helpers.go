package render

import (
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"git.home.luguber.info/inful/storebuilder/internal/assets"
)

// FormatPrice renders an amount in minor units (cents for USD, yen for JPY)
// for locale. Unknown currencies fall back to "<code> <units>" with two
// decimals.
func FormatPrice(minor int64, code, locale string) string {
	unit, err := currency.ParseISO(strings.ToUpper(code))
	if err != nil {
		return strings.ToUpper(code) + " " + strconv.FormatFloat(float64(minor)/100, 'f', 2, 64)
	}
	scale, _ := currency.Standard.Rounding(unit)
	amount := float64(minor) / math.Pow10(scale)
	return printer(locale).Sprint(currency.Symbol(unit.Amount(amount)))
}

// FormatCompatibility renders a 0..1 compatibility score as a localized
// whole percentage. Scores outside the range are clamped.
func FormatCompatibility(score float64, locale string) string {
	score = math.Min(1, math.Max(0, score))
	return printer(locale).Sprint(number.Percent(score, number.MaxFractionDigits(0)))
}

// FormatRating renders a review rating with one decimal.
func FormatRating(rating float64, locale string) string {
	return printer(locale).Sprint(number.Decimal(rating, number.MinFractionDigits(1), number.MaxFractionDigits(1)))
}

func printer(locale string) *message.Printer {
	return message.NewPrinter(languageTag(locale))
}

func languageTag(locale string) language.Tag {
	tag, err := language.Parse(locale)
	if err != nil {
		return language.AmericanEnglish
	}
	return tag
}

// ImageReference points at an asset that has not been optimized yet. Its
// fields are tokens the asset pipeline rewrites into CDN URLs.
type ImageReference struct {
	AssetID        string
	Src            string
	PrimarySrcSet  string
	PrimaryType    string
	FallbackSrcSet string
	Placeholder    string
	DominantColor  string
	Sizes          string
}

// ImageRef builds the responsive reference for assetID. The widths and
// formats behind each srcset come from the pipeline's transform spec.
func ImageRef(assetID, sizes string) ImageReference {
	if sizes == "" {
		sizes = "100vw"
	}
	return ImageReference{
		AssetID:        assetID,
		Src:            assets.SrcToken(assetID),
		PrimarySrcSet:  assets.SrcSetToken(assetID, assets.VariantPrimary),
		PrimaryType:    assets.TypeToken(assetID, assets.VariantPrimary),
		FallbackSrcSet: assets.SrcSetToken(assetID, assets.VariantFallback),
		Placeholder:    assets.BlurToken(assetID),
		DominantColor:  assets.ColorToken(assetID),
		Sizes:          sizes,
	}
}
