package assets

import (
	"regexp"
	"slices"
)

// Rendered pages reference media by asset id through these tokens; the
// pipeline resolves them once records exist. Variant is "primary" or
// "fallback".
//
//	asset://id                 default image URL
//	asset-srcset://id/variant  responsive srcset
//	asset-type://id/variant    MIME type of a variant
//	asset-blur://id            placeholder data URI
//	asset-color://id           dominant color
const (
	VariantPrimary  = "primary"
	VariantFallback = "fallback"
)

// Ids never end in a dot so a token can close a sentence.
const idExpr = `[A-Za-z0-9](?:[A-Za-z0-9_.-]{0,126}[A-Za-z0-9_-])?`

var (
	idPattern  = regexp.MustCompile(`^` + idExpr + `$`)
	refPattern = regexp.MustCompile(`asset(-srcset|-type|-blur|-color)?://(` + idExpr + `)(?:/(primary|fallback))?`)
)

// ValidID reports whether id can be used in an asset reference.
func ValidID(id string) bool { return idPattern.MatchString(id) }

func SrcToken(id string) string             { return "asset://" + id }
func SrcSetToken(id, variant string) string { return "asset-srcset://" + id + "/" + variant }
func TypeToken(id, variant string) string   { return "asset-type://" + id + "/" + variant }
func BlurToken(id string) string            { return "asset-blur://" + id }
func ColorToken(id string) string           { return "asset-color://" + id }

// ReferencedIDs returns the sorted, unique asset ids referenced by doc.
func ReferencedIDs(doc string) []string {
	var ids []string
	for _, m := range refPattern.FindAllStringSubmatch(doc, -1) {
		ids = append(ids, m[2])
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

// RewriteReferences replaces every asset token in doc with the values of the
// matching record. Tokens without a record are left untouched.
func RewriteReferences(doc string, records map[string]*Record) string {
	return refPattern.ReplaceAllStringFunc(doc, func(tok string) string {
		m := refPattern.FindStringSubmatch(tok)
		kind, id, variant := m[1], m[2], m[3]
		if variant == "" {
			variant = VariantFallback
		}
		rec, ok := records[id]
		if !ok || rec == nil {
			return tok
		}
		switch kind {
		case "":
			return rec.URL
		case "-srcset":
			return rec.SrcSet(rec.Format(variant))
		case "-type":
			return "image/" + rec.Format(variant)
		case "-blur":
			return rec.Placeholder
		case "-color":
			return rec.DominantColor
		}
		return tok
	})
}
