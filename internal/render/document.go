package render

import (
	"fmt"
	"strings"
)

// segment is one piece of a parsed layout document: literal HTML, a slot
// reference or the language marker.
type segment struct {
	text string
	slot string
	lang bool
}

// parseDocument splits a layout document on {{...}} markers. Unknown markers
// are an error so typos surface at validation time.
func parseDocument(doc string) ([]segment, error) {
	var segs []segment
	rest := doc
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			if rest != "" {
				segs = append(segs, segment{text: rest})
			}
			return segs, nil
		}
		if start > 0 {
			segs = append(segs, segment{text: rest[:start]})
		}
		end := strings.Index(rest[start:], "}}")
		if end < 0 {
			return nil, fmt.Errorf("unterminated marker at offset %d", len(doc)-len(rest)+start)
		}
		marker := strings.TrimSpace(rest[start+2 : start+end])
		switch {
		case marker == "lang":
			segs = append(segs, segment{lang: true})
		case strings.HasPrefix(marker, "slot:"):
			name := strings.TrimSpace(strings.TrimPrefix(marker, "slot:"))
			if name == "" {
				return nil, fmt.Errorf("empty slot marker")
			}
			segs = append(segs, segment{slot: name})
		default:
			return nil, fmt.Errorf("unknown marker {{%s}}", marker)
		}
		rest = rest[start+end+2:]
	}
}

func documentSlots(segs []segment) map[string]bool {
	out := make(map[string]bool)
	for _, s := range segs {
		if s.slot != "" {
			out[s.slot] = true
		}
	}
	return out
}
