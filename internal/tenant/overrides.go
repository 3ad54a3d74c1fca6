package tenant

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
)

// Overrides are per-request adjustments applied on top of a snapshot.
// Empty fields leave the snapshot untouched.
type Overrides struct {
	TemplateID      string   `json:"templateId,omitempty"`
	TemplateVersion string   `json:"templateVersion,omitempty"`
	Locale          string   `json:"locale,omitempty"`
	Currency        string   `json:"currency,omitempty"`
	Targets         []string `json:"targets,omitempty"`
	PrimaryColor    string   `json:"primaryColor,omitempty"`
	AccentColor     string   `json:"accentColor,omitempty"`
	CatalogVersion  string   `json:"catalogVersion,omitempty"`
}

var hexColor = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// Validate checks that every set field is well-formed.
func (o Overrides) Validate() error {
	var problems []string
	if o.Locale != "" {
		if _, err := language.Parse(o.Locale); err != nil {
			problems = append(problems, fmt.Sprintf("locale %q: %v", o.Locale, err))
		}
	}
	if o.Currency != "" {
		if _, err := currency.ParseISO(strings.ToUpper(o.Currency)); err != nil {
			problems = append(problems, fmt.Sprintf("currency %q: %v", o.Currency, err))
		}
	}
	for _, c := range []string{o.PrimaryColor, o.AccentColor} {
		if c != "" && !hexColor.MatchString(c) {
			problems = append(problems, fmt.Sprintf("color %q is not a hex color", c))
		}
	}
	for _, t := range o.Targets {
		if strings.TrimSpace(t) == "" {
			problems = append(problems, "targets must not contain empty names")
			break
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid overrides: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Apply returns a copy of s with o applied.
func (o Overrides) Apply(s *Snapshot) *Snapshot {
	out := s.Clone()
	if o.TemplateID != "" {
		out.TemplateID = o.TemplateID
		out.TemplateVersion = ""
	}
	if o.TemplateVersion != "" {
		out.TemplateVersion = o.TemplateVersion
	}
	if o.Locale != "" {
		out.Commerce.Locale = o.Locale
	}
	if o.Currency != "" {
		out.Commerce.Currency = strings.ToUpper(o.Currency)
	}
	if len(o.Targets) > 0 {
		out.Targets = slices.Clone(o.Targets)
	}
	if o.PrimaryColor != "" {
		out.Branding.PrimaryColor = o.PrimaryColor
	}
	if o.AccentColor != "" {
		out.Branding.AccentColor = o.AccentColor
	}
	if o.CatalogVersion != "" {
		out.CatalogVersion = o.CatalogVersion
	}
	return out
}
