// Package tenant models the immutable tenant configuration a generation job
// is built from, and the providers that supply it.
package tenant

import (
	"regexp"
	"slices"
	"time"
)

// Branding is the visual identity of a store.
type Branding struct {
	PrimaryColor    string `yaml:"primary_color" json:"primary_color"`
	AccentColor     string `yaml:"accent_color" json:"accent_color"`
	TextColor       string `yaml:"text_color" json:"text_color"`
	BackgroundColor string `yaml:"background_color" json:"background_color"`
	FontFamily      string `yaml:"font_family" json:"font_family"`
	LogoAsset       string `yaml:"logo_asset,omitempty" json:"logo_asset,omitempty"`
	HeroAsset       string `yaml:"hero_asset,omitempty" json:"hero_asset,omitempty"`
	Tagline         string `yaml:"tagline,omitempty" json:"tagline,omitempty"`
}

// Features toggles optional storefront sections.
type Features struct {
	Search        bool `yaml:"search" json:"search"`
	Reviews       bool `yaml:"reviews" json:"reviews"`
	FAQ           bool `yaml:"faq" json:"faq"`
	Compatibility bool `yaml:"compatibility" json:"compatibility"`
}

// Commerce holds money and language settings.
type Commerce struct {
	Currency string `yaml:"currency" json:"currency"`
	Locale   string `yaml:"locale" json:"locale"`
}

// FAQEntry is one question on the about page.
type FAQEntry struct {
	Question string `yaml:"question" json:"question"`
	Answer   string `yaml:"answer" json:"answer"`
}

// Snapshot is the tenant configuration captured at job start. Jobs hold a
// private copy; edits to the tenant never reach an in-flight render.
type Snapshot struct {
	TenantID        string     `yaml:"tenant_id" json:"tenant_id"`
	Version         string     `yaml:"version" json:"version"`
	Name            string     `yaml:"name" json:"name"`
	BaseURL         string     `yaml:"base_url" json:"base_url"`
	Branding        Branding   `yaml:"branding" json:"branding"`
	Features        Features   `yaml:"features" json:"features"`
	Commerce        Commerce   `yaml:"commerce" json:"commerce"`
	CatalogVersion  string     `yaml:"catalog_version" json:"catalog_version"`
	TemplateID      string     `yaml:"template_id" json:"template_id"`
	TemplateVersion string     `yaml:"template_version,omitempty" json:"template_version,omitempty"`
	Targets         []string   `yaml:"targets" json:"targets"`
	About           string     `yaml:"about,omitempty" json:"about,omitempty"`
	FAQ             []FAQEntry `yaml:"faq,omitempty" json:"faq,omitempty"`
	CapturedAt      time.Time  `yaml:"-" json:"captured_at"`
}

// Clone returns a deep copy.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Targets = slices.Clone(s.Targets)
	cp.FAQ = slices.Clone(s.FAQ)
	return &cp
}

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,62}$`)

// ValidID reports whether id is a well-formed tenant identifier.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}
