package tenant

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	foundationerrors "git.home.luguber.info/inful/storebuilder/internal/foundation/errors"
)

func sampleSnapshot() *Snapshot {
	return &Snapshot{
		TenantID:       "acme",
		Version:        "3",
		Name:           "Acme Parts",
		Commerce:       Commerce{Currency: "USD", Locale: "en-US"},
		CatalogVersion: "v7",
		TemplateID:     "classic",
		Targets:        []string{"static-host"},
		FAQ:            []FAQEntry{{Question: "Ship?", Answer: "Yes"}},
	}
}

func TestCloneIsDeep(t *testing.T) {
	s := sampleSnapshot()
	c := s.Clone()
	c.Targets[0] = "changed"
	c.FAQ[0].Answer = "No"
	assert.Equal(t, "static-host", s.Targets[0])
	assert.Equal(t, "Yes", s.FAQ[0].Answer)
}

func TestOverridesApplyWithoutMutating(t *testing.T) {
	s := sampleSnapshot()
	o := Overrides{Locale: "de-DE", Currency: "eur", Targets: []string{"a", "b"}, TemplateID: "minimal"}
	require.NoError(t, o.Validate())

	out := o.Apply(s)
	assert.Equal(t, "de-DE", out.Commerce.Locale)
	assert.Equal(t, "EUR", out.Commerce.Currency)
	assert.Equal(t, []string{"a", "b"}, out.Targets)
	assert.Equal(t, "minimal", out.TemplateID)
	assert.Equal(t, "en-US", s.Commerce.Locale)
}

func TestOverridesValidate(t *testing.T) {
	assert.Error(t, Overrides{Currency: "XXXX"}.Validate())
	assert.Error(t, Overrides{PrimaryColor: "red"}.Validate())
	assert.Error(t, Overrides{Targets: []string{" "}}.Validate())
	assert.NoError(t, Overrides{PrimaryColor: "#0af"}.Validate())
}

func TestMemoryProviderReturnsCopies(t *testing.T) {
	p := NewMemoryProvider(sampleSnapshot())
	a, err := p.Fetch(context.Background(), "acme")
	require.NoError(t, err)
	a.Name = "mutated"

	b, err := p.Fetch(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, "Acme Parts", b.Name)

	_, err = p.Fetch(context.Background(), "nobody")
	assert.True(t, foundationerrors.HasCategory(err, foundationerrors.CategoryNotFound))
}

func TestFileProvider(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "acme.yaml"), []byte(`
name: Acme Parts
version: "4"
commerce:
  currency: USD
  locale: en-US
catalog_version: v9
template_id: classic
targets: [static-host]
`), 0o600))

	p := NewFileProvider(dir)
	s, err := p.Fetch(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, "acme", s.TenantID)
	assert.Equal(t, "v9", s.CatalogVersion)

	_, err = p.Fetch(context.Background(), "missing")
	assert.True(t, foundationerrors.HasCategory(err, foundationerrors.CategoryNotFound))

	_, err = p.Fetch(context.Background(), "../etc")
	assert.True(t, foundationerrors.HasCategory(err, foundationerrors.CategoryValidation))

	id, ok := IDFromPath(filepath.Join(dir, "acme.yaml"))
	assert.True(t, ok)
	assert.Equal(t, "acme", id)
}
