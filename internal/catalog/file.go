package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	foundationerrors "git.home.luguber.info/inful/storebuilder/internal/foundation/errors"
)

// FileProvider reads catalogs exported as JSON product arrays, laid out as
// <Dir>/<tenant>/<version>.json. Each page request re-reads the file; the
// catalog cache tier keeps that off the hot path.
type FileProvider struct {
	Dir string
}

// NewFileProvider creates a provider over dir.
func NewFileProvider(dir string) *FileProvider {
	return &FileProvider{Dir: dir}
}

// ListProducts implements Provider.
func (p *FileProvider) ListProducts(ctx context.Context, tenantID, version, cursor string, limit int) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	if version == "" || filepath.Base(version) != version {
		return Page{}, foundationerrors.ValidationError("malformed catalog version").WithContext("version", version).Build()
	}
	path := filepath.Join(p.Dir, tenantID, version+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Page{}, foundationerrors.NotFoundError("catalog not found").
				WithContext("tenant_id", tenantID).
				WithContext("version", version).
				Build()
		}
		return Page{}, fmt.Errorf("read catalog %s: %w", path, err)
	}
	var products []Product
	if err := json.Unmarshal(data, &products); err != nil {
		return Page{}, fmt.Errorf("decode catalog %s: %w", path, err)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })
	return pageOf(products, cursor, limit)
}
