package catalog

import (
	"context"
	"slices"
	"sort"
	"strconv"
	"sync"

	foundationerrors "git.home.luguber.info/inful/storebuilder/internal/foundation/errors"
)

// MemoryProvider serves catalogs held in memory, keyed by tenant and version.
type MemoryProvider struct {
	mu       sync.RWMutex
	catalogs map[string][]Product

	// ListHook runs before every page request when set.
	ListHook func(ctx context.Context, tenantID, version string) error
}

// NewMemoryProvider creates an empty provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{catalogs: make(map[string][]Product)}
}

func memKey(tenantID, version string) string { return tenantID + "\x00" + version }

// Put stores products for a tenant version.
func (m *MemoryProvider) Put(tenantID, version string, products []Product) {
	cp := slices.Clone(products)
	sort.Slice(cp, func(i, j int) bool { return cp[i].ID < cp[j].ID })
	m.mu.Lock()
	m.catalogs[memKey(tenantID, version)] = cp
	m.mu.Unlock()
}

// ListProducts implements Provider; the cursor is a decimal offset.
func (m *MemoryProvider) ListProducts(ctx context.Context, tenantID, version, cursor string, limit int) (Page, error) {
	if m.ListHook != nil {
		if err := m.ListHook(ctx, tenantID, version); err != nil {
			return Page{}, err
		}
	}
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	m.mu.RLock()
	products, ok := m.catalogs[memKey(tenantID, version)]
	m.mu.RUnlock()
	if !ok {
		return Page{}, foundationerrors.NotFoundError("catalog not found").
			WithContext("tenant_id", tenantID).
			WithContext("version", version).
			Build()
	}

	return pageOf(products, cursor, limit)
}

// pageOf slices a sorted product list; the cursor is a decimal offset.
func pageOf(products []Product, cursor string, limit int) (Page, error) {
	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return Page{}, foundationerrors.ValidationError("malformed cursor").WithContext("cursor", cursor).Build()
		}
		offset = n
	}
	if offset > len(products) {
		offset = len(products)
	}
	end := min(offset+limit, len(products))
	page := Page{Products: slices.Clone(products[offset:end])}
	if end < len(products) {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}
