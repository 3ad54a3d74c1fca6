package assets

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	foundationerrors "git.home.luguber.info/inful/storebuilder/internal/foundation/errors"
)

// SourceProvider returns the raw bytes of a tenant's asset.
type SourceProvider interface {
	Open(ctx context.Context, tenantID, assetID string) ([]byte, error)
}

func sourceNotFound(tenantID, assetID string) error {
	return foundationerrors.NotFoundError("asset source not found").
		WithContext("tenant_id", tenantID).
		WithContext("asset", assetID).
		Build()
}

// MemorySource serves asset bytes from memory. A tenant-less entry (empty
// tenant id) is shared by every tenant.
type MemorySource struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// NewMemorySource returns an empty source.
func NewMemorySource() *MemorySource {
	return &MemorySource{items: make(map[string][]byte)}
}

// Put stores data for tenantID/assetID.
func (m *MemorySource) Put(tenantID, assetID string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[tenantID+"/"+assetID] = data
}

func (m *MemorySource) Open(ctx context.Context, tenantID, assetID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if data, ok := m.items[tenantID+"/"+assetID]; ok {
		return data, nil
	}
	if data, ok := m.items["/"+assetID]; ok {
		return data, nil
	}
	return nil, sourceNotFound(tenantID, assetID)
}

// DirSource reads <dir>/<tenant>/<id>.<ext>, falling back to
// <dir>/shared/<id>.<ext>.
type DirSource struct {
	Dir string
}

var sourceExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}

func (d DirSource) Open(ctx context.Context, tenantID, assetID string) ([]byte, error) {
	if !ValidID(assetID) {
		return nil, foundationerrors.ValidationError("invalid asset id").WithContext("asset", assetID).Build()
	}
	for _, scope := range []string{tenantID, "shared"} {
		if scope == "" {
			continue
		}
		for _, ext := range sourceExtensions {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			data, err := os.ReadFile(filepath.Join(d.Dir, scope, assetID+ext))
			if err == nil {
				return data, nil
			}
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, foundationerrors.StorageError("read asset source").WithCause(err).Build()
			}
		}
	}
	return nil, sourceNotFound(tenantID, assetID)
}
