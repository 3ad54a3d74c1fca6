package tenant

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	foundationerrors "git.home.luguber.info/inful/storebuilder/internal/foundation/errors"
)

// ConfigProvider fetches the current configuration of a tenant.
type ConfigProvider interface {
	Fetch(ctx context.Context, tenantID string) (*Snapshot, error)
}

func notFound(tenantID string) error {
	return foundationerrors.NotFoundError("tenant not found").
		WithContext("tenant_id", tenantID).
		Build()
}

// MemoryProvider is an in-memory ConfigProvider.
type MemoryProvider struct {
	mu      sync.RWMutex
	tenants map[string]*Snapshot
	// FetchHook, when set, runs before every fetch; tests use it to inject
	// failures and latency.
	FetchHook func(ctx context.Context, tenantID string) error
}

// NewMemoryProvider creates a provider seeded with snapshots.
func NewMemoryProvider(snapshots ...*Snapshot) *MemoryProvider {
	p := &MemoryProvider{tenants: make(map[string]*Snapshot)}
	for _, s := range snapshots {
		p.Put(s)
	}
	return p
}

// Put stores a copy of s.
func (p *MemoryProvider) Put(s *Snapshot) {
	p.mu.Lock()
	p.tenants[s.TenantID] = s.Clone()
	p.mu.Unlock()
}

// Fetch implements ConfigProvider.
func (p *MemoryProvider) Fetch(ctx context.Context, tenantID string) (*Snapshot, error) {
	if p.FetchHook != nil {
		if err := p.FetchHook(ctx, tenantID); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	s, ok := p.tenants[tenantID]
	p.mu.RUnlock()
	if !ok {
		return nil, notFound(tenantID)
	}
	return s.Clone(), nil
}

// FileProvider reads one YAML document per tenant from Dir, named
// <tenant_id>.yaml.
type FileProvider struct {
	Dir string
}

// NewFileProvider creates a provider over dir.
func NewFileProvider(dir string) *FileProvider {
	return &FileProvider{Dir: dir}
}

// Fetch implements ConfigProvider.
func (p *FileProvider) Fetch(ctx context.Context, tenantID string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ValidID(tenantID) {
		return nil, foundationerrors.ValidationError("malformed tenant id").WithContext("tenant_id", tenantID).Build()
	}
	data, err := os.ReadFile(filepath.Join(p.Dir, tenantID+".yaml"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, notFound(tenantID)
		}
		return nil, fmt.Errorf("read tenant %s: %w", tenantID, err)
	}
	var s Snapshot
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode tenant %s: %w", tenantID, err)
	}
	if s.TenantID == "" {
		s.TenantID = tenantID
	}
	if s.TenantID != tenantID {
		return nil, fmt.Errorf("tenant file %s declares tenant_id %q", tenantID, s.TenantID)
	}
	return &s, nil
}

// IDFromPath maps a tenant file path back to its tenant id.
func IDFromPath(path string) (string, bool) {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	if ext != ".yaml" {
		return "", false
	}
	id := base[:len(base)-len(ext)]
	return id, ValidID(id)
}
