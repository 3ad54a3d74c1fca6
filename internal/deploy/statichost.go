package deploy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/storebuilder/internal/config"
	foundationerrors "git.home.luguber.info/inful/storebuilder/internal/foundation/errors"
)

const (
	staticCurrent  = "current"
	staticVersions = "versions"
	staticManifest = ".bundle.json"
)

// StaticHost publishes to a directory served by a static web server. Each
// tenant owns <root>/<tenant>: versions live in versions/<version> and the
// live site is the "current" symlink, replaced with a rename so readers
// never see a mix.
type StaticHost struct {
	name string
	root string
}

// NewStaticHost creates a target rooted at dir.
func NewStaticHost(name, dir string) *StaticHost {
	return &StaticHost{name: name, root: dir}
}

func (s *StaticHost) Name() string            { return s.name }
func (s *StaticHost) Kind() config.TargetKind { return config.TargetStaticHost }

func (s *StaticHost) tenantDir(tenantID string) string { return filepath.Join(s.root, tenantID) }

func (s *StaticHost) versionDir(tenantID, v string) string {
	return filepath.Join(s.tenantDir(tenantID), staticVersions, v)
}

type staticManifestFile struct {
	Version string           `json:"version"`
	Files   map[string]int64 `json:"files"`
}

func (s *StaticHost) Prepare(_ context.Context, b *Bundle) error {
	if err := checkTenant(b.TenantID); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(s.tenantDir(b.TenantID), staticVersions), 0o755); err != nil {
		return fmt.Errorf("create versions dir: %w", err)
	}
	return nil
}

// Upload writes the bundle into a staging dir and renames it into place.
// A version that already exists is left untouched.
func (s *StaticHost) Upload(ctx context.Context, b *Bundle) error {
	if err := checkTenant(b.TenantID); err != nil {
		return err
	}
	dst := s.versionDir(b.TenantID, b.Version)
	if _, err := os.Stat(filepath.Join(dst, staticManifest)); err == nil {
		return nil
	}
	stage, err := os.MkdirTemp(filepath.Join(s.tenantDir(b.TenantID), staticVersions), ".stage-")
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(stage) }()

	manifest := staticManifestFile{Version: b.Version, Files: make(map[string]int64, len(b.Files))}
	for _, f := range b.Files {
		if err := ctx.Err(); err != nil {
			return context.Cause(ctx)
		}
		p := filepath.Join(stage, filepath.FromSlash(f.Path))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return fmt.Errorf("create dir for %s: %w", f.Path, err)
		}
		if err := os.WriteFile(p, f.Data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", f.Path, err)
		}
		manifest.Files[f.Path] = int64(len(f.Data))
	}
	data, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(stage, staticManifest), data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	_ = os.RemoveAll(dst)
	if err := os.Rename(stage, dst); err != nil {
		return fmt.Errorf("publish version dir: %w", err)
	}
	return nil
}

// HealthCheck verifies every file in the version's manifest is present with
// the recorded size.
func (s *StaticHost) HealthCheck(ctx context.Context, tenantID, version string) error {
	if err := checkTenant(tenantID); err != nil {
		return err
	}
	dir := s.versionDir(tenantID, version)
	data, err := os.ReadFile(filepath.Join(dir, staticManifest))
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}
	var m staticManifestFile
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("decode manifest: %w", err)
	}
	if m.Version != version {
		return fmt.Errorf("manifest version %s does not match %s", m.Version, version)
	}
	if _, ok := m.Files["index.html"]; !ok {
		return errors.New("version has no index.html")
	}
	for p, size := range m.Files {
		if err := ctx.Err(); err != nil {
			return context.Cause(ctx)
		}
		fi, err := os.Stat(filepath.Join(dir, filepath.FromSlash(p)))
		if err != nil {
			return fmt.Errorf("check %s: %w", p, err)
		}
		if fi.Size() != size {
			return fmt.Errorf("%s has %d bytes, expected %d", p, fi.Size(), size)
		}
	}
	return nil
}

func (s *StaticHost) Activate(_ context.Context, tenantID, version string) error {
	if err := checkTenant(tenantID); err != nil {
		return err
	}
	if _, err := os.Stat(s.versionDir(tenantID, version)); err != nil {
		return foundationerrors.NotFoundError("version not uploaded").
			WithContext("tenant_id", tenantID).
			WithContext("version", version).
			Build()
	}
	return s.point(tenantID, version)
}

func (s *StaticHost) Rollback(_ context.Context, tenantID, previous string) error {
	if err := checkTenant(tenantID); err != nil {
		return err
	}
	if previous == "" {
		err := os.Remove(s.LiveDir(tenantID))
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove live link: %w", err)
		}
		return nil
	}
	return s.point(tenantID, previous)
}

// point atomically retargets the tenant's current symlink.
func (s *StaticHost) point(tenantID, version string) error {
	dir := s.tenantDir(tenantID)
	tmp := filepath.Join(dir, ".current-"+version)
	_ = os.Remove(tmp)
	if err := os.Symlink(filepath.Join(staticVersions, version), tmp); err != nil {
		return fmt.Errorf("create link: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, staticCurrent)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("swap live link: %w", err)
	}
	return nil
}

func (s *StaticHost) ActiveVersion(_ context.Context, tenantID string) (string, error) {
	if err := checkTenant(tenantID); err != nil {
		return "", err
	}
	dest, err := os.Readlink(s.LiveDir(tenantID))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read live link: %w", err)
	}
	return filepath.Base(dest), nil
}

// LiveDir returns the directory a web server should serve for the tenant.
func (s *StaticHost) LiveDir(tenantID string) string {
	return filepath.Join(s.tenantDir(tenantID), staticCurrent)
}
