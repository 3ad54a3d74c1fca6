// Package deploy publishes a generated store to its hosting targets. Every
// target moves atomically from its previous version to the new one or stays
// where it was.
package deploy

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"path"
	"sort"
	"strings"

	foundationerrors "git.home.luguber.info/inful/storebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/storebuilder/internal/tenant"
)

// File is one published file. Path is slash separated and relative to the
// site root.
type File struct {
	Path        string
	ContentType string
	Data        []byte
}

// Bundle is the immutable set of files one job publishes.
type Bundle struct {
	TenantID string
	Version  string
	Files    []File
}

// PagePath maps a page route to the file that serves it.
func PagePath(route string) string {
	p := strings.Trim(route, "/")
	if p == "" {
		return "index.html"
	}
	if path.Ext(p) != "" {
		return p
	}
	return p + "/index.html"
}

// NewBundle validates and sorts files and derives the bundle version from
// their paths and contents.
func NewBundle(tenantID string, files []File) (*Bundle, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, foundationerrors.ValidationError("bundle has no files").WithContext("tenant_id", tenantID).Build()
	}
	out := make([]File, 0, len(files))
	seen := make(map[string]bool, len(files))
	for _, f := range files {
		p, ok := cleanPath(f.Path)
		if !ok {
			return nil, foundationerrors.ValidationError("invalid bundle path").WithContext("path", f.Path).Build()
		}
		if seen[p] {
			return nil, foundationerrors.ValidationError("duplicate bundle path").WithContext("path", p).Build()
		}
		seen[p] = true
		f.Path = p
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })

	h := sha256.New()
	var n [8]byte
	for _, f := range out {
		h.Write([]byte(f.Path))
		h.Write([]byte{0})
		binary.BigEndian.PutUint64(n[:], uint64(len(f.Data)))
		h.Write(n[:])
		h.Write(f.Data)
	}
	return &Bundle{TenantID: tenantID, Version: hex.EncodeToString(h.Sum(nil))[:16], Files: out}, nil
}

// checkTenant rejects ids that cannot name a per-tenant path, branch or
// API segment on a target.
func checkTenant(tenantID string) error {
	if !tenant.ValidID(tenantID) {
		return foundationerrors.ValidationError("invalid tenant id").WithContext("tenant_id", tenantID).Build()
	}
	return nil
}

func cleanPath(p string) (string, bool) {
	p = strings.TrimLeft(p, "/")
	if p == "" || strings.Contains(p, "\\") {
		return "", false
	}
	c := path.Clean(p)
	if c != p || c == "." || strings.HasPrefix(c, "../") || c == ".." || strings.HasPrefix(c, ".") {
		return "", false
	}
	return c, true
}

// File returns the file at p.
func (b *Bundle) File(p string) (File, bool) {
	i := sort.Search(len(b.Files), func(i int) bool { return b.Files[i].Path >= p })
	if i < len(b.Files) && b.Files[i].Path == p {
		return b.Files[i], true
	}
	return File{}, false
}

// Size returns the total payload size in bytes.
func (b *Bundle) Size() int64 {
	var n int64
	for _, f := range b.Files {
		n += int64(len(f.Data))
	}
	return n
}
