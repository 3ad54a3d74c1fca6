package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	foundationerrors "git.home.luguber.info/inful/storebuilder/internal/foundation/errors"
)

const sidecarExt = ".json"

// FSStore keeps objects on local disk, fanned out by hash prefix:
//
//	<root>/objects/ab/cdef...        variant bytes
//	<root>/objects/ab/cdef....json   Metadata sidecar
//
// Both files are written through a temp file and a rename.
type FSStore struct {
	root string
	mu   sync.RWMutex
}

// NewFSStore opens (creating if needed) a store rooted at dir.
func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, "objects"), 0o750); err != nil {
		return nil, foundationerrors.StorageError("create object directory").WithCause(err).WithContext("dir", dir).Build()
	}
	return &FSStore{root: dir}, nil
}

// Put implements ObjectStore. Storing bytes that are already present only
// bumps the sidecar's reference count.
func (s *FSStore) Put(ctx context.Context, obj *Object) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	hash := HashOf(obj.Data)
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.blobPath(hash)); err == nil {
		meta, err := s.loadMeta(hash)
		if err != nil {
			// A lost sidecar is rebuilt from the incoming object.
			meta = Metadata{Type: obj.Type, ContentType: obj.ContentType, CreatedAt: now}
		}
		meta.Refs++
		meta.LastAccessed = now
		return hash, s.saveMeta(hash, meta)
	}

	if err := writeAtomic(s.blobPath(hash), obj.Data); err != nil {
		return "", foundationerrors.StorageError("write object").WithCause(err).WithContext("hash", hash).Build()
	}
	meta := Metadata{Type: obj.Type, ContentType: obj.ContentType, CreatedAt: now, LastAccessed: now, Refs: 1}
	return hash, s.saveMeta(hash, meta)
}

// Get implements ObjectStore.
func (s *FSStore) Get(ctx context.Context, hash string) (*Object, error) {
	if !validHash(hash) {
		return nil, ErrNotFound{Hash: hash}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.blobPath(hash))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, ErrNotFound{Hash: hash}
	case err != nil:
		return nil, foundationerrors.StorageError("read object").WithCause(err).WithContext("hash", hash).Build()
	}
	// Bytes without a sidecar are still served, just untyped.
	meta, _ := s.loadMeta(hash)
	return &Object{
		Hash:        hash,
		Type:        meta.Type,
		ContentType: meta.ContentType,
		Size:        int64(len(data)),
		Data:        data,
		Metadata:    meta,
	}, nil
}

// Exists implements ObjectStore.
func (s *FSStore) Exists(_ context.Context, hash string) (bool, error) {
	if !validHash(hash) {
		return false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err := os.Stat(s.blobPath(hash))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, foundationerrors.StorageError("stat object").WithCause(err).WithContext("hash", hash).Build()
	}
}

// Delete implements ObjectStore.
func (s *FSStore) Delete(_ context.Context, hash string) error {
	if !validHash(hash) {
		return ErrNotFound{Hash: hash}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	blob := s.blobPath(hash)
	if err := os.Remove(blob); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound{Hash: hash}
		}
		return foundationerrors.StorageError("delete object").WithCause(err).WithContext("hash", hash).Build()
	}
	_ = os.Remove(blob + sidecarExt)
	_ = os.Remove(filepath.Dir(blob)) // fails unless the fan-out dir is empty
	return nil
}

// List implements ObjectStore; hashes come back sorted.
func (s *FSStore) List(_ context.Context, objectType ObjectType) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hashes []string
	err := filepath.WalkDir(s.objectsDir(), func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		hash := filepath.Base(filepath.Dir(path)) + d.Name()
		if !validHash(hash) {
			return nil // sidecars and temp files
		}
		if objectType != "" {
			if meta, err := s.loadMeta(hash); err != nil || meta.Type != objectType {
				return nil
			}
		}
		hashes = append(hashes, hash)
		return nil
	})
	if err != nil {
		return nil, foundationerrors.StorageError("list objects").WithCause(err).Build()
	}
	sort.Strings(hashes)
	return hashes, nil
}

// Ping reports whether the objects directory is still present.
func (s *FSStore) Ping(context.Context) error {
	info, err := os.Stat(s.objectsDir())
	if err == nil && !info.IsDir() {
		err = errors.New("not a directory")
	}
	if err != nil {
		return foundationerrors.StorageError("object store unavailable").WithCause(err).WithContext("dir", s.root).Build()
	}
	return nil
}

// Close is a no-op.
func (s *FSStore) Close() error { return nil }

func (s *FSStore) objectsDir() string { return filepath.Join(s.root, "objects") }

// blobPath expects a validated hash.
func (s *FSStore) blobPath(hash string) string {
	return filepath.Join(s.objectsDir(), hash[:2], hash[2:])
}

func (s *FSStore) loadMeta(hash string) (Metadata, error) {
	var meta Metadata
	data, err := os.ReadFile(s.blobPath(hash) + sidecarExt)
	if err != nil {
		return meta, err
	}
	err = json.Unmarshal(data, &meta)
	return meta, err
}

func (s *FSStore) saveMeta(hash string, meta Metadata) error {
	data, err := json.Marshal(meta)
	if err == nil {
		err = writeAtomic(s.blobPath(hash)+sidecarExt, data)
	}
	if err != nil {
		return foundationerrors.StorageError("write object metadata").WithCause(err).WithContext("hash", hash).Build()
	}
	return nil
}

// writeAtomic replaces path with data so readers never observe a partial
// file.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return err
	}
	return nil
}

var _ ObjectStore = (*FSStore)(nil)
