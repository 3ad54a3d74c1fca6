// Package storage provides the content-addressed object store optimized
// asset variants are uploaded to. Objects are addressed by the SHA-256 of
// their bytes, so identical variants produced by different jobs or tenants
// are stored once.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// ObjectStore provides content-addressable storage for asset variants.
type ObjectStore interface {
	// Put stores an object and returns its content hash.
	// If the object already exists, it returns the existing hash without writing.
	Put(ctx context.Context, obj *Object) (hash string, err error)

	// Get retrieves an object by its content hash.
	// Returns ErrNotFound if the object doesn't exist.
	Get(ctx context.Context, hash string) (*Object, error)

	// Exists checks if an object with the given hash exists.
	Exists(ctx context.Context, hash string) (bool, error)

	// Delete removes an object by its content hash.
	Delete(ctx context.Context, hash string) error

	// List returns all object hashes of the given type, or all when empty.
	List(ctx context.Context, objectType ObjectType) ([]string, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}

// Object is a stored blob with its metadata.
type Object struct {
	Hash        string
	Type        ObjectType
	ContentType string
	Size        int64
	Data        []byte
	Metadata    Metadata
}

// Metadata is the sidecar record kept next to each object.
type Metadata struct {
	Type         ObjectType `json:"type,omitempty"`
	ContentType  string     `json:"content_type,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	LastAccessed time.Time  `json:"last_accessed"`
	// Refs counts the Put calls that resolved to this object.
	Refs int `json:"refs"`
}

// ObjectType identifies the kind of stored object.
type ObjectType string

const (
	// ObjectTypeVariant is a resized, re-encoded image.
	ObjectTypeVariant ObjectType = "variant"

	// ObjectTypeSource is an original upload kept for reprocessing.
	ObjectTypeSource ObjectType = "source"
)

// HashOf returns the content address of data.
func HashOf(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// ErrNotFound is returned when an object doesn't exist.
type ErrNotFound struct {
	Hash string
}

func (e ErrNotFound) Error() string {
	return "object not found: " + e.Hash
}

// IsNotFound returns true if the error is ErrNotFound.
func IsNotFound(err error) bool {
	var nf ErrNotFound
	return errors.As(err, &nf)
}

func validHash(hash string) bool {
	if len(hash) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(hash)
	return err == nil
}
