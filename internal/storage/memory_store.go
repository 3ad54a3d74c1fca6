package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory ObjectStore. Tests use its failure switch to
// simulate an unreachable backend.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]*Object
	calls   Calls
	failure error
}

// Calls tracks method invocations for test verification.
type Calls struct {
	Put    int
	Get    int
	Exists int
	Delete int
	List   int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]*Object)}
}

// SetFailure makes every subsequent call fail with err; nil restores service.
func (m *MemoryStore) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failure = err
}

// Put stores an object and returns its content hash.
func (m *MemoryStore) Put(ctx context.Context, obj *Object) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.Put++
	if m.failure != nil {
		return "", m.failure
	}

	hash := HashOf(obj.Data)
	if existing, ok := m.objects[hash]; ok {
		existing.Metadata.Refs++
		existing.Metadata.LastAccessed = time.Now()
		return hash, nil
	}
	now := time.Now()
	stored := &Object{
		Hash:        hash,
		Type:        obj.Type,
		ContentType: obj.ContentType,
		Size:        int64(len(obj.Data)),
		Data:        append([]byte(nil), obj.Data...),
		Metadata:    Metadata{Type: obj.Type, ContentType: obj.ContentType, CreatedAt: now, LastAccessed: now, Refs: 1},
	}
	m.objects[hash] = stored
	return hash, nil
}

// Get retrieves a copy of an object by its content hash.
func (m *MemoryStore) Get(_ context.Context, hash string) (*Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.Get++
	if m.failure != nil {
		return nil, m.failure
	}
	obj, ok := m.objects[hash]
	if !ok {
		return nil, ErrNotFound{Hash: hash}
	}
	obj.Metadata.LastAccessed = time.Now()
	cp := *obj
	cp.Data = append([]byte(nil), obj.Data...)
	return &cp, nil
}

// Exists checks if an object with the given hash exists.
func (m *MemoryStore) Exists(_ context.Context, hash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.Exists++
	if m.failure != nil {
		return false, m.failure
	}
	_, ok := m.objects[hash]
	return ok, nil
}

// Delete removes an object by its content hash.
func (m *MemoryStore) Delete(_ context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.Delete++
	if m.failure != nil {
		return m.failure
	}
	if _, ok := m.objects[hash]; !ok {
		return ErrNotFound{Hash: hash}
	}
	delete(m.objects, hash)
	return nil
}

// List returns all object hashes matching the given type filter, sorted.
func (m *MemoryStore) List(_ context.Context, objectType ObjectType) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.List++
	if m.failure != nil {
		return nil, m.failure
	}
	var hashes []string
	for hash, obj := range m.objects {
		if objectType == "" || obj.Type == objectType {
			hashes = append(hashes, hash)
		}
	}
	sort.Strings(hashes)
	return hashes, nil
}

// Ping fails while a failure is injected.
func (m *MemoryStore) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.failure
}

// Close releases resources (no-op).
func (m *MemoryStore) Close() error {
	return nil
}

// GetCalls returns the number of times each method was called.
func (m *MemoryStore) GetCalls() Calls {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}

// Size returns the number of stored objects.
func (m *MemoryStore) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// String returns a string representation for debugging.
func (m *MemoryStore) String() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fmt.Sprintf("MemoryStore{objects: %d, calls: %+v}", len(m.objects), m.calls)
}
