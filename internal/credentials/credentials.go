// Package credentials hands out short-lived deployment credentials. Values
// travel in a context.Context for the duration of one target deployment and
// are never written to job records or logs.
package credentials

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	foundationerrors "git.home.luguber.info/inful/storebuilder/internal/foundation/errors"
)

// Credential is a secret scoped to one reference.
type Credential struct {
	Ref       string
	Secret    string
	ExpiresAt time.Time
}

// String redacts the secret.
func (c Credential) String() string {
	return "credential(" + c.Ref + ", redacted)"
}

// GoString redacts the secret in %#v output.
func (c Credential) GoString() string { return c.String() }

// Expired reports whether the credential is past its expiry.
func (c Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// Store retrieves credentials by reference.
type Store interface {
	Get(ctx context.Context, ref string) (Credential, error)
}

// DefaultTTL bounds how long a fetched credential is considered valid.
const DefaultTTL = 5 * time.Minute

type contextKey struct{}

// ErrNoCredential is returned when no credential is in context.
var ErrNoCredential = errors.New("no credential in context")

// WithCredential stores a credential in ctx.
func WithCredential(ctx context.Context, c Credential) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

// FromContext retrieves a credential stored by WithCredential.
func FromContext(ctx context.Context) (Credential, error) {
	c, ok := ctx.Value(contextKey{}).(Credential)
	if !ok {
		return Credential{}, ErrNoCredential
	}
	if c.Expired(time.Now()) {
		return Credential{}, foundationerrors.DeploymentError("credential expired").WithContext("ref", c.Ref).Build()
	}
	return c, nil
}

// EnvStore resolves a reference to the environment variable of the same
// name, upper-cased with dashes mapped to underscores.
type EnvStore struct {
	TTL time.Duration
}

// Get implements Store.
func (s EnvStore) Get(_ context.Context, ref string) (Credential, error) {
	name := strings.ToUpper(strings.ReplaceAll(ref, "-", "_"))
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return Credential{}, foundationerrors.NotFoundError("credential not found").WithContext("ref", ref).Build()
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return Credential{Ref: ref, Secret: v, ExpiresAt: time.Now().Add(ttl)}, nil
}

// MemoryStore holds credentials in memory.
type MemoryStore struct {
	mu      sync.RWMutex
	secrets map[string]string
	fetches map[string]int
}

// NewMemoryStore creates a store from ref → secret pairs.
func NewMemoryStore(secrets map[string]string) *MemoryStore {
	m := &MemoryStore{secrets: make(map[string]string), fetches: make(map[string]int)}
	for k, v := range secrets {
		m.secrets[k] = v
	}
	return m
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, ref string) (Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.secrets[ref]
	if !ok {
		return Credential{}, foundationerrors.NotFoundError("credential not found").WithContext("ref", ref).Build()
	}
	m.fetches[ref]++
	return Credential{Ref: ref, Secret: v, ExpiresAt: time.Now().Add(DefaultTTL)}, nil
}

// Fetches reports how many times ref was retrieved.
func (m *MemoryStore) Fetches(ref string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fetches[ref]
}
