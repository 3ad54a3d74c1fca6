package eventstore

import (
	"context"
	"time"
)

// Store is the durable, append-only lifecycle log.
type Store interface {
	// Append adds an event and returns its id.
	Append(ctx context.Context, e *BaseEvent) (int64, error)

	// GetByJobID returns every event of one job in append order.
	GetByJobID(ctx context.Context, jobID string) ([]Event, error)

	// GetByTenant returns a tenant's events recorded at or after since.
	GetByTenant(ctx context.Context, tenantID string, since time.Time) ([]Event, error)

	// Prune drops events recorded before cutoff and reports how many.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)

	Close() error
}
