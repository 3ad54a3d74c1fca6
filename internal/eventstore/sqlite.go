package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	foundationerrors "git.home.luguber.info/inful/storebuilder/internal/foundation/errors"
)

const eventSchema = `
CREATE TABLE IF NOT EXISTS job_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id TEXT NOT NULL,
	tenant_id TEXT NOT NULL DEFAULT '',
	event_type TEXT NOT NULL,
	recorded_at INTEGER NOT NULL,
	payload BLOB NOT NULL,
	metadata TEXT
);
CREATE INDEX IF NOT EXISTS idx_job_events_job ON job_events(job_id, id);
CREATE INDEX IF NOT EXISTS idx_job_events_tenant ON job_events(tenant_id, recorded_at);
CREATE INDEX IF NOT EXISTS idx_job_events_recorded ON job_events(recorded_at);
`

const selectEvents = `SELECT id, job_id, event_type, recorded_at, payload, metadata FROM job_events `

// SQLiteStore is the Store backed by modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens an event log at dbPath; ":memory:" is accepted for
// tests.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, foundationerrors.StorageError("open event store").WithCause(err).Build()
	}
	// A single connection keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(eventSchema); err != nil {
		_ = db.Close()
		return nil, foundationerrors.StorageError("initialize event store schema").WithCause(err).Build()
	}
	return &SQLiteStore{db: db}, nil
}

// Append implements Store. A zero timestamp is recorded as now.
func (s *SQLiteStore) Append(ctx context.Context, e *BaseEvent) (int64, error) {
	var meta []byte
	if len(e.EventMetadata) > 0 {
		var err error
		if meta, err = json.Marshal(e.EventMetadata); err != nil {
			return 0, fmt.Errorf("marshal metadata: %w", err)
		}
	}
	at := e.EventTimestamp
	if at.IsZero() {
		at = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO job_events (job_id, tenant_id, event_type, recorded_at, payload, metadata) VALUES (?, ?, ?, ?, ?, ?)`,
		e.EventJobID, e.TenantID(), e.EventType, at.UnixMilli(), e.EventPayload, meta)
	if err != nil {
		return 0, foundationerrors.StorageError("append event").WithCause(err).WithContext("job_id", e.EventJobID).Build()
	}
	return res.LastInsertId()
}

// GetByJobID implements Store.
func (s *SQLiteStore) GetByJobID(ctx context.Context, jobID string) ([]Event, error) {
	return s.query(ctx, selectEvents+`WHERE job_id = ? ORDER BY id`, jobID)
}

// GetByTenant implements Store.
func (s *SQLiteStore) GetByTenant(ctx context.Context, tenantID string, since time.Time) ([]Event, error) {
	return s.query(ctx, selectEvents+`WHERE tenant_id = ? AND recorded_at >= ? ORDER BY id`, tenantID, since.UnixMilli())
}

// Prune implements Store.
func (s *SQLiteStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM job_events WHERE recorded_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, foundationerrors.StorageError("prune events").WithCause(err).Build()
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, foundationerrors.StorageError("query events").WithCause(err).Build()
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		var (
			e    BaseEvent
			at   int64
			meta []byte
		)
		if err := rows.Scan(&e.EventID, &e.EventJobID, &e.EventType, &at, &e.EventPayload, &meta); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.EventTimestamp = time.UnixMilli(at)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.EventMetadata); err != nil {
				return nil, fmt.Errorf("decode event metadata: %w", err)
			}
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
