package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"sync"

	_ "modernc.org/sqlite"

	foundationerrors "git.home.luguber.info/inful/storebuilder/internal/foundation/errors"
)

// Store persists job records so status survives a restart.
type Store interface {
	Save(ctx context.Context, j *Job) error
	Load(ctx context.Context, id string) (*Job, error)
	List(ctx context.Context, tenantID string, limit int) ([]*Job, error)
	// Unfinished returns records that were not terminal when last saved.
	Unfinished(ctx context.Context) ([]*Job, error)
	Close() error
}

// SQLiteStore keeps one JSON record per job.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore opens (and migrates) a job store at path. ":memory:" is
// accepted for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, foundationerrors.StorageError("open job store").WithCause(err).Build()
	}
	db.SetMaxOpenConns(1)
	const schema = `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		status TEXT NOT NULL,
		terminal INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		record BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_tenant ON jobs(tenant_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_jobs_terminal ON jobs(terminal);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, foundationerrors.StorageError("initialize job store schema").WithCause(err).Build()
	}
	return &SQLiteStore{db: db}, nil
}

// Save upserts the record.
func (s *SQLiteStore) Save(ctx context.Context, j *Job) error {
	record, err := json.Marshal(j)
	if err != nil {
		return foundationerrors.InternalError("marshal job record").WithCause(err).WithContext("job_id", j.ID).Build()
	}
	terminal := 0
	if j.Status.Terminal() {
		terminal = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, tenant_id, status, terminal, created_at, record)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status, terminal = excluded.terminal, record = excluded.record`,
		j.ID, j.TenantID, string(j.Status), terminal, j.CreatedAt.UnixMilli(), record)
	if err != nil {
		return foundationerrors.StorageError("save job").WithCause(err).WithContext("job_id", j.ID).Build()
	}
	return nil
}

// Load returns the record for id or a NotFound error.
func (s *SQLiteStore) Load(ctx context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var record []byte
	err := s.db.QueryRowContext(ctx, `SELECT record FROM jobs WHERE id = ?`, id).Scan(&record)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return nil, foundationerrors.NotFoundError("job not found").WithContext("job_id", id).Build()
	}
	if err != nil {
		return nil, foundationerrors.StorageError("load job").WithCause(err).WithContext("job_id", id).Build()
	}
	return decodeJob(record)
}

// List returns a tenant's most recent jobs, newest first. An empty tenantID
// lists every tenant.
func (s *SQLiteStore) List(ctx context.Context, tenantID string, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT record FROM jobs WHERE tenant_id = ? ORDER BY created_at DESC, id LIMIT ?`
	args := []any{tenantID, limit}
	if tenantID == "" {
		query = `SELECT record FROM jobs ORDER BY created_at DESC, id LIMIT ?`
		args = []any{limit}
	}
	return s.query(ctx, query, args...)
}

// Unfinished returns non-terminal records, oldest first.
func (s *SQLiteStore) Unfinished(ctx context.Context) ([]*Job, error) {
	return s.query(ctx, `SELECT record FROM jobs WHERE terminal = 0 ORDER BY created_at, id`)
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, foundationerrors.StorageError("query jobs").WithCause(err).Build()
	}
	defer func() { _ = rows.Close() }()

	var out []*Job
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, foundationerrors.StorageError("scan job").WithCause(err).Build()
		}
		j, err := decodeJob(record)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, foundationerrors.StorageError("iterate jobs").WithCause(err).Build()
	}
	return out, nil
}

func decodeJob(record []byte) (*Job, error) {
	var j Job
	if err := json.Unmarshal(record, &j); err != nil {
		return nil, foundationerrors.StorageError("decode job record").WithCause(err).Build()
	}
	return &j, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
