package eventstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	foundationerrors "git.home.luguber.info/inful/storebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/storebuilder/internal/logfields"
)

// Publisher forwards recorded events to an external consumer.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Envelope is the wire form of a published event.
type Envelope struct {
	ID        int64             `json:"id"`
	JobID     string            `json:"job_id"`
	TenantID  string            `json:"tenant_id,omitempty"`
	Type      string            `json:"type"`
	Timestamp string            `json:"timestamp"`
	Payload   json.RawMessage   `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func envelopeOf(e Event) Envelope {
	return Envelope{
		ID:        e.ID(),
		JobID:     e.JobID(),
		TenantID:  e.TenantID(),
		Type:      e.Type(),
		Timestamp: e.Timestamp().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Payload:   json.RawMessage(e.Payload()),
		Metadata:  e.Metadata(),
	}
}

// NATSPublisher publishes events on <subject>.<tenant>.<type> using core
// NATS. Delivery is best effort.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
	owned   bool
}

// NewNATSPublisher connects to url.
func NewNATSPublisher(url, subject string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url, nats.Name("storebuilder-events"))
	if err != nil {
		return nil, foundationerrors.ConfigError("connect to NATS").WithCause(err).WithContext("url", url).Build()
	}
	p := NewNATSPublisherConn(conn, subject)
	p.owned = true
	return p, nil
}

// NewNATSPublisherConn publishes over an existing connection.
func NewNATSPublisherConn(conn *nats.Conn, subject string) *NATSPublisher {
	if subject == "" {
		subject = "storebuilder.jobs"
	}
	return &NATSPublisher{conn: conn, subject: subject}
}

// Subject returns the subject an event is published on.
func (p *NATSPublisher) Subject(e Event) string {
	tenant := e.TenantID()
	if tenant == "" {
		tenant = "_"
	}
	return p.subject + "." + strings.ReplaceAll(tenant, ".", "_") + "." + e.Type()
}

func (p *NATSPublisher) Publish(_ context.Context, e Event) error {
	data, err := json.Marshal(envelopeOf(e))
	if err != nil {
		return err
	}
	return p.conn.Publish(p.Subject(e), data)
}

// Close drains the connection when the publisher opened it.
func (p *NATSPublisher) Close() error {
	if p.owned {
		return p.conn.Drain()
	}
	return nil
}

// Recorder appends events to a store and forwards them to publishers.
// Publisher failures are logged and never fail the append.
type Recorder struct {
	store      Store
	publishers []Publisher
	logger     *slog.Logger

	mu sync.Mutex
}

// NewRecorder creates a recorder. A nil store records nothing durable.
func NewRecorder(store Store, logger *slog.Logger, publishers ...Publisher) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, publishers: publishers, logger: logger}
}

// Record appends e and publishes it.
func (r *Recorder) Record(ctx context.Context, e *BaseEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.store != nil {
		id, err := r.store.Append(ctx, e)
		if err != nil {
			return err
		}
		e.EventID = id
	}
	for _, p := range r.publishers {
		if err := p.Publish(ctx, e); err != nil {
			r.logger.Warn("Event publish failed", logfields.JobID(e.EventJobID), slog.String("type", e.EventType), logfields.Error(err))
		}
	}
	return nil
}

// History returns the recorded events of one job.
func (r *Recorder) History(ctx context.Context, jobID string) ([]Event, error) {
	if r.store == nil {
		return nil, nil
	}
	return r.store.GetByJobID(ctx, jobID)
}

// TenantHistory returns a tenant's events recorded at or after since.
func (r *Recorder) TenantHistory(ctx context.Context, tenantID string, since time.Time) ([]Event, error) {
	if r.store == nil {
		return nil, nil
	}
	return r.store.GetByTenant(ctx, tenantID, since)
}

// Prune drops events older than retention. It is a no-op without a store
// or with a non-positive retention.
func (r *Recorder) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if r.store == nil || retention <= 0 {
		return 0, nil
	}
	n, err := r.store.Prune(ctx, time.Now().Add(-retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.logger.Info("Pruned job events", logfields.Count(int(n)), slog.Duration("retention", retention))
	}
	return n, nil
}
