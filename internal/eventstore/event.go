// Package eventstore records generation job lifecycle events. Events are
// appended to a SQLite log and fanned out to publishers such as NATS.
package eventstore

import "time"

// Event is one recorded lifecycle event.
type Event interface {
	ID() int64
	JobID() string
	TenantID() string
	Type() string
	Timestamp() time.Time
	Payload() []byte
	Metadata() map[string]string
}

// BaseEvent is the concrete event the recorder appends. The tenant is kept
// in Metadata["tenant_id"] so publishers can route on it.
type BaseEvent struct {
	EventID        int64
	EventJobID     string
	EventType      string
	EventTimestamp time.Time
	EventPayload   []byte
	EventMetadata  map[string]string
}

func (e *BaseEvent) ID() int64                   { return e.EventID }
func (e *BaseEvent) JobID() string               { return e.EventJobID }
func (e *BaseEvent) TenantID() string            { return e.EventMetadata[metaTenant] }
func (e *BaseEvent) Type() string                { return e.EventType }
func (e *BaseEvent) Timestamp() time.Time        { return e.EventTimestamp }
func (e *BaseEvent) Payload() []byte             { return e.EventPayload }
func (e *BaseEvent) Metadata() map[string]string { return e.EventMetadata }

const metaTenant = "tenant_id"
