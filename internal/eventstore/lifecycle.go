package eventstore

import (
	"encoding/json"
	"time"

	foundationerrors "git.home.luguber.info/inful/storebuilder/internal/foundation/errors"
)

// Lifecycle event types.
const (
	TypeJobQueued      = "JobQueued"
	TypeStageStarted   = "StageStarted"
	TypeStageCompleted = "StageCompleted"
	TypeJobWarning     = "JobWarning"
	TypeTargetDeployed = "TargetDeployed"
	TypeJobFinished    = "JobFinished"
)

// Lifecycle is the payload every lifecycle event carries. Fields that do not
// apply to an event type are left empty.
type Lifecycle struct {
	TenantID   string  `json:"tenant_id"`
	Status     string  `json:"status,omitempty"`
	Stage      string  `json:"stage,omitempty"`
	Progress   float64 `json:"progress"`
	Message    string  `json:"message,omitempty"`
	ErrorKind  string  `json:"error_kind,omitempty"`
	Target     string  `json:"target,omitempty"`
	Outcome    string  `json:"outcome,omitempty"`
	DurationMS int64   `json:"duration_ms,omitempty"`
}

// NewLifecycleEvent builds an event for jobID with a JSON payload.
func NewLifecycleEvent(jobID, eventType string, at time.Time, l Lifecycle) (*BaseEvent, error) {
	payload, err := json.Marshal(l)
	if err != nil {
		return nil, foundationerrors.InternalError("marshal lifecycle payload").
			WithCause(err).
			WithContext("job_id", jobID).
			WithContext("type", eventType).
			Build()
	}
	return &BaseEvent{
		EventJobID:     jobID,
		EventType:      eventType,
		EventTimestamp: at,
		EventPayload:   payload,
		EventMetadata:  map[string]string{metaTenant: l.TenantID},
	}, nil
}

// DecodeLifecycle decodes the payload of a lifecycle event.
func DecodeLifecycle(e Event) (Lifecycle, error) {
	var l Lifecycle
	if err := json.Unmarshal(e.Payload(), &l); err != nil {
		return Lifecycle{}, err
	}
	return l, nil
}
