package deploy

import (
	"context"
	"time"

	"git.home.luguber.info/inful/storebuilder/internal/config"
)

// Target is one hosting platform shared by many tenants. Implementations
// keep every uploaded version addressable and hold one live pointer per
// tenant, switched only in Activate and Rollback.
type Target interface {
	Name() string
	Kind() config.TargetKind
	// Prepare readies the target to receive a bundle.
	Prepare(ctx context.Context, b *Bundle) error
	// Upload stores the bundle without making it live.
	Upload(ctx context.Context, b *Bundle) error
	// HealthCheck verifies an uploaded version of the tenant's store is
	// servable.
	HealthCheck(ctx context.Context, tenantID, version string) error
	// Activate makes version the tenant's live store in a single step.
	Activate(ctx context.Context, tenantID, version string) error
	// Rollback makes previous live again for the tenant. An empty previous
	// means nothing was live before.
	Rollback(ctx context.Context, tenantID, previous string) error
	// ActiveVersion returns the tenant's live version, or "" when none is.
	ActiveVersion(ctx context.Context, tenantID string) (string, error)
}

// Binding attaches gateway-level settings to a target.
type Binding struct {
	Target        Target
	CredentialRef string
	PublicURL     string
}

// Outcome is the result of deploying to one target.
type Outcome string

const (
	OutcomeSuccess    Outcome = "success"
	OutcomeFailed     Outcome = "failed"
	OutcomeRolledBack Outcome = "rolled_back"
	// OutcomeSuperseded marks an activated target a later job replaced
	// before this one could be rolled back.
	OutcomeSuperseded Outcome = "superseded"
)

// Result is the per-target deployment record.
type Result struct {
	Target    string            `json:"target"`
	TenantID  string            `json:"tenant_id"`
	Kind      config.TargetKind `json:"kind"`
	Outcome   Outcome           `json:"outcome"`
	Version   string            `json:"version"`
	Previous  string            `json:"previous,omitempty"`
	URL       string            `json:"url,omitempty"`
	Activated bool              `json:"activated"`
	Error     string            `json:"error,omitempty"`
	At        time.Time         `json:"at"`
	Err       error             `json:"-"`
}

// Status aggregates the per-target outcomes.
type Status string

const (
	StatusCompleted         Status = "completed"
	StatusPartiallyDeployed Status = "partially_deployed"
	StatusFailed            Status = "failed"
)

// Summary is the outcome of one gateway invocation.
type Summary struct {
	Version string   `json:"version"`
	Status  Status   `json:"status"`
	Results []Result `json:"results"`
}

// Succeeded returns the number of targets left live on the new version.
func (s *Summary) Succeeded() int {
	n := 0
	for _, r := range s.Results {
		if r.Outcome == OutcomeSuccess {
			n++
		}
	}
	return n
}

func statusOf(results []Result) Status {
	ok := 0
	for _, r := range results {
		if r.Outcome == OutcomeSuccess {
			ok++
		}
	}
	switch {
	case ok == len(results) && ok > 0:
		return StatusCompleted
	case ok > 0:
		return StatusPartiallyDeployed
	default:
		return StatusFailed
	}
}
