package jobs

import (
	"context"
	"fmt"
	"sort"
	"time"

	"git.home.luguber.info/inful/storebuilder/internal/eventstore"
	foundationerrors "git.home.luguber.info/inful/storebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/storebuilder/internal/logfields"
	"git.home.luguber.info/inful/storebuilder/internal/metrics"
)

// Handle is the write side of one job, given to its Runner. Writes to a
// terminal job are dropped.
type Handle struct {
	m *Manager
	e *entry
}

// ID returns the job id.
func (h *Handle) ID() string { return h.e.job.ID }

// TenantID returns the job's tenant.
func (h *Handle) TenantID() string { return h.e.job.TenantID }

// Enter moves the job into the next working stage, completing the current
// one. It fails with the context's cause when the job has been cancelled or
// timed out, so every stage boundary is a cancellation point.
func (h *Handle) Enter(ctx context.Context, stage Status) error {
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	m := h.m
	m.mu.Lock()
	j := h.e.job
	if j.Status.Terminal() {
		m.mu.Unlock()
		return foundationerrors.ConflictError("job already finished").WithContext("job_id", j.ID).Build()
	}
	if !CanTransition(j.Status, stage) {
		m.mu.Unlock()
		return foundationerrors.InternalError(fmt.Sprintf("illegal job transition %s -> %s", j.Status, stage)).
			WithContext("job_id", j.ID).
			Build()
	}
	now := m.clock.Now()
	prev := j.Status
	var prevDur time.Duration
	if sp := j.stage(prev); sp != nil && sp.StartedAt != nil {
		sp.CompletedAt = &now
		prevDur = now.Sub(*sp.StartedAt)
	}
	j.Status = stage
	if sp := j.stage(stage); sp != nil {
		sp.StartedAt = &now
	}
	j.Progress = j.progress(m.weights)
	j.Log = append(j.Log, LogEntry{Time: now, Level: LevelInfo, Stage: stage, Message: "stage started"})
	m.notify(h.e)
	snap := j.Clone()
	m.mu.Unlock()

	if prev != StatusQueued {
		m.recorder.ObserveStageDuration(string(prev), prevDur)
		m.recorder.IncStageResult(string(prev), metrics.ResultSuccess)
		m.emit(ctx, snap, eventstore.TypeStageCompleted, eventstore.Lifecycle{
			Status:     string(stage),
			Stage:      string(prev),
			DurationMS: prevDur.Milliseconds(),
		})
	}
	m.emit(ctx, snap, eventstore.TypeStageStarted, eventstore.Lifecycle{Status: string(stage), Stage: string(stage)})
	m.persist(ctx, snap)
	m.logger.Info("Job stage started", logfields.JobID(snap.ID), logfields.TenantID(snap.TenantID), logfields.Stage(string(stage)))
	return nil
}

// Info appends an informational log entry.
func (h *Handle) Info(msg string) { h.log(context.Background(), LevelInfo, msg, nil) }

// Warn appends a warning. err may be nil; when set its kind is recorded.
func (h *Handle) Warn(ctx context.Context, msg string, err error) { h.log(ctx, LevelWarn, msg, err) }

// Error appends a non-fatal error entry, such as one failed target.
func (h *Handle) Error(ctx context.Context, msg string, err error) { h.log(ctx, LevelError, msg, err) }

func (h *Handle) log(ctx context.Context, level LogLevel, msg string, err error) {
	m := h.m
	m.mu.Lock()
	if h.e.job.Status.Terminal() {
		m.mu.Unlock()
		return
	}
	m.appendLog(h.e, level, msg, err)
	last := h.e.job.Log[len(h.e.job.Log)-1]
	var snap *Job
	if level != LevelInfo {
		snap = h.e.job.Clone()
	}
	m.mu.Unlock()

	if snap != nil {
		m.emit(ctx, snap, eventstore.TypeJobWarning, eventstore.Lifecycle{
			Status:    string(snap.Status),
			Stage:     string(last.Stage),
			Message:   last.Message,
			ErrorKind: last.Kind,
		})
	}
}

// SetTemplate records the template reference the job renders with.
func (h *Handle) SetTemplate(ref string) {
	h.update(func(j *Job) { j.Template = ref })
}

// SetVersion records the bundle version being deployed.
func (h *Handle) SetVersion(v string) {
	h.update(func(j *Job) { j.Version = v })
}

// SetTargets records per-target deployment results.
func (h *Handle) SetTargets(ctx context.Context, results []TargetResult) {
	if !h.update(func(j *Job) { j.Targets = append([]TargetResult(nil), results...) }) {
		return
	}
	h.m.mu.Lock()
	snap := h.e.job.Clone()
	h.m.mu.Unlock()
	for _, r := range results {
		h.m.emit(ctx, snap, eventstore.TypeTargetDeployed, eventstore.Lifecycle{
			Status:  string(snap.Status),
			Target:  r.Target,
			Outcome: r.Outcome,
			Message: r.Error,
		})
	}
	h.m.persist(ctx, snap)
}

func (h *Handle) update(fn func(*Job)) bool {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	if h.e.job.Status.Terminal() {
		return false
	}
	fn(h.e.job)
	h.m.notify(h.e)
	return true
}

func sortNewestFirst(js []*Job) {
	sort.Slice(js, func(a, b int) bool {
		if !js[a].CreatedAt.Equal(js[b].CreatedAt) {
			return js[a].CreatedAt.After(js[b].CreatedAt)
		}
		return js[a].ID < js[b].ID
	})
}
