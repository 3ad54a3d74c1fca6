package jobs

import (
	"slices"
	"time"
)

// LogLevel is the severity of a job log entry.
type LogLevel string

const (
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// LogEntry is one line of a job's append-only log.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Level   LogLevel  `json:"level"`
	Stage   Status    `json:"stage"`
	Message string    `json:"message"`
	Kind    string    `json:"kind,omitempty"`
}

// StageProgress tracks one working stage.
type StageProgress struct {
	Stage       Status     `json:"stage"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TargetResult is the deployment outcome on one target.
type TargetResult struct {
	Target   string    `json:"target"`
	Kind     string    `json:"kind"`
	Outcome  string    `json:"outcome"`
	Version  string    `json:"version"`
	Previous string    `json:"previous,omitempty"`
	URL      string    `json:"url,omitempty"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// Job is the record of one generation run. Only the Manager mutates it;
// everyone else sees copies.
type Job struct {
	ID          string          `json:"job_id"`
	TenantID    string          `json:"tenant_id"`
	Status      Status          `json:"status"`
	Progress    float64         `json:"progress"`
	Stages      []StageProgress `json:"stages"`
	Log         []LogEntry      `json:"logs"`
	Causes      []string        `json:"causes,omitempty"`
	ErrorKind   string          `json:"error_kind,omitempty"`
	Targets     []TargetResult  `json:"per_target_results"`
	Warnings    int             `json:"warnings"`
	Template    string          `json:"template,omitempty"`
	Version     string          `json:"version,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Clone returns a deep copy.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	cp.Stages = make([]StageProgress, len(j.Stages))
	for i, s := range j.Stages {
		cp.Stages[i] = StageProgress{Stage: s.Stage, StartedAt: clonePtr(s.StartedAt), CompletedAt: clonePtr(s.CompletedAt)}
	}
	cp.Log = slices.Clone(j.Log)
	cp.Causes = slices.Clone(j.Causes)
	cp.Targets = slices.Clone(j.Targets)
	cp.StartedAt = clonePtr(j.StartedAt)
	cp.CompletedAt = clonePtr(j.CompletedAt)
	return &cp
}

func clonePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func (j *Job) stage(s Status) *StageProgress {
	for i := range j.Stages {
		if j.Stages[i].Stage == s {
			return &j.Stages[i]
		}
	}
	return nil
}

// progress sums the weights of completed stages.
func (j *Job) progress(w Weights) float64 {
	var p float64
	for _, s := range j.Stages {
		if s.CompletedAt != nil {
			p += w[s.Stage]
		}
	}
	if p > 1 {
		p = 1
	}
	return p
}
