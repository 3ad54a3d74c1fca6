// Package responses defines the JSON bodies written by the storebuilder API.
package responses

import (
	"encoding/json"
	"time"

	"git.home.luguber.info/inful/storebuilder/internal/breaker"
	"git.home.luguber.info/inful/storebuilder/internal/jobs"
)

// GenerateResponse acknowledges an accepted generation request.
type GenerateResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

// CancelResponse acknowledges a cancellation request.
type CancelResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

// TargetResult is one deployment target's outcome.
type TargetResult struct {
	Target   string    `json:"target"`
	Kind     string    `json:"kind"`
	Outcome  string    `json:"outcome"`
	Version  string    `json:"version,omitempty"`
	Previous string    `json:"previousVersion,omitempty"`
	URL      string    `json:"url,omitempty"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// LogEntry is one line of a job log.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Stage   string    `json:"stage"`
	Message string    `json:"message"`
	Kind    string    `json:"kind,omitempty"`
}

// StageInfo reports when a stage ran.
type StageInfo struct {
	Stage       string     `json:"stage"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// StatusResponse is the generation-status body.
type StatusResponse struct {
	JobID            string         `json:"jobId"`
	TenantID         string         `json:"tenantId"`
	Status           string         `json:"status"`
	Progress         float64        `json:"progress"`
	Template         string         `json:"template,omitempty"`
	Version          string         `json:"version,omitempty"`
	ErrorKind        string         `json:"errorKind,omitempty"`
	Causes           []string       `json:"causes,omitempty"`
	Warnings         int            `json:"warnings"`
	Stages           []StageInfo    `json:"stages"`
	PerTargetResults []TargetResult `json:"perTargetResults"`
	Logs             []LogEntry     `json:"logs"`
	CreatedAt        time.Time      `json:"createdAt"`
	StartedAt        *time.Time     `json:"startedAt,omitempty"`
	CompletedAt      *time.Time     `json:"completedAt,omitempty"`
}

// FromJob converts a job record into its API form.
func FromJob(j *jobs.Job) StatusResponse {
	out := StatusResponse{
		JobID:            j.ID,
		TenantID:         j.TenantID,
		Status:           string(j.Status),
		Progress:         j.Progress,
		Template:         j.Template,
		Version:          j.Version,
		ErrorKind:        j.ErrorKind,
		Causes:           j.Causes,
		Warnings:         j.Warnings,
		Stages:           make([]StageInfo, 0, len(j.Stages)),
		PerTargetResults: make([]TargetResult, 0, len(j.Targets)),
		Logs:             make([]LogEntry, 0, len(j.Log)),
		CreatedAt:        j.CreatedAt,
		StartedAt:        j.StartedAt,
		CompletedAt:      j.CompletedAt,
	}
	for _, s := range j.Stages {
		out.Stages = append(out.Stages, StageInfo{Stage: string(s.Stage), StartedAt: s.StartedAt, CompletedAt: s.CompletedAt})
	}
	for _, r := range j.Targets {
		out.PerTargetResults = append(out.PerTargetResults, TargetResult{
			Target: r.Target, Kind: r.Kind, Outcome: r.Outcome, Version: r.Version,
			Previous: r.Previous, URL: r.URL, Error: r.Error, At: r.At,
		})
	}
	for _, e := range j.Log {
		out.Logs = append(out.Logs, LogEntry{Time: e.Time, Level: string(e.Level), Stage: string(e.Stage), Message: e.Message, Kind: e.Kind})
	}
	return out
}

// JobSummary is a compact row in a tenant's job list.
type JobSummary struct {
	JobID       string     `json:"jobId"`
	Status      string     `json:"status"`
	Progress    float64    `json:"progress"`
	Version     string     `json:"version,omitempty"`
	ErrorKind   string     `json:"errorKind,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// JobListResponse lists a tenant's most recent jobs, newest first.
type JobListResponse struct {
	TenantID string       `json:"tenantId"`
	Jobs     []JobSummary `json:"jobs"`
}

// EventEntry is one recorded lifecycle event.
type EventEntry struct {
	ID        int64           `json:"id"`
	JobID     string          `json:"jobId"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// EventListResponse lists a tenant's lifecycle events in record order.
type EventListResponse struct {
	TenantID string       `json:"tenantId"`
	Events   []EventEntry `json:"events"`
}

// InvalidateResponse reports how many cache entries were dropped.
type InvalidateResponse struct {
	Scope   string `json:"scope"`
	ID      string `json:"id"`
	Removed int    `json:"removed"`
}

// HealthResponse is the /health body.
type HealthResponse struct {
	Status      string           `json:"status"`
	Version     string           `json:"version"`
	Uptime      float64          `json:"uptime"`
	Timestamp   time.Time        `json:"timestamp"`
	JobsRunning int              `json:"jobsRunning"`
	JobsQueued  int              `json:"jobsQueued"`
	Breakers    []breaker.Status `json:"breakers,omitempty"`
}
