// Package jobs runs generation jobs on a bounded worker pool and owns their
// records. Nothing outside the Manager mutates a Job; callers see copies.
package jobs

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"git.home.luguber.info/inful/storebuilder/internal/config"
	"git.home.luguber.info/inful/storebuilder/internal/eventstore"
	foundationerrors "git.home.luguber.info/inful/storebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/storebuilder/internal/logfields"
	"git.home.luguber.info/inful/storebuilder/internal/metrics"
)

// Runner executes a job's working stages. It returns the terminal status it
// reached, or an error that fails (or cancels) the job.
type Runner func(ctx context.Context, h *Handle) (Status, error)

// Emitter receives lifecycle events. *eventstore.Recorder satisfies it.
type Emitter interface {
	Record(ctx context.Context, e *eventstore.BaseEvent) error
}

const subscriberBuffer = 16

type entry struct {
	job     *Job
	runner  Runner
	cancel  context.CancelCauseFunc
	inQueue bool
	running bool
	subs    []chan *Job
}

// Manager admits, queues and runs jobs with at most maxConcurrent running.
type Manager struct {
	queue       chan *entry
	workers     int
	queueSize   int
	timeout     time.Duration
	weights     Weights
	historySize int

	mu       sync.Mutex
	entries  map[string]*entry
	finished []string
	running  int
	queued   int

	store    Store
	events   Emitter
	recorder metrics.Recorder
	logger   *slog.Logger
	clock    clockwork.Clock
	newID    func() string

	hooks []func(*Job)

	base     context.Context
	stopBase context.CancelCauseFunc
	wg       sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithStore persists job records.
func WithStore(s Store) Option { return func(m *Manager) { m.store = s } }

// WithEmitter sends lifecycle events to e.
func WithEmitter(e Emitter) Option { return func(m *Manager) { m.events = e } }

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(m *Manager) {
		if r != nil {
			m.recorder = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock sets the clock used for timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithTimeout sets the per-job wall-clock limit.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithWeights sets the progress weights.
func WithWeights(w Weights) Option { return func(m *Manager) { m.weights = w } }

// WithHistorySize bounds how many finished jobs stay in memory.
func WithHistorySize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.historySize = n
		}
	}
}

// WithIDGenerator overrides job id generation.
func WithIDGenerator(fn func() string) Option { return func(m *Manager) { m.newID = fn } }

// OptionsFromConfig maps the jobs section onto options. Concurrency and
// queue size are passed to NewManager directly.
func OptionsFromConfig(c config.JobsConfig) []Option {
	return []Option{
		WithTimeout(config.ParseDuration(c.Timeout, 0)),
		WithHistorySize(c.HistorySize),
		WithWeights(WeightsFromConfig(c.Weights)),
	}
}

// NewManager creates a manager. Call Start before submitting work.
func NewManager(maxConcurrent, queueSize int, opts ...Option) *Manager {
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	m := &Manager{
		queue:       make(chan *entry, queueSize),
		workers:     maxConcurrent,
		queueSize:   queueSize,
		timeout:     10 * time.Minute,
		weights:     DefaultWeights(),
		historySize: 200,
		entries:     make(map[string]*entry),
		recorder:    metrics.NoopRecorder{},
		logger:      slog.Default(),
		clock:       clockwork.NewRealClock(),
		newID:       uuid.NewString,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Start launches the workers. Jobs run until ctx ends or Stop is called.
func (m *Manager) Start(ctx context.Context) {
	m.base, m.stopBase = context.WithCancelCause(ctx)
	m.logger.Info("Starting job manager", "workers", m.workers, "queue_size", m.queueSize, "timeout", m.timeout)
	for range m.workers {
		m.wg.Add(1)
		go m.worker()
	}
}

// Stop cancels running jobs, cancels queued ones and waits for the workers
// until ctx expires.
func (m *Manager) Stop(ctx context.Context) error {
	if m.stopBase == nil {
		return nil
	}
	m.stopBase(foundationerrors.CanceledError("job manager stopping").Build())

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return foundationerrors.TimeoutError("job manager did not stop in time").WithCause(ctx.Err()).Build()
	}

	m.mu.Lock()
	var pending []*entry
	for _, e := range m.entries {
		if !e.job.Status.Terminal() {
			pending = append(pending, e)
		}
	}
	m.mu.Unlock()
	for _, e := range pending {
		m.finish(e, StatusCancelled, foundationerrors.CanceledError("job manager stopped before the job ran").Build())
	}
	return nil
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.base.Done():
			return
		case e := <-m.queue:
			m.process(e)
		}
	}
}

// Create registers a new Queued job for tenantID.
func (m *Manager) Create(ctx context.Context, tenantID string) (*Job, error) {
	if tenantID == "" {
		return nil, foundationerrors.ValidationError("tenant id is required").Build()
	}
	now := m.clock.Now()
	j := &Job{
		ID:        m.newID(),
		TenantID:  tenantID,
		Status:    StatusQueued,
		CreatedAt: now,
		Targets:   []TargetResult{},
	}
	for _, s := range Stages {
		j.Stages = append(j.Stages, StageProgress{Stage: s})
	}
	j.Log = append(j.Log, LogEntry{Time: now, Level: LevelInfo, Stage: StatusQueued, Message: "job accepted"})

	m.mu.Lock()
	m.entries[j.ID] = &entry{job: j}
	snap := j.Clone()
	m.mu.Unlock()

	m.persist(ctx, snap)
	m.emit(ctx, snap, eventstore.TypeJobQueued, eventstore.Lifecycle{Status: string(StatusQueued)})
	m.logger.Info("Job queued", logfields.JobID(j.ID), logfields.TenantID(tenantID))
	return snap, nil
}

// OnFinish registers fn to run, outside the manager lock, after any job
// reaches a terminal state.
func (m *Manager) OnFinish(fn func(*Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, fn)
}

// Handle returns a handle on a live job, used during admission before the
// job is submitted.
func (m *Manager) Handle(id string) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, foundationerrors.NotFoundError("job not found").WithContext("job_id", id).Build()
	}
	return &Handle{m: m, e: e}, nil
}

// Fail terminates a job that has not started running.
func (m *Manager) Fail(_ context.Context, id string, cause error) error {
	m.mu.Lock()
	e, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return foundationerrors.NotFoundError("job not found").WithContext("job_id", id).Build()
	}
	if e.running || e.job.Status.Terminal() {
		m.mu.Unlock()
		return foundationerrors.ConflictError("job is already running or finished").WithContext("job_id", id).Build()
	}
	m.mu.Unlock()
	m.finish(e, StatusFailed, cause)
	return nil
}

// Submit queues a Created job for execution. A full queue fails the job
// with a quota error, which is also returned.
func (m *Manager) Submit(id string, runner Runner) error {
	if runner == nil {
		return foundationerrors.InternalError("runner is required").Build()
	}
	m.mu.Lock()
	e, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return foundationerrors.NotFoundError("job not found").WithContext("job_id", id).Build()
	}
	if e.runner != nil || e.job.Status.Terminal() {
		m.mu.Unlock()
		return foundationerrors.ConflictError("job already submitted").WithContext("job_id", id).Build()
	}
	if m.base != nil && m.base.Err() != nil {
		m.mu.Unlock()
		err := foundationerrors.CanceledError("job manager is stopped").Build()
		m.finish(e, StatusCancelled, err)
		return err
	}
	e.runner = runner
	select {
	case m.queue <- e:
		e.inQueue = true
		m.queued++
		queued := m.queued
		m.mu.Unlock()
		m.recorder.SetJobsQueued(queued)
		return nil
	default:
		m.mu.Unlock()
		err := foundationerrors.QuotaError("job queue is full").
			WithContext("queue_size", m.queueSize).
			Retryable().
			Build()
		m.finish(e, StatusFailed, err)
		return err
	}
}

// Get returns a copy of the job, from memory or the store.
func (m *Manager) Get(ctx context.Context, id string) (*Job, error) {
	m.mu.Lock()
	if e, ok := m.entries[id]; ok {
		snap := e.job.Clone()
		m.mu.Unlock()
		return snap, nil
	}
	m.mu.Unlock()
	if m.store == nil {
		return nil, foundationerrors.NotFoundError("job not found").WithContext("job_id", id).Build()
	}
	return m.store.Load(ctx, id)
}

// Recent lists a tenant's latest jobs, newest first.
func (m *Manager) Recent(ctx context.Context, tenantID string, limit int) ([]*Job, error) {
	if m.store != nil {
		return m.store.List(ctx, tenantID, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Job
	for _, e := range m.entries {
		if tenantID == "" || e.job.TenantID == tenantID {
			out = append(out, e.job.Clone())
		}
	}
	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Cancel requests cooperative cancellation. A queued job is cancelled at
// once; a running job stops at its next stage or item boundary.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	m.mu.Lock()
	e, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		if m.store == nil {
			return foundationerrors.NotFoundError("job not found").WithContext("job_id", id).Build()
		}
		j, err := m.store.Load(ctx, id)
		if err != nil {
			return err
		}
		return foundationerrors.ConflictError(fmt.Sprintf("job already %s", j.Status)).WithContext("job_id", id).Build()
	}
	if e.job.Status.Terminal() {
		status := e.job.Status
		m.mu.Unlock()
		return foundationerrors.ConflictError(fmt.Sprintf("job already %s", status)).WithContext("job_id", id).Build()
	}
	cause := foundationerrors.CanceledError("job cancelled by request").Build()
	if e.running {
		e.cancel(cause)
		m.appendLog(e, LevelWarn, "cancellation requested", nil)
		m.mu.Unlock()
		m.logger.Info("Job cancellation requested", logfields.JobID(id))
		return nil
	}
	m.mu.Unlock()
	m.finish(e, StatusCancelled, cause)
	return nil
}

// Subscribe streams copies of the job after every change. The channel is
// closed once the job is terminal or the returned func is called. Slow
// readers miss intermediate updates but always receive the final one.
func (m *Manager) Subscribe(ctx context.Context, id string) (<-chan *Job, func(), error) {
	ch := make(chan *Job, subscriberBuffer)
	m.mu.Lock()
	e, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		j, err := m.Get(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		ch <- j
		close(ch)
		return ch, func() {}, nil
	}
	ch <- e.job.Clone()
	if e.job.Status.Terminal() {
		m.mu.Unlock()
		close(ch)
		return ch, func() {}, nil
	}
	e.subs = append(e.subs, ch)
	m.mu.Unlock()

	unsubscribe := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, c := range e.subs {
			if c == ch {
				e.subs = append(e.subs[:i], e.subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, unsubscribe, nil
}

// Stats reports the running and queued job counts.
func (m *Manager) Stats() (running, queued int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running, m.queued
}

// ActiveForTenant counts the tenant's non-terminal jobs.
func (m *Manager) ActiveForTenant(tenantID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.job.TenantID == tenantID && !e.job.Status.Terminal() {
			n++
		}
	}
	return n
}

// Recover fails jobs a previous process left unfinished. It returns the
// number of records repaired.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	stale, err := m.store.Unfinished(ctx)
	if err != nil {
		return 0, err
	}
	now := m.clock.Now()
	for _, j := range stale {
		cause := foundationerrors.InternalError("job interrupted by a restart").Build()
		j.Log = append(j.Log, LogEntry{Time: now, Level: LevelError, Stage: j.Status, Message: cause.Error(), Kind: foundationerrors.KindOf(cause)})
		j.Status = StatusFailed
		j.Causes = foundationerrors.Chain(cause)
		j.ErrorKind = foundationerrors.KindOf(cause)
		j.CompletedAt = &now
		if err := m.store.Save(ctx, j); err != nil {
			return 0, err
		}
		m.logger.Warn("Marked interrupted job failed", logfields.JobID(j.ID), logfields.TenantID(j.TenantID))
	}
	return len(stale), nil
}

func (m *Manager) process(e *entry) {
	m.mu.Lock()
	if e.inQueue {
		e.inQueue = false
		m.queued--
	}
	if e.job.Status.Terminal() {
		queued := m.queued
		m.mu.Unlock()
		m.recorder.SetJobsQueued(queued)
		return
	}
	ctx, cancel := context.WithCancelCause(m.base)
	ctx, cancelTimeout := context.WithTimeoutCause(ctx, m.timeout,
		foundationerrors.TimeoutError(fmt.Sprintf("job exceeded its %s time limit", m.timeout)).
			WithContext("job_id", e.job.ID).
			Build())
	defer cancelTimeout()
	defer cancel(nil)

	now := m.clock.Now()
	e.cancel = cancel
	e.running = true
	e.job.StartedAt = &now
	m.running++
	running, queued := m.running, m.queued
	m.mu.Unlock()
	m.recorder.SetJobsRunning(running)
	m.recorder.SetJobsQueued(queued)

	status, err := m.run(ctx, e)
	if err == nil && !status.Terminal() {
		err = foundationerrors.InternalError(fmt.Sprintf("runner returned non-terminal status %q", status)).Build()
	}
	if err != nil {
		status, err = classify(ctx, err)
	}
	m.finish(e, status, err)
}

func (m *Manager) run(ctx context.Context, e *entry) (status Status, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Job runner panicked", logfields.JobID(e.job.ID), "panic", r)
			status, err = StatusFailed, foundationerrors.InternalError(fmt.Sprintf("job runner panicked: %v", r)).Build()
		}
	}()
	return e.runner(ctx, &Handle{m: m, e: e})
}

// classify maps a runner error onto a terminal status, replacing bare
// context errors with the recorded cancellation cause.
func classify(ctx context.Context, err error) (Status, error) {
	if ctx.Err() != nil && (stdErrors.Is(err, context.Canceled) || stdErrors.Is(err, context.DeadlineExceeded)) {
		if cause := context.Cause(ctx); cause != nil {
			err = cause
		}
	}
	if foundationerrors.HasCategory(err, foundationerrors.CategoryCanceled) {
		return StatusCancelled, err
	}
	return StatusFailed, err
}

func (m *Manager) finish(e *entry, status Status, cause error) {
	ctx := context.Background()
	m.mu.Lock()
	j := e.job
	if j.Status.Terminal() {
		m.mu.Unlock()
		return
	}
	now := m.clock.Now()
	last := j.Status
	var stageDur time.Duration
	if sp := j.stage(last); sp != nil && sp.StartedAt != nil && sp.CompletedAt == nil {
		stageDur = now.Sub(*sp.StartedAt)
		if status == StatusCompleted || status == StatusPartiallyDeployed {
			sp.CompletedAt = &now
		}
	}
	j.Status = status
	j.CompletedAt = &now
	j.Progress = j.progress(m.weights)
	if status == StatusCompleted || status == StatusPartiallyDeployed {
		j.Progress = 1
	}
	if cause != nil {
		j.Causes = foundationerrors.Chain(cause)
		j.ErrorKind = foundationerrors.KindOf(cause)
		j.Log = append(j.Log, LogEntry{Time: now, Level: LevelError, Stage: last, Message: cause.Error(), Kind: j.ErrorKind})
	}
	j.Log = append(j.Log, LogEntry{Time: now, Level: LevelInfo, Stage: status, Message: "job " + string(status)})
	if e.inQueue {
		e.inQueue = false
		m.queued--
	}
	if e.running {
		e.running = false
		m.running--
	}
	snap := j.Clone()
	subs := e.subs
	e.subs = nil
	m.finished = append(m.finished, j.ID)
	for len(m.finished) > m.historySize {
		delete(m.entries, m.finished[0])
		m.finished = m.finished[1:]
	}
	running, queued := m.running, m.queued
	hooks := slices.Clone(m.hooks)
	m.mu.Unlock()

	// Hooks run before subscribers see the terminal record.
	for _, fn := range hooks {
		fn(snap.Clone())
	}
	for _, ch := range subs {
		deliverFinal(ch, snap)
		close(ch)
	}
	m.recorder.SetJobsRunning(running)
	m.recorder.SetJobsQueued(queued)
	m.recorder.IncJobOutcome(string(status))
	m.recorder.ObserveJobDuration(now.Sub(snap.CreatedAt))
	if stageDur > 0 {
		m.recorder.ObserveStageDuration(string(last), stageDur)
		m.recorder.IncStageResult(string(last), stageResult(status))
	}

	m.persist(ctx, snap)
	m.emit(ctx, snap, eventstore.TypeJobFinished, eventstore.Lifecycle{
		Status:     string(status),
		Stage:      string(last),
		Message:    firstCause(snap),
		ErrorKind:  snap.ErrorKind,
		DurationMS: now.Sub(snap.CreatedAt).Milliseconds(),
	})

	attrs := []any{logfields.JobID(snap.ID), logfields.TenantID(snap.TenantID), logfields.JobStatus(string(status)), logfields.Stage(string(last))}
	if cause != nil {
		attrs = append(attrs, logfields.Kind(snap.ErrorKind), logfields.Error(cause))
		m.logger.Warn("Job finished", attrs...)
		return
	}
	m.logger.Info("Job finished", attrs...)
}

func stageResult(status Status) metrics.ResultLabel {
	switch status {
	case StatusCompleted:
		return metrics.ResultSuccess
	case StatusPartiallyDeployed:
		return metrics.ResultWarning
	case StatusCancelled:
		return metrics.ResultCanceled
	default:
		return metrics.ResultFatal
	}
}

func firstCause(j *Job) string {
	if len(j.Causes) == 0 {
		return ""
	}
	return j.Causes[0]
}

// deliverFinal makes room for the terminal snapshot if the buffer is full.
func deliverFinal(ch chan *Job, snap *Job) {
	select {
	case ch <- snap:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snap:
	default:
	}
}

// notify must be called with m.mu held.
func (m *Manager) notify(e *entry) {
	if len(e.subs) == 0 {
		return
	}
	snap := e.job.Clone()
	for _, ch := range e.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

// appendLog must be called with m.mu held.
func (m *Manager) appendLog(e *entry, level LogLevel, msg string, err error) {
	entry := LogEntry{Time: m.clock.Now(), Level: level, Stage: e.job.Status, Message: msg}
	if err != nil {
		entry.Kind = foundationerrors.KindOf(err)
		if entry.Message == "" {
			entry.Message = err.Error()
		} else {
			entry.Message += ": " + err.Error()
		}
	}
	e.job.Log = append(e.job.Log, entry)
	if level == LevelWarn {
		e.job.Warnings++
	}
	m.notify(e)
}

func (m *Manager) persist(ctx context.Context, j *Job) {
	if m.store == nil {
		return
	}
	if err := m.store.Save(context.WithoutCancel(ctx), j); err != nil {
		m.logger.Warn("Failed to persist job", logfields.JobID(j.ID), logfields.Error(err))
	}
}

func (m *Manager) emit(ctx context.Context, j *Job, eventType string, l eventstore.Lifecycle) {
	if m.events == nil {
		return
	}
	l.TenantID = j.TenantID
	l.Progress = j.Progress
	ev, err := eventstore.NewLifecycleEvent(j.ID, eventType, m.clock.Now(), l)
	if err == nil {
		err = m.events.Record(context.WithoutCancel(ctx), ev)
	}
	if err != nil {
		m.logger.Warn("Failed to record job event", logfields.JobID(j.ID), "type", eventType, logfields.Error(err))
	}
}
