// Package scheduler runs periodic maintenance: cache sweeps, event log
// pruning and scheduled regeneration of configured tenants.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/storebuilder/internal/config"
	foundationerrors "git.home.luguber.info/inful/storebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/storebuilder/internal/generator"
	"git.home.luguber.info/inful/storebuilder/internal/jobs"
	"git.home.luguber.info/inful/storebuilder/internal/logfields"
)

// Sweeper drops expired cache entries and reports how many.
type Sweeper interface {
	SweepAll() int
}

// Pruner drops lifecycle events older than a retention period.
type Pruner interface {
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

// Generator admits generation requests.
type Generator interface {
	GenerateStore(ctx context.Context, req generator.Request) (*jobs.Job, error)
}

// Scheduler wraps a gocron scheduler.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *slog.Logger
	ctx       context.Context
}

// New creates a stopped scheduler. Tasks run with ctx.
func New(ctx context.Context, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &Scheduler{scheduler: s, logger: logger, ctx: ctx}, nil
}

// Start begins running scheduled tasks.
func (s *Scheduler) Start() {
	s.logger.Info("Starting scheduler", logfields.Count(len(s.scheduler.Jobs())))
	s.scheduler.Start()
}

// Stop waits for running tasks and shuts the scheduler down.
func (s *Scheduler) Stop() error {
	s.logger.Info("Stopping scheduler")
	return s.scheduler.Shutdown()
}

// ScheduleEvery runs fn every interval. A run still in progress when the
// next one is due is skipped, not stacked.
func (s *Scheduler) ScheduleEvery(name string, interval time.Duration, fn func(ctx context.Context)) (string, error) {
	if interval <= 0 {
		return "", foundationerrors.ValidationError("schedule interval must be positive").
			WithContext("schedule", name).
			Build()
	}
	return s.add(name, gocron.DurationJob(interval), fn)
}

// ScheduleCron runs fn on a five-field cron expression.
func (s *Scheduler) ScheduleCron(name, expr string, fn func(ctx context.Context)) (string, error) {
	return s.add(name, gocron.CronJob(expr, false), fn)
}

func (s *Scheduler) add(name string, def gocron.JobDefinition, fn func(ctx context.Context)) (string, error) {
	job, err := s.scheduler.NewJob(def,
		gocron.NewTask(func() {
			s.logger.Debug("Running scheduled task", logfields.ScheduleName(name))
			fn(s.ctx)
		}),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return "", foundationerrors.WrapError(err, foundationerrors.CategoryValidation, "invalid schedule").
			WithContext("schedule", name).
			Build()
	}
	return job.ID().String(), nil
}

// ScheduleCacheSweep periodically drops expired cache entries.
func (s *Scheduler) ScheduleCacheSweep(interval time.Duration, sw Sweeper) (string, error) {
	return s.ScheduleEvery("cache-sweep", interval, func(context.Context) {
		if n := sw.SweepAll(); n > 0 {
			s.logger.Info("Swept expired cache entries", logfields.Count(n))
		}
	})
}

// ScheduleEventPrune periodically trims the event log to retention.
func (s *Scheduler) ScheduleEventPrune(interval, retention time.Duration, p Pruner) (string, error) {
	if retention <= 0 {
		return "", foundationerrors.ValidationError("event retention must be positive").Build()
	}
	return s.ScheduleEvery("event-prune", interval, func(ctx context.Context) {
		if _, err := p.Prune(ctx, retention); err != nil {
			s.logger.Warn("Event prune failed", logfields.Error(err))
		}
	})
}

// ScheduleRegeneration periodically requests a generation for one tenant.
// A tenant that is still busy is skipped until the next run.
func (s *Scheduler) ScheduleRegeneration(tenantID string, interval time.Duration, gen Generator) (string, error) {
	name := "regenerate-" + tenantID
	return s.ScheduleEvery(name, interval, func(ctx context.Context) {
		log := s.logger.With(logfields.ScheduleName(name), logfields.TenantID(tenantID))
		job, err := gen.GenerateStore(ctx, generator.Request{TenantID: tenantID})
		switch {
		case foundationerrors.HasCategory(err, foundationerrors.CategoryQuota):
			log.Info("Scheduled regeneration skipped, tenant busy")
		case err != nil:
			log.Warn("Scheduled regeneration rejected", logfields.Error(err))
		default:
			log.Info("Scheduled regeneration queued", logfields.JobID(job.ID), logfields.JobStatus(string(job.Status)))
		}
	})
}

// FromConfig registers the tasks of the schedule section.
func (s *Scheduler) FromConfig(c config.ScheduleConfig, sw Sweeper, gen Generator) error {
	if c.CacheSweep != "" && sw != nil {
		if _, err := s.ScheduleCacheSweep(config.ParseDuration(c.CacheSweep, 0), sw); err != nil {
			return err
		}
	}
	if len(c.Regenerate) > 0 && gen == nil {
		return foundationerrors.ConfigError("scheduled regeneration needs a generator").Build()
	}
	for _, e := range c.Regenerate {
		if _, err := s.ScheduleRegeneration(e.TenantID, config.ParseDuration(e.Interval, 0), gen); err != nil {
			return err
		}
	}
	return nil
}
