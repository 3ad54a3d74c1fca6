package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"git.home.luguber.info/inful/storebuilder/internal/config"
	foundationerrors "git.home.luguber.info/inful/storebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/storebuilder/internal/generator"
	"git.home.luguber.info/inful/storebuilder/internal/jobs"
	"git.home.luguber.info/inful/storebuilder/internal/logfields"
	"git.home.luguber.info/inful/storebuilder/internal/server/responses"
	"git.home.luguber.info/inful/storebuilder/internal/tenant"
)

// GenerateCmd implements the 'generate' command.
type GenerateCmd struct {
	Tenant          string   `arg:"" help:"Tenant to generate"`
	Template        string   `help:"Override the tenant's template id"`
	TemplateVersion string   `name:"template-version" help:"Override the template version"`
	Locale          string   `help:"Override the storefront locale"`
	Currency        string   `help:"Override the storefront currency"`
	Targets         []string `short:"t" help:"Deploy only to these targets"`
	Wait            string   `help:"Give up waiting after this long (0 waits for the job timeout)" default:"0"`
}

func (c *GenerateCmd) Run(g *Global, root *CLI) error {
	cfg, err := loadConfig(root.Config)
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if d := config.ParseDuration(c.Wait, 0); d > 0 {
		var waitCancel context.CancelFunc
		ctx, waitCancel = context.WithTimeout(ctx, d)
		defer waitCancel()
	}
	req := generator.Request{
		TenantID: c.Tenant,
		Overrides: tenant.Overrides{
			TemplateID:      c.Template,
			TemplateVersion: c.TemplateVersion,
			Locale:          c.Locale,
			Currency:        c.Currency,
			Targets:         c.Targets,
		},
	}
	return RunGenerate(ctx, cfg, g.logger(), req, os.Stdout)
}

// RunGenerate runs one generation job to its terminal state and writes the
// final status document to out. Anything other than Completed is an error.
func RunGenerate(ctx context.Context, cfg *config.Config, logger *slog.Logger, req generator.Request, out io.Writer) error {
	app, err := BuildApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to wire service: %w", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), config.ParseDuration(cfg.Server.ShutdownTimeout, 30*time.Second))
		defer stopCancel()
		if err := app.Close(stopCtx); err != nil {
			logger.Warn("Failed to stop cleanly", logfields.Error(err))
		}
	}()
	if err := app.Start(ctx); err != nil {
		return err
	}

	job, err := app.Generator.GenerateStore(ctx, req)
	if err != nil {
		return err
	}
	logger.Info("Generation admitted", logfields.JobID(job.ID), logfields.TenantID(job.TenantID))

	final, err := waitTerminal(ctx, app.Generator, job)
	if err != nil {
		if ctx.Err() != nil {
			_ = app.Generator.Cancel(context.WithoutCancel(ctx), job.ID)
		}
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(responses.FromJob(final)); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	if final.Status != jobs.StatusCompleted {
		return fmt.Errorf("generation %s ended %s (%s)", final.ID, final.Status, final.ErrorKind)
	}
	return nil
}

// waitTerminal follows a job until it reaches a terminal status.
func waitTerminal(ctx context.Context, gen *generator.Generator, job *jobs.Job) (*jobs.Job, error) {
	if job.Status.Terminal() {
		return job, nil
	}
	updates, unsubscribe, err := gen.Subscribe(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	defer unsubscribe()
	last := job
	for {
		select {
		case <-ctx.Done():
			return nil, foundationerrors.CanceledError("stopped waiting for generation").
				WithContext("job_id", job.ID).
				WithCause(context.Cause(ctx)).
				Build()
		case j, ok := <-updates:
			if !ok {
				if last.Status.Terminal() {
					return last, nil
				}
				return gen.Status(ctx, job.ID)
			}
			last = j
			if j.Status.Terminal() {
				return j, nil
			}
		}
	}
}
