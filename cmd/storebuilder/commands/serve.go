package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"git.home.luguber.info/inful/storebuilder/internal/config"
	"git.home.luguber.info/inful/storebuilder/internal/metrics"
	"git.home.luguber.info/inful/storebuilder/internal/scheduler"
	"git.home.luguber.info/inful/storebuilder/internal/server"
	"git.home.luguber.info/inful/storebuilder/internal/watcher"
)

// ServeCmd implements the 'serve' command.
type ServeCmd struct {
	Addr    string `help:"Override the listen address from the config"`
	NoWatch bool   `name:"no-watch" help:"Do not watch template and tenant directories"`
}

func (s *ServeCmd) Run(g *Global, root *CLI) error {
	cfg, err := loadConfig(root.Config)
	if err != nil {
		return err
	}
	if s.Addr != "" {
		cfg.Server.Addr = s.Addr
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return RunServe(ctx, cfg, g.logger(), !s.NoWatch)
}

// RunServe runs the API, scheduler and watcher until ctx is done, then
// shuts everything down within the configured shutdown timeout.
func RunServe(ctx context.Context, cfg *config.Config, logger *slog.Logger, watch bool) error {
	logger.Info("Starting storebuilder", slog.String("addr", cfg.Server.Addr), slog.Int("targets", len(cfg.Deploy.Targets)))

	app, err := BuildApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to wire service: %w", err)
	}
	shutdownTimeout := config.ParseDuration(cfg.Server.ShutdownTimeout, 30*time.Second)
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stopCancel()
		if err := app.Close(stopCtx); err != nil {
			logger.Error("Failed to stop cleanly", slog.String("error", err.Error()))
		}
	}()

	if err := app.Start(ctx); err != nil {
		return err
	}

	opts := append(server.OptionsFromConfig(cfg.Server),
		server.WithLogger(logger),
		server.WithRecorder(app.Recorder),
		server.WithObjectStore(app.Objects),
		server.WithBreakers(app.Breakers),
		server.WithJobStats(app.Jobs),
		server.WithEventLog(app.Events))
	if app.Metrics != nil {
		opts = append(opts, server.WithMetricsHandler(cfg.Metrics.Path, metrics.HTTPHandler(app.Metrics)))
	}
	srv := server.NewServer(cfg.Server.Addr, app.Generator, opts...)
	if err := srv.Start(ctx); err != nil {
		return err
	}

	sched, err := scheduler.New(ctx, logger)
	if err != nil {
		return err
	}
	if err := sched.FromConfig(cfg.Schedule, app.Caches, app.Generator); err != nil {
		return err
	}
	if _, err := sched.ScheduleEventPrune(
		config.ParseDuration(cfg.Schedule.EventPrune, time.Hour),
		config.ParseDuration(cfg.Events.Retention, 30*24*time.Hour),
		app.Events); err != nil {
		return err
	}
	sched.Start()
	defer func() {
		if err := sched.Stop(); err != nil {
			logger.Warn("Scheduler stop failed", slog.String("error", err.Error()))
		}
	}()

	if watch && (cfg.Render.TemplatesDir != "" || cfg.Tenants.Dir != "") {
		w, err := watcher.New(cfg.Render.TemplatesDir, cfg.Tenants.Dir, app.Generator, watcher.WithLogger(logger))
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			_ = w.Close()
			return err
		}
		defer func() { _ = w.Close() }()
	}

	logger.Info("Storebuilder started, waiting for shutdown signal...")
	<-ctx.Done()
	logger.Info("Shutdown signal received, stopping...")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopCancel()
	if err := srv.Shutdown(stopCtx); err != nil {
		return fmt.Errorf("failed to stop API server: %w", err)
	}
	logger.Info("API server stopped")
	return nil
}
