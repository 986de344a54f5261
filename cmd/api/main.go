package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mcclellann/kidLedger/pkg/app"
	"github.com/mcclellann/kidLedger/pkg/config"
	"github.com/mcclellann/kidLedger/pkg/scheduler"
	"github.com/mcclellann/kidLedger/pkg/telemetry"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// KIDLEDGER_CONFIG points at a YAML file; without it defaults and env apply.
	cfg, err := config.Load(os.Getenv("KIDLEDGER_CONFIG"))
	if err != nil {
		return err
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	tel, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:  cfg.Telemetry.ServiceName,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			a.Logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	if cfg.Scheduler.Enabled {
		sched, err := scheduler.New(scheduler.Config{
			ScheduleTimes: cfg.Scheduler.Times,
			WorkerCount:   cfg.Scheduler.Workers,
			JobDelay:      cfg.Scheduler.JobDelay(),
			QueueSize:     cfg.Scheduler.QueueSize,
			RunOnStartup:  cfg.Scheduler.RunOnStartup,
			JobProvider:   a.Engine.Jobs,
			Logger:        a.Logger,
		})
		if err != nil {
			return err
		}
		sched.Start()
		defer sched.Shutdown(cfg.Server.ShutdownTimeout())
		a.Logger.Info("interest scheduler started", "next_run", sched.NextRun(time.Now()))
	}

	server := NewServer(a.Ledger, a.Schedule, a.Engine, a.Reporter, a.Logger)
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.Router(tel.MetricsHandler),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("server starting", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.Logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
