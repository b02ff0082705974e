package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/kestrel/internal/advisor"
	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/detector"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/feedback"
	"github.com/opensource-finance/kestrel/internal/fusion"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/telemetry"
	"github.com/opensource-finance/kestrel/internal/worker"
)

var serveFlags struct {
	noWorker bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve fraud decisions and feedback over HTTP",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveFlags.noWorker, "no-worker", false, "do not run the retrain worker in this process")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(os.Stdout)
	if err != nil {
		return err
	}

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"policy", cfg.Fusion.Policy,
		"repository", cfg.Repository.Driver,
		"feedback", cfg.Feedback.Driver,
		"lock", cfg.Lock.Type,
		"eventbus", cfg.EventBus.Type,
	)

	policy, err := fusion.ParsePolicy(cfg.Fusion.Policy)
	if err != nil {
		return err
	}

	// Create context with cancellation
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("failed to flush traces", "error", err)
		}
	}()

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	go metrics.StartDBStatsCollector(ctx, a.repo.DB(), 15*time.Second)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	adv, err := advisor.New(cfg.Advisor)
	if err != nil {
		return fmt.Errorf("initialize advisor: %w", err)
	}
	slog.Info("advisor initialized", "remote", cfg.Advisor.URL != "")

	det := detector.New(policy, adv)
	if id, err := det.Reload(ctx, a.generations); err != nil {
		if !errors.Is(err, domain.ErrNoPromotedGeneration) {
			return fmt.Errorf("load promoted generation: %w", err)
		}
		slog.Warn("no promoted generation - run 'kestrel train' then POST /generations/reload")
	} else {
		slog.Info("generation loaded", "generation_id", id, "policy", policy.String())
	}

	// Retrain worker
	var retrainWorker *worker.Worker
	if !serveFlags.noWorker {
		retrainWorker = worker.NewWorker(busImpl, a.pipeline())
		if err := retrainWorker.Start(); err != nil {
			return fmt.Errorf("start retrain worker: %w", err)
		}
		slog.Info("retrain worker started")
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Detector:    det,
		Recorder:    feedback.NewRecorder(a.feedback, busImpl),
		Generations: a.generations,
		Bus:         busImpl,
		Checks: map[string]api.Pinger{
			"repository": a.repo,
			"lock":       a.locker,
			"event_bus":  busImpl,
		},
		Version: Version,
	})

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cfg, Version)

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		slog.Error("server failed", "error", err)
		return err
	}
	slog.Info("shutting down...")

	// Stop the worker first so no retrain starts during shutdown.
	if retrainWorker != nil {
		if err := retrainWorker.Stop(); err != nil {
			slog.Error("failed to stop retrain worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  KESTREL - fraud decision fusion")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Policy:   %s\n", cfg.Fusion.Policy)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /predict                    - Decide a transaction")
	fmt.Println("    POST /feedback                   - Record a reviewed label")
	fmt.Println("    POST /mitigation_feedback        - Record a mitigation outcome")
	fmt.Println("    GET  /generations                - List artifact generations")
	fmt.Println("    POST /generations/{id}/promote   - Promote a generation")
	fmt.Println("    POST /generations/rollback       - Re-promote the previous generation")
	fmt.Println("    POST /generations/reload         - Serve the promoted generation")
	fmt.Println("    POST /retrain                    - Queue a retraining run")
	fmt.Println("    GET  /health                     - Health check")
	fmt.Println("    GET  /metrics                    - Prometheus metrics")
	fmt.Println()
}
