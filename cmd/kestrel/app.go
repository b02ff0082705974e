package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/artifact"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/feedback"
	"github.com/opensource-finance/kestrel/internal/lock"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/telemetry"
	"github.com/opensource-finance/kestrel/internal/training"
)

// loadConfig reads configuration from the root flags and installs the
// process logger writing to w.
func loadConfig(w io.Writer) (*domain.Config, error) {
	cfg, err := config.Load(config.Options{
		File:    rootFlags.config,
		Profile: rootFlags.profile,
		DotEnv:  rootFlags.dotenv,
	})
	if err != nil {
		return nil, err
	}
	slog.SetDefault(telemetry.NewLogger(cfg.Logging, w))
	return cfg, nil
}

// app holds the storage components shared by every command.
type app struct {
	cfg         *domain.Config
	repo        *repository.SQLRepository
	feedback    domain.FeedbackStore
	generations *artifact.Manager
	locker      domain.Locker

	// closeFeedback is set when the feedback store is not the repository.
	closeFeedback func() error
}

func openApp(ctx context.Context, cfg *domain.Config) (*app, error) {
	repo, err := repository.New(ctx, cfg.Repository)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	a := &app{cfg: cfg, repo: repo}

	store, err := artifact.NewStore(cfg.Artifacts.Root)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open artifact store: %w", err)
	}
	a.generations = artifact.NewManager(store, repo)

	switch cfg.Feedback.Driver {
	case "sql":
		a.feedback = repo
	default:
		fb, err := feedback.NewCSVStore(cfg.Feedback.Dir)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open feedback logs: %w", err)
		}
		a.feedback = fb
		a.closeFeedback = fb.Close
	}
	slog.Info("feedback store initialized", "driver", cfg.Feedback.Driver)

	a.locker, err = lock.New(cfg.Lock)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open lock: %w", err)
	}
	slog.Info("lock initialized", "type", cfg.Lock.Type)

	return a, nil
}

func (a *app) pipeline() *training.Pipeline {
	return training.NewPipeline(training.Options{
		Config:         a.cfg.Training,
		HistoricalPath: a.cfg.Corpus.HistoricalPath,
		Feedback:       a.feedback,
		Generations:    a.generations,
		Locker:         a.locker,
		LockTTL:        time.Duration(a.cfg.Lock.TTLSeconds) * time.Second,
	})
}

// Close releases everything openApp acquired.
func (a *app) Close() error {
	var errs []error
	if a.locker != nil {
		errs = append(errs, a.locker.Close())
	}
	if a.closeFeedback != nil {
		errs = append(errs, a.closeFeedback())
	}
	if a.repo != nil {
		errs = append(errs, a.repo.Close())
	}
	return errors.Join(errs...)
}
