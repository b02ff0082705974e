package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/kestrel/internal/artifact"
	"github.com/opensource-finance/kestrel/internal/corpus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/profiles"
)

var tracer = otel.Tracer("kestrel-training")

// Options wires a Pipeline.
type Options struct {
	Config         domain.TrainingConfig
	HistoricalPath string
	Feedback       domain.FeedbackStore
	Generations    *artifact.Manager
	Locker         domain.Locker
	LockTTL        time.Duration
}

// Pipeline produces new generations under an exclusive lock. It never
// changes the promoted generation except on the very first Train.
type Pipeline struct {
	cfg            domain.TrainingConfig
	historicalPath string
	feedback       domain.FeedbackStore
	generations    *artifact.Manager
	locker         domain.Locker
	lockTTL        time.Duration
	now            func() time.Time
}

// Result describes a completed run.
type Result struct {
	Generation domain.GenerationInfo
	Rows       artifact.RowCounts
	Promoted   bool
	Duration   time.Duration
}

// NewPipeline creates a pipeline.
func NewPipeline(opts Options) *Pipeline {
	ttl := opts.LockTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Pipeline{
		cfg:            opts.Config,
		historicalPath: opts.HistoricalPath,
		feedback:       opts.Feedback,
		generations:    opts.Generations,
		locker:         opts.Locker,
		lockTTL:        ttl,
		now:            time.Now,
	}
}

func (p *Pipeline) params() model.Params {
	return model.Params{
		Epochs:       p.cfg.Epochs,
		LearningRate: p.cfg.LearningRate,
		BatchSize:    p.cfg.BatchSize,
		L2:           p.cfg.L2,
		Seed:         p.cfg.Seed,
	}
}

// Train builds a generation from the historical corpus alone. If nothing
// is promoted yet, the new generation is promoted.
func (p *Pipeline) Train(ctx context.Context) (*Result, error) {
	return p.run(ctx, domain.SourceTrain, p.train)
}

// Retrain merges the historical corpus with both feedback logs, resamples
// by provenance weight and builds a new, unpromoted generation.
func (p *Pipeline) Retrain(ctx context.Context) (*Result, error) {
	return p.run(ctx, domain.SourceRetrain, p.retrain)
}

type buildFunc func(ctx context.Context) (*artifact.Generation, error)

func (p *Pipeline) run(ctx context.Context, source string, build buildFunc) (res *Result, err error) {
	start := p.now()

	ctx, span := tracer.Start(ctx, "training."+source)
	defer span.End()

	release, err := p.locker.Acquire(ctx, domain.RetrainLockKey, p.lockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			metrics.RetrainRunsTotal.WithLabelValues("locked").Inc()
		}
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("acquire retrain lock: %w", err)
	}
	defer func() {
		if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
			slog.Warn("failed to release retrain lock", "error", rerr)
		}
	}()

	defer func() {
		elapsed := time.Since(start)
		metrics.RetrainDuration.Observe(elapsed.Seconds())
		if err != nil {
			metrics.RetrainRunsTotal.WithLabelValues("failure").Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("training run failed", "source", source, "error", err, "duration", elapsed)
			return
		}
		metrics.RetrainRunsTotal.WithLabelValues("success").Inc()
		res.Duration = elapsed
	}()

	gen, err := build(ctx)
	if err != nil {
		return nil, err
	}

	info, err := p.generations.Publish(ctx, gen)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("generation.id", info.ID),
		attribute.Int("generation.rows", info.Rows),
	)

	res = &Result{Generation: info, Rows: gen.Manifest.Rows}

	if source == domain.SourceTrain {
		_, perr := p.generations.Promoted(ctx)
		switch {
		case errors.Is(perr, domain.ErrNoPromotedGeneration):
			promoted, err := p.generations.Promote(ctx, info.ID)
			if err != nil {
				return nil, fmt.Errorf("promote first generation: %w", err)
			}
			res.Generation = *promoted
			res.Promoted = true
		case perr != nil:
			return nil, perr
		}
	}

	return res, nil
}

func (p *Pipeline) loadHistorical(ctx context.Context) ([]corpus.Row, int, error) {
	_, span := tracer.Start(ctx, "training.load_historical")
	defer span.End()

	rows, dropped, err := corpus.LoadHistorical(p.historicalPath)
	if err != nil {
		return nil, 0, fmt.Errorf("load historical corpus: %w", err)
	}
	span.SetAttributes(attribute.Int("rows", len(rows)), attribute.Int("dropped", dropped))
	return rows, dropped, nil
}

func (p *Pipeline) train(ctx context.Context) (*artifact.Generation, error) {
	rows, dropped, err := p.loadHistorical(ctx)
	if err != nil {
		return nil, err
	}

	counts := artifact.RowCounts{Historical: len(rows), Dropped: dropped}
	return p.build(ctx, domain.SourceTrain, rows, rows, counts)
}

func (p *Pipeline) retrain(ctx context.Context) (*artifact.Generation, error) {
	var (
		historical  []corpus.Row
		dropped     int
		labels      []domain.FeedbackRecord
		mitigations []domain.MitigationFeedbackRecord
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		historical, dropped, err = p.loadHistorical(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		if labels, err = p.feedback.ListFeedback(gctx); err != nil {
			return fmt.Errorf("load feedback log: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if mitigations, err = p.feedback.ListMitigationFeedback(gctx); err != nil {
			return fmt.Errorf("load mitigation log: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fb := corpus.FromFeedback(labels)
	mit := corpus.FromMitigation(mitigations)

	combined := make([]corpus.Row, 0, len(historical)+len(fb)+len(mit))
	combined = append(combined, historical...)
	combined = append(combined, fb...)
	combined = append(combined, mit...)

	resampled, err := Resample(combined, p.cfg.Seed)
	if err != nil {
		return nil, fmt.Errorf("resample: %w", err)
	}

	counts := artifact.RowCounts{
		Historical: len(historical),
		Feedback:   len(fb),
		Mitigation: len(mit),
		Dropped:    dropped,
		Resampled:  len(resampled),
	}
	slog.Info("retraining corpus assembled",
		"historical", counts.Historical,
		"feedback", counts.Feedback,
		"mitigation", counts.Mitigation,
		"resampled", counts.Resampled,
	)

	return p.build(ctx, domain.SourceRetrain, resampled, combined, counts)
}

// build fits on fitRows and builds profiles from rawRows.
func (p *Pipeline) build(ctx context.Context, source string, fitRows, rawRows []corpus.Row, counts artifact.RowCounts) (*artifact.Generation, error) {
	_, span := tracer.Start(ctx, "training.fit")
	defer span.End()

	if counts.Resampled == 0 {
		counts.Resampled = len(fitRows)
	}

	fitted, err := Fit(fitRows, p.params(), p.cfg.TestFraction)
	if err != nil {
		return nil, fmt.Errorf("fit: %w", err)
	}

	now := p.now().UTC()
	manifest := artifact.Manifest{
		Source:    source,
		CreatedAt: now,
		Seed:      p.cfg.Seed,
		Rows:      counts,
		Metrics:   fitted.Metrics,
	}
	if cur, err := p.generations.Promoted(ctx); err == nil {
		manifest.Parent = cur.ID
	}

	return &artifact.Generation{
		ID:         p.generations.Store().NewID(now),
		Classifier: fitted.Classifier,
		Scaler:     fitted.Scaler,
		Cities:     fitted.Cities,
		Profiles:   profiles.Build(corpus.Transactions(rawRows)),
		Manifest:   manifest,
	}, nil
}
