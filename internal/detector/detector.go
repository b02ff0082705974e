// Package detector serves fraud decisions from the loaded artifact
// generation. The generation is swapped atomically; in-flight decisions
// finish on the generation they started with.
package detector

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/advisor"
	"github.com/opensource-finance/kestrel/internal/artifact"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/fusion"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/profiles"
	"github.com/opensource-finance/kestrel/internal/risk"
)

var tracer = otel.Tracer("kestrel-detector")

// Suggester produces mitigation suggestions.
type Suggester interface {
	Suggest(ctx context.Context, req advisor.Request) advisor.Suggestion
}

// Source loads the generation to serve.
type Source interface {
	LoadPromoted(ctx context.Context) (*artifact.Generation, error)
}

// serving is everything one generation needs to decide. Never mutated.
type serving struct {
	generationID string
	pre          *features.Preprocessor
	engine       *fusion.Engine
	classifier   domain.Classifier
	profiles     *profiles.Store
}

// Detector decides transactions against the current generation.
type Detector struct {
	policy  fusion.Policy
	advisor Suggester
	current atomic.Pointer[serving]
}

// New creates a detector with no generation loaded. Decide fails with
// domain.ErrNotServing until Swap or Reload succeeds.
func New(policy fusion.Policy, adv Suggester) *Detector {
	return &Detector{policy: policy, advisor: adv}
}

// Policy returns the configured fusion policy.
func (d *Detector) Policy() fusion.Policy {
	return d.policy
}

// Swap makes g the serving generation and returns the previous ID.
func (d *Detector) Swap(g *artifact.Generation) (string, error) {
	if g == nil || g.Classifier == nil || g.Cities == nil || g.Profiles == nil {
		return "", domain.ErrIncompleteGeneration
	}
	if err := g.Scaler.Validate(); err != nil {
		return "", fmt.Errorf("generation %s: %w", g.ID, err)
	}

	next := &serving{
		generationID: g.ID,
		pre:          features.NewPreprocessor(g.Cities, g.Scaler),
		engine:       fusion.NewEngine(d.policy, g.Profiles, g.Cities),
		classifier:   g.Classifier,
		profiles:     g.Profiles,
	}

	prev := d.current.Swap(next)
	metrics.SetServingGeneration(g.ID)

	prevID := ""
	if prev != nil {
		prevID = prev.generationID
	}
	slog.Info("serving generation swapped",
		"generation_id", g.ID,
		"previous", prevID,
		"policy", d.policy.String(),
		"cities", g.Cities.Len(),
		"users", g.Profiles.Len(),
	)
	return prevID, nil
}

// Reload loads the promoted generation from src and swaps it in. On
// failure the current generation keeps serving.
func (d *Detector) Reload(ctx context.Context, src Source) (string, error) {
	g, err := src.LoadPromoted(ctx)
	if err != nil {
		return "", err
	}
	if _, err := d.Swap(g); err != nil {
		return "", err
	}
	return g.ID, nil
}

// GenerationID returns the serving generation, or "" if none is loaded.
func (d *Detector) GenerationID() string {
	if s := d.current.Load(); s != nil {
		return s.generationID
	}
	return ""
}

// Ready reports whether a generation is loaded.
func (d *Detector) Ready() bool {
	return d.current.Load() != nil
}

// Assess scores a transaction without asking the advisor.
func (d *Detector) Assess(ctx context.Context, tx domain.Transaction) (*domain.Decision, error) {
	s := d.current.Load()
	if s == nil {
		return nil, domain.ErrNotServing
	}
	return d.assess(ctx, s, tx)
}

// Decide scores a transaction and attaches a mitigation suggestion.
func (d *Detector) Decide(ctx context.Context, tx domain.Transaction) (*domain.Decision, error) {
	s := d.current.Load()
	if s == nil {
		return nil, domain.ErrNotServing
	}

	ctx, span := tracer.Start(ctx, "detector.decide",
		trace.WithAttributes(attribute.String("generation.id", s.generationID)),
	)
	defer span.End()

	dec, err := d.assess(ctx, s, tx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	sug := d.advisor.Suggest(ctx, advisor.Request{
		RiskScore: dec.RiskScore,
		Amount:    tx.Amount,
		Time:      tx.Time,
		City:      tx.City,
	})
	dec.Mitigation = sug.Text

	span.SetAttributes(
		attribute.String("decision.prediction", dec.Prediction),
		attribute.Int("decision.risk_score", dec.RiskScore),
		attribute.String("advisor.source", sug.Source),
	)
	return dec, nil
}

func (d *Detector) assess(ctx context.Context, s *serving, tx domain.Transaction) (*domain.Decision, error) {
	if err := tx.Validate(); err != nil {
		return nil, err
	}

	v, err := s.pre.Transform(tx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}

	mlPrediction := s.classifier.Predict(v)
	probability := domain.FraudProbability(s.classifier, v)
	analysis := s.engine.Analyze(tx, mlPrediction)

	profile, known := s.profiles.Stats(tx.User)
	score := risk.Score(risk.Input{
		Probability: probability,
		Amount:      tx.Amount,
		UserMean:    profile.Mean,
		HasUserMean: known,
		Time:        tx.Time,
	})

	verdict := domain.VerdictLabel(analysis.FinalPrediction)
	metrics.DecisionsTotal.WithLabelValues(analysis.Policy, verdict).Inc()
	metrics.RiskScore.Observe(float64(score))

	return &domain.Decision{
		ID:           uuid.New().String(),
		GenerationID: s.generationID,
		Prediction:   verdict,
		RiskScore:    score,
		Pattern:      analysis.PatternExplanation,
		Probability:  probability,
		Analysis:     analysis,
	}, nil
}
