// Package worker runs retraining requests received from the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/training"
)

var tracer = otel.Tracer("kestrel-worker")

// ErrStopped is returned for a retrain request delivered after Stop.
var ErrStopped = errors.New("worker stopped")

// Retrainer builds a new generation.
type Retrainer interface {
	Retrain(ctx context.Context) (*training.Result, error)
}

// Worker subscribes to retrain requests and runs them one at a time.
type Worker struct {
	bus       domain.EventBus
	retrainer Retrainer

	// mu guards subscriptions and stopped. Runs register in wg under mu
	// so no Add can follow Stop's Wait.
	mu            sync.Mutex
	subscriptions []domain.Subscription
	stopped       bool
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc

	pendingFeedback atomic.Int64
	lastGeneration  atomic.Value // string
}

// NewWorker creates a new retrain worker.
func NewWorker(eventBus domain.EventBus, retrainer Retrainer) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		bus:       eventBus,
		retrainer: retrainer,
		ctx:       ctx,
		cancel:    cancel,
	}
	w.lastGeneration.Store("")
	return w
}

// Start subscribes to retrain requests and feedback events.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return ErrStopped
	}

	handlers := []struct {
		topic   string
		handler domain.MessageHandler
	}{
		{domain.TopicRetrainRequested, w.handleRetrain},
		{domain.TopicFeedbackRecorded, w.handleFeedback},
	}
	for _, h := range handlers {
		sub, err := w.bus.Subscribe(w.ctx, h.topic, h.handler)
		if err != nil {
			for _, s := range w.subscriptions {
				_ = s.Unsubscribe()
			}
			w.subscriptions = nil
			return err
		}
		w.subscriptions = append(w.subscriptions, sub)
	}

	slog.Info("retrain worker started", "topics", len(w.subscriptions))
	return nil
}

// handleFeedback counts feedback recorded since the last successful retrain.
func (w *Worker) handleFeedback(ctx context.Context, msg *domain.Message) error {
	var ev domain.FeedbackEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return err
	}
	n := w.pendingFeedback.Add(1)
	slog.Debug("feedback recorded", "kind", ev.Kind, "user", ev.User, "pending", n)
	return nil
}

// handleRetrain runs one retraining pass and publishes its outcome.
func (w *Worker) handleRetrain(ctx context.Context, msg *domain.Message) error {
	if !w.begin() {
		slog.Warn("retrain request dropped, worker stopped", "message_id", msg.ID)
		return ErrStopped
	}
	defer w.wg.Done()

	var req domain.RetrainRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse retrain request",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if req.RequestID == "" {
		req.RequestID = msg.ID
	}

	slog.Info("retrain requested",
		"request_id", req.RequestID,
		"requested_by", req.RequestedBy,
		"pending_feedback", w.pendingFeedback.Load(),
	)

	ctx, span := tracer.Start(ctx, "retrain",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String("retrain.request_id", req.RequestID)),
	)
	defer span.End()

	start := time.Now()
	pending := w.pendingFeedback.Load()
	res, err := w.retrainer.Retrain(ctx)

	result := domain.RetrainResult{
		RequestID:  req.RequestID,
		DurationMs: time.Since(start).Milliseconds(),
	}

	if err != nil {
		result.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, domain.ErrLockHeld) {
			slog.Warn("retrain skipped, another run holds the lock", "request_id", req.RequestID)
		}
		if perr := bus.PublishJSON(ctx, w.bus, domain.TopicRetrainFailed, result); perr != nil {
			slog.Error("failed to publish retrain failure", "request_id", req.RequestID, "error", perr)
		}
		return err
	}

	result.GenerationID = res.Generation.ID
	result.Rows = res.Generation.Rows
	result.Metrics = res.Generation.Metrics
	w.pendingFeedback.Add(-pending)
	w.lastGeneration.Store(res.Generation.ID)
	span.SetAttributes(attribute.String("generation.id", res.Generation.ID))

	if err := bus.PublishJSON(ctx, w.bus, domain.TopicGenerationCreated, result); err != nil {
		slog.Error("failed to publish generation created", "request_id", req.RequestID, "error", err)
	}

	slog.Info("retrain completed",
		"request_id", req.RequestID,
		"generation_id", result.GenerationID,
		"rows", result.Rows,
		"duration_ms", result.DurationMs,
	)
	return nil
}

// begin registers a retrain run unless the worker is stopping.
func (w *Worker) begin() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return false
	}
	w.wg.Add(1)
	return true
}

// Stop gracefully stops the worker and waits for a running retrain.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	w.stopped = true
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil
	w.mu.Unlock()

	w.wg.Wait()

	slog.Info("retrain worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	PendingFeedback   int64    `json:"pendingFeedback"`
	LastGeneration    string   `json:"lastGeneration,omitempty"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		PendingFeedback:   w.pendingFeedback.Load(),
		LastGeneration:    w.lastGeneration.Load().(string),
	}
}
