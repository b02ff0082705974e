package feedback

import (
	"context"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// Feedback kinds, also used as metric labels.
const (
	KindLabel      = "label"
	KindMitigation = "mitigation"
)

// Recorder validates and appends feedback, then announces it on the bus.
// A failed publish does not fail the append.
type Recorder struct {
	store  domain.FeedbackStore
	events domain.EventBus
}

// NewRecorder creates a recorder. events may be nil.
func NewRecorder(store domain.FeedbackStore, events domain.EventBus) *Recorder {
	return &Recorder{store: store, events: events}
}

// RecordLabel appends a labeled transaction.
func (r *Recorder) RecordLabel(ctx context.Context, rec domain.FeedbackRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if err := r.store.AppendFeedback(ctx, rec); err != nil {
		return err
	}
	r.recorded(ctx, KindLabel, rec.User)
	return nil
}

// RecordMitigation appends a mitigation outcome.
func (r *Recorder) RecordMitigation(ctx context.Context, rec domain.MitigationFeedbackRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if err := r.store.AppendMitigationFeedback(ctx, rec); err != nil {
		return err
	}
	r.recorded(ctx, KindMitigation, rec.User)
	return nil
}

func (r *Recorder) recorded(ctx context.Context, kind string, user int) {
	metrics.FeedbackAppendsTotal.WithLabelValues(kind).Inc()
	if r.events == nil {
		return
	}
	event := domain.FeedbackEvent{Kind: kind, User: user}
	if err := bus.PublishJSON(ctx, r.events, domain.TopicFeedbackRecorded, event); err != nil {
		slog.Warn("failed to publish feedback event", "kind", kind, "error", err)
	}
}
