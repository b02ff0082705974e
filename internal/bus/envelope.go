package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// MetadataSource names the process that published a message.
const MetadataSource = "source"

// envelope wraps payload for topic and injects the caller's trace context
// into the metadata, so a retrain run joins the trace of the request that
// queued it.
func envelope(ctx context.Context, topic string, payload []byte) *domain.Message {
	md := map[string]string{MetadataSource: "kestrel"}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(md))

	return &domain.Message{
		ID:        uuid.New().String(),
		Topic:     topic,
		Payload:   payload,
		Metadata:  md,
		Timestamp: time.Now().UnixNano(),
	}
}

// deliveryContext returns ctx carrying the trace context stored in msg.
func deliveryContext(ctx context.Context, msg *domain.Message) context.Context {
	if len(msg.Metadata) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(msg.Metadata))
}

// PublishJSON marshals v and publishes it to topic.
func PublishJSON(ctx context.Context, b domain.EventBus, topic string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	return b.Publish(ctx, topic, data)
}
