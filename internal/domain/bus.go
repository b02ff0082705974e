package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (single process) or NATS.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `mapstructure:"type" json:"type"`

	ChannelBufferSize int `mapstructure:"channel_buffer_size" json:"channelBufferSize"`

	NATSUrl           string `mapstructure:"nats_url" json:"natsUrl"`
	NATSToken         string `mapstructure:"nats_token" json:"-"`
	NATSMaxReconnects int    `mapstructure:"nats_max_reconnects" json:"natsMaxReconnects"`
	NATSReconnectWait int    `mapstructure:"nats_reconnect_wait" json:"natsReconnectWait"` // seconds
}

// Topics used by the retraining workflow.
const (
	TopicRetrainRequested  = "kestrel.retrain.requested"
	TopicGenerationCreated = "kestrel.generation.created"
	TopicRetrainFailed     = "kestrel.retrain.failed"
	TopicFeedbackRecorded  = "kestrel.feedback.recorded"
)

// RetrainRequest is the payload of TopicRetrainRequested.
type RetrainRequest struct {
	RequestID   string `json:"requestId"`
	RequestedBy string `json:"requestedBy,omitempty"`
}

// RetrainResult is the payload of TopicGenerationCreated and TopicRetrainFailed.
type RetrainResult struct {
	RequestID    string  `json:"requestId"`
	GenerationID string  `json:"generationId,omitempty"`
	Rows         int     `json:"rows,omitempty"`
	Metrics      Metrics `json:"metrics"`
	Error        string  `json:"error,omitempty"`
	DurationMs   int64   `json:"durationMs"`
}

// FeedbackEvent is the payload of TopicFeedbackRecorded.
type FeedbackEvent struct {
	Kind string `json:"kind"` // "label" or "mitigation"
	User int    `json:"user"`
}
