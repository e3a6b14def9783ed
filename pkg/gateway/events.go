package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/harun/mcpgate/internal/tracing"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// EventBus fans session events out to that session's push stream. Events
// published while no stream is subscribed are dropped.
type EventBus struct {
	pubsub *gochannel.GoChannel
	logger zerolog.Logger
	seq    uint64
}

// NewEventBus creates an in-process bus.
func NewEventBus(logger zerolog.Logger) *EventBus {
	return &EventBus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			// Keep per-session events in publish order.
			BlockPublishUntilSubscriberAck: true,
		}, watermill.NopLogger{}),
		logger: logger.With().Str("component", "event_bus").Logger(),
	}
}

func sessionTopic(sessionID string) string {
	return "session." + sessionID
}

// Publish sends an event to the session's subscriber, if any.
func (b *EventBus) Publish(ctx context.Context, sessionID, event string, data interface{}) error {
	id, err := gonanoid.New()
	if err != nil {
		return fmt.Errorf("failed to generate event id: %w", err)
	}

	payload, err := json.Marshal(EventMessage{
		ID:        id,
		Event:     event,
		SessionID: sessionID,
		Seq:       int64(atomic.AddUint64(&b.seq, 1)),
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
		TraceID:   tracing.GetTraceID(ctx),
	})
	if err != nil {
		b.logger.Error().Err(err).Str("event", event).Msg("Failed to marshal event")
		return err
	}

	if err := b.pubsub.Publish(sessionTopic(sessionID), message.NewMessage(id, payload)); err != nil {
		b.logger.Warn().Err(err).Str("event", event).Str("session_id", sessionID).Msg("Failed to publish event")
		return err
	}
	return nil
}

// Subscribe streams the session's events until ctx ends. Every delivered
// message must be acked before the next one is sent.
func (b *EventBus) Subscribe(ctx context.Context, sessionID string) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, sessionTopic(sessionID))
}

// Close stops delivery to all subscribers.
func (b *EventBus) Close() error {
	return b.pubsub.Close()
}

func decodeEvent(msg *message.Message) (EventMessage, error) {
	var ev EventMessage
	err := json.Unmarshal(msg.Payload, &ev)
	return ev, err
}

func jsonBytes(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
