// Package messaging forwards workflow events to a watermill publisher so
// other services can consume them.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"

	"github.com/garyjia/payment-approval/internal/application/dispatcher"
	"github.com/garyjia/payment-approval/internal/domain/event"
)

// Metadata keys set on every published message
const (
	EventTypeMetadataKey = "event_type"
	DedupKeyMetadataKey  = "dedup_key"
	InstanceMetadataKey  = "instance_id"
)

// DefaultTopic is used when no topic is configured
const DefaultTopic = "payment-approval.workflow"

// BridgeHandlerName is the dispatcher subscription name of the bridge
const BridgeHandlerName = "watermill-bridge"

// NewGoChannel creates an in-process pub/sub usable as both publisher and subscriber
func NewGoChannel(logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            1000,
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		},
		logger,
	)
}

// Bridge publishes dispatched events as watermill messages
type Bridge struct {
	publisher message.Publisher
	topic     string
	logger    *zap.Logger
}

// NewBridge creates a bridge publishing to topic
func NewBridge(publisher message.Publisher, topic string, logger *zap.Logger) *Bridge {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Bridge{
		publisher: publisher,
		topic:     topic,
		logger:    logger,
	}
}

// Register subscribes the bridge to every event type on d
func (b *Bridge) Register(d dispatcher.Dispatcher) {
	d.SubscribeNamed(dispatcher.AnyType, BridgeHandlerName, b.Handle)
}

// Handle publishes one event. The message UUID is the event ID, which is
// stable across outbox redeliveries.
func (b *Bridge) Handle(ctx context.Context, evt *event.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	msg := message.NewMessage(evt.ID, payload)
	msg.Metadata.Set(EventTypeMetadataKey, evt.Type.String())
	msg.Metadata.Set(DedupKeyMetadataKey, evt.DedupKey)
	msg.Metadata.Set(InstanceMetadataKey, evt.InstanceID)
	msg.SetContext(ctx)

	if err := b.publisher.Publish(b.topic, msg); err != nil {
		b.logger.Error("Failed to publish event",
			zap.String("event_id", evt.ID),
			zap.String("event_type", evt.Type.String()),
			zap.String("topic", b.topic),
			zap.Error(err))
		return fmt.Errorf("failed to publish event to %s: %w", b.topic, err)
	}

	b.logger.Debug("Event published",
		zap.String("event_id", evt.ID),
		zap.String("event_type", evt.Type.String()),
		zap.String("topic", b.topic))
	return nil
}

// Close closes the underlying publisher
func (b *Bridge) Close() error {
	return b.publisher.Close()
}
