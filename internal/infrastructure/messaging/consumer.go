package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"

	"github.com/garyjia/payment-approval/internal/application/dispatcher"
	"github.com/garyjia/payment-approval/internal/domain/event"
)

// Consumer decodes workflow events from a watermill subscription
type Consumer struct {
	subscriber message.Subscriber
	topic      string
	logger     *zap.Logger
}

// NewConsumer creates a consumer reading from topic
func NewConsumer(subscriber message.Subscriber, topic string, logger *zap.Logger) *Consumer {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Consumer{
		subscriber: subscriber,
		topic:      topic,
		logger:     logger,
	}
}

// Subscribe opens the subscription. Messages published before it returns
// are not seen by this consumer.
func (c *Consumer) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	messages, err := c.subscriber.Subscribe(ctx, c.topic)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", c.topic, err)
	}
	return messages, nil
}

// Run subscribes and consumes until ctx is cancelled
func (c *Consumer) Run(ctx context.Context, handler dispatcher.Handler) error {
	messages, err := c.Subscribe(ctx)
	if err != nil {
		return err
	}
	return c.Consume(ctx, messages, handler)
}

// Consume delivers messages to handler until the channel closes. A message
// is acked when handler succeeds and nacked otherwise; undecodable messages
// are acked and dropped.
func (c *Consumer) Consume(ctx context.Context, messages <-chan *message.Message, handler dispatcher.Handler) error {
	for msg := range messages {
		var evt event.Event
		if err := json.Unmarshal(msg.Payload, &evt); err != nil {
			c.logger.Warn("Dropping undecodable message",
				zap.String("message_id", msg.UUID),
				zap.Error(err))
			msg.Ack()
			continue
		}

		if err := handler(ctx, &evt); err != nil {
			c.logger.Warn("Event handler failed, message nacked",
				zap.String("message_id", msg.UUID),
				zap.String("event_type", msg.Metadata.Get(EventTypeMetadataKey)),
				zap.Error(err))
			msg.Nack()
			continue
		}
		msg.Ack()
	}

	return ctx.Err()
}
