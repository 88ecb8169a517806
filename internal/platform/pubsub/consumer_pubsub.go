package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"cloud.google.com/go/pubsub/v2"

	"github.com/tinywideclouds/go-realtime-service/pkg/realtime"
)

// pubsubSubscriberClient is the subset of *pubsub.Subscriber the consumer uses.
type pubsubSubscriberClient interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

// Consumer feeds DomainEvents from a subscription to a handler.
type Consumer struct {
	sub    pubsubSubscriberClient
	logger *slog.Logger
}

// NewConsumer is the constructor for the Pub/Sub consumer.
func NewConsumer(sub pubsubSubscriberClient, logger *slog.Logger) (*Consumer, error) {
	if sub == nil {
		return nil, fmt.Errorf("subscriber cannot be nil")
	}
	return &Consumer{sub: sub, logger: logger.With("component", "PubsubConsumer")}, nil
}

// Run receives until ctx is cancelled. Every message is acked once the
// handler returns, including ones that fail to decode.
func (c *Consumer) Run(ctx context.Context, handle realtime.EventHandler) error {
	c.logger.Info("Starting ingestion consumer")
	err := c.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		defer msg.Ack()

		var event realtime.DomainEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			c.logger.Error("Dropping undecodable event", "msg_id", msg.ID, "err", err)
			return
		}
		if err := event.Validate(); err != nil {
			c.logger.Warn("Dropping invalid event", "msg_id", msg.ID, "err", err)
			return
		}
		handle(ctx, &event)
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("ingestion consumer stopped: %w", err)
	}
	c.logger.Info("Ingestion consumer stopped")
	return nil
}
