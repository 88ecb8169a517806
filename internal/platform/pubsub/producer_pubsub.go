// Package pubsub contains concrete adapters for interacting with Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"cloud.google.com/go/pubsub/v2"

	"github.com/tinywideclouds/go-realtime-service/internal/router"
	"github.com/tinywideclouds/go-realtime-service/pkg/realtime"
)

// pubsubTopicClient defines the interface for the underlying pubsub.Publisher.
// This allows us to use a mock for testing.
type pubsubTopicClient interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
}

// orderingResumer is implemented by *pubsub.Publisher. Publishing with an
// ordering key pauses that key after a failure until it is resumed.
type orderingResumer interface {
	ResumePublish(orderingKey string)
}

// Producer publishes to one Pub/Sub topic. As an event sink it serializes
// DomainEvents with the event's primary topic as ordering key, so events for
// one topic are consumed in publish order when the publisher and
// subscription have message ordering enabled.
type Producer struct {
	topic   pubsubTopicClient
	ordered bool
	logger  *slog.Logger
}

// NewProducer is the constructor for the Pub/Sub producer. Set ordered only
// when the publisher has EnableMessageOrdering set.
func NewProducer(topic pubsubTopicClient, ordered bool, logger *slog.Logger) (*Producer, error) {
	if topic == nil {
		return nil, fmt.Errorf("topic client cannot be nil")
	}
	return &Producer{
		topic:   topic,
		ordered: ordered,
		logger:  logger.With("component", "PubsubProducer"),
	}, nil
}

// Submit publishes a domain event and waits for the server ack.
func (p *Producer) Submit(ctx context.Context, event *realtime.DomainEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	payloadBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event for publishing: %w", err)
	}

	message := &pubsub.Message{
		Data:       payloadBytes,
		Attributes: map[string]string{"kind": string(event.Kind)},
	}
	if p.ordered {
		if topics := router.New().TopicsFor(event); len(topics) > 0 {
			message.OrderingKey = topics[0].String()
		}
	}

	if _, err := p.publish(ctx, message); err != nil {
		return err
	}
	p.logger.Debug("Published event", "event_id", event.ID, "kind", event.Kind)
	return nil
}

// Publish sends a raw payload and returns the server message id.
func (p *Producer) Publish(ctx context.Context, id string, payload []byte) (string, error) {
	return p.publish(ctx, &pubsub.Message{
		Data:       payload,
		Attributes: map[string]string{"id": id},
	})
}

func (p *Producer) publish(ctx context.Context, message *pubsub.Message) (string, error) {
	result := p.topic.Publish(ctx, message)
	serverID, err := result.Get(ctx)
	if err != nil {
		if r, ok := p.topic.(orderingResumer); ok && message.OrderingKey != "" {
			r.ResumePublish(message.OrderingKey)
		}
		return "", fmt.Errorf("failed to publish message: %w", err)
	}
	return serverID, nil
}
