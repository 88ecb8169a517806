package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// EventProducer publishes a raw payload and returns the broker message id.
type EventProducer interface {
	Publish(ctx context.Context, id string, payload []byte) (string, error)
}

// RelayProvider hands notifications to an external notifier service over a
// message topic instead of calling a push provider directly. It cannot see
// token validity, so it never reports permanent failures.
type RelayProvider struct {
	producer EventProducer
	logger   *slog.Logger
}

type relayRequest struct {
	Token   string            `json:"token"`
	Title   string            `json:"title"`
	Body    string            `json:"body"`
	Sound   string            `json:"sound"`
	Channel string            `json:"channel"`
	Data    map[string]string `json:"data,omitempty"`
}

func NewRelayProvider(producer EventProducer, logger *slog.Logger) (*RelayProvider, error) {
	if producer == nil {
		return nil, fmt.Errorf("producer cannot be nil")
	}
	return &RelayProvider{
		producer: producer,
		logger:   logger.With("component", "PushRelay"),
	}, nil
}

// Send publishes the notification request.
func (r *RelayProvider) Send(ctx context.Context, n Notification) error {
	request := relayRequest{
		Token:   n.Token,
		Title:   n.Title,
		Body:    n.Body,
		Sound:   defaultSound,
		Channel: androidChannelID,
		Data:    n.Data,
	}

	payloadBytes, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal relay request: %w", err)
	}

	id := uuid.NewString()
	r.logger.Debug("Publishing push relay request", "msg_id", id)

	if _, err := r.producer.Publish(ctx, id, payloadBytes); err != nil {
		return fmt.Errorf("failed to publish relay request: %w", err)
	}
	return nil
}
