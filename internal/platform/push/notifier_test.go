package push_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-realtime-service/internal/platform/push"
)

// mockEventProducer mocks the EventProducer interface.
type mockEventProducer struct {
	mock.Mock
}

func (m *mockEventProducer) Publish(ctx context.Context, id string, payload []byte) (string, error) {
	args := m.Called(ctx, id, payload)
	return args.String(0), args.Error(1)
}

func TestRelayProvider_Send(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	n := push.Notification{
		Token:   "device-9",
		Content: push.Content{Title: "Bob", Body: "hello", Data: map[string]string{"chatId": "c9"}},
	}

	t.Run("Success - Publishes the relay request", func(t *testing.T) {
		// Arrange
		producer := new(mockEventProducer)
		relay, err := push.NewRelayProvider(producer, logger)
		require.NoError(t, err)

		var captured []byte
		producer.On("Publish", ctx, mock.AnythingOfType("string"), mock.Anything).
			Run(func(args mock.Arguments) { captured = args.Get(2).([]byte) }).
			Return("server-id", nil)

		// Act
		err = relay.Send(ctx, n)

		// Assert
		require.NoError(t, err)
		var got map[string]any
		require.NoError(t, json.Unmarshal(captured, &got))
		assert.Equal(t, "device-9", got["token"])
		assert.Equal(t, "Bob", got["title"])
		assert.Equal(t, "hello", got["body"])
		assert.Equal(t, "default", got["sound"])
		assert.Equal(t, "chat_messages", got["channel"])
		assert.Equal(t, map[string]any{"chatId": "c9"}, got["data"])
	})

	t.Run("Failure - Producer error is retryable", func(t *testing.T) {
		producer := new(mockEventProducer)
		relay, err := push.NewRelayProvider(producer, logger)
		require.NoError(t, err)
		testErr := errors.New("pubsub connection failed")
		producer.On("Publish", ctx, mock.Anything, mock.Anything).Return("", testErr)

		err = relay.Send(ctx, n)

		require.Error(t, err)
		assert.ErrorIs(t, err, testErr)
		assert.Equal(t, push.RetryableFailure, push.Classify(err))
	})

	t.Run("Failure - Nil producer", func(t *testing.T) {
		_, err := push.NewRelayProvider(nil, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "producer cannot be nil")
	})
}
