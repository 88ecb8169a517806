package push

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockMessagingClient struct {
	mock.Mock
}

func (m *mockMessagingClient) Send(ctx context.Context, message *messaging.Message) (string, error) {
	args := m.Called(ctx, message)
	return args.String(0), args.Error(1)
}

func TestFCMProvider_Send(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	n := Notification{
		Token:   "device-1",
		Content: Content{Title: "Alice", Body: "📷 Photo", Data: map[string]string{"chatId": "c1"}},
	}

	t.Run("Success - Builds the platform specific message", func(t *testing.T) {
		// Arrange
		client := new(mockMessagingClient)
		provider, err := NewFCMProvider(client, logger)
		require.NoError(t, err)

		var sent *messaging.Message
		client.On("Send", ctx, mock.Anything).
			Run(func(args mock.Arguments) { sent = args.Get(1).(*messaging.Message) }).
			Return("projects/p/messages/1", nil)

		// Act
		err = provider.Send(ctx, n)

		// Assert
		require.NoError(t, err)
		require.NotNil(t, sent)
		assert.Equal(t, "device-1", sent.Token)
		assert.Equal(t, "Alice", sent.Notification.Title)
		assert.Equal(t, "📷 Photo", sent.Notification.Body)
		assert.Equal(t, "c1", sent.Data["chatId"])
		assert.Equal(t, "high", sent.Android.Priority)
		assert.Equal(t, "default", sent.Android.Notification.Sound)
		assert.Equal(t, "chat_messages", sent.Android.Notification.ChannelID)
		assert.Equal(t, "default", sent.APNS.Payload.Aps.Sound)
		require.NotNil(t, sent.APNS.Payload.Aps.Badge)
		assert.Equal(t, 1, *sent.APNS.Payload.Aps.Badge)
	})

	t.Run("Failure - Token errors wrap ErrTokenInvalid", func(t *testing.T) {
		client := new(mockMessagingClient)
		provider, err := NewFCMProvider(client, logger)
		require.NoError(t, err)
		provider.isTokenError = func(error) bool { return true }
		client.On("Send", ctx, mock.Anything).Return("", errors.New("registration-token-not-registered"))

		err = provider.Send(ctx, n)

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrTokenInvalid)
		assert.Equal(t, PermanentFailure, Classify(err))
	})

	t.Run("Failure - Other errors stay retryable", func(t *testing.T) {
		client := new(mockMessagingClient)
		provider, err := NewFCMProvider(client, logger)
		require.NoError(t, err)
		client.On("Send", ctx, mock.Anything).Return("", errors.New("service unavailable"))

		err = provider.Send(ctx, n)

		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrTokenInvalid)
		assert.Equal(t, RetryableFailure, Classify(err))
	})

	t.Run("Failure - Nil client", func(t *testing.T) {
		_, err := NewFCMProvider(nil, logger)
		require.Error(t, err)
	})
}
