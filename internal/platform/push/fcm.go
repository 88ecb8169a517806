package push

import (
	"context"
	"fmt"
	"log/slog"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/errorutils"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

const (
	defaultSound     = "default"
	androidChannelID = "chat_messages"
)

// messagingClient is the subset of *messaging.Client the provider uses.
type messagingClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMProvider sends notifications through Firebase Cloud Messaging.
type FCMProvider struct {
	client       messagingClient
	isTokenError func(error) bool
	logger       *slog.Logger
}

// NewFCMProvider wraps an existing messaging client.
func NewFCMProvider(client messagingClient, logger *slog.Logger) (*FCMProvider, error) {
	if client == nil {
		return nil, fmt.Errorf("messaging client cannot be nil")
	}
	return &FCMProvider{
		client:       client,
		isTokenError: isFCMTokenError,
		logger:       logger.With("component", "FCMProvider"),
	}, nil
}

// NewFCMProviderFromCredentials initialises a Firebase app for projectID. An
// empty credentialsFile falls back to application default credentials.
func NewFCMProviderFromCredentials(ctx context.Context, projectID, credentialsFile string, logger *slog.Logger) (*FCMProvider, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create messaging client: %w", err)
	}
	return NewFCMProvider(client, logger)
}

// Send delivers one notification. Token-level rejections wrap ErrTokenInvalid.
func (p *FCMProvider) Send(ctx context.Context, n Notification) error {
	id, err := p.client.Send(ctx, buildFCMMessage(n))
	if err != nil {
		if p.isTokenError(err) {
			return fmt.Errorf("%w: %w", ErrTokenInvalid, err)
		}
		return fmt.Errorf("fcm send failed: %w", err)
	}
	p.logger.Debug("Push accepted by FCM", "message_id", id)
	return nil
}

func isFCMTokenError(err error) bool {
	return messaging.IsUnregistered(err) ||
		messaging.IsSenderIDMismatch(err) ||
		errorutils.IsInvalidArgument(err)
}

func buildFCMMessage(n Notification) *messaging.Message {
	badge := 1
	return &messaging.Message{
		Token: n.Token,
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Body,
		},
		Data: n.Data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound:     defaultSound,
				ChannelID: androidChannelID,
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Sound: defaultSound,
					Badge: &badge,
				},
			},
		},
	}
}
