package realtime

import (
	"context"
	"errors"
)

// ErrConnectionGone is returned by an Emitter when the target connection has
// already disconnected. Callers treat it as a harmless no-op.
var ErrConnectionGone = errors.New("realtime: connection gone")

// Emitter delivers a named event to one live connection.
type Emitter interface {
	Emit(ctx context.Context, connectionID string, event string, payload any) error
}

// ProfileStore is the external user-profile store that owns device tokens.
type ProfileStore interface {
	// DeviceTokens returns every push token currently registered for a user.
	DeviceTokens(ctx context.Context, userID string) ([]DeviceToken, error)

	// InvalidateToken removes a token that the push provider reported as
	// permanently invalid. Removing an unknown token is not an error.
	InvalidateToken(ctx context.Context, userID, token string) error
}

// TokenRegistrar is implemented by profile stores that accept new tokens.
type TokenRegistrar interface {
	RegisterToken(ctx context.Context, userID string, token DeviceToken) error
}

// EventSink accepts domain events from the CRUD layer.
type EventSink interface {
	Submit(ctx context.Context, event *DomainEvent) error
}
