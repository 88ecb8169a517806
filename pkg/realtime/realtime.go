package realtime

import (
	"context"
)

// EventHandler processes one ingested domain event.
type EventHandler func(ctx context.Context, event *DomainEvent)

// EventConsumer delivers ingested events to a handler until ctx is cancelled.
type EventConsumer interface {
	Run(ctx context.Context, handle EventHandler) error
}
