// Package dispatch turns one domain event into live emits and push
// notifications.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/tinywideclouds/go-realtime-service/internal/platform/push"
	"github.com/tinywideclouds/go-realtime-service/internal/registry"
	"github.com/tinywideclouds/go-realtime-service/pkg/realtime"
)

// TopicRouter resolves the topics and client event name of an event.
type TopicRouter interface {
	TopicsFor(event *realtime.DomainEvent) []realtime.Topic
	EventName(kind realtime.EventKind) (string, bool)
}

// Registry is the read side of the connection registry.
type Registry interface {
	Snapshot(topic realtime.Topic) []registry.Member
}

// PushSender sends one notification to many device tokens.
type PushSender interface {
	SendBatch(ctx context.Context, recipients []push.Recipient, content push.Content) []push.Result
}

// Dependencies are the collaborators of a Dispatcher.
type Dependencies struct {
	Router   TopicRouter
	Registry Registry
	Emitter  realtime.Emitter
	Push     PushSender
	Profiles realtime.ProfileStore
}

// Config tunes the push policy.
type Config struct {
	// SuppressLiveTaskUpdates skips push for task updates to users that have
	// the task open on a live connection.
	SuppressLiveTaskUpdates bool
	// Placeholders replaces attachment content in push bodies. Nil uses
	// push.DefaultPlaceholders.
	Placeholders push.Placeholders
}

// Report summarises what one Dispatch call did.
type Report struct {
	Dropped bool
	Topics  int

	Emitted        int
	EmitsSkipped   int // connection already gone
	EmitFailures   int
	PushRecipients int
	LookupFailures int

	Delivered   int
	Retryable   int
	Permanent   int
	Invalidated int

	Panicked bool
}

// Dispatcher orchestrates routing, live emit, push and token invalidation.
// It never retries and never returns an error to the submitter.
type Dispatcher struct {
	router       TopicRouter
	registry     Registry
	emitter      realtime.Emitter
	push         PushSender
	profiles     realtime.ProfileStore
	suppressLive bool
	placeholders push.Placeholders
	logger       *slog.Logger
}

// New creates a Dispatcher.
func New(deps Dependencies, cfg Config, logger *slog.Logger) (*Dispatcher, error) {
	switch {
	case deps.Router == nil:
		return nil, fmt.Errorf("router cannot be nil")
	case deps.Registry == nil:
		return nil, fmt.Errorf("registry cannot be nil")
	case deps.Emitter == nil:
		return nil, fmt.Errorf("emitter cannot be nil")
	case deps.Push == nil:
		return nil, fmt.Errorf("push sender cannot be nil")
	case deps.Profiles == nil:
		return nil, fmt.Errorf("profile store cannot be nil")
	}
	placeholders := cfg.Placeholders
	if placeholders == nil {
		placeholders = push.DefaultPlaceholders()
	}
	return &Dispatcher{
		router:       deps.Router,
		registry:     deps.Registry,
		emitter:      deps.Emitter,
		push:         deps.Push,
		profiles:     deps.Profiles,
		suppressLive: cfg.SuppressLiveTaskUpdates,
		placeholders: placeholders,
		logger:       logger.With("component", "Dispatcher"),
	}, nil
}

// Submit validates and dispatches an event. Only an invalid event is
// reported back to the caller.
func (d *Dispatcher) Submit(ctx context.Context, event *realtime.DomainEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	d.Dispatch(ctx, event)
	return nil
}

// Dispatch delivers one event to live connections and push recipients.
func (d *Dispatcher) Dispatch(ctx context.Context, event *realtime.DomainEvent) (report Report) {
	if event == nil {
		report.Dropped = true
		return report
	}
	log := d.logger.With("event_id", event.ID, "kind", event.Kind)
	defer func() {
		if p := recover(); p != nil {
			log.Error("Dispatch panicked", "panic", p)
			report.Panicked = true
		}
	}()

	topics := d.router.TopicsFor(event)
	if len(topics) == 0 {
		log.Warn("Event has no routable topic, dropping")
		report.Dropped = true
		return report
	}
	report.Topics = len(topics)

	liveOwners := d.emitLive(ctx, event, topics, &report, log)

	recipients := d.pushRecipients(event, liveOwners)
	if len(recipients) == 0 {
		log.Debug("Dispatch complete", "emitted", report.Emitted)
		return report
	}
	d.sendPush(ctx, event, recipients, &report, log)

	log.Info("Dispatch complete",
		"emitted", report.Emitted,
		"push_recipients", report.PushRecipients,
		"delivered", report.Delivered,
		"retryable", report.Retryable,
		"invalidated", report.Invalidated,
	)
	return report
}

// emitLive sends the event to every member of every topic and returns the
// owners of the members it saw.
func (d *Dispatcher) emitLive(ctx context.Context, event *realtime.DomainEvent, topics []realtime.Topic, report *Report, log *slog.Logger) map[string]struct{} {
	name, ok := d.router.EventName(event.Kind)
	if !ok {
		name = string(event.Kind)
	}
	payload := livePayload(event)

	owners := make(map[string]struct{})
	seen := make(map[string]struct{})
	for _, topic := range topics {
		for _, m := range d.registry.Snapshot(topic) {
			if m.UserID != "" {
				owners[m.UserID] = struct{}{}
			}
			if m.ConnectionID == event.OriginConnectionID {
				continue
			}
			if _, dup := seen[m.ConnectionID]; dup {
				continue
			}
			seen[m.ConnectionID] = struct{}{}

			err := d.emitter.Emit(ctx, m.ConnectionID, name, payload)
			switch {
			case err == nil:
				report.Emitted++
			case isGone(err):
				report.EmitsSkipped++
			default:
				report.EmitFailures++
				log.Warn("Live emit failed", "connection_id", m.ConnectionID, "topic", topic, "err", err)
			}
		}
	}
	return owners
}

func (d *Dispatcher) sendPush(ctx context.Context, event *realtime.DomainEvent, users []string, report *Report, log *slog.Logger) {
	var batch []push.Recipient
	for _, userID := range users {
		tokens, err := d.profiles.DeviceTokens(ctx, userID)
		if err != nil {
			report.LookupFailures++
			log.Warn("Device token lookup failed, skipping recipient", "user", userID, "err", err)
			continue
		}
		for _, t := range tokens {
			if t.Token == "" {
				continue
			}
			batch = append(batch, push.Recipient{UserID: userID, Token: t.Token})
		}
	}
	report.PushRecipients = len(batch)
	if len(batch) == 0 {
		return
	}

	results := d.push.SendBatch(ctx, batch, d.content(event))

	invalidated := make(map[push.Recipient]struct{})
	for _, r := range results {
		switch r.Outcome {
		case push.Delivered:
			report.Delivered++
		case push.RetryableFailure:
			report.Retryable++
		case push.PermanentFailure:
			report.Permanent++
			key := push.Recipient{UserID: r.UserID, Token: r.Token}
			if _, done := invalidated[key]; done {
				continue
			}
			invalidated[key] = struct{}{}
			if err := d.profiles.InvalidateToken(ctx, r.UserID, r.Token); err != nil {
				log.Error("Failed to invalidate device token", "user", r.UserID, "err", err)
				continue
			}
			report.Invalidated++
		}
	}
}

// pushRecipients applies the per-kind push policy. The actor is never
// included and the order is stable.
func (d *Dispatcher) pushRecipients(event *realtime.DomainEvent, liveOwners map[string]struct{}) []string {
	var candidates []string
	switch event.Kind {
	case realtime.KindMessageCreated,
		realtime.KindTaskNotification,
		realtime.KindMessageNotification,
		realtime.KindGeneralNotification:
		candidates = append([]string{event.ReceiverID}, event.Recipients...)

	case realtime.KindCommentAdded:
		candidates = append(candidates, event.Recipients...)
		owners := make([]string, 0, len(liveOwners))
		for id := range liveOwners {
			owners = append(owners, id)
		}
		slices.Sort(owners)
		candidates = append(candidates, owners...)

	case realtime.KindTaskUpdated:
		for _, id := range event.Recipients {
			if _, live := liveOwners[id]; live && d.suppressLive {
				continue
			}
			candidates = append(candidates, id)
		}

	default:
		return nil
	}

	seen := make(map[string]struct{}, len(candidates))
	out := candidates[:0:0]
	for _, id := range candidates {
		if id == "" || id == event.ActorID {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
