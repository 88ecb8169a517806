// Package fakes provides in-memory test doubles for the service's external
// collaborators. They are used by the local entrypoint and by package tests.
package fakes

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/tinywideclouds/go-realtime-service/internal/platform/push"
	"github.com/tinywideclouds/go-realtime-service/pkg/realtime"
)

// --- Profile store ---

// Invalidation records one InvalidateToken call.
type Invalidation struct {
	UserID string
	Token  string
}

// ProfileStore is an in-memory realtime.ProfileStore and TokenRegistrar.
type ProfileStore struct {
	mu            sync.Mutex
	tokens        map[string][]realtime.DeviceToken
	failing       map[string]error
	invalidations []Invalidation
}

func NewProfileStore() *ProfileStore {
	return &ProfileStore{
		tokens:  make(map[string][]realtime.DeviceToken),
		failing: make(map[string]error),
	}
}

// SetTokens replaces the tokens of a user.
func (s *ProfileStore) SetTokens(userID string, tokens ...realtime.DeviceToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[userID] = slices.Clone(tokens)
}

// FailLookups makes DeviceTokens return err for userID.
func (s *ProfileStore) FailLookups(userID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[userID] = err
}

func (s *ProfileStore) DeviceTokens(_ context.Context, userID string) ([]realtime.DeviceToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.failing[userID]; ok {
		return nil, err
	}
	return slices.Clone(s.tokens[userID]), nil
}

func (s *ProfileStore) InvalidateToken(_ context.Context, userID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidations = append(s.invalidations, Invalidation{UserID: userID, Token: token})
	s.tokens[userID] = slices.DeleteFunc(s.tokens[userID], func(t realtime.DeviceToken) bool {
		return t.Token == token
	})
	return nil
}

func (s *ProfileStore) RegisterToken(_ context.Context, userID string, token realtime.DeviceToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.tokens[userID] {
		if t.Token == token.Token {
			s.tokens[userID][i] = token
			return nil
		}
	}
	s.tokens[userID] = append(s.tokens[userID], token)
	return nil
}

// Invalidations returns every InvalidateToken call in order.
func (s *ProfileStore) Invalidations() []Invalidation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.invalidations)
}

// --- Emitter ---

// Emission records one Emit call.
type Emission struct {
	ConnectionID string
	Event        string
	Payload      any
}

// Emitter records emits. Connections marked gone return ErrConnectionGone.
type Emitter struct {
	mu   sync.Mutex
	sent []Emission
	gone map[string]bool
}

func NewEmitter() *Emitter {
	return &Emitter{gone: make(map[string]bool)}
}

// MarkGone makes later emits to connectionID fail with ErrConnectionGone.
func (e *Emitter) MarkGone(connectionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gone[connectionID] = true
}

func (e *Emitter) Emit(_ context.Context, connectionID, event string, payload any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone[connectionID] {
		return realtime.ErrConnectionGone
	}
	e.sent = append(e.sent, Emission{ConnectionID: connectionID, Event: event, Payload: payload})
	return nil
}

// Sent returns every successful emit in order.
func (e *Emitter) Sent() []Emission {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.sent)
}

// ConnectionsFor returns the connections that received event, in order.
func (e *Emitter) ConnectionsFor(event string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var ids []string
	for _, s := range e.sent {
		if s.Event == event {
			ids = append(ids, s.ConnectionID)
		}
	}
	return ids
}

// --- Push provider ---

// ErrProviderUnavailable is the retryable error returned for tokens marked
// unavailable.
var ErrProviderUnavailable = errors.New("fake provider: unavailable")

// PushProvider is a scripted push.Provider.
type PushProvider struct {
	mu          sync.Mutex
	invalid     map[string]bool
	unavailable map[string]bool
	delay       time.Duration
	sent        []push.Notification
}

func NewPushProvider() *PushProvider {
	return &PushProvider{
		invalid:     make(map[string]bool),
		unavailable: make(map[string]bool),
	}
}

// RejectToken makes sends to token fail permanently.
func (p *PushProvider) RejectToken(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.invalid[token] = true
}

// FailToken makes sends to token fail with a retryable error.
func (p *PushProvider) FailToken(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unavailable[token] = true
}

// Delay makes every send take d. A send whose context ends first is not
// recorded.
func (p *PushProvider) Delay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = d
}

func (p *PushProvider) Send(ctx context.Context, n push.Notification) error {
	p.mu.Lock()
	delay := p.delay
	p.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, n)
	switch {
	case p.invalid[n.Token]:
		return push.ErrTokenInvalid
	case p.unavailable[n.Token]:
		return ErrProviderUnavailable
	}
	return nil
}

// Sent returns every notification handed to the provider.
func (p *PushProvider) Sent() []push.Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.sent)
}

// Tokens returns the token of every notification handed to the provider.
func (p *PushProvider) Tokens() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	tokens := make([]string, 0, len(p.sent))
	for _, n := range p.sent {
		tokens = append(tokens, n.Token)
	}
	return tokens
}

// --- Event sink ---

// EventSink collects submitted events on a channel.
type EventSink struct {
	events chan *realtime.DomainEvent
	err    error
}

func NewEventSink(buffer int) *EventSink {
	return &EventSink{events: make(chan *realtime.DomainEvent, buffer)}
}

// FailWith makes Submit return err.
func (s *EventSink) FailWith(err error) { s.err = err }

func (s *EventSink) Submit(ctx context.Context, event *realtime.DomainEvent) error {
	if s.err != nil {
		return s.err
	}
	select {
	case s.events <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events exposes the submitted events.
func (s *EventSink) Events() <-chan *realtime.DomainEvent { return s.events }
