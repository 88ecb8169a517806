package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/tinywideclouds/go-realtime-service/pkg/realtime"
)

// BackgroundSink accepts events on the caller's goroutine and dispatches
// them on their own. The dispatch context is detached from the caller, so a
// cancelled request does not abort delivery that is already under way.
type BackgroundSink struct {
	dispatcher *Dispatcher
	wg         sync.WaitGroup
}

// NewBackgroundSink wraps d so that Submit returns as soon as the event is
// accepted.
func NewBackgroundSink(d *Dispatcher) *BackgroundSink {
	return &BackgroundSink{dispatcher: d}
}

// Submit validates the event and schedules its dispatch.
func (s *BackgroundSink) Submit(ctx context.Context, event *realtime.DomainEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}

	detached := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.dispatcher.Dispatch(detached, event)
	}()
	return nil
}

// Wait blocks until every scheduled dispatch has finished or ctx is done.
func (s *BackgroundSink) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
