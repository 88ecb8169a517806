package app_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tinywideclouds/go-realtime-service/internal/app"
)

// blockingService blocks in Start until shut down, or fails immediately when
// startErr is set.
type blockingService struct {
	startErr error
	stopped  chan struct{}
	once     sync.Once

	mu    *sync.Mutex
	order *[]string
	name  string
}

func newBlockingService(name string, order *[]string, mu *sync.Mutex) *blockingService {
	return &blockingService{stopped: make(chan struct{}), mu: mu, order: order, name: name}
}

func (s *blockingService) Start(context.Context) error {
	if s.startErr != nil {
		return s.startErr
	}
	<-s.stopped
	return nil
}

func (s *blockingService) Shutdown(context.Context) error {
	s.once.Do(func() {
		s.mu.Lock()
		*s.order = append(*s.order, s.name)
		s.mu.Unlock()
		close(s.stopped)
	})
	return nil
}

func TestRunUntilDone(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("Success - cancellation shuts down API before websocket", func(t *testing.T) {
		// Arrange
		var order []string
		var mu sync.Mutex
		api := newBlockingService("api", &order, &mu)
		ws := newBlockingService("websocket", &order, &mu)
		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan struct{})
		go func() {
			app.RunUntilDone(ctx, logger, api, ws)
			close(done)
		}()

		// Act
		cancel()

		// Assert
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("RunUntilDone did not return")
		}
		assert.Equal(t, []string{"api", "websocket"}, order)
	})

	t.Run("Failure - one service failing stops the other", func(t *testing.T) {
		// Arrange
		var order []string
		var mu sync.Mutex
		api := newBlockingService("api", &order, &mu)
		ws := newBlockingService("websocket", &order, &mu)
		ws.startErr = errors.New("port in use")

		done := make(chan struct{})

		// Act
		go func() {
			app.RunUntilDone(context.Background(), logger, api, ws)
			close(done)
		}()

		// Assert
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("RunUntilDone did not return after a service failure")
		}
		assert.Contains(t, order, "api")
	})
}
