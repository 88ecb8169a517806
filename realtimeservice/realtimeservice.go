// Package realtimeservice wires the HTTP ingest API, the ingestion consumer
// and the notification dispatcher into one runnable service.
package realtimeservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tinywideclouds/go-realtime-service/internal/api"
	"github.com/tinywideclouds/go-realtime-service/internal/app"
	"github.com/tinywideclouds/go-realtime-service/internal/dispatch"
	"github.com/tinywideclouds/go-realtime-service/internal/platform/push"
	"github.com/tinywideclouds/go-realtime-service/internal/router"
	"github.com/tinywideclouds/go-realtime-service/pkg/realtime"
	"github.com/tinywideclouds/go-realtime-service/realtimeservice/config"
)

// Wrapper owns the API server and the background ingestion loop.
type Wrapper struct {
	server     *http.Server
	dispatcher *dispatch.Dispatcher
	inProcess  *dispatch.BackgroundSink
	consumer   realtime.EventConsumer
	ready      atomic.Bool
	logger     *slog.Logger

	listening  chan struct{}
	listenOnce sync.Once
	addr       atomic.Value

	mu           sync.Mutex
	stopConsume  context.CancelFunc
	consumerDone chan struct{}
}

// New creates and wires up the service. The registry and emitter are shared
// with the WebSocket connection manager.
func New(
	cfg *config.AppConfig,
	dependencies *app.ServiceDependencies,
	registry dispatch.Registry,
	emitter realtime.Emitter,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {
	if dependencies == nil {
		return nil, fmt.Errorf("dependencies cannot be nil")
	}

	gateway, err := push.NewGateway(dependencies.PushProvider, push.Config{
		Timeout:  cfg.Push.Timeout,
		PoolSize: cfg.Push.PoolSize,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create push gateway: %w", err)
	}

	placeholders := push.DefaultPlaceholders()
	for tag, display := range cfg.Placeholders {
		placeholders = placeholders.With(tag, display)
	}

	dispatcher, err := dispatch.New(dispatch.Dependencies{
		Router:   router.New(),
		Registry: registry,
		Emitter:  emitter,
		Push:     gateway,
		Profiles: dependencies.ProfileStore,
	}, dispatch.Config{
		SuppressLiveTaskUpdates: cfg.SuppressLiveTaskUpdates,
		Placeholders:            placeholders,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}

	// Without a producer the API dispatches in-process, off the request
	// goroutine.
	var inProcess *dispatch.BackgroundSink
	var sink realtime.EventSink
	if dependencies.IngestionProducer != nil {
		sink = dependencies.IngestionProducer
	} else {
		inProcess = dispatch.NewBackgroundSink(dispatcher)
		sink = inProcess
	}
	apiHandler, err := api.NewAPI(sink, dependencies.ProfileStore, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create api: %w", err)
	}

	w := &Wrapper{
		dispatcher: dispatcher,
		inProcess:  inProcess,
		consumer:   dependencies.IngestionConsumer,
		logger:     logger,
		listening:  make(chan struct{}),
	}
	w.server = &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: api.NewRouter(apiHandler, authMiddleware, w.ready.Load, cfg.CorsOrigins),
	}
	return w, nil
}

// Dispatcher is the event sink for in-process producers such as the
// WebSocket typing frames.
func (w *Wrapper) Dispatcher() *dispatch.Dispatcher { return w.dispatcher }

// Handler exposes the API handler for tests.
func (w *Wrapper) Handler() http.Handler { return w.server.Handler }

// Addr returns the bound listener address once Start is listening, or ""
// if Start failed to listen.
func (w *Wrapper) Addr() string {
	<-w.listening
	addr, _ := w.addr.Load().(string)
	return addr
}

func (w *Wrapper) markListening(addr string) {
	w.listenOnce.Do(func() {
		w.addr.Store(addr)
		close(w.listening)
	})
}

// Start listens, marks the service ready and starts the ingestion consumer.
// It blocks until the server is shut down.
func (w *Wrapper) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", w.server.Addr)
	if err != nil {
		w.markListening("")
		return fmt.Errorf("HTTP server failed to start: %w", err)
	}
	w.markListening(ln.Addr().String())
	w.logger.Info("HTTP listener is active.", "addr", ln.Addr().String())

	if w.consumer != nil {
		consumeCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		w.mu.Lock()
		w.stopConsume, w.consumerDone = cancel, done
		w.mu.Unlock()
		go func() {
			defer close(done)
			w.runConsumer(consumeCtx)
		}()
	}

	w.ready.Store(true)
	w.logger.Info("Service is now ready.")

	if err := w.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// runConsumer restarts the consumer with exponential backoff until ctx is
// cancelled.
func (w *Wrapper) runConsumer(ctx context.Context) {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 0

	_ = backoff.RetryNotify(func() error {
		err := w.consumer.Run(ctx, w.handle)
		if err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	}, backoff.WithContext(policy, ctx), func(err error, next time.Duration) {
		w.logger.Error("Ingestion consumer failed, restarting", "err", err, "retry_in", next)
	})
}

func (w *Wrapper) handle(ctx context.Context, event *realtime.DomainEvent) {
	w.dispatcher.Dispatch(ctx, event)
}

// Shutdown stops the consumer, then the HTTP server, then waits for
// in-process dispatches that were already accepted.
func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	w.ready.Store(false)

	w.mu.Lock()
	stop, done := w.stopConsume, w.consumerDone
	w.mu.Unlock()
	if stop != nil {
		stop()
		select {
		case <-done:
		case <-ctx.Done():
			w.logger.Warn("Ingestion consumer did not stop in time")
		}
	}

	if err := w.server.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		return err
	}
	if w.inProcess != nil {
		if err := w.inProcess.Wait(ctx); err != nil {
			w.logger.Warn("In-process dispatches did not finish in time", "err", err)
			return err
		}
	}
	w.logger.Info("All components shut down.")
	return nil
}
