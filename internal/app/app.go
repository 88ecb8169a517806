// Package app contains the shared, reusable logic for starting and stopping the service.
package app

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

const shutdownTimeout = 15 * time.Second

// Service is a long-running component with a blocking Start.
type Service interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Run executes the main application lifecycle. It starts the API service and
// the WebSocket connection manager, waits for an OS signal or a failure, and
// shuts both down gracefully, API first so no new events arrive while
// sockets are closing.
func Run(ctx context.Context, logger *slog.Logger, apiService, connManager Service) {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	RunUntilDone(ctx, logger, apiService, connManager)
}

// RunUntilDone is Run without signal handling. It returns once ctx is
// cancelled or either service fails, and both have shut down.
func RunUntilDone(ctx context.Context, logger *slog.Logger, apiService, connManager Service) {
	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := func(name string, svc Service) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("Starting service...", "service", name)
			if err := svc.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Service failed", "service", name, "err", err)
				cancel() // Trigger shutdown of the other service.
			}
		}()
	}
	start("api", apiService)
	start("websocket", connManager)

	<-ctx.Done()
	logger.Info("Context cancelled, initiating shutdown.")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	logger.Info("Shutting down API Service...")
	if err := apiService.Shutdown(shutdownCtx); err != nil {
		logger.Error("API Service shutdown failed.", "err", err)
	}

	logger.Info("Shutting down Connection Manager...")
	if err := connManager.Shutdown(shutdownCtx); err != nil {
		logger.Error("Connection Manager shutdown failed.", "err", err)
	}

	wg.Wait()
	logger.Info("All services shut down gracefully.")
}
