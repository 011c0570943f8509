package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// ShutdownFunc releases one resource during shutdown.
type ShutdownFunc func(context.Context) error

// ShutdownManager drains the daemon on SIGINT/SIGTERM. The public
// listener stops first so no new auth flows begin mid-drain, then the
// registered cleanup funcs run in registration order. Order matters:
// callers register consumers before the stores they read from.
type ShutdownManager struct {
	logger  *Logger
	server  *http.Server
	cleanup []ShutdownFunc
	timeout time.Duration
}

// NewShutdownManager wraps the main HTTP server. A zero timeout picks
// a 30 second drain window.
func NewShutdownManager(logger *Logger, server *http.Server, timeout time.Duration) *ShutdownManager {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{logger: logger, server: server, timeout: timeout}
}

// RegisterShutdownFunc appends a cleanup step. Not safe to call once
// WaitForShutdown is running.
func (sm *ShutdownManager) RegisterShutdownFunc(fn ShutdownFunc) {
	sm.cleanup = append(sm.cleanup, fn)
}

// WaitForShutdown blocks until SIGINT or SIGTERM, then drains.
func (sm *ShutdownManager) WaitForShutdown() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	sm.logger.WithField("signal", sig.String()).Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()
	return sm.shutdown(ctx)
}

func (sm *ShutdownManager) shutdown(ctx context.Context) error {
	var errs []error

	if sm.server != nil {
		if err := sm.server.Shutdown(ctx); err != nil {
			sm.logger.WithError(err).Error("HTTP server shutdown failed")
			errs = append(errs, fmt.Errorf("http server shutdown: %w", err))
		}
	}

	for i, fn := range sm.cleanup {
		if ctx.Err() != nil {
			errs = append(errs, fmt.Errorf("drain window exhausted before step %d: %w", i, ctx.Err()))
			break
		}
		if err := fn(ctx); err != nil {
			sm.logger.WithError(err).WithField("step", i).Error("Cleanup step failed")
			errs = append(errs, fmt.Errorf("cleanup step %d: %w", i, err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	sm.logger.Info("Shutdown complete")
	return nil
}
