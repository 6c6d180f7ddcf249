package graceful

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rail-service/yield_bridge/pkg/logger"
)

type Shutdowner interface {
	Shutdown(timeout time.Duration) error
}

type closer struct {
	name string
	fn   func() error
}

// ShutdownManager stops the HTTP server first, then registered components in
// registration order, then closes connections in reverse order.
type ShutdownManager struct {
	server      *http.Server
	shutdowners []Shutdowner
	closers     []closer
	timeout     time.Duration
	logger      *logger.Logger
}

func NewShutdownManager(server *http.Server, timeout time.Duration, logger *logger.Logger) *ShutdownManager {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{
		server:  server,
		timeout: timeout,
		logger:  logger,
	}
}

func (sm *ShutdownManager) Register(s Shutdowner) {
	sm.shutdowners = append(sm.shutdowners, s)
}

// RegisterCloser adds a connection to close after every component has stopped
func (sm *ShutdownManager) RegisterCloser(name string, fn func() error) {
	sm.closers = append(sm.closers, closer{name: name, fn: fn})
}

func (sm *ShutdownManager) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	sm.logger.Info("Shutting down gracefully...")
	if err := sm.Shutdown(); err != nil {
		sm.logger.Warn("Shutdown finished with errors", "error", err)
		return
	}
	sm.logger.Info("Shutdown complete")
}

// Shutdown runs the stop sequence once and joins every error it saw
func (sm *ShutdownManager) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	var errs []error
	if sm.server != nil {
		if err := sm.server.Shutdown(ctx); err != nil {
			sm.logger.Error("Server forced shutdown", "error", err)
			errs = append(errs, err)
		}
	}

	for _, s := range sm.shutdowners {
		remaining := time.Until(deadline(ctx, sm.timeout))
		if err := s.Shutdown(remaining); err != nil {
			sm.logger.Warn("Component shutdown error", "error", err)
			errs = append(errs, err)
		}
	}

	for i := len(sm.closers) - 1; i >= 0; i-- {
		c := sm.closers[i]
		if err := c.fn(); err != nil {
			sm.logger.Warn("Close error", "component", c.name, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func deadline(ctx context.Context, fallback time.Duration) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now().Add(fallback)
}
