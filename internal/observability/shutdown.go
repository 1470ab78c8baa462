package observability

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gezibash/arc-conduit/pkg/logging"
)

// ShutdownCoordinator runs registered teardown steps in LIFO order, so the
// engine outlives the clients and servers started after it.
type ShutdownCoordinator struct {
	Logger *logging.Logger

	mu       sync.Mutex
	handlers []namedHandler
	done     bool
}

type namedHandler struct {
	name string
	fn   func(context.Context) error
}

// Register adds a shutdown handler. Handlers run in LIFO order.
func (s *ShutdownCoordinator) Register(name string, fn func(context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, namedHandler{name: name, fn: fn})
}

// Shutdown runs all registered handlers in reverse order, once. Every handler
// runs even if an earlier one fails.
func (s *ShutdownCoordinator) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return nil
	}
	s.done = true
	handlers := s.handlers
	s.handlers = nil
	s.mu.Unlock()

	log := s.Logger
	if log == nil {
		log = logging.New(nil)
	}

	var errs []error
	for i := len(handlers) - 1; i >= 0; i-- {
		h := handlers[i]
		log.Debug("shutting down", "component", h.name)
		if err := h.fn(ctx); err != nil {
			log.Error("shutdown error", "component", h.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
		}
	}
	return errors.Join(errs...)
}
