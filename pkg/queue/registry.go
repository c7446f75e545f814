package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrHandlerNotFound is returned when no handler is registered for a job name.
var ErrHandlerNotFound = errors.New("handler not found")

// Registry maps job names (Laravel display names) to handlers
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler for a given job name (usually the Laravel class name)
func (r *Registry) Register(name string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = handler
}

// GetHandler retrieves a handler by name
func (r *Registry) GetHandler(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if handler, ok := r.handlers[name]; ok {
		return handler, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, name)
}

// Processor returns a single Handler that routes each job to the handler
// registered under its display name.
func (r *Registry) Processor() Handler {
	return func(ctx context.Context, job *Job) error {
		if job.Payload == nil {
			return fmt.Errorf("%w: job has no payload", ErrHandlerNotFound)
		}
		handler, err := r.GetHandler(job.Payload.DisplayName)
		if err != nil {
			return err
		}
		return handler(ctx, job)
	}
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry used by the CLI
func Default() *Registry {
	return defaultRegistry
}

// Register adds a handler to the default registry
func Register(name string, handler Handler) {
	defaultRegistry.Register(name, handler)
}

// GetHandler retrieves a handler from the default registry
func GetHandler(name string) (Handler, error) {
	return defaultRegistry.GetHandler(name)
}
