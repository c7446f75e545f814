package processor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/pixelvide/queuehost/pkg/queue"
	"github.com/pixelvide/queuehost/pkg/worker"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
)

var (
	// ErrNotInitialized is returned when the processor is used before it has
	// been supplied. It indicates a lifecycle-ordering bug and is not retryable.
	ErrNotInitialized = errors.New(`"Processor" has not yet been initialized`)
	// ErrNoFactory is returned by Build when no worker factory was supplied
	ErrNoFactory = errors.New("worker factory is required")
	// ErrEmptyQueueName is returned by RegisterWorker for an empty queue name
	ErrEmptyQueueName = errors.New("queue name must not be empty")
	// ErrHostClosed is returned by RegisterWorker after Shutdown
	ErrHostClosed = errors.New("processor host is shut down")
)

// Host owns one processor and the workers created for it, one per queue name
type Host struct {
	processor queue.Handler
	factory   worker.Factory
	logger    zerolog.Logger

	mu      sync.Mutex
	workers map[string]worker.Handle
	closed  bool

	shutdownOnce sync.Once
	shutdownDone chan struct{}
	shutdownErr  error
}

// Builder collects the Host's dependencies. Build refuses to produce a Host
// without a processor.
type Builder struct {
	processor queue.Handler
	factory   worker.Factory
	logger    *zerolog.Logger
}

// NewBuilder starts building a Host
func NewBuilder() *Builder {
	return &Builder{}
}

// WithProcessor sets the function every worker of the Host runs.
// It must be safe for concurrent use.
func (b *Builder) WithProcessor(processor queue.Handler) *Builder {
	b.processor = processor
	return b
}

// WithFactory sets the strategy used to create workers
func (b *Builder) WithFactory(factory worker.Factory) *Builder {
	b.factory = factory
	return b
}

// WithLogger sets the Host logger. Defaults to the global zerolog logger.
func (b *Builder) WithLogger(logger zerolog.Logger) *Builder {
	b.logger = &logger
	return b
}

// Build returns the configured Host
func (b *Builder) Build() (*Host, error) {
	if b.processor == nil {
		return nil, ErrNotInitialized
	}
	if b.factory == nil {
		return nil, ErrNoFactory
	}

	logger := log.Logger
	if b.logger != nil {
		logger = *b.logger
	}

	return &Host{
		processor: b.processor,
		factory:   b.factory,
		logger:    logger.With().Str("component", "processor_host").Logger(),
		workers:      make(map[string]worker.Handle),
		shutdownDone: make(chan struct{}),
	}, nil
}

// Processor returns the bound processing function
func (h *Host) Processor() (queue.Handler, error) {
	if h == nil || h.processor == nil {
		return nil, ErrNotInitialized
	}
	return h.processor, nil
}

// RegisterWorker returns the worker for queueName, creating it on first use.
// A new worker gets every subscription attached, in order, before it starts
// consuming. For an existing worker, opts and subs are ignored.
func (h *Host) RegisterWorker(ctx context.Context, queueName string, opts worker.Options, subs ...worker.Subscription) (worker.Handle, error) {
	if queueName == "" {
		return nil, ErrEmptyQueueName
	}
	processor, err := h.Processor()
	if err != nil {
		return nil, err
	}

	// Held across create and start so concurrent first calls build one worker
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHostClosed
	}
	if existing, ok := h.workers[queueName]; ok {
		return existing, nil
	}

	handle, err := h.factory.NewWorker(ctx, queueName, processor, opts)
	if err != nil {
		return nil, fmt.Errorf("create worker for queue %s: %w", queueName, err)
	}

	for _, sub := range subs {
		handle.On(sub.Event, sub.Listener)
	}

	if err := handle.Start(ctx); err != nil {
		if closeErr := handle.Close(ctx); closeErr != nil {
			err = multierr.Append(err, closeErr)
		}
		return nil, fmt.Errorf("start worker for queue %s: %w", queueName, err)
	}

	h.workers[queueName] = handle
	h.logger.Info().
		Str("queue", queueName).
		Str("connection", opts.Connection).
		Int("concurrency", opts.Concurrency).
		Int("subscriptions", len(subs)).
		Msg("Worker registered")

	return handle, nil
}

// Worker returns the registered handle for queueName
func (h *Host) Worker(queueName string) (worker.Handle, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	handle, ok := h.workers[queueName]
	return handle, ok
}

// QueueNames returns the registered queue names, sorted
func (h *Host) QueueNames() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	names := make([]string, 0, len(h.workers))
	for name := range h.workers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Shutdown closes every registered worker concurrently and returns the
// combined close errors. Only the first call closes anything; later calls
// wait for it and return the same result, or ctx.Err() if ctx ends first.
func (h *Host) Shutdown(ctx context.Context, signal string) error {
	h.shutdownOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		handles := make(map[string]worker.Handle, len(h.workers))
		for name, handle := range h.workers {
			handles[name] = handle
		}
		h.mu.Unlock()

		go func() {
			h.shutdownErr = h.closeAll(ctx, signal, handles)
			close(h.shutdownDone)
		}()
	})

	select {
	case <-h.shutdownDone:
		return h.shutdownErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Host) closeAll(ctx context.Context, signal string, handles map[string]worker.Handle) error {
	h.logger.Info().Str("signal", signal).Int("workers", len(handles)).Msg("Shutting down workers")

	var (
		wg    sync.WaitGroup
		errMu sync.Mutex
		errs  error
	)
	for name, handle := range handles {
		wg.Add(1)
		go func(name string, handle worker.Handle) {
			defer wg.Done()
			if err := handle.Close(ctx); err != nil {
				h.logger.Error().Err(err).Str("queue", name).Msg("Error closing worker")
				errMu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("close worker for queue %s: %w", name, err))
				errMu.Unlock()
			}
		}(name, handle)
	}
	wg.Wait()

	return errs
}
