package worker

import (
	"context"
	"fmt"

	"github.com/pixelvide/queuehost/pkg/config"
	"github.com/pixelvide/queuehost/pkg/queue"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Factory creates unstarted worker handles
type Factory interface {
	NewWorker(ctx context.Context, queueName string, processor queue.Handler, opts Options) (Handle, error)
}

// FactoryFunc adapts a function to Factory
type FactoryFunc func(ctx context.Context, queueName string, processor queue.Handler, opts Options) (Handle, error)

// NewWorker calls f
func (f FactoryFunc) NewWorker(ctx context.Context, queueName string, processor queue.Handler, opts Options) (Handle, error) {
	return f(ctx, queueName, processor, opts)
}

// Connector provides the queue driver for a set of queue options. Drivers
// that implement io.Closer are owned, and closed, by the worker.
type Connector interface {
	Connect(ctx context.Context, opts config.QueueOptions) (queue.Driver, error)
}

// DriverFactory builds Workers on drivers obtained from a Connector
type DriverFactory struct {
	connector Connector
	failed    queue.FailedJobProvider
	tracer    trace.Tracer
	logger    zerolog.Logger
}

// NewFactory creates a DriverFactory. failed and tracer may be nil.
func NewFactory(connector Connector, failed queue.FailedJobProvider, tracer trace.Tracer, logger zerolog.Logger) *DriverFactory {
	return &DriverFactory{
		connector: connector,
		failed:    failed,
		tracer:    tracer,
		logger:    logger,
	}
}

// NewWorker connects and returns an unstarted Worker
func (f *DriverFactory) NewWorker(ctx context.Context, queueName string, processor queue.Handler, opts Options) (Handle, error) {
	driver, err := f.connector.Connect(ctx, opts.QueueOptions)
	if err != nil {
		return nil, fmt.Errorf("connect %s for queue %s: %w", opts.Connection, queueName, err)
	}
	return NewWorker(driver, f.failed, queueName, processor, opts,
		WithTracer(f.tracer),
		WithLogger(f.logger),
	), nil
}
