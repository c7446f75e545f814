// Package registrar wires declared queue bindings to a processor host.
// Bindings are declared explicitly; nothing is discovered by reflection.
package registrar

import (
	"context"
	"fmt"

	"github.com/pixelvide/queuehost/pkg/config"
	"github.com/pixelvide/queuehost/pkg/worker"
	"github.com/rs/zerolog"
)

// WorkerRegistrar is implemented by *processor.Host
type WorkerRegistrar interface {
	RegisterWorker(ctx context.Context, queueName string, opts worker.Options, subs ...worker.Subscription) (worker.Handle, error)
}

// Binding declares that a processor consumes a queue
type Binding struct {
	Queue         string
	ConfigKey     string         // shared configuration to fall back on
	Options       worker.Options // overrides the resolved queue options
	Subscriptions []worker.Subscription
}

// Bind starts a Binding for queueName
func Bind(queueName string) Binding {
	return Binding{Queue: queueName}
}

// WithConfigKey selects the shared configuration used when the queue has none of its own
func (b Binding) WithConfigKey(key string) Binding {
	b.ConfigKey = key
	return b
}

// WithOptions sets the worker options for the binding
func (b Binding) WithOptions(opts worker.Options) Binding {
	b.Options = opts
	return b
}

// On adds an event subscription
func (b Binding) On(event string, listener worker.Listener) Binding {
	b.Subscriptions = append(b.Subscriptions[:len(b.Subscriptions):len(b.Subscriptions)], worker.On(event, listener))
	return b
}

// Registrar resolves queue options for bindings and registers their workers
type Registrar struct {
	resolver *config.Resolver
	common   []worker.Subscription
	logger   zerolog.Logger
}

// New creates a Registrar. common subscriptions are attached to every worker
// ahead of the binding's own.
func New(resolver *config.Resolver, logger zerolog.Logger, common ...worker.Subscription) *Registrar {
	return &Registrar{
		resolver: resolver,
		common:   common,
		logger:   logger,
	}
}

// Register registers every binding on target, in order, and stops at the
// first failure.
func (r *Registrar) Register(ctx context.Context, target WorkerRegistrar, bindings ...Binding) error {
	for _, b := range bindings {
		queueOpts, err := r.resolver.Resolve(b.Queue, b.ConfigKey)
		if err != nil {
			return fmt.Errorf("register %s: %w", b.Queue, err)
		}

		opts := worker.Options{QueueOptions: queueOpts}.Merge(b.Options)

		subs := make([]worker.Subscription, 0, len(r.common)+len(b.Subscriptions))
		subs = append(subs, r.common...)
		subs = append(subs, b.Subscriptions...)

		if _, err := target.RegisterWorker(ctx, b.Queue, opts, subs...); err != nil {
			return fmt.Errorf("register %s: %w", b.Queue, err)
		}
		r.logger.Debug().Str("queue", b.Queue).Str("connection", opts.Connection).Msg("Queue bound")
	}
	return nil
}
