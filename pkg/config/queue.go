package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// ErrNoQueueFound is returned when neither a queue-specific nor a shared
// configuration exists for a queue.
var ErrNoQueueFound = errors.New("no queue found")

// QueueOptions are the connection-level settings a worker is created with
type QueueOptions struct {
	Connection       string // connection name: redis, database, sqs, nats
	Prefix           string // key/subject/URL prefix for queue names
	SharedConnection bool   // reuse one client per connection name
}

// Resolver finds the QueueOptions for a queue name. Queue-specific entries
// win over shared configurations, which are looked up by config key.
type Resolver struct {
	mu     sync.RWMutex
	queues map[string]QueueOptions
	shared map[string]QueueOptions
	logger zerolog.Logger
}

// NewResolver creates a resolver whose default shared configuration comes from cfg.
// A nil cfg yields a resolver with no entries.
func NewResolver(cfg *Config, logger zerolog.Logger) *Resolver {
	r := &Resolver{
		queues: make(map[string]QueueOptions),
		shared: make(map[string]QueueOptions),
		logger: logger,
	}
	if cfg != nil {
		r.shared[""] = QueueOptions{
			Connection:       cfg.Queue.Connection,
			Prefix:           cfg.Queue.Prefix,
			SharedConnection: cfg.Queue.SharedConnection,
		}
	}
	return r
}

// SetQueue registers options for a single queue
func (r *Resolver) SetQueue(queueName string, opts QueueOptions) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queues[queueName] = opts
}

// SetShared registers a shared configuration under configKey. The empty key
// is the default configuration.
func (r *Resolver) SetShared(configKey string, opts QueueOptions) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shared[configKey] = opts
}

// Resolve returns the options for queueName, falling back to the shared
// configuration identified by configKey.
func (r *Resolver) Resolve(queueName, configKey string) (QueueOptions, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if opts, ok := r.queues[queueName]; ok {
		return opts, nil
	}
	if opts, ok := r.shared[configKey]; ok {
		return opts, nil
	}

	err := fmt.Errorf("%w: No Queue was found with the given name (%s). Check your configuration.", ErrNoQueueFound, queueName)
	r.logger.Error().Str("queue", queueName).Str("config_key", configKey).Msg(err.Error())
	return QueueOptions{}, err
}
