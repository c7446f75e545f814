package worker

import (
	"time"

	"github.com/pixelvide/queuehost/pkg/config"
)

const (
	defaultConcurrency  = 1
	defaultMaxTries     = 1
	defaultErrorBackoff = time.Second
)

// Options configure a worker. The embedded QueueOptions select the
// connection; the rest tune consumption.
type Options struct {
	config.QueueOptions

	// Concurrency is the number of jobs processed in parallel
	Concurrency int
	// MaxTries applies when the job payload does not carry maxTries
	MaxTries int
	// Timeout applies when the job payload does not carry a timeout
	Timeout time.Duration
	// ErrorBackoff is the pause after a failed Pop
	ErrorBackoff time.Duration
}

// Merge returns o with every non-zero field of override applied on top
func (o Options) Merge(override Options) Options {
	if override.Connection != "" {
		o.Connection = override.Connection
	}
	if override.Prefix != "" {
		o.Prefix = override.Prefix
	}
	if override.SharedConnection {
		o.SharedConnection = true
	}
	if override.Concurrency > 0 {
		o.Concurrency = override.Concurrency
	}
	if override.MaxTries > 0 {
		o.MaxTries = override.MaxTries
	}
	if override.Timeout > 0 {
		o.Timeout = override.Timeout
	}
	if override.ErrorBackoff > 0 {
		o.ErrorBackoff = override.ErrorBackoff
	}
	return o
}

func (o Options) withDefaults() Options {
	if o.Concurrency < 1 {
		o.Concurrency = defaultConcurrency
	}
	if o.MaxTries < 1 {
		o.MaxTries = defaultMaxTries
	}
	if o.ErrorBackoff <= 0 {
		o.ErrorBackoff = defaultErrorBackoff
	}
	return o
}
