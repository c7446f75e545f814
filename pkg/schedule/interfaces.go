package schedule

import (
	"context"
	"time"

	"github.com/pixelvide/queuehost/pkg/queue"
)

// LockProvider guards OnOneServer jobs across hosts
type LockProvider interface {
	// GetLock acquires name for at most duration without waiting.
	// It reports false when another holder has it.
	GetLock(ctx context.Context, name string, duration time.Duration) (bool, error)
	// ReleaseLock releases a lock acquired by this provider
	ReleaseLock(ctx context.Context, name string) error
}

// Dispatcher pushes a job onto a named queue. *queue.Publisher implements it.
type Dispatcher interface {
	DispatchToQueue(ctx context.Context, queueName string, jobName string, args map[string]interface{}) error
}

var _ Dispatcher = (*queue.Publisher)(nil)

// Task is a unit of scheduled work
type Task func(ctx context.Context) error
