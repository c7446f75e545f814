package queue

import (
	"context"
	"errors"
)

// ErrEmpty is returned by Pop when a poll finished without a job.
// Workers poll again immediately.
var ErrEmpty = errors.New("queue empty")

// Job represents a generic job retrieved from the queue
type Job struct {
	ID               string
	Token            string // Lock token of the consumer that claimed the job
	Queue            string // Queue the job was popped from
	Body             []byte
	Payload          *LaravelJob // The parsed JSON envelope
	UnserializedData any         // The unserialized PHP command properties (if applicable)
	ReceiveCount     int         // Deliveries reported by the backend, 0 when it does not track them
}

// GetArg returns a property of the unserialized PHP command, or nil when absent.
func (j *Job) GetArg(name string) any {
	if j.UnserializedData == nil {
		return nil
	}
	return GetPHPProperty(j.UnserializedData, name)
}

// Handler is the function signature for processing a job
type Handler func(ctx context.Context, job *Job) error

// FailedJobProvider stores jobs that exhausted their attempts, in the shape
// of Laravel's failed_jobs table.
type FailedJobProvider interface {
	Log(ctx context.Context, connection string, queue string, payload []byte, exception string) error
}

// Driver defines the interface for queue backends
type Driver interface {
	// Pop retrieves a job from the queue. It should block until a job is available.
	Pop(ctx context.Context, queueName string) (*Job, error)
	// Push adds a job payload to the queue
	Push(ctx context.Context, queueName string, body []byte) error
	// Ack confirms that a popped job was processed
	Ack(ctx context.Context, job *Job) error
}
