package queue

import (
	"encoding/json"
	"time"
)

// CallQueuedHandler is the job handler Laravel uses for serialized commands
const CallQueuedHandler = "Illuminate\\Queue\\CallQueuedHandler@call"

// LaravelJob is the JSON envelope Laravel pushes for every queued job
type LaravelJob struct {
	UUID          string          `json:"uuid"`
	DisplayName   string          `json:"displayName"`
	Job           string          `json:"job"`
	MaxTries      *int            `json:"maxTries"`
	MaxExceptions *int            `json:"maxExceptions"`
	FailOnTimeout bool            `json:"failOnTimeout"`
	Backoff       *int            `json:"backoff"`
	Timeout       *int            `json:"timeout"`
	RetryUntil    *int64          `json:"retryUntil"` // unix seconds
	Data          json.RawMessage `json:"data"`
	Attempts      int             `json:"attempts"`
}

// Expired reports whether the job's retryUntil deadline has passed
func (p *LaravelJob) Expired(now time.Time) bool {
	return p.RetryUntil != nil && now.Unix() >= *p.RetryUntil
}
