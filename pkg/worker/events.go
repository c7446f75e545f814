package worker

import (
	"sync"
	"time"

	"github.com/pixelvide/queuehost/pkg/queue"
	"github.com/rs/zerolog"
)

// Worker event names
const (
	EventActive    = "active"
	EventCompleted = "completed"
	EventFailed    = "failed"
	EventRetrying  = "retrying"
	EventError     = "error"
	EventClosing   = "closing"
	EventClosed    = "closed"
)

// Event is delivered to listeners
type Event struct {
	Name     string
	Queue    string
	Job      *queue.Job    // nil for worker-level events
	Err      error         // set for failed, retrying and error
	Duration time.Duration // processing time for completed, failed and retrying
}

// Listener handles a worker event. Listeners run on the goroutine that
// emitted the event and should not block.
type Listener func(Event)

// Subscription pairs an event name with its listener
type Subscription struct {
	Event    string
	Listener Listener
}

// On builds a Subscription
func On(event string, listener Listener) Subscription {
	return Subscription{Event: event, Listener: listener}
}

type emitter struct {
	mu        sync.RWMutex
	listeners map[string][]Listener
	logger    zerolog.Logger
}

func newEmitter(logger zerolog.Logger) *emitter {
	return &emitter{
		listeners: make(map[string][]Listener),
		logger:    logger,
	}
}

func (e *emitter) on(event string, l Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners[event] = append(e.listeners[event], l)
}

func (e *emitter) emit(ev Event) {
	e.mu.RLock()
	ls := e.listeners[ev.Name]
	e.mu.RUnlock()

	for _, l := range ls {
		e.call(l, ev)
	}
}

func (e *emitter) call(l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Str("event", ev.Name).Interface("panic", r).Msg("Worker event listener panicked")
		}
	}()
	l(ev)
}
