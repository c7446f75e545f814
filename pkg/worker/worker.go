package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pixelvide/queuehost/pkg/queue"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
)

const tracerName = "github.com/pixelvide/queuehost/pkg/worker"

// ErrClosed is returned by Start once the worker has been closed
var ErrClosed = errors.New("worker closed")

// Handle is one running consumer bound to one queue
type Handle interface {
	// QueueName returns the queue this handle consumes from
	QueueName() string
	// On subscribes a listener to a worker event
	On(event string, listener Listener)
	// Start begins consumption. It returns once consumers are launched.
	Start(ctx context.Context) error
	// Close stops consumption and waits for in-flight jobs, bounded by ctx.
	// It is safe to call more than once.
	Close(ctx context.Context) error
}

type state int

const (
	stateIdle state = iota
	stateRunning
	stateClosed
)

// Worker manages the processing of jobs from a single queue
type Worker struct {
	driver    queue.Driver
	failed    queue.FailedJobProvider
	queueName string
	processor queue.Handler
	opts      Options
	tracer    trace.Tracer
	logger    zerolog.Logger
	events    *emitter

	mu     sync.Mutex
	state  state
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// Option customizes a Worker
type Option func(*Worker)

// WithTracer sets the tracer used for job spans
func WithTracer(tracer trace.Tracer) Option {
	return func(w *Worker) {
		if tracer != nil {
			w.tracer = tracer
		}
	}
}

// WithLogger sets the base logger; the queue name is added to it
func WithLogger(logger zerolog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger.With().Str("queue", w.queueName).Logger()
	}
}

// NewWorker creates a worker for queueName. It does not consume until Start.
func NewWorker(driver queue.Driver, failedProvider queue.FailedJobProvider, queueName string, processor queue.Handler, opts Options, options ...Option) *Worker {
	w := &Worker{
		driver:    driver,
		failed:    failedProvider,
		queueName: queueName,
		processor: processor,
		opts:      opts.withDefaults(),
		tracer:    otel.Tracer(tracerName),
		logger:    log.Logger.With().Str("queue", queueName).Logger(),
	}
	for _, o := range options {
		o(w)
	}
	w.events = newEmitter(w.logger)
	return w
}

// QueueName returns the queue this worker consumes from
func (w *Worker) QueueName() string {
	return w.queueName
}

// Options returns the effective options of the worker
func (w *Worker) Options() Options {
	return w.opts
}

// On subscribes a listener to a worker event
func (w *Worker) On(event string, listener Listener) {
	w.events.on(event, listener)
}

// Start launches the consumer goroutines. Consumption is stopped by Close
// only; cancelling ctx after Start returns has no effect.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.state {
	case stateRunning:
		return nil
	case stateClosed:
		return ErrClosed
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.cancel = cancel
	w.state = stateRunning

	for i := 0; i < w.opts.Concurrency; i++ {
		w.wg.Add(1)
		go w.processLoop(runCtx, i)
	}

	w.logger.Info().Int("workers", w.opts.Concurrency).Msg("Worker started")
	return nil
}

// Run starts the worker and blocks until ctx is done, then closes it
func (w *Worker) Run(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return w.Close(context.Background())
}

// Close stops consumption and waits for in-flight jobs to finish or ctx to
// expire. Later calls return the result of the first one.
func (w *Worker) Close(ctx context.Context) error {
	w.closeOnce.Do(func() {
		w.closeErr = w.shutdown(ctx)
	})
	return w.closeErr
}

func (w *Worker) shutdown(ctx context.Context) error {
	w.mu.Lock()
	cancel := w.cancel
	w.state = stateClosed
	w.mu.Unlock()

	w.events.emit(Event{Name: EventClosing, Queue: w.queueName})

	var err error
	if cancel != nil {
		cancel()

		done := make(chan struct{})
		go func() {
			w.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("worker %s: drain: %w", w.queueName, ctx.Err())
		}
	}

	if closer, ok := w.driver.(io.Closer); ok {
		if cerr := closer.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("worker %s: close driver: %w", w.queueName, cerr))
		}
	}

	w.events.emit(Event{Name: EventClosed, Queue: w.queueName, Err: err})
	w.logger.Info().Err(err).Msg("Worker closed")
	return err
}

func (w *Worker) processLoop(ctx context.Context, id int) {
	defer w.wg.Done()

	token := uuid.NewString()
	logger := w.logger.With().Int("worker_id", id).Logger()
	logger.Debug().Str("token", token).Msg("Consumer started")

	for {
		if ctx.Err() != nil {
			return
		}

		job, err := w.driver.Pop(ctx, w.queueName)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, queue.ErrEmpty) {
				continue
			}
			logger.Error().Err(err).Msg("Error popping job")
			w.events.emit(Event{Name: EventError, Queue: w.queueName, Err: err})

			// Avoid a tight loop on a failing backend
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.opts.ErrorBackoff):
			}
			continue
		}

		job.Queue = w.queueName
		job.Token = token
		// Claimed jobs run to completion even when Close cancels polling
		w.handleJob(context.WithoutCancel(ctx), logger, job)
	}
}

func (w *Worker) handleJob(ctx context.Context, logger zerolog.Logger, job *queue.Job) {
	if job.Payload == nil {
		var payload queue.LaravelJob
		if err := json.Unmarshal(job.Body, &payload); err != nil {
			logger.Error().Err(err).Bytes("body", job.Body).Msg("Error unmarshalling job")
			w.fail(ctx, logger, job, fmt.Errorf("decode job: %w", err), 0)
			return
		}
		job.Payload = &payload
	}
	payload := job.Payload
	// Redeliveries the payload never saw still count as attempts
	if prior := job.ReceiveCount - 1; prior > payload.Attempts {
		payload.Attempts = prior
	}

	if len(payload.Data) > 0 {
		// Plain JSON data jobs fail to unserialize as PHP, which is fine
		if unserialized, err := queue.UnserializeCommand(payload.Data); err == nil {
			job.UnserializedData = unserialized
		}
	}

	jobLogger := logger.With().
		Str("job_name", payload.DisplayName).
		Str("uuid", payload.UUID).
		Int("attempts", payload.Attempts).
		Logger()

	timeout := w.opts.Timeout
	if payload.Timeout != nil && *payload.Timeout > 0 {
		timeout = time.Duration(*payload.Timeout) * time.Second
	}

	var jobCtx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		jobCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	jobCtx, span := w.tracer.Start(jobCtx, "queue.process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", w.queueName),
			attribute.String("job.name", payload.DisplayName),
			attribute.String("job.uuid", payload.UUID),
			attribute.Int("job.attempts", payload.Attempts),
		),
	)
	defer span.End()
	jobCtx = jobLogger.WithContext(jobCtx)

	w.events.emit(Event{Name: EventActive, Queue: w.queueName, Job: job})

	started := time.Now()
	err := w.invoke(jobCtx, job)
	elapsed := time.Since(started)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		jobLogger.Warn().Err(err).Msg("Job failed")
		w.handleFailure(ctx, jobLogger, job, err, elapsed)
		return
	}

	span.SetStatus(codes.Ok, "")
	if ackErr := w.driver.Ack(ctx, job); ackErr != nil {
		jobLogger.Error().Err(ackErr).Msg("Error acknowledging job")
	}
	w.events.emit(Event{Name: EventCompleted, Queue: w.queueName, Job: job, Duration: elapsed})
}

// invoke runs the processor, turning a panic into a job failure
func (w *Worker) invoke(ctx context.Context, job *queue.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return w.processor(ctx, job)
}

func (w *Worker) handleFailure(ctx context.Context, logger zerolog.Logger, job *queue.Job, err error, elapsed time.Duration) {
	payload := job.Payload
	payload.Attempts++

	maxTries := w.opts.MaxTries
	if payload.MaxTries != nil {
		maxTries = *payload.MaxTries
	}

	if payload.Attempts >= maxTries {
		logger.Error().Int("max_tries", maxTries).Msg("Job failed permanently")
		w.fail(ctx, logger, job, err, elapsed)
		return
	}
	if payload.Expired(time.Now()) {
		logger.Error().Int64("retry_until", *payload.RetryUntil).Msg("Job retry window expired")
		w.fail(ctx, logger, job, err, elapsed)
		return
	}
	if payload.FailOnTimeout && errors.Is(err, context.DeadlineExceeded) {
		logger.Error().Msg("Job timed out and fails on timeout")
		w.fail(ctx, logger, job, err, elapsed)
		return
	}

	logger.Info().Int("attempt", payload.Attempts).Int("max_tries", maxTries).Msg("Retrying job")

	// A job that cannot be re-queued is failed rather than dropped
	body, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		logger.Error().Err(marshalErr).Msg("Error marshalling job for retry")
		w.fail(ctx, logger, job, multierr.Append(err, fmt.Errorf("marshal retry: %w", marshalErr)), elapsed)
		return
	}

	// Re-queue at the tail; Laravel backoff delays are not honoured
	if pushErr := w.driver.Push(ctx, w.queueName, body); pushErr != nil {
		logger.Error().Err(pushErr).Msg("Error pushing job back to queue")
		w.fail(ctx, logger, job, multierr.Append(err, fmt.Errorf("requeue: %w", pushErr)), elapsed)
		return
	}
	if ackErr := w.driver.Ack(ctx, job); ackErr != nil {
		logger.Error().Err(ackErr).Msg("Error acknowledging retried job")
	}
	w.events.emit(Event{Name: EventRetrying, Queue: w.queueName, Job: job, Err: err, Duration: elapsed})
}

// fail records the job as permanently failed and removes it from the queue
func (w *Worker) fail(ctx context.Context, logger zerolog.Logger, job *queue.Job, err error, elapsed time.Duration) {
	body := job.Body
	if job.Payload != nil {
		if b, marshalErr := json.Marshal(job.Payload); marshalErr == nil {
			body = b
		}
	}

	if w.failed != nil {
		if failErr := w.failed.Log(ctx, w.opts.Connection, w.queueName, body, err.Error()); failErr != nil {
			logger.Error().Err(failErr).Msg("Error logging failed job")
		}
	} else {
		logger.Warn().Msg("No failed job provider configured, job dropped")
	}

	if ackErr := w.driver.Ack(ctx, job); ackErr != nil {
		logger.Error().Err(ackErr).Msg("Error acknowledging failed job")
	}
	w.events.emit(Event{Name: EventFailed, Queue: w.queueName, Job: job, Err: err, Duration: elapsed})
}
