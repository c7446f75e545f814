package processor

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pixelvide/queuehost/pkg/queue"
	"github.com/pixelvide/queuehost/pkg/worker"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHandle records lifecycle calls in the order they happen
type fakeHandle struct {
	mu        sync.Mutex
	queueName string
	opts      worker.Options
	calls     []string
	listeners map[string][]worker.Listener
	closes    int
	started   bool
	startErr  error
	closeErr  error
	closeGate chan struct{}
}

func (f *fakeHandle) QueueName() string { return f.queueName }

func (f *fakeHandle) On(event string, l worker.Listener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "on:"+event)
	f.listeners[event] = append(f.listeners[event], l)
}

func (f *fakeHandle) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "start")
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	return nil
}

func (f *fakeHandle) Close(ctx context.Context) error {
	if f.closeGate != nil {
		<-f.closeGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "close")
	f.closes++
	return f.closeErr
}

func (f *fakeHandle) emit(ev worker.Event) {
	f.mu.Lock()
	ls := f.listeners[ev.Name]
	f.mu.Unlock()
	for _, l := range ls {
		l(ev)
	}
}

func (f *fakeHandle) snapshot() ([]string, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...), f.closes
}

// fakeFactory creates fakeHandles and counts creations per queue
type fakeFactory struct {
	mu        sync.Mutex
	created   map[string]int
	handles   map[string]*fakeHandle
	processor queue.Handler
	startErr  map[string]error
	closeErr  map[string]error
	closeGate map[string]chan struct{}
	err       error
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		created:   make(map[string]int),
		handles:   make(map[string]*fakeHandle),
		startErr:  make(map[string]error),
		closeErr:  make(map[string]error),
		closeGate: make(map[string]chan struct{}),
	}
}

func (f *fakeFactory) NewWorker(ctx context.Context, queueName string, processor queue.Handler, opts worker.Options) (worker.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.created[queueName]++
	f.processor = processor
	h := &fakeHandle{
		queueName: queueName,
		opts:      opts,
		listeners: make(map[string][]worker.Listener),
		startErr:  f.startErr[queueName],
		closeErr:  f.closeErr[queueName],
		closeGate: f.closeGate[queueName],
	}
	f.handles[queueName] = h
	return h, nil
}

func (f *fakeFactory) count(queueName string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[queueName]
}

func (f *fakeFactory) handle(queueName string) *fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handles[queueName]
}

func noopProcessor(ctx context.Context, job *queue.Job) error { return nil }

func newHost(t *testing.T, factory worker.Factory) *Host {
	t.Helper()
	host, err := NewBuilder().
		WithProcessor(noopProcessor).
		WithFactory(factory).
		WithLogger(zerolog.Nop()).
		Build()
	require.NoError(t, err)
	return host
}

func sameFunc(a, b queue.Handler) bool {
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}

func TestBuilder_RequiresProcessor(t *testing.T) {
	_, err := NewBuilder().WithFactory(newFakeFactory()).Build()
	assert.ErrorIs(t, err, ErrNotInitialized)

	_, err = NewBuilder().WithProcessor(noopProcessor).Build()
	assert.ErrorIs(t, err, ErrNoFactory)
}

func TestHost_ProcessorAccess(t *testing.T) {
	var uninitialized Host
	_, err := uninitialized.Processor()
	assert.ErrorIs(t, err, ErrNotInitialized)

	var nilHost *Host
	_, err = nilHost.Processor()
	assert.ErrorIs(t, err, ErrNotInitialized)

	_, err = uninitialized.RegisterWorker(context.Background(), "emails", worker.Options{})
	assert.ErrorIs(t, err, ErrNotInitialized)

	host := newHost(t, newFakeFactory())
	first, err := host.Processor()
	require.NoError(t, err)
	second, err := host.Processor()
	require.NoError(t, err)
	assert.True(t, sameFunc(first, second))
	assert.True(t, sameFunc(first, noopProcessor))
}

func TestHost_RegisterWorkerIsIdempotent(t *testing.T) {
	factory := newFakeFactory()
	host := newHost(t, factory)
	ctx := context.Background()

	first, err := host.RegisterWorker(ctx, "emails", worker.Options{Concurrency: 5}, worker.On(worker.EventCompleted, func(worker.Event) {}))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		again, err := host.RegisterWorker(ctx, "emails", worker.Options{Concurrency: 1}, worker.On(worker.EventFailed, func(worker.Event) {}))
		require.NoError(t, err)
		assert.Same(t, first, again)
	}

	assert.Equal(t, 1, factory.count("emails"))
	calls, _ := factory.handle("emails").snapshot()
	assert.Equal(t, []string{"on:completed", "start"}, calls, "later registrations must not re-subscribe or restart")
	assert.Equal(t, 5, factory.handle("emails").opts.Concurrency)
	assert.True(t, sameFunc(factory.processor, noopProcessor))
}

func TestHost_DistinctQueuesAreIndependent(t *testing.T) {
	factory := newFakeFactory()
	host := newHost(t, factory)
	ctx := context.Background()

	var emails, sms int
	h1, err := host.RegisterWorker(ctx, "emails", worker.Options{}, worker.On(worker.EventCompleted, func(worker.Event) { emails++ }))
	require.NoError(t, err)
	h2, err := host.RegisterWorker(ctx, "sms", worker.Options{}, worker.On(worker.EventCompleted, func(worker.Event) { sms++ }))
	require.NoError(t, err)

	assert.NotSame(t, h1, h2)
	assert.Equal(t, "emails", h1.QueueName())
	assert.Equal(t, "sms", h2.QueueName())

	factory.handle("emails").emit(worker.Event{Name: worker.EventCompleted})
	assert.Equal(t, 1, emails)
	assert.Equal(t, 0, sms)

	assert.Equal(t, []string{"emails", "sms"}, host.QueueNames())

	got, ok := host.Worker("sms")
	require.True(t, ok)
	assert.Same(t, h2, got)
	_, ok = host.Worker("push")
	assert.False(t, ok)
}

func TestHost_SubscriptionsAttachedBeforeStart(t *testing.T) {
	factory := newFakeFactory()
	host := newHost(t, factory)

	_, err := host.RegisterWorker(context.Background(), "emails", worker.Options{},
		worker.On(worker.EventActive, func(worker.Event) {}),
		worker.On(worker.EventCompleted, func(worker.Event) {}),
		worker.On(worker.EventFailed, func(worker.Event) {}),
	)
	require.NoError(t, err)

	calls, _ := factory.handle("emails").snapshot()
	assert.Equal(t, []string{"on:active", "on:completed", "on:failed", "start"}, calls)
	assert.True(t, factory.handle("emails").started)
}

func TestHost_RegisterWorkerValidation(t *testing.T) {
	host := newHost(t, newFakeFactory())

	_, err := host.RegisterWorker(context.Background(), "", worker.Options{})
	assert.ErrorIs(t, err, ErrEmptyQueueName)
	assert.Empty(t, host.QueueNames())
}

func TestHost_FactoryErrorStoresNothing(t *testing.T) {
	factory := newFakeFactory()
	factory.err = errors.New("unsupported connection")
	host := newHost(t, factory)

	_, err := host.RegisterWorker(context.Background(), "emails", worker.Options{})
	assert.ErrorContains(t, err, "create worker for queue emails")
	assert.Empty(t, host.QueueNames())

	factory.err = nil
	_, err = host.RegisterWorker(context.Background(), "emails", worker.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"emails"}, host.QueueNames())
}

func TestHost_StartErrorClosesHandle(t *testing.T) {
	factory := newFakeFactory()
	factory.startErr["emails"] = errors.New("connection refused")
	host := newHost(t, factory)

	_, err := host.RegisterWorker(context.Background(), "emails", worker.Options{})
	assert.ErrorContains(t, err, "connection refused")
	assert.Empty(t, host.QueueNames())

	_, closes := factory.handle("emails").snapshot()
	assert.Equal(t, 1, closes)
}

func TestHost_ConcurrentRegistrationCreatesOneWorker(t *testing.T) {
	factory := newFakeFactory()
	host := newHost(t, factory)

	const callers = 32
	handles := make([]worker.Handle, callers)
	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := host.RegisterWorker(context.Background(), "emails", worker.Options{})
			if err != nil {
				failures.Add(1)
				return
			}
			handles[i] = h
		}(i)
	}
	wg.Wait()

	require.Zero(t, failures.Load())
	assert.Equal(t, 1, factory.count("emails"))
	for _, h := range handles {
		assert.Same(t, handles[0], h)
	}
}

func TestHost_ShutdownClosesEachHandleOnce(t *testing.T) {
	factory := newFakeFactory()
	host := newHost(t, factory)
	ctx := context.Background()

	for _, q := range []string{"emails", "sms", "push"} {
		_, err := host.RegisterWorker(ctx, q, worker.Options{})
		require.NoError(t, err)
	}

	require.NoError(t, host.Shutdown(ctx, "SIGTERM"))
	require.NoError(t, host.Shutdown(ctx, "SIGTERM"))

	for _, q := range []string{"emails", "sms", "push"} {
		_, closes := factory.handle(q).snapshot()
		assert.Equal(t, 1, closes, q)
	}

	_, err := host.RegisterWorker(ctx, "reports", worker.Options{})
	assert.ErrorIs(t, err, ErrHostClosed)
	_, err = host.RegisterWorker(ctx, "emails", worker.Options{})
	assert.ErrorIs(t, err, ErrHostClosed)
}

func TestHost_ShutdownAggregatesCloseErrors(t *testing.T) {
	factory := newFakeFactory()
	factory.closeErr["emails"] = errors.New("emails drain timeout")
	factory.closeErr["sms"] = errors.New("sms connection reset")
	host := newHost(t, factory)
	ctx := context.Background()

	for _, q := range []string{"emails", "sms", "push"} {
		_, err := host.RegisterWorker(ctx, q, worker.Options{})
		require.NoError(t, err)
	}

	err := host.Shutdown(ctx, "")
	require.Error(t, err)
	assert.ErrorContains(t, err, "emails drain timeout")
	assert.ErrorContains(t, err, "sms connection reset")

	for _, q := range []string{"emails", "sms", "push"} {
		_, closes := factory.handle(q).snapshot()
		assert.Equal(t, 1, closes, "every handle is closed even when others fail: %s", q)
	}

	second := host.Shutdown(ctx, "")
	assert.Equal(t, err, second, "later calls return the first result")
}

func TestHost_SecondShutdownWaitsForFirst(t *testing.T) {
	factory := newFakeFactory()
	gate := make(chan struct{})
	factory.closeGate["emails"] = gate
	factory.closeErr["emails"] = errors.New("emails drain timeout")
	host := newHost(t, factory)
	ctx := context.Background()

	_, err := host.RegisterWorker(ctx, "emails", worker.Options{})
	require.NoError(t, err)

	results := make(chan error, 2)
	go func() { results <- host.Shutdown(ctx, "SIGTERM") }()
	go func() { results <- host.Shutdown(ctx, "SIGINT") }()

	select {
	case err := <-results:
		t.Fatalf("shutdown returned before the worker closed: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	for i := 0; i < 2; i++ {
		select {
		case err := <-results:
			assert.ErrorContains(t, err, "emails drain timeout")
		case <-time.After(2 * time.Second):
			t.Fatal("shutdown did not return")
		}
	}

	_, closes := factory.handle("emails").snapshot()
	assert.Equal(t, 1, closes)
}

func TestHost_ShutdownHonoursCallerContext(t *testing.T) {
	factory := newFakeFactory()
	gate := make(chan struct{})
	defer close(gate)
	factory.closeGate["emails"] = gate
	host := newHost(t, factory)

	_, err := host.RegisterWorker(context.Background(), "emails", worker.Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, host.Shutdown(ctx, "SIGTERM"), context.DeadlineExceeded)
}

func TestHost_EmailsSmsScenario(t *testing.T) {
	factory := newFakeFactory()
	host := newHost(t, factory)
	ctx := context.Background()

	emails, err := host.RegisterWorker(ctx, "emails", worker.Options{Concurrency: 5})
	require.NoError(t, err)
	assert.True(t, factory.handle("emails").started)

	again, err := host.RegisterWorker(ctx, "emails", worker.Options{Concurrency: 10})
	require.NoError(t, err)
	assert.Same(t, emails, again)
	assert.Equal(t, 5, factory.handle("emails").opts.Concurrency)

	sms, err := host.RegisterWorker(ctx, "sms", worker.Options{})
	require.NoError(t, err)
	assert.NotSame(t, emails, sms)

	require.NoError(t, host.Shutdown(ctx, "SIGINT"))
	require.NoError(t, host.Shutdown(ctx, "SIGINT"))

	for _, q := range []string{"emails", "sms"} {
		_, closes := factory.handle(q).snapshot()
		assert.Equal(t, 1, closes)
	}
}

func TestHost_WithRealWorkers(t *testing.T) {
	driver := &blockingDriver{}
	factory := worker.FactoryFunc(func(ctx context.Context, queueName string, processor queue.Handler, opts worker.Options) (worker.Handle, error) {
		return worker.NewWorker(driver, nil, queueName, processor, opts, worker.WithLogger(zerolog.Nop())), nil
	})
	host := newHost(t, factory)

	closed := make(chan string, 2)
	for _, q := range []string{"emails", "sms"} {
		_, err := host.RegisterWorker(context.Background(), q, worker.Options{Concurrency: 2},
			worker.On(worker.EventClosed, func(ev worker.Event) { closed <- ev.Queue }))
		require.NoError(t, err)
	}

	require.NoError(t, host.Shutdown(context.Background(), "SIGTERM"))
	assert.ElementsMatch(t, []string{"emails", "sms"}, []string{<-closed, <-closed})
}

// blockingDriver never yields a job
type blockingDriver struct{}

func (blockingDriver) Pop(ctx context.Context, queueName string) (*queue.Job, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingDriver) Push(ctx context.Context, queueName string, body []byte) error { return nil }

func (blockingDriver) Ack(ctx context.Context, job *queue.Job) error { return nil }
