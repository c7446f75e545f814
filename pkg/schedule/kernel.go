package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	lockCheckTimeout = 10 * time.Second
	lockDuration     = time.Minute
)

// Kernel manages scheduled tasks. The lock provider and logger may be
// replaced after jobs are registered; jobs read them on every run.
type Kernel struct {
	cron *cron.Cron

	mu           sync.RWMutex
	lockProvider LockProvider
	logger       zerolog.Logger
}

// JobOption configures a scheduled job
type JobOption func(*jobConfig)

type jobConfig struct {
	withoutOverlapping bool
	onOneServer        bool
	name               string
}

// NewKernel creates a scheduler kernel. Schedules use second-level precision.
func NewKernel(lockProvider LockProvider, logger zerolog.Logger) *Kernel {
	k := &Kernel{
		lockProvider: lockProvider,
		logger:       logger.With().Str("component", "schedule").Logger(),
	}
	k.cron = cron.New(cron.WithSeconds(), cron.WithLogger(cronLogger{kernel: k}))
	return k
}

// SetLockProvider sets the distributed lock provider
func (k *Kernel) SetLockProvider(provider LockProvider) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.lockProvider = provider
}

// SetLogger replaces the kernel logger
func (k *Kernel) SetLogger(logger zerolog.Logger) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.logger = logger.With().Str("component", "schedule").Logger()
}

func (k *Kernel) current() (LockProvider, zerolog.Logger) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.lockProvider, k.logger
}

// WithoutOverlapping skips a run while the previous one is still running (local only)
func WithoutOverlapping() JobOption {
	return func(c *jobConfig) {
		c.withoutOverlapping = true
	}
}

// OnOneServer runs the job on only one server per tick, using the distributed lock
func OnOneServer(name string) JobOption {
	return func(c *jobConfig) {
		c.onOneServer = true
		c.name = name
	}
}

// Named sets the name used in logs
func Named(name string) JobOption {
	return func(c *jobConfig) {
		c.name = name
	}
}

// Register adds a task to be run on a given schedule.
// Schedule format: "s m h d m w" (Seconds Minutes Hours Day Month Week)
func (k *Kernel) Register(schedule string, task Task, opts ...JobOption) error {
	cfg := &jobConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	if _, err := k.cron.AddJob(schedule, k.wrap(cfg, task)); err != nil {
		return fmt.Errorf("register %q [%s]: %w", cfg.name, schedule, err)
	}

	lockProvider, logger := k.current()
	if cfg.onOneServer && lockProvider == nil {
		logger.Debug().Str("job", cfg.name).Msg("OnOneServer job registered before a LockProvider")
	}
	logger.Info().Str("job", cfg.name).Str("schedule", schedule).Msg("Registered cron job")
	return nil
}

// Dispatch schedules jobName to be pushed onto queueName
func (k *Kernel) Dispatch(schedule string, dispatcher Dispatcher, queueName, jobName string, args map[string]interface{}, opts ...JobOption) error {
	opts = append([]JobOption{Named(jobName)}, opts...)
	return k.Register(schedule, func(ctx context.Context) error {
		return dispatcher.DispatchToQueue(ctx, queueName, jobName, args)
	}, opts...)
}

// Len returns the number of registered jobs
func (k *Kernel) Len() int {
	return len(k.cron.Entries())
}

func (k *Kernel) wrap(cfg *jobConfig, task Task) cron.Job {
	var job cron.Job = cron.FuncJob(func() {
		_, logger := k.current()
		logger = logger.With().Str("job", cfg.name).Logger()
		if err := task(logger.WithContext(context.Background())); err != nil {
			logger.Error().Err(err).Msg("Scheduled job failed")
		}
	})

	if cfg.withoutOverlapping {
		job = cron.SkipIfStillRunning(cronLogger{kernel: k, job: cfg.name})(job)
	}

	if !cfg.onOneServer {
		return job
	}

	inner := job
	return cron.FuncJob(func() {
		lockProvider, logger := k.current()
		logger = logger.With().Str("job", cfg.name).Logger()

		if lockProvider == nil {
			logger.Warn().Msg("Ignoring OnOneServer: LockProvider not initialized")
			inner.Run()
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), lockCheckTimeout)
		defer cancel()

		acquired, err := lockProvider.GetLock(ctx, cfg.name, lockDuration)
		if err != nil {
			logger.Error().Err(err).Msg("Error checking lock")
			return
		}
		if !acquired {
			logger.Debug().Msg("Skipping job: locked by another server")
			return
		}
		defer func() {
			if err := lockProvider.ReleaseLock(context.Background(), cfg.name); err != nil {
				logger.Error().Err(err).Msg("Error releasing lock")
			}
		}()
		inner.Run()
	})
}

// Run starts the scheduler and blocks until ctx is done, then waits for
// running jobs.
func (k *Kernel) Run(ctx context.Context) {
	_, logger := k.current()
	logger.Info().Int("jobs", k.Len()).Msg("Starting task scheduler")
	k.cron.Start()

	<-ctx.Done()

	logger.Info().Msg("Stopping task scheduler")
	<-k.cron.Stop().Done()
}

// cronLogger adapts the kernel's current zerolog logger to cron.Logger
type cronLogger struct {
	kernel *Kernel
	job    string
}

func (l cronLogger) with() zerolog.Logger {
	_, logger := l.kernel.current()
	if l.job != "" {
		return logger.With().Str("job", l.job).Logger()
	}
	return logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger := l.with()
	logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger := l.with()
	logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
