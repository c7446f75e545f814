package console

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pixelvide/queuehost/pkg/config"
	"github.com/pixelvide/queuehost/pkg/connection"
	"github.com/pixelvide/queuehost/pkg/metrics"
	"github.com/pixelvide/queuehost/pkg/processor"
	"github.com/pixelvide/queuehost/pkg/queue"
	"github.com/pixelvide/queuehost/pkg/registrar"
	"github.com/pixelvide/queuehost/pkg/telemetry"
	"github.com/pixelvide/queuehost/pkg/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

type workFlags struct {
	queues          []string
	concurrency     int
	maxTries        int
	timeout         time.Duration
	metricsAddr     string
	shutdownTimeout time.Duration
}

type workerOptions struct {
	connector worker.Connector
	failed    queue.FailedJobProvider
}

// WorkerOption customizes the queue:work command
type WorkerOption func(*workerOptions)

// WithConnector replaces the connection manager as the source of queue drivers
func WithConnector(connector worker.Connector) WorkerOption {
	return func(o *workerOptions) {
		o.connector = connector
	}
}

// WithFailedJobProvider replaces the failed job provider picked from QUEUE_CONNECTION
func WithFailedJobProvider(provider queue.FailedJobProvider) WorkerOption {
	return func(o *workerOptions) {
		o.failed = provider
	}
}

// NewWorkerCommand builds the queue:work command
func NewWorkerCommand(options ...WorkerOption) *cobra.Command {
	o := &workerOptions{}
	for _, opt := range options {
		opt(o)
	}
	f := &workFlags{}

	cmd := &cobra.Command{
		Use:     "queue:work",
		Aliases: []string{"worker"},
		Short:   "Start queue workers",
		Long: `Start one worker per --queue. A queue may name its connection as
queue@connection; otherwise QUEUE_CONNECTION is used.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			logger := telemetry.SetGlobalLogger(cfg.App)

			opts := worker.Options{Concurrency: f.concurrency, MaxTries: f.maxTries, Timeout: f.timeout}
			if !cmd.Flags().Changed("workers") {
				opts.Concurrency = cfg.Worker.Concurrency
			}
			addr := f.metricsAddr
			if addr == "" {
				addr = cfg.Metrics.Addr
			}

			bindings, resolver, err := queueBindings(cfg, logger, f.queues, opts)
			if err != nil {
				return err
			}

			tp, err := telemetry.InitTracer(cfg.App.Name, nil)
			if err != nil {
				return fmt.Errorf("initialize tracer: %w", err)
			}
			defer func() {
				if err := tp.Shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("Error shutting down tracer")
				}
			}()

			manager := connection.NewManager(cfg, logger)
			defer func() {
				if err := manager.Close(); err != nil {
					logger.Error().Err(err).Msg("Error closing queue connections")
				}
			}()

			var connector worker.Connector = manager
			if o.connector != nil {
				connector = o.connector
			}
			failed := o.failed
			if failed == nil {
				if failed, err = manager.FailedJobProvider(); err != nil {
					return fmt.Errorf("failed job provider: %w", err)
				}
			}

			host, err := processor.NewBuilder().
				WithProcessor(queue.Default().Processor()).
				WithFactory(worker.NewFactory(connector, failed, tp.Tracer("queuehost/worker"), logger)).
				WithLogger(logger).
				Build()
			if err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			m, err := metrics.New(reg)
			if err != nil {
				return err
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			var srv *http.Server
			if addr != "" {
				srv = &http.Server{Addr: addr, Handler: m.Router(), ReadHeaderTimeout: 5 * time.Second}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error().Err(err).Str("addr", addr).Msg("Metrics server stopped")
					}
				}()
				logger.Info().Str("addr", addr).Msg("Serving metrics")
			}

			var runErr error
			signalName := "startup-failure"
			if err := registrar.New(resolver, logger, m.Subscriptions()...).Register(cmd.Context(), host, bindings...); err != nil {
				runErr = err
				logger.Error().Err(err).Msg("Error registering workers")
			} else {
				for _, name := range host.QueueNames() {
					m.Started(name)
				}
				logger.Info().Strs("queues", host.QueueNames()).Int("workers", opts.Concurrency).Msg("Worker pool started")

				select {
				case sig := <-sigCh:
					signalName = sig.String()
				case <-cmd.Context().Done():
					signalName = "context-done"
				}
			}
			logger.Info().Str("signal", signalName).Msg("Shutting down workers...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), f.shutdownTimeout)
			defer cancel()

			runErr = multierr.Append(runErr, host.Shutdown(shutdownCtx, signalName))
			if srv != nil {
				runErr = multierr.Append(runErr, srv.Shutdown(shutdownCtx))
			}
			logger.Info().Err(runErr).Msg("Worker pool stopped")
			return runErr
		},
	}

	cmd.Flags().StringSliceVar(&f.queues, "queue", []string{queue.DefaultQueue}, "Queue to process, as name or name@connection (repeatable)")
	cmd.Flags().IntVar(&f.concurrency, "workers", 5, "Number of concurrent jobs per queue")
	cmd.Flags().IntVar(&f.maxTries, "tries", 1, "Attempts for jobs that do not set maxTries")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "Job timeout for jobs that do not set one")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "Address for /metrics and /healthz (disabled when empty)")
	cmd.Flags().DurationVar(&f.shutdownTimeout, "shutdown-timeout", 30*time.Second, "Time allowed for in-flight jobs on shutdown")
	return cmd
}

// queueBindings turns --queue values into bindings. A value "name@connection"
// pins the queue to connection; other queues use the default configuration.
func queueBindings(cfg *config.Config, logger zerolog.Logger, names []string, opts worker.Options) ([]registrar.Binding, *config.Resolver, error) {
	resolver := config.NewResolver(cfg, logger)
	bindings := make([]registrar.Binding, 0, len(names))
	seen := make(map[string]bool, len(names))

	for _, raw := range names {
		name, conn, pinned := strings.Cut(strings.TrimSpace(raw), "@")
		if name == "" || (pinned && conn == "") {
			return nil, nil, fmt.Errorf("invalid --queue value %q", raw)
		}
		if seen[name] {
			continue
		}
		seen[name] = true

		if pinned {
			resolver.SetQueue(name, config.QueueOptions{
				Connection:       conn,
				Prefix:           cfg.Queue.Prefix,
				SharedConnection: cfg.Queue.SharedConnection,
			})
		}
		bindings = append(bindings, registrar.Bind(name).WithOptions(opts))
	}
	return bindings, resolver, nil
}
