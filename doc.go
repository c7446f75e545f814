// Package queuehost hosts queue workers for Laravel-compatible jobs.
//
// A processor.Host owns one job processor and at most one worker per queue
// name. Workers are created through an injected worker.Factory, receive
// their event subscriptions before they start consuming, and are closed
// together by Host.Shutdown.
//
// Key subpackages:
//
//	github.com/pixelvide/queuehost/pkg/processor   - Host: worker registration and shutdown
//	github.com/pixelvide/queuehost/pkg/worker      - Worker, events, options and factories
//	github.com/pixelvide/queuehost/pkg/registrar   - Declared queue bindings resolved against configuration
//	github.com/pixelvide/queuehost/pkg/config      - Environment configuration and queue option resolution
//	github.com/pixelvide/queuehost/pkg/connection  - Shared and dedicated connections per queue
//	github.com/pixelvide/queuehost/pkg/driver      - Queue drivers (redis, database, sqs, nats)
//	github.com/pixelvide/queuehost/pkg/queue       - Job payloads, handler registry and publisher
//	github.com/pixelvide/queuehost/pkg/schedule    - Cron kernel with distributed locks
//	github.com/pixelvide/queuehost/pkg/metrics     - Prometheus collectors fed by worker events
//
// Example Usage:
//
//	queue.Register("App\\Jobs\\SendEmail", SendEmail)
//
//	cfg, _ := config.Load()
//	manager := connection.NewManager(cfg, log.Logger)
//	defer manager.Close()
//
//	host, err := processor.NewBuilder().
//		WithProcessor(queue.Default().Processor()).
//		WithFactory(worker.NewFactory(manager, nil, nil, log.Logger)).
//		Build()
//	if err != nil {
//		log.Fatal().Err(err).Send()
//	}
//
//	_, err = host.RegisterWorker(ctx, "emails",
//		worker.Options{QueueOptions: config.QueueOptions{Connection: "redis", Prefix: "queues"}, Concurrency: 5},
//		worker.On(worker.EventFailed, onFailed))
//	...
//	err = host.Shutdown(context.Background(), "SIGTERM")
package queuehost
