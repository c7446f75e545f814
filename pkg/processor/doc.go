// Package processor binds one processing function to workers on any number
// of named queues.
//
// A Host is built once with its processor and a worker factory:
//
//	host, err := processor.NewBuilder().
//		WithProcessor(queue.Default().Processor()).
//		WithFactory(worker.NewFactory(connections, failed, tracer, logger)).
//		Build()
//
// RegisterWorker is idempotent per queue name: the first call creates,
// subscribes and starts a worker, later calls return the same handle.
// Shutdown closes every handle the Host created, once.
package processor
