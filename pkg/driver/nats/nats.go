package nats

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/pixelvide/queuehost/pkg/queue"
)

// QueueGroup is the NATS queue group all workers of a subject join, so each
// message is delivered to one worker.
const QueueGroup = "queuehost-workers"

// NATSDriver implements queue.Driver on core NATS queue subscriptions.
// Delivery is at-most-once; Ack is a no-op.
type NATSDriver struct {
	conn   *nats.Conn
	prefix string
	owned  bool

	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NewNATSDriver creates a driver on conn. The connection is closed by Close
// only when owned is true.
func NewNATSDriver(conn *nats.Conn, prefix string, owned bool) *NATSDriver {
	return &NATSDriver{
		conn:   conn,
		prefix: prefix,
		owned:  owned,
		subs:   make(map[string]*nats.Subscription),
	}
}

// Connect dials a NATS server with reconnects enabled
func Connect(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("queuehost"),
		nats.MaxReconnects(-1),
	)
}

// Subject returns the subject for a queue
func (d *NATSDriver) Subject(queueName string) string {
	if d.prefix == "" {
		return queueName
	}
	return d.prefix + "." + queueName
}

func (d *NATSDriver) subscription(queueName string) (*nats.Subscription, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if sub, ok := d.subs[queueName]; ok {
		return sub, nil
	}
	sub, err := d.conn.QueueSubscribeSync(d.Subject(queueName), QueueGroup)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", d.Subject(queueName), err)
	}
	d.subs[queueName] = sub
	return sub, nil
}

// Pop blocks until a message arrives on the queue subject or ctx is done
func (d *NATSDriver) Pop(ctx context.Context, queueName string) (*queue.Job, error) {
	sub, err := d.subscription(queueName)
	if err != nil {
		return nil, err
	}

	msg, err := sub.NextMsgWithContext(ctx)
	if err != nil {
		return nil, err
	}

	job := &queue.Job{Body: msg.Data}
	if msg.Header != nil {
		job.ID = msg.Header.Get(nats.MsgIdHdr)
	}
	return job, nil
}

// Push publishes a job on the queue subject
func (d *NATSDriver) Push(ctx context.Context, queueName string, body []byte) error {
	return d.conn.Publish(d.Subject(queueName), body)
}

// Ack is a no-op for core NATS
func (d *NATSDriver) Ack(ctx context.Context, job *queue.Job) error {
	return nil
}

// Close removes the driver's subscriptions and closes an owned connection
func (d *NATSDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var firstErr error
	for name, sub := range d.subs {
		if err := sub.Unsubscribe(); err != nil && firstErr == nil && d.conn.IsConnected() {
			firstErr = err
		}
		delete(d.subs, name)
	}
	if d.owned {
		d.conn.Close()
	}
	return firstErr
}
