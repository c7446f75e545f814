package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/pixelvide/queuehost/pkg/config"
	"github.com/pixelvide/queuehost/pkg/queue"
	goredis "github.com/redis/go-redis/v9"
)

// popTimeout bounds each BLPOP so an idle worker reports queue.ErrEmpty
const popTimeout = 5 * time.Second

// RedisDriver implements queue.Driver on Redis lists
type RedisDriver struct {
	client *goredis.Client
	prefix string
	owned  bool
}

// NewRedisDriver creates a driver with its own client
func NewRedisDriver(cfg config.RedisConfig, prefix string) *RedisDriver {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisDriver{client: rdb, prefix: prefix, owned: true}
}

// NewRedisDriverWithClient creates a driver on an existing client. The
// client is closed by Close only when owned is true.
func NewRedisDriverWithClient(client *goredis.Client, prefix string, owned bool) *RedisDriver {
	return &RedisDriver{client: client, prefix: prefix, owned: owned}
}

// Client returns the underlying Redis client
func (r *RedisDriver) Client() *goredis.Client {
	return r.client
}

// Key returns the Redis list key for a queue. Laravel uses "queues:{name}".
func (r *RedisDriver) Key(queueName string) string {
	if r.prefix == "" {
		return queueName
	}
	return r.prefix + ":" + queueName
}

// Pop waits up to popTimeout for a job
func (r *RedisDriver) Pop(ctx context.Context, queueName string) (*queue.Job, error) {
	// BLPOP returns [key, value]
	result, err := r.client.BLPop(ctx, popTimeout, r.Key(queueName)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, queue.ErrEmpty
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, queue.ErrEmpty
	}

	return &queue.Job{
		Body: []byte(result[1]),
	}, nil
}

// Push adds a job to the queue
func (r *RedisDriver) Push(ctx context.Context, queueName string, body []byte) error {
	return r.client.RPush(ctx, r.Key(queueName), body).Err()
}

// Ack is a no-op: BLPOP already removed the job
func (r *RedisDriver) Ack(ctx context.Context, job *queue.Job) error {
	return nil
}

// Close closes the client if the driver owns it
func (r *RedisDriver) Close() error {
	if !r.owned {
		return nil
	}
	return r.client.Close()
}

// FailedJobProvider records failed jobs on a "<queue>:failed" list
type FailedJobProvider struct {
	driver *RedisDriver
}

// NewFailedJobProvider creates a provider that shares the driver's client and prefix
func NewFailedJobProvider(driver *RedisDriver) *FailedJobProvider {
	return &FailedJobProvider{driver: driver}
}

type failedJob struct {
	Connection string          `json:"connection"`
	Queue      string          `json:"queue"`
	Payload    json.RawMessage `json:"payload"`
	Exception  string          `json:"exception"`
	FailedAt   time.Time       `json:"failed_at"`
}

// Log pushes the failed job, with its exception, to the failed list
func (p *FailedJobProvider) Log(ctx context.Context, connection string, queueName string, payload []byte, exception string) error {
	raw := payload
	if !json.Valid(raw) {
		quoted, err := json.Marshal(string(payload))
		if err != nil {
			return err
		}
		raw = quoted
	}

	body, err := json.Marshal(failedJob{
		Connection: connection,
		Queue:      queueName,
		Payload:    raw,
		Exception:  exception,
		FailedAt:   time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return p.driver.client.RPush(ctx, p.driver.Key(queueName)+":failed", body).Err()
}
