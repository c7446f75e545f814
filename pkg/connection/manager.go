// Package connection turns queue options into queue drivers, sharing one
// client per connection name when asked to.
package connection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sync"

	natsgo "github.com/nats-io/nats.go"
	"github.com/pixelvide/queuehost/pkg/config"
	"github.com/pixelvide/queuehost/pkg/database"
	dbdriver "github.com/pixelvide/queuehost/pkg/driver/database"
	natsdriver "github.com/pixelvide/queuehost/pkg/driver/nats"
	redisdriver "github.com/pixelvide/queuehost/pkg/driver/redis"
	sqsdriver "github.com/pixelvide/queuehost/pkg/driver/sqs"
	"github.com/pixelvide/queuehost/pkg/queue"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

// Connection names
const (
	Redis    = "redis"
	Database = "database"
	SQS      = "sqs"
	NATS     = "nats"
)

// ErrUnsupportedConnection is returned for unknown connection names
var ErrUnsupportedConnection = errors.New("unsupported queue connection")

// Manager creates drivers for worker queue options. Shared clients are owned
// by the Manager and released by Close; all other clients belong to the
// driver they were created for.
type Manager struct {
	cfg    *config.Config
	logger zerolog.Logger

	// Dialers, replaceable in tests
	OpenDB   func(cfg config.DatabaseConfig) (*sql.DB, error)
	OpenSQS  func(ctx context.Context, cfg config.SQSConfig) (sqsdriver.API, error)
	OpenNATS func(url string) (*natsgo.Conn, error)

	mu     sync.Mutex
	redis  *goredis.Client
	db     *sql.DB
	sqs    sqsdriver.API
	nats   *natsgo.Conn
	closed bool
}

// NewManager creates a Manager for cfg
func NewManager(cfg *config.Config, logger zerolog.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		logger: logger,
		OpenDB: database.NewFactory().Connect,
		OpenSQS: func(ctx context.Context, cfg config.SQSConfig) (sqsdriver.API, error) {
			return config.LoadSQSClient(ctx, cfg)
		},
		OpenNATS: natsdriver.Connect,
	}
}

// Connect returns a driver for opts. Without SharedConnection the driver owns
// a dedicated client and closes it on Close.
func (m *Manager) Connect(ctx context.Context, opts config.QueueOptions) (queue.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errors.New("connection manager is closed")
	}

	shared := opts.SharedConnection
	switch opts.Connection {
	case Redis:
		if !shared {
			return redisdriver.NewRedisDriver(m.cfg.Redis, opts.Prefix), nil
		}
		if m.redis == nil {
			m.redis = redisdriver.NewRedisDriver(m.cfg.Redis, "").Client()
		}
		return redisdriver.NewRedisDriverWithClient(m.redis, opts.Prefix, false), nil

	case Database:
		if !shared {
			db, err := m.OpenDB(m.cfg.Database)
			if err != nil {
				return nil, err
			}
			return dbdriver.NewOwnedDatabaseDriver(m.cfg.Database, db), nil
		}
		db, err := m.sharedDB()
		if err != nil {
			return nil, err
		}
		return dbdriver.NewDatabaseDriver(m.cfg.Database, db), nil

	case SQS:
		// SQS clients hold no connections of their own, so one is always shared
		if m.sqs == nil {
			client, err := m.OpenSQS(ctx, m.cfg.SQS)
			if err != nil {
				return nil, fmt.Errorf("load sqs client: %w", err)
			}
			m.sqs = client
		}
		prefix := opts.Prefix
		if prefix == "" || prefix == m.cfg.Queue.Prefix {
			prefix = m.cfg.SQS.Prefix
		}
		return sqsdriver.NewSQSDriver(m.sqs, prefix), nil

	case NATS:
		if !shared {
			conn, err := m.OpenNATS(m.cfg.NATS.URL)
			if err != nil {
				return nil, fmt.Errorf("connect nats: %w", err)
			}
			return natsdriver.NewNATSDriver(conn, opts.Prefix, true), nil
		}
		if m.nats == nil {
			conn, err := m.OpenNATS(m.cfg.NATS.URL)
			if err != nil {
				return nil, fmt.Errorf("connect nats: %w", err)
			}
			m.nats = conn
		}
		return natsdriver.NewNATSDriver(m.nats, opts.Prefix, false), nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnsupportedConnection, opts.Connection)
}

// sharedDB must be called with m.mu held
func (m *Manager) sharedDB() (*sql.DB, error) {
	if m.db != nil {
		return m.db, nil
	}
	db, err := m.OpenDB(m.cfg.Database)
	if err != nil {
		return nil, err
	}
	m.db = db
	return db, nil
}

// FailedJobProvider returns the failed job store matching the default queue
// connection, or nil when the connection has none.
func (m *Manager) FailedJobProvider() (queue.FailedJobProvider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.cfg.Queue.Connection {
	case Database:
		db, err := m.sharedDB()
		if err != nil {
			return nil, err
		}
		return dbdriver.NewDatabaseFailedJobProvider(db, m.cfg.Queue.FailedTable, m.cfg.Database.Connection), nil
	case Redis:
		if m.redis == nil {
			m.redis = redisdriver.NewRedisDriver(m.cfg.Redis, "").Client()
		}
		return redisdriver.NewFailedJobProvider(redisdriver.NewRedisDriverWithClient(m.redis, m.cfg.Queue.Prefix, false)), nil
	}
	return nil, nil
}

// RedisClient returns the shared Redis client, creating it if needed
func (m *Manager) RedisClient() *goredis.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.redis == nil {
		m.redis = redisdriver.NewRedisDriver(m.cfg.Redis, "").Client()
	}
	return m.redis
}

// DB returns the shared database pool, opening it if needed
func (m *Manager) DB() (*sql.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sharedDB()
}

// Close releases every shared client. Call it after all workers are closed.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	var closers []io.Closer
	if m.redis != nil {
		closers = append(closers, m.redis)
	}
	if m.db != nil {
		closers = append(closers, m.db)
	}

	var err error
	for _, c := range closers {
		err = multierr.Append(err, c.Close())
	}
	if m.nats != nil {
		m.nats.Close()
	}
	m.logger.Debug().Err(err).Msg("Shared queue connections closed")
	return err
}
