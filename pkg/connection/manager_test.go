package connection

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	natsgo "github.com/nats-io/nats.go"
	"github.com/pixelvide/queuehost/pkg/config"
	dbdriver "github.com/pixelvide/queuehost/pkg/driver/database"
	redisdriver "github.com/pixelvide/queuehost/pkg/driver/redis"
	sqsdriver "github.com/pixelvide/queuehost/pkg/driver/sqs"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Queue:    config.QueueConfig{Connection: Redis, Prefix: "queues", FailedTable: "failed_jobs"},
		Redis:    config.RedisConfig{Host: "127.0.0.1", Port: 6379},
		Database: config.DatabaseConfig{Connection: "mysql", Table: "jobs"},
		SQS:      config.SQSConfig{Region: "us-east-1", Prefix: "https://sqs.local/000"},
		NATS:     config.NATSConfig{URL: "nats://127.0.0.1:4222"},
	}
}

func TestManager_RedisSharing(t *testing.T) {
	m := NewManager(testConfig(), zerolog.Nop())
	ctx := context.Background()

	a, err := m.Connect(ctx, config.QueueOptions{Connection: Redis, Prefix: "queues", SharedConnection: true})
	require.NoError(t, err)
	b, err := m.Connect(ctx, config.QueueOptions{Connection: Redis, Prefix: "other", SharedConnection: true})
	require.NoError(t, err)

	ra, rb := a.(*redisdriver.RedisDriver), b.(*redisdriver.RedisDriver)
	assert.Same(t, ra.Client(), rb.Client())
	assert.Same(t, m.RedisClient(), ra.Client())
	assert.Equal(t, "other:sms", rb.Key("sms"))

	dedicated, err := m.Connect(ctx, config.QueueOptions{Connection: Redis, Prefix: "queues"})
	require.NoError(t, err)
	assert.NotSame(t, ra.Client(), dedicated.(*redisdriver.RedisDriver).Client())

	// Closing a shared driver leaves the client to the manager
	require.NoError(t, ra.Close())
	require.NoError(t, dedicated.(io.Closer).Close())
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	_, err = m.Connect(ctx, config.QueueOptions{Connection: Redis})
	assert.Error(t, err)
}

func TestManager_DatabaseSharing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	m := NewManager(testConfig(), zerolog.Nop())
	opened := 0
	m.OpenDB = func(cfg config.DatabaseConfig) (*sql.DB, error) {
		opened++
		return db, nil
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		d, err := m.Connect(ctx, config.QueueOptions{Connection: Database, SharedConnection: true})
		require.NoError(t, err)
		assert.IsType(t, &dbdriver.DatabaseDriver{}, d)
	}
	assert.Equal(t, 1, opened)

	shared, err := m.DB()
	require.NoError(t, err)
	assert.Same(t, db, shared)

	mock.ExpectClose()
	require.NoError(t, m.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestManager_DatabaseOpenError(t *testing.T) {
	m := NewManager(testConfig(), zerolog.Nop())
	m.OpenDB = func(cfg config.DatabaseConfig) (*sql.DB, error) {
		return nil, errors.New("failed to ping database")
	}

	_, err := m.Connect(context.Background(), config.QueueOptions{Connection: Database})
	assert.ErrorContains(t, err, "failed to ping database")
}

// nopSQS satisfies sqsdriver.API; URL resolution by prefix never calls it
type nopSQS struct {
	sqsdriver.API
}

func TestManager_SQSUsesConfiguredPrefix(t *testing.T) {
	m := NewManager(testConfig(), zerolog.Nop())
	loads := 0
	m.OpenSQS = func(ctx context.Context, cfg config.SQSConfig) (sqsdriver.API, error) {
		loads++
		return nopSQS{}, nil
	}

	ctx := context.Background()
	d, err := m.Connect(ctx, config.QueueOptions{Connection: SQS, Prefix: "queues"})
	require.NoError(t, err)
	url, err := d.(*sqsdriver.SQSDriver).QueueURL(ctx, "emails")
	require.NoError(t, err)
	assert.Equal(t, "https://sqs.local/000/emails", url)

	d, err = m.Connect(ctx, config.QueueOptions{Connection: SQS, Prefix: "https://sqs.other/111"})
	require.NoError(t, err)
	url, err = d.(*sqsdriver.SQSDriver).QueueURL(ctx, "emails")
	require.NoError(t, err)
	assert.Equal(t, "https://sqs.other/111/emails", url)

	assert.Equal(t, 1, loads)
}

func TestManager_NATSConnectError(t *testing.T) {
	m := NewManager(testConfig(), zerolog.Nop())
	m.OpenNATS = func(url string) (*natsgo.Conn, error) {
		return nil, natsgo.ErrNoServers
	}

	_, err := m.Connect(context.Background(), config.QueueOptions{Connection: NATS, SharedConnection: true})
	assert.ErrorIs(t, err, natsgo.ErrNoServers)
}

func TestManager_UnsupportedConnection(t *testing.T) {
	m := NewManager(testConfig(), zerolog.Nop())

	_, err := m.Connect(context.Background(), config.QueueOptions{Connection: "beanstalkd"})
	assert.ErrorIs(t, err, ErrUnsupportedConnection)
}

func TestManager_FailedJobProvider(t *testing.T) {
	cfg := testConfig()
	m := NewManager(cfg, zerolog.Nop())

	p, err := m.FailedJobProvider()
	require.NoError(t, err)
	assert.IsType(t, &redisdriver.FailedJobProvider{}, p)

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cfg.Queue.Connection = Database
	m = NewManager(cfg, zerolog.Nop())
	m.OpenDB = func(config.DatabaseConfig) (*sql.DB, error) { return db, nil }

	p, err = m.FailedJobProvider()
	require.NoError(t, err)
	assert.IsType(t, &dbdriver.DatabaseFailedJobProvider{}, p)

	cfg.Queue.Connection = SQS
	p, err = NewManager(cfg, zerolog.Nop()).FailedJobProvider()
	require.NoError(t, err)
	assert.Nil(t, p)
}
