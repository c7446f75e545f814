package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pixelvide/queuehost/pkg/config"
	"github.com/pixelvide/queuehost/pkg/queue"
)

const (
	driverMySQL    = "mysql"
	driverPostgres = "postgres"

	pollInterval = time.Second
)

// DatabaseDriver implements queue.Driver for SQL databases
type DatabaseDriver struct {
	db    *sql.DB
	table string
	owned bool

	mu     sync.RWMutex
	driver string // placeholder dialect, switched to postgres on detection
}

// NewDatabaseDriver creates a new database driver on a shared connection
func NewDatabaseDriver(cfg config.DatabaseConfig, db *sql.DB) *DatabaseDriver {
	tableName := cfg.Table
	if tableName == "" {
		tableName = "jobs"
	}
	return &DatabaseDriver{
		db:     db,
		table:  tableName,
		driver: normalizeDriver(cfg.Connection),
	}
}

// NewOwnedDatabaseDriver creates a driver that closes db on Close
func NewOwnedDatabaseDriver(cfg config.DatabaseConfig, db *sql.DB) *DatabaseDriver {
	d := NewDatabaseDriver(cfg, db)
	d.owned = true
	return d
}

func normalizeDriver(name string) string {
	switch name {
	case "postgres", "pgsql", "pq":
		return driverPostgres
	default:
		return driverMySQL
	}
}

// rebind rewrites ? placeholders to $n for postgres
func (d *DatabaseDriver) rebind(query string) string {
	d.mu.RLock()
	driver := d.driver
	d.mu.RUnlock()
	return rebind(driver, query)
}

func rebind(driver, query string) string {
	if driver != driverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// detect switches to postgres placeholders when the server reports pq errors
func (d *DatabaseDriver) detect(err error) {
	if err == nil || !strings.HasPrefix(err.Error(), "pq:") {
		return
	}
	d.mu.Lock()
	d.driver = driverPostgres
	d.mu.Unlock()
}

// Pop polls the jobs table until a job is available or ctx is done
func (d *DatabaseDriver) Pop(ctx context.Context, queueName string) (*queue.Job, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			job, err := d.popJob(ctx, queueName)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					continue
				}
				return nil, err
			}
			return job, nil
		}
	}
}

// popJob claims and deletes the oldest available job in one transaction.
// A worker crash after popJob loses the job.
func (d *DatabaseDriver) popJob(ctx context.Context, queueName string) (*queue.Job, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := d.rebind(fmt.Sprintf(`
		SELECT id, payload
		FROM %s
		WHERE queue = ?
		AND (reserved_at IS NULL OR reserved_at <= ?)
		AND available_at <= ?
		ORDER BY id ASC
		LIMIT 1 FOR UPDATE`, d.table))

	now := time.Now().Unix()

	var id int64
	var payload []byte

	err = tx.QueryRowContext(ctx, query, queueName, now, now).Scan(&id, &payload)
	if err != nil {
		d.detect(err)
		return nil, err
	}

	_, err = tx.ExecContext(ctx, d.rebind(fmt.Sprintf("DELETE FROM %s WHERE id = ?", d.table)), id)
	if err != nil {
		d.detect(err)
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &queue.Job{
		ID:   strconv.FormatInt(id, 10),
		Body: payload,
	}, nil
}

// Push adds a job to the database
func (d *DatabaseDriver) Push(ctx context.Context, queueName string, body []byte) error {
	query := d.rebind(fmt.Sprintf(`
		INSERT INTO %s (queue, payload, attempts, available_at, created_at)
		VALUES (?, ?, 0, ?, ?)`, d.table))

	now := time.Now().Unix()
	_, err := d.db.ExecContext(ctx, query, queueName, body, now, now)
	d.detect(err)
	return err
}

// Ack is a no-op: popJob already deleted the row
func (d *DatabaseDriver) Ack(ctx context.Context, job *queue.Job) error {
	return nil
}

// Close closes the connection pool if the driver owns it
func (d *DatabaseDriver) Close() error {
	if !d.owned {
		return nil
	}
	return d.db.Close()
}
