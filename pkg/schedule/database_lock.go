package schedule

import (
	"context"
	"database/sql"
	"errors"
	"hash/crc32"
	"time"
)

// DatabaseLockProvider implements LockProvider with MySQL named locks or
// PostgreSQL advisory locks. Both are tied to a session, so the provider pins
// one pooled connection per held lock.
type DatabaseLockProvider struct {
	db       *sql.DB
	postgres bool

	mu    chanMutex
	conns map[string]*sql.Conn
}

// NewDatabaseLockProvider creates a lock provider for the given database
// connection name ("mysql", "pgsql", "postgres")
func NewDatabaseLockProvider(db *sql.DB, driver string) *DatabaseLockProvider {
	return &DatabaseLockProvider{
		db:       db,
		postgres: driver == "postgres" || driver == "pgsql" || driver == "pq",
		mu:       make(chanMutex, 1),
		conns:    make(map[string]*sql.Conn),
	}
}

// GetLock attempts to acquire the lock without waiting
func (d *DatabaseLockProvider) GetLock(ctx context.Context, name string, duration time.Duration) (bool, error) {
	if err := d.mu.lock(ctx); err != nil {
		return false, err
	}
	defer d.mu.unlock()

	if _, held := d.conns[name]; held {
		return false, nil
	}

	conn, err := d.db.Conn(ctx)
	if err != nil {
		return false, err
	}

	acquired, err := d.tryLock(ctx, conn, name)
	if err != nil || !acquired {
		conn.Close()
		return false, err
	}
	d.conns[name] = conn
	return true, nil
}

// ReleaseLock releases a lock held by this provider
func (d *DatabaseLockProvider) ReleaseLock(ctx context.Context, name string) error {
	if err := d.mu.lock(ctx); err != nil {
		return err
	}
	defer d.mu.unlock()

	conn, held := d.conns[name]
	if !held {
		return nil
	}
	delete(d.conns, name)
	defer conn.Close()

	if d.postgres {
		var released bool
		return conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", hashName(name)).Scan(&released)
	}
	var result sql.NullInt64
	return conn.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?)", name).Scan(&result)
}

func (d *DatabaseLockProvider) tryLock(ctx context.Context, conn *sql.Conn, name string) (bool, error) {
	if d.postgres {
		var success bool
		err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", hashName(name)).Scan(&success)
		return success, err
	}

	// GET_LOCK returns 1 on success, 0 on timeout and NULL on error
	var result sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, 0)", name).Scan(&result); err != nil {
		return false, err
	}
	if !result.Valid {
		return false, errors.New("GET_LOCK returned NULL")
	}
	return result.Int64 == 1, nil
}

// hashName maps a lock name onto the bigint key space of advisory locks
func hashName(name string) int64 {
	return int64(crc32.ChecksumIEEE([]byte(name)))
}

// chanMutex is a mutex whose acquisition honours ctx
type chanMutex chan struct{}

func (m chanMutex) lock(ctx context.Context) error {
	select {
	case m <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m chanMutex) unlock() { <-m }
