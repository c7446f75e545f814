package database

import (
	"context"
	"database/sql"
	"time"
)

// DatabaseFailedJobProvider implements queue.FailedJobProvider using a SQL database
type DatabaseFailedJobProvider struct {
	db     *sql.DB
	table  string
	driver string
}

// NewDatabaseFailedJobProvider creates a new provider. connection selects the
// placeholder dialect (mysql, pgsql).
func NewDatabaseFailedJobProvider(db *sql.DB, tableName string, connection string) *DatabaseFailedJobProvider {
	if tableName == "" {
		tableName = "failed_jobs"
	}
	return &DatabaseFailedJobProvider{
		db:     db,
		table:  tableName,
		driver: normalizeDriver(connection),
	}
}

// Log records a failed job to the database
func (p *DatabaseFailedJobProvider) Log(ctx context.Context, connection string, queue string, payload []byte, exception string) error {
	query := rebind(p.driver, `
		INSERT INTO `+p.table+` (connection, queue, payload, exception, failed_at)
		VALUES (?, ?, ?, ?, ?)`)

	_, err := p.db.ExecContext(ctx, query, connection, queue, payload, exception, time.Now())
	return err
}
