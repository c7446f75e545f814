package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/pixelvide/queuehost/pkg/config"
)

// Factory creates database connections
type Factory struct {
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// NewFactory creates a new Factory
func NewFactory() *Factory {
	return &Factory{
		MaxOpenConns:    25,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DSN returns the sql driver name and data source name for cfg
func DSN(cfg config.DatabaseConfig) (string, string, error) {
	switch cfg.Connection {
	case "mysql":
		return "mysql", fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&loc=Local",
			cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database), nil
	case "pgsql", "postgres":
		return "postgres", fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database), nil
	default:
		return "", "", fmt.Errorf("unsupported database connection: %s", cfg.Connection)
	}
}

// Connect creates a new database connection based on configuration
func (f *Factory) Connect(cfg config.DatabaseConfig) (*sql.DB, error) {
	driverName, dsn, err := DSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(f.MaxOpenConns)
	db.SetMaxIdleConns(f.MaxOpenConns)
	db.SetConnMaxLifetime(f.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
