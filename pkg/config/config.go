package config

import (
	"net"
	"strconv"
)

// Config is the full environment-driven configuration
type Config struct {
	App      AppConfig      `envPrefix:"APP_"`
	Queue    QueueConfig    `envPrefix:"QUEUE_"`
	Worker   WorkerConfig   `envPrefix:"WORKER_"`
	Cache    CacheConfig    `envPrefix:"CACHE_"`
	Metrics  MetricsConfig  `envPrefix:"METRICS_"`
	Redis    RedisConfig    `envPrefix:"REDIS_"`
	Database DatabaseConfig `envPrefix:"DB_"`
	SQS      SQSConfig      `envPrefix:"SQS_"`
	NATS     NATSConfig     `envPrefix:"NATS_"`
}

// AppConfig identifies the running service
type AppConfig struct {
	Name      string `env:"NAME" envDefault:"queuehost"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"` // console, json
}

// QueueConfig holds the default queue connection settings
type QueueConfig struct {
	Connection       string `env:"CONNECTION" envDefault:"redis"`
	Prefix           string `env:"PREFIX" envDefault:"queues"`
	SharedConnection bool   `env:"SHARED_CONNECTION" envDefault:"true"`
	FailedTable      string `env:"FAILED_TABLE" envDefault:"failed_jobs"`
}

// WorkerConfig holds configuration for the worker pool
type WorkerConfig struct {
	Concurrency int `env:"CONCURRENCY" envDefault:"5"`
}

// CacheConfig selects the store used for scheduler locks
type CacheConfig struct {
	Store string `env:"STORE" envDefault:"file"`
}

// MetricsConfig controls the Prometheus endpoint. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `env:"ADDR"`
}

// RedisConfig holds configuration for Redis connection
type RedisConfig struct {
	Host     string `env:"HOST" envDefault:"127.0.0.1"`
	Port     int    `env:"PORT" envDefault:"6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

// Addr returns the host:port address of the Redis server
func (c RedisConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// DatabaseConfig holds configuration for SQL database connection
type DatabaseConfig struct {
	Connection string `env:"CONNECTION" envDefault:"mysql"` // mysql, pgsql
	Host       string `env:"HOST" envDefault:"127.0.0.1"`
	Port       string `env:"PORT" envDefault:"3306"`
	Database   string `env:"DATABASE"`
	Username   string `env:"USERNAME"`
	Password   string `env:"PASSWORD"`
	Table      string `env:"QUEUE_TABLE" envDefault:"jobs"` // jobs table name
}

// NATSConfig holds configuration for a NATS connection
type NATSConfig struct {
	URL string `env:"URL" envDefault:"nats://127.0.0.1:4222"`
}
