// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository is the SQL-backed store: feedback logs and the generation registry.
type Repository interface {
	FeedbackStore
	GenerationRegistry

	Ping(ctx context.Context) error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `mapstructure:"driver" json:"driver"`

	// SQLite specific
	SQLitePath string `mapstructure:"sqlite_path" json:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `mapstructure:"postgres_host" json:"postgresHost"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgresPort"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgresUser"`
	PostgresPassword string `mapstructure:"postgres_password" json:"-"`
	PostgresDB       string `mapstructure:"postgres_db" json:"postgresDb"`
	PostgresSSLMode  string `mapstructure:"postgres_sslmode" json:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"max_open_conns" json:"maxOpenConns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" json:"maxIdleConns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" json:"connMaxLifetime"`
}
