// Package database manages the Postgres connection pool backing job, batch,
// credential, and webhook-delivery persistence.
package database

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"github.com/jmoiron/sqlx"

	// registers the pgx stdlib driver under the name "pgx", which Connect
	// dials with.
	_ "github.com/jackc/pgx/v5/stdlib"

	apperrors "github.com/fluxcode/transcoder/internal/errors"
)

// Config holds Postgres connection pool settings.
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns the connection pool defaults for local development.
func DefaultConfig() *Config {
	return &Config{
		Host:            "localhost",
		Port:            5432,
		User:            "transcoder",
		Database:        "transcoder",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// LoadFromEnv overlays DB_* environment variables onto c. Invalid DB_PORT
// values are silently ignored rather than failing the load.
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("DB_HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Port = p
		}
	}
	if v := os.Getenv("DB_USER"); v != "" {
		c.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		c.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		c.Database = v
	}
	if v := os.Getenv("DB_SSL_MODE"); v != "" {
		c.SSLMode = v
	}
}

// Validate checks the fields required to open a pool.
func (c *Config) Validate() error {
	if c.Host == "" {
		return apperrors.NewConfigurationError("database host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return apperrors.NewConfigurationError("database port must be between 1 and 65535")
	}
	if c.User == "" {
		return apperrors.NewConfigurationError("database user is required")
	}
	if c.Database == "" {
		return apperrors.NewConfigurationError("database name is required")
	}
	if c.MaxOpenConns <= 0 {
		return apperrors.NewConfigurationError("max open connections must be greater than 0")
	}
	if c.MaxIdleConns < 0 {
		return apperrors.NewConfigurationError("max idle connections must be non-negative")
	}
	return nil
}

// ConnectionString builds a libpq-style DSN, omitting the password field
// entirely when empty.
func (c *Config) ConnectionString() string {
	if c.Password == "" {
		return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Database, c.SSLMode)
	}
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s password=%s",
		c.Host, c.Port, c.User, c.Database, c.SSLMode, c.Password)
}

// Connect validates config and opens a pooled *sqlx.DB using the pgx driver.
func Connect(config *Config, logger logr.Logger) (*sqlx.DB, error) {
	if err := config.Validate(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindConfiguration, "invalid database configuration", err)
	}

	db, err := sqlx.Connect("pgx", config.ConnectionString())
	if err != nil {
		return nil, apperrors.NewDatabaseError("failed to connect to database", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	logger.Info("connected to database", "host", config.Host, "port", config.Port, "database", config.Database)
	return db, nil
}
