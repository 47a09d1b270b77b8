package database

import (
	"embed"
	"errors"
	"io/fs"
	"time"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Migrations returns the schema migrations shipped with the binary
func Migrations() fs.FS {
	sub, err := fs.Sub(embeddedMigrations, "migrations")
	if err != nil {
		// the embed pattern above guarantees the directory exists
		panic(err)
	}
	return sub
}

// Config holds database configuration
type Config struct {
	DatabasePath    string        `json:"database_path"`
	MaxConnections  int           `json:"max_connections"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`

	// RetryDelay is how long a failed write waits before its single retry.
	// Zero disables the retry.
	RetryDelay time.Duration `json:"retry_delay"`

	// Migrations defaults to the embedded set when nil
	Migrations fs.FS `json:"-"`
}

// DefaultConfig returns a configuration sized for a single SQLite file
// shared by a few hundred concurrent chat users.
func DefaultConfig() *Config {
	return &Config{
		DatabasePath:    "./data/coursechat.db",
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		RetryDelay:      time.Second,
	}
}

// Validate ensures the configuration is valid
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return errors.New("database path cannot be empty")
	}
	if c.MaxConnections <= 0 {
		return errors.New("max connections must be greater than 0")
	}
	if c.ConnMaxLifetime <= 0 {
		return errors.New("connection max lifetime must be greater than 0")
	}
	if c.ConnMaxIdleTime <= 0 {
		return errors.New("connection max idle time must be greater than 0")
	}
	if c.RetryDelay < 0 {
		return errors.New("retry delay cannot be negative")
	}
	return nil
}

// MigrationsFS returns the configured migrations or the embedded set
func (c *Config) MigrationsFS() fs.FS {
	if c.Migrations != nil {
		return c.Migrations
	}
	return Migrations()
}
