// Package container provides dependency injection and lifecycle management
// for the FormBridge system following Clean Architecture principles.
package container

import (
	"fmt"
	"time"

	"github.com/formbridge/formbridge/internal/domain/intake"
	"github.com/formbridge/formbridge/internal/notifier"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	// Database configuration
	Database DatabaseConfig

	// Server configuration
	Server ServerConfig

	// Delivery configuration
	Delivery DeliveryConfig

	// Expiry sweeper configuration
	Expiry ExpiryConfig

	// Notifier configuration
	Notifier notifier.Config

	// Intakes are the form definitions to register at startup
	Intakes []*intake.Intake
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int

	// ConnMaxLifetime is the maximum connection lifetime
	ConnMaxLifetime time.Duration
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host to bind to
	Host string

	// Port to listen on
	Port int

	// ReadTimeout for HTTP server
	ReadTimeout time.Duration

	// WriteTimeout for HTTP server
	WriteTimeout time.Duration
}

// DeliveryConfig holds webhook delivery settings.
type DeliveryConfig struct {
	// Timeout bounds a single delivery attempt
	Timeout time.Duration
}

// ExpiryConfig holds expiry sweeper settings.
type ExpiryConfig struct {
	// SweepInterval is how often the sweeper scans for overdue submissions
	SweepInterval time.Duration

	// BatchSize caps how many submissions one sweep expires
	BatchSize int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:            "data/formbridge.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         3000,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Delivery: DeliveryConfig{
			Timeout: 30 * time.Second,
		},
		Expiry: ExpiryConfig{
			SweepInterval: time.Minute,
			BatchSize:     100,
		},
		Notifier: notifier.Config{
			Provider: "log",
		},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	// Validate database configuration
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	// Validate delivery configuration
	if c.Delivery.Timeout <= 0 {
		return fmt.Errorf("delivery.timeout must be positive")
	}

	// Validate expiry configuration
	if c.Expiry.SweepInterval <= 0 {
		return fmt.Errorf("expiry.sweep_interval must be positive")
	}
	if c.Expiry.BatchSize <= 0 {
		return fmt.Errorf("expiry.batch_size must be positive")
	}

	// Validate notifier configuration
	if c.Notifier.Provider == "lark" {
		if c.Notifier.AppID == "" {
			return fmt.Errorf("notifier.app_id is required")
		}
		if c.Notifier.AppSecret == "" {
			return fmt.Errorf("notifier.app_secret is required")
		}
	}

	return nil
}
