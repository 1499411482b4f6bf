package config

import (
	"github.com/formbridge/formbridge/internal/container"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	return &container.Config{
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
		},
		Server: container.ServerConfig{
			Host:         c.Server.Host,
			Port:         c.Server.Port,
			ReadTimeout:  c.Server.ReadTimeout,
			WriteTimeout: c.Server.WriteTimeout,
		},
		Delivery: container.DeliveryConfig{
			Timeout: c.Delivery.Timeout,
		},
		Expiry: container.ExpiryConfig{
			SweepInterval: c.Expiry.SweepInterval,
			BatchSize:     c.Expiry.BatchSize,
		},
		Notifier: c.Notifier,
		Intakes:  c.Intakes,
	}
}
