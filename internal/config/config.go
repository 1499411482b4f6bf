package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/formbridge/formbridge/internal/domain/intake"
	"github.com/formbridge/formbridge/internal/notifier"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig    `mapstructure:"server"`
	Database DatabaseConfig  `mapstructure:"database"`
	Logger   LoggerConfig    `mapstructure:"logger"`
	Delivery DeliveryConfig  `mapstructure:"delivery"`
	Expiry   ExpiryConfig    `mapstructure:"expiry"`
	Notifier notifier.Config `mapstructure:"notifier"`

	// Intakes are the form definitions served by this deployment. Each one
	// names its required fields, approval gates and delivery destinations.
	Intakes []*intake.Intake `mapstructure:"intakes"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// DeliveryConfig holds webhook delivery configuration
type DeliveryConfig struct {
	// Timeout bounds one delivery attempt end to end, connection included.
	Timeout time.Duration `mapstructure:"timeout"`
}

// ExpiryConfig holds expiry sweeper configuration
type ExpiryConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	BatchSize     int           `mapstructure:"batch_size"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	// Set defaults
	setDefaults()

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Override with environment variables
	bindEnvVars()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 3000)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)

	// Database defaults
	viper.SetDefault("database.path", "data/formbridge.db")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	// Logger defaults
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.output_path", "stdout")
	viper.SetDefault("logger.format", "json")

	// Delivery defaults
	viper.SetDefault("delivery.timeout", 30*time.Second)

	// Expiry defaults
	viper.SetDefault("expiry.sweep_interval", time.Minute)
	viper.SetDefault("expiry.batch_size", 100)

	// Notifier defaults
	viper.SetDefault("notifier.provider", "log")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars() {
	// Sensitive credentials from environment
	viper.BindEnv("notifier.app_id", "LARK_APP_ID")
	viper.BindEnv("notifier.app_secret", "LARK_APP_SECRET")
	viper.BindEnv("database.path", "FORMBRIDGE_DB_PATH")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Delivery.Timeout <= 0 {
		return fmt.Errorf("delivery.timeout must be positive")
	}

	// Validate notifier credentials
	if c.Notifier.Provider == "lark" {
		if c.Notifier.AppID == "" {
			return fmt.Errorf("notifier.app_id is required for the lark provider")
		}
		if c.Notifier.AppSecret == "" {
			return fmt.Errorf("notifier.app_secret is required for the lark provider")
		}
	}

	// Intake definitions are validated in depth when the registry is
	// built; the config layer only rejects obviously broken entries.
	for i, def := range c.Intakes {
		if def == nil || def.ID == "" {
			return fmt.Errorf("intakes[%d]: id is required", i)
		}
	}

	return nil
}
