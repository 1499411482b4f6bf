package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/formbridge/formbridge/internal/config"
	"github.com/formbridge/formbridge/internal/container"
	httpapi "github.com/formbridge/formbridge/internal/interfaces/http"
	"github.com/formbridge/formbridge/pkg/utils"
)

func main() {
	// Load .env if present; deployments set the environment directly
	_ = gotenv.Load()

	// Load configuration
	cfg, err := config.Load(configPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting FormBridge",
		zap.String("version", "1.0.0"),
		zap.Int("port", cfg.Server.Port))

	// Assemble the application
	ctr, err := container.NewContainer(cfg.ToContainerConfig(), logger)
	if err != nil {
		logger.Fatal("Failed to create container", zap.Error(err))
	}

	// Run until interrupted
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := ctr.Start(ctx); err != nil {
		logger.Fatal("Failed to start container", zap.Error(err))
	}

	// Initialize HTTP server
	srv := httpapi.NewServer(
		httpapi.ServerConfig{
			Host:         cfg.Server.Host,
			Port:         cfg.Server.Port,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		ctr.Services().Submissions,
		ctr.Services().Approvals,
		ctr.DeliveryManager(),
		ctr.Exporter(),
		ctr.Registry(),
		ctr.Validator(),
		ctr,
		ctr.KVLogger(),
	)

	// Start blocks until the context is cancelled or the listener fails;
	// it drains in-flight requests before returning.
	if err := srv.Start(ctx); err != nil {
		logger.Error("HTTP server failed", zap.Error(err))
	}

	logger.Info("Shutting down...")

	if err := ctr.Close(); err != nil {
		logger.Error("Container shutdown failed", zap.Error(err))
	}

	logger.Info("Server exited successfully")
}

// configPath returns the config file location, overridable via environment.
func configPath() string {
	if path := os.Getenv("FORMBRIDGE_CONFIG"); path != "" {
		return path
	}
	return "configs/config.yaml"
}
