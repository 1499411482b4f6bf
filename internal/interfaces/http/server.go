// Package http provides the HTTP server adapter for the application layer.
// This is a thin adapter layer that translates HTTP requests to application service calls.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/formbridge/formbridge/internal/application/port"
	"github.com/formbridge/formbridge/internal/application/service"
	"github.com/formbridge/formbridge/internal/domain/intake"
	"github.com/formbridge/formbridge/internal/export"
	"github.com/formbridge/formbridge/internal/webhook"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// HealthSource aggregates component health reports for the health endpoint.
type HealthSource interface {
	Health(ctx context.Context) map[string]port.HealthReport
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "0.0.0.0",
		Port:         3000,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Server is the HTTP server adapter
type Server struct {
	config      ServerConfig
	httpServer  *http.Server
	router      *gin.Engine
	submissions service.SubmissionService
	approvals   service.ApprovalService
	deliveries  *webhook.Manager
	exporter    *export.Exporter
	registry    *intake.Registry
	validator   port.Validator
	health      HealthSource
	logger      Logger
}

// NewServer creates a new HTTP server with the given services
func NewServer(
	config ServerConfig,
	submissions service.SubmissionService,
	approvals service.ApprovalService,
	deliveries *webhook.Manager,
	exporter *export.Exporter,
	registry *intake.Registry,
	validator port.Validator,
	health HealthSource,
	logger Logger,
) *Server {
	// Set gin mode based on environment
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	server := &Server{
		config:      config,
		router:      router,
		submissions: submissions,
		approvals:   approvals,
		deliveries:  deliveries,
		exporter:    exporter,
		registry:    registry,
		validator:   validator,
		health:      health,
		logger:      logger,
	}

	// Setup middleware
	server.setupMiddleware()

	// Setup routes
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware for the router
func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.router.Use(gin.Recovery())

	// Logging middleware
	s.router.Use(s.loggingMiddleware())
}

// loggingMiddleware creates a logging middleware
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		// Process request
		c.Next()

		// Log request details
		latency := time.Since(start)
		status := c.Writer.Status()

		s.logger.Info("HTTP request",
			"method", method,
			"path", path,
			"status", status,
			"latency", latency.String(),
			"client_ip", c.ClientIP(),
		)
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	handlers := NewHandlers(s.submissions, s.approvals, s.deliveries, s.exporter, s.registry, s.validator, s.health, s.logger)

	// Health check
	s.router.GET("/health", handlers.Health)

	// Intake API, routes and field names exactly as the FormBridge SDK expects
	api := s.router.Group("/intake/:intakeID")
	{
		api.POST("/submissions", handlers.CreateSubmission)
		api.GET("/submissions", handlers.ListSubmissions)

		sub := api.Group("/submissions/:submissionID")
		{
			sub.GET("", handlers.GetSubmission)
			sub.PATCH("", handlers.SetFields)
			sub.GET("/events", handlers.ListEvents)
			sub.POST("/submit", handlers.Submit)
			sub.POST("/cancel", handlers.Cancel)
			sub.POST("/resume", handlers.Resume)
			sub.POST("/token/rotate", handlers.RotateToken)
			sub.POST("/uploads", handlers.RequestUpload)
			sub.POST("/uploads/:uploadID/complete", handlers.CompleteUpload)
			sub.POST("/decisions", handlers.RecordDecision)
			sub.GET("/review", handlers.ReviewStatus)
		}
	}

	// Operator surface
	admin := s.router.Group("/admin")
	{
		admin.GET("/deliveries", handlers.ListDeliveries)
		admin.GET("/deliveries/:deliveryID", handlers.GetDelivery)
		admin.POST("/deliveries/:deliveryID/retry", handlers.RetryDelivery)
		admin.GET("/intakes/:intakeID/export", handlers.ExportIntake)
	}
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", "address", addr)

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	// Create shutdown context with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
