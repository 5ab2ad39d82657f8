// Package http serves the workflow operations over a JSON REST API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/autopilot/internal/autopilot"
	"github.com/fyrsmithlabs/autopilot/internal/config"
	"github.com/fyrsmithlabs/autopilot/internal/logging"
)

// Server provides HTTP endpoints for the workflow service.
type Server struct {
	echo    *echo.Echo
	svc     autopilot.Workflows
	logger  *zap.Logger
	config  *Config
	limiter *clientLimiter
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// RateLimit is the sustained requests per second allowed per client; 0 disables limiting.
	RateLimit float64
	RateBurst int
}

// FromAppConfig converts the application http section.
func FromAppConfig(c config.HTTPConfig) *Config {
	return &Config{
		Host:      c.Host,
		Port:      c.Port,
		RateLimit: c.RateLimit,
		RateBurst: c.RateBurst,
	}
}

// NewServer creates a new HTTP server.
func NewServer(svc autopilot.Workflows, logger *zap.Logger, cfg *Config) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("workflow service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 9191,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Response().Header().Get(echo.HeaderXRequestID)
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), id)))

			start := time.Now()
			err := next(c)
			if err != nil {
				// let the error handler write the status before logging it
				c.Error(err)
				err = nil
			}

			logger.Info("http request",
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", id),
			)
			return err
		}
	})
	metrics, err := newRequestMetrics(otel.Meter(instrumentationName))
	if err != nil {
		logger.Warn("request metrics unavailable", zap.Error(err))
	}
	e.Use(metrics.middleware())

	s := &Server{
		echo:   e,
		svc:    svc,
		logger: logger,
		config: cfg,
	}
	if cfg.RateLimit > 0 {
		s.limiter = newClientLimiter(cfg.RateLimit, cfg.RateBurst, time.Hour)
	}

	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1/workflows")
	if s.limiter != nil {
		v1.Use(s.limiter.Middleware(s.logger))
	}
	v1.POST("/start", s.handleStart)
	v1.POST("/resume", s.handleResume)
	v1.POST("/complete", s.handleComplete)
	v1.POST("/commit", s.handleCommit)
	v1.POST("/finalize", s.handleFinalize)
	v1.POST("/abort", s.handleAbort)
	v1.POST("/retry", s.handleRetry)
	v1.GET("/status", s.handleStatus)
	v1.GET("/next", s.handleNext)
}

// ServeHTTP lets tests and embedders drive the router directly.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// Start starts the HTTP server. It blocks until Shutdown is called.
func (s *Server) Start() error {
	addr := s.Addr()
	s.logger.Info("starting http server", zap.String("addr", addr))
	err := s.echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
