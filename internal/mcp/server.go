package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/autopilot/internal/autopilot"
)

// Server serves the autopilot tools.
type Server struct {
	mcp      *mcp.Server
	svc      autopilot.Workflows
	registry *ToolRegistry
	metrics  *toolMetrics
	logger   *zap.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "autopilot")
	Name string

	// Version is the server version (default: "dev")
	Version string

	// Logger for structured logging. It must not write to stdout.
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "autopilot",
		Version: "dev",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates a server backed by svc.
func NewServer(cfg *Config, svc autopilot.Workflows) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if svc == nil {
		return nil, errors.New("workflow service is required")
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		svc:      svc,
		registry: NewToolRegistry(),
		logger:   cfg.Logger,
	}
	metrics, err := newToolMetrics(otel.Meter(instrumentationName))
	if err != nil {
		s.logger.Warn("tool metrics unavailable", zap.Error(err))
	}
	s.metrics = metrics
	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}
	return s, nil
}

// Registry returns the metadata of the registered tools.
func (s *Server) Registry() *ToolRegistry {
	return s.registry
}

// Run serves on the stdio transport until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport", zap.Int("tools", s.registry.Count()))
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Connect serves a single session on transport.
func (s *Server) Connect(ctx context.Context, transport mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, transport, nil)
}
