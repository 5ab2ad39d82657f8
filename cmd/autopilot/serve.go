package main

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/autopilot/internal/config"
	httpserver "github.com/fyrsmithlabs/autopilot/internal/http"
	"github.com/fyrsmithlabs/autopilot/internal/logging"
	mcpserver "github.com/fyrsmithlabs/autopilot/internal/mcp"
)

func (a *app) config() *config.Config {
	if a.cfg == nil {
		a.cfg = config.Default()
	}
	return a.cfg
}

func (a *app) log() *logging.Logger {
	if a.logger == nil {
		a.logger = logging.NewNop()
	}
	return a.logger
}

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the workflow operations over HTTP",
		Long: `Serve the workflow operations as a JSON API until interrupted.

Examples:
  autopilot serve
  autopilot serve --addr 127.0.0.1:8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			httpCfg := a.config().HTTP
			if addr != "" {
				host, port, err := splitAddr(addr)
				if err != nil {
					return err
				}
				httpCfg.Host, httpCfg.Port = host, port
			}
			return a.serve(cmd.Context(), httpCfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address host:port (default from config)")
	return cmd
}

func splitAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid --addr %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid --addr %q: bad port", addr)
	}
	return host, port, nil
}

// serve runs the HTTP server until ctx is cancelled.
func (a *app) serve(ctx context.Context, cfg config.HTTPConfig) error {
	logger := a.log().Named("http").Underlying()
	server, err := httpserver.NewServer(a.svc, logger, httpserver.FromAppConfig(cfg))
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()
	fmt.Fprintf(a.stderr, "autopilot listening on %s\n", server.Addr())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := cfg.ShutdownTimeout.Duration()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", zap.Error(err))
		return err
	}
	return <-errCh
}

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the workflow operations as MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			server, err := mcpserver.NewServer(&mcpserver.Config{
				Name:    "autopilot",
				Version: version,
				Logger:  a.log().Named("mcp").Underlying(),
			}, a.svc)
			if err != nil {
				return fmt.Errorf("creating mcp server: %w", err)
			}
			if err := server.Run(cmd.Context()); err != nil && cmd.Context().Err() == nil {
				return fmt.Errorf("mcp server: %w", err)
			}
			return nil
		},
	}
}
