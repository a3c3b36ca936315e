package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/bobmcallan/vire-openapi-mcp/internal/app"
	"github.com/bobmcallan/vire-openapi-mcp/internal/common"
)

// Server manages the HTTP server and routes.
type Server struct {
	app     *app.App
	router  *http.ServeMux
	server  *http.Server
	logger  *common.Logger
	origins []string
}

// New creates a new HTTP server with the given app.
func New(application *app.App) *Server {
	s := &Server{
		app:     application,
		logger:  application.Logger,
		origins: application.Config.Server.AllowedOrigins,
	}

	s.router = s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", application.Config.Server.Host, application.Config.Server.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.withMiddleware(s.router),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: application.Config.API.GetTimeout() + 30*time.Second, // a tool call may take the whole API timeout
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().
		Str("address", s.server.Addr).
		Str("mcp_url", fmt.Sprintf("http://%s/mcp", s.server.Addr)).
		Msg("HTTP server starting")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info().Msg("HTTP server stopped")
	return nil
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// ServeStdio speaks MCP over stdin/stdout until the input closes.
func ServeStdio(application *app.App) error {
	application.Logger.Info().Msg("MCP stdio transport starting")
	if err := mcpserver.ServeStdio(application.MCPHandler.MCPServer()); err != nil {
		return fmt.Errorf("stdio server failed: %w", err)
	}
	return nil
}
