package mcp

import (
	"context"
	"fmt"

	"weibomcp/internal/config"
	"weibomcp/internal/logging"
	"weibomcp/internal/services"
	"weibomcp/internal/version"

	"github.com/mark3labs/mcp-go/server"
)

type Server struct {
	mcpServer  *server.MCPServer
	httpServer *server.StreamableHTTPServer
	service    *services.WeiboService
	config     *config.Config
}

func NewServer(service *services.WeiboService, cfg *config.Config) *Server {
	mcpServer := server.NewMCPServer(
		"Weibo MCP Server",
		version.GetVersionString(),
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	httpServer := server.NewStreamableHTTPServer(mcpServer)

	s := &Server{
		mcpServer:  mcpServer,
		httpServer: httpServer,
		service:    service,
		config:     cfg,
	}

	s.setupTools()

	return s
}

// Start serves MCP over streamable HTTP on the given port.
func (s *Server) Start(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	logging.Info("Starting MCP server using streamable HTTP transport on %s", addr)

	if err := s.httpServer.Start(addr); err != nil {
		return fmt.Errorf("MCP server error: %w", err)
	}

	return nil
}

// StartStdio serves MCP over stdin/stdout; blocks until the client closes
// the stream.
func (s *Server) StartStdio(ctx context.Context) error {
	logging.Info("Starting MCP server using stdio transport")

	if err := server.ServeStdio(s.mcpServer); err != nil {
		return fmt.Errorf("MCP stdio server error: %w", err)
	}

	return nil
}

// Shutdown drains in-flight requests within the context's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("MCP server shutting down...")

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("MCP server shutdown: %w", err)
		}
	}

	logging.Info("MCP server shutdown complete")
	return nil
}
