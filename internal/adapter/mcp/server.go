// Package mcp exposes a read-only Model Context Protocol surface over the
// kernel: tasks, their event streams, and the tool-call audit trail. Writes
// go through the HTTP API only; MCP clients observe.
package mcp

import (
	"context"
	"log/slog"
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/TaskLoom/internal/service"
)

// Server hosts the MCP endpoint.
type Server struct {
	mcpServer  *mcpserver.MCPServer
	httpServer *mcpserver.StreamableHTTPServer
	tasks      *service.TaskService
	gate       *service.ToolGateService
	logger     *slog.Logger
}

// NewServer creates the MCP server and registers its tools.
func NewServer(tasks *service.TaskService, gate *service.ToolGateService, logger *slog.Logger) *Server {
	s := &Server{
		tasks:  tasks,
		gate:   gate,
		logger: logger.With("component", "mcp"),
	}
	s.mcpServer = mcpserver.NewMCPServer(
		"taskloom",
		"1.0.0",
		mcpserver.WithToolCapabilities(false),
	)
	s.registerTools()
	s.httpServer = mcpserver.NewStreamableHTTPServer(s.mcpServer)
	return s
}

// Handler returns the HTTP handler serving the MCP protocol, for mounting
// on the main router.
func (s *Server) Handler() http.Handler {
	return s.httpServer
}

// Shutdown stops the HTTP transport.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("mcp server shutting down")
	return s.httpServer.Shutdown(ctx)
}
