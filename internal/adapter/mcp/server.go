// Package mcp exposes the aggregated context to coding assistants over the
// Model Context Protocol. Everything it serves is read-only.
package mcp

import (
	"context"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/Overwatch/internal/domain/finding"
)

// ContextSource reads the persisted context files.
type ContextSource interface {
	IndexJSON(ctx context.Context) ([]byte, error)
	TierJSON(ctx context.Context, t finding.Tier) ([]byte, error)
	Findings(ctx context.Context, t finding.Tier, file string) ([]finding.Finding, error)
}

// ServerConfig holds MCP server identity.
type ServerConfig struct {
	Name    string
	Version string
}

// Server wraps an mcp-go server with the Overwatch tools and resources.
type Server struct {
	cfg       ServerConfig
	src       ContextSource
	mcpServer *mcpserver.MCPServer
}

const instructions = `Overwatch aggregates findings from background analysis agents.
Call get_context_index first: check_now lists issues worth raising immediately.
Use get_findings with a tier or file to drill down. Deferred and auto-fixed
findings only need a mention when the user asks about them.`

// NewServer creates the server and registers its tools and resources.
func NewServer(cfg ServerConfig, src ContextSource) *Server {
	s := &Server{cfg: cfg, src: src}
	s.mcpServer = mcpserver.NewMCPServer(
		cfg.Name,
		cfg.Version,
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithResourceCapabilities(false, true),
		mcpserver.WithRecovery(),
		mcpserver.WithInstructions(instructions),
	)
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// ServeStdio serves on stdin/stdout until the client disconnects.
func (s *Server) ServeStdio() error {
	return mcpserver.ServeStdio(s.mcpServer)
}
