package mcp

import (
	"github.com/mark3labs/mcp-go/server"

	"vera-home/internal/application"
)

// Server exposes the bridge as MCP tools.
type Server struct {
	mcpServer *server.MCPServer
	bridge    *application.Bridge
}

func NewServer(bridge *application.Bridge, version string) *Server {
	s := &Server{bridge: bridge}
	s.mcpServer = server.NewMCPServer(
		"vera-home",
		version,
		server.WithToolCapabilities(true),
	)
	s.registerTools()
	return s
}

// ServeStdio blocks serving MCP over stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}
