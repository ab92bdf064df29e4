package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/faucetdb/keysmith/internal/config"
	"github.com/faucetdb/keysmith/internal/keycodec"
	"github.com/faucetdb/keysmith/internal/service"
)

// Version is reported to MCP clients during initialization.
var Version = "dev"

// MCPServer wraps the mcp-go server with keysmith tool and resource
// registrations. It lets AI agents inspect keys, check and revoke access
// tokens, and browse issued keys without going through the HTTP API.
type MCPServer struct {
	codec   *keycodec.Codec
	gateway *service.Gateway
	store   *config.Store
	client  service.Client
	logger  *slog.Logger
	server  *server.MCPServer
}

// NewMCPServer creates an MCPServer pre-loaded with all keysmith tools and
// resources. Token operations go through the gateway and therefore share
// its rate limits; the MCP session is a single client for that purpose.
func NewMCPServer(codec *keycodec.Codec, gateway *service.Gateway, store *config.Store, logger *slog.Logger) *MCPServer {
	s := &MCPServer{
		codec:   codec,
		gateway: gateway,
		store:   store,
		client: service.Client{
			ID:        "mcp",
			Origin:    "mcp",
			UserAgent: "keysmith-mcp/" + Version,
		},
		logger: logger,
	}

	mcpServer := server.NewMCPServer(
		"keysmith",
		Version,
		server.WithResourceCapabilities(true, false),
		server.WithToolCapabilities(true),
	)

	s.registerTools(mcpServer)
	s.registerResources(mcpServer)

	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go MCPServer instance.
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

// ServeStdio starts the MCP server in stdio mode, for clients that launch
// keysmith as a subprocess.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server in stdio mode")
	return server.ServeStdio(s.server)
}

// ServeHTTP starts the MCP server in Streamable HTTP mode on addr
// (e.g. ":3001").
func (s *MCPServer) ServeHTTP(addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.server)
	s.logger.Info("MCP HTTP server starting", "addr", addr)
	return httpServer.Start(addr)
}

func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(true),
	}
}

func mutatingAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint:    boolPtr(false),
		DestructiveHint: boolPtr(true),
		IdempotentHint:  boolPtr(true),
	}
}

func boolPtr(b bool) *bool {
	return &b
}
