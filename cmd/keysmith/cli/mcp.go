package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	kmcp "github.com/faucetdb/keysmith/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	var (
		transport string
		port      int
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server for AI agents",
		Long: `Start a Model Context Protocol (MCP) server that exposes key inspection, token
validation, token revocation and key listing as tools for AI agents.
Supports stdio (default) and HTTP transports.

In stdio mode, the MCP server communicates over stdin/stdout using JSON-RPC,
suitable for clients that launch keysmith as a subprocess. Logs go to stderr.

In HTTP mode, the server listens on the specified port using Streamable HTTP.`,
		Example: `  keysmith mcp                             # stdio mode
  keysmith mcp --transport http --port 3001  # HTTP mode`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("transport") {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				transport = cfg.MCP.Transport
			}
			return runMCP(transport, port)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport mode: stdio or http")
	cmd.Flags().IntVar(&port, "port", 3001, "HTTP port (only used with --transport http)")

	return cmd
}

func runMCP(transport string, port int) error {
	a, err := buildApp(os.Stderr, true)
	if err != nil {
		return err
	}
	defer a.Close()

	kmcp.Version = versionString()
	mcpSrv := kmcp.NewMCPServer(a.codec, a.gateway, a.store, a.logger)

	switch transport {
	case "stdio":
		return mcpSrv.ServeStdio()
	case "http":
		return mcpSrv.ServeHTTP(fmt.Sprintf(":%d", port))
	default:
		return fmt.Errorf("unsupported transport %q; use 'stdio' or 'http'", transport)
	}
}
