package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fletch-dev/fletch/internal/config"
	"github.com/fletch-dev/fletch/internal/mcp"
	"github.com/fletch-dev/fletch/internal/tools"
)

func init() {
	mcpCmd.AddCommand(mcpServeCmd)
	mcpCmd.AddCommand(mcpToolsCmd)
	rootCmd.AddCommand(mcpCmd)
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "MCP tool server utilities",
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the local tool catalog over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunInternalServer(cmd.Context())
	},
}

var mcpToolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List tools exposed over the MCP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, spec := range serverRegistry().Specs() {
			fmt.Printf("%s\t%s\n", spec.Name, spec.Description)
		}
		return nil
	},
}

// serverRegistry builds the tool catalog served over MCP, including the
// search service when one is configured. Config errors degrade to the
// bare catalog so the bridge keeps working.
func serverRegistry() *tools.Registry {
	var search tools.SearchService
	if cfg, err := config.Load(); err == nil && cfg.Search.BaseURL != "" {
		search = tools.NewHTTPSearchService(cfg.Search.BaseURL, cfg.Search.APIKey)
	}
	return tools.NewDefaultRegistry(search)
}

// RunInternalServer serves the local tool catalog over stdio JSON-RPC.
// It is the entrypoint behind the --mcp-internal sentinel flag used by
// the child-process bridge.
func RunInternalServer(ctx context.Context) error {
	server := mcp.NewServer(serverRegistry())
	return server.Run(ctx, os.Stdin, os.Stdout)
}
