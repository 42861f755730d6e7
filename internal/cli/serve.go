package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/memvra/convmem/internal/config"
	"github.com/memvra/convmem/internal/mcp"
	"github.com/memvra/convmem/internal/memory"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the memory tools over MCP (stdio)",
		Long: `Start an MCP server on stdin/stdout so an agent host can buffer turns,
save memories and read profiles. Retention runs while the server is up, and
pending history is consolidated when the input closes.

Logs go to stderr; stdout carries the protocol.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withManager(cmd, func(ctx context.Context, _ config.Config, m *memory.Manager) error {
				if err := m.Start(ctx); err != nil {
					return err
				}
				return mcp.NewServer(m, version).ServeStdio()
			})
		},
	}
}
