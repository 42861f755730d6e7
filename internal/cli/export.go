package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/memvra/convmem/internal/config"
	"github.com/memvra/convmem/internal/export"
	"github.com/memvra/convmem/internal/longterm"
	"github.com/memvra/convmem/internal/memory"
)

func newExportCmd(flags *globalFlags) *cobra.Command {
	var (
		format      string
		outPath     string
		memoryLimit int
		topicLimit  int
	)

	cmd := &cobra.Command{
		Use:   "export <user>",
		Short: "Render a user's memory profile",
		Long: `Render a user's strongest memories and recent topics.

Formats: markdown (readable), json (structured), prompt (compact block for a
model prompt).

  convmem export 4242
  convmem export 4242 --format json -o profile.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, ok := export.Get(format)
			if !ok {
				return fmt.Errorf("unknown format %q (valid: %s)", format, strings.Join(export.ValidFormats(), ", "))
			}

			return flags.withManager(cmd, func(ctx context.Context, _ config.Config, m *memory.Manager) error {
				out, err := exp.Export(m.Profile(ctx, args[0], memoryLimit, topicLimit))
				if err != nil {
					return fmt.Errorf("export %s: %w", format, err)
				}
				if outPath == "" {
					fmt.Fprint(cmd.OutOrStdout(), out)
					return nil
				}
				if err := os.WriteFile(outPath, []byte(out), 0o644); err != nil {
					return fmt.Errorf("write %s: %w", outPath, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", outPath)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "markdown", "Output format")
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "Write to a file instead of stdout")
	cmd.Flags().IntVar(&memoryLimit, "memories", 50, "Maximum number of memories")
	cmd.Flags().IntVar(&topicLimit, "topics", longterm.DefaultTopicLimit, "Maximum number of topics")
	return cmd
}
