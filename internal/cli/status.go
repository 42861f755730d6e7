package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/memvra/convmem/internal/config"
	"github.com/memvra/convmem/internal/memory"
	"github.com/memvra/convmem/internal/retention"
)

func newStatusCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show store counts and effective settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withManager(cmd, func(ctx context.Context, cfg config.Config, m *memory.Manager) error {
				s := m.GetStats(ctx)
				out := cmd.OutOrStdout()

				var dbSize int64
				if fi, err := os.Stat(cfg.Store.DBPath); err == nil {
					dbSize = fi.Size()
				}

				fmt.Fprintf(out, "\nDatabase:  %s (%s)\n", cfg.Store.DBPath, formatBytes(dbSize))
				fmt.Fprintf(out, "Users:     %d\n", s.Users)
				fmt.Fprintf(out, "Memories:  %d\n", s.Memories)
				fmt.Fprintf(out, "Topics:    %d\n", s.Topics)
				fmt.Fprintf(out, "Context:   ttl %s, history %d, consolidate at %d (keep %d)\n",
					cfg.ShortTerm.ContextTTL, cfg.ShortTerm.MaxHistory,
					cfg.Consolidation.Threshold, cfg.Consolidation.Retain)

				if cfg.Retention.Enabled {
					fmt.Fprintf(out, "Retention: memories after %dd below %.2f, topics after %dd\n",
						cfg.Retention.MemoryMaxAgeDays, cfg.Retention.MemoryMinRelevance, cfg.Retention.TopicMaxAgeDays)
					if next, err := retention.NextFire(retention.DailySpec, time.Now()); err == nil {
						fmt.Fprintf(out, "Next pass: %s\n", next.Format("2006-01-02 15:04"))
					}
				} else {
					fmt.Fprintln(out, "Retention: disabled")
				}
				fmt.Fprintln(out)
				return nil
			})
		},
	}
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
