package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/memvra/convmem/internal/config"
	"github.com/memvra/convmem/internal/memory"
)

func newPruneCmd(flags *globalFlags) *cobra.Command {
	var (
		memoryDays   int
		minRelevance float64
		topicDays    int
	)

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Run the forgetting pass now",
		Long: `Delete stale durable state, exactly as the nightly retention job does.

A memory is deleted only when it is both old and weak. Topics are deleted
once they are old enough, regardless of relevance.

  convmem prune                                  # configured policy
  convmem prune --memory-days 30 --min-relevance 0.5
  convmem prune --topic-days 7`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("memory-days") {
				cfg.Retention.MemoryMaxAgeDays = memoryDays
			}
			if cmd.Flags().Changed("min-relevance") {
				cfg.Retention.MemoryMinRelevance = minRelevance
			}
			if cmd.Flags().Changed("topic-days") {
				cfg.Retention.TopicMaxAgeDays = topicDays
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			run := func(ctx context.Context, cfg config.Config, m *memory.Manager) error {
				before := m.GetStats(ctx)
				r := m.RunRetention(ctx)
				fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d memories (%d → %d) and %d topics (%d → %d)\n",
					r.Memories, before.Memories, before.Memories-r.Memories,
					r.Topics, before.Topics, before.Topics-r.Topics)
				return r.Err()
			}
			return flags.withConfig(cmd, cfg, run)
		},
	}

	cmd.Flags().IntVar(&memoryDays, "memory-days", 0, "Delete weak memories not mentioned for N days")
	cmd.Flags().Float64Var(&minRelevance, "min-relevance", 0, "Relevance below which an old memory is weak")
	cmd.Flags().IntVar(&topicDays, "topic-days", 0, "Delete topics that ended more than N days ago")
	return cmd
}
