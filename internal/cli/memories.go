package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/memvra/convmem/internal/config"
	"github.com/memvra/convmem/internal/convo"
	"github.com/memvra/convmem/internal/decay"
	"github.com/memvra/convmem/internal/longterm"
	"github.com/memvra/convmem/internal/memory"
)

func newMemoriesCmd(flags *globalFlags) *cobra.Command {
	var (
		memType      string
		minRelevance float64
		limit        int
		asJSON       bool
	)

	cmd := &cobra.Command{
		Use:   "memories <user>",
		Short: "List a user's memories, strongest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := longterm.MemoryQuery{
				Type:         convo.MemoryType(memType),
				MinRelevance: minRelevance,
				Limit:        limit,
			}
			return flags.withManager(cmd, func(ctx context.Context, _ config.Config, m *memory.Manager) error {
				mems := m.GetMemories(ctx, args[0], q)
				out := cmd.OutOrStdout()

				if asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					if mems == nil {
						mems = []longterm.Memory{}
					}
					return enc.Encode(mems)
				}
				if len(mems) == 0 {
					fmt.Fprintln(out, "No memories.")
					return nil
				}

				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "RELEVANCE\tTYPE\tMENTIONS\tLAST SEEN\tCONTENT")
				for _, mem := range mems {
					fmt.Fprintf(tw, "%.2f (%s)\t%s\t%d\t%s\t%s\n",
						mem.RelevanceScore, decay.CategoryOf(mem.RelevanceScore), mem.Type,
						mem.MentionCount, formatMillis(mem.LastMentionedAt), truncate(mem.Content, 60))
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().StringVarP(&memType, "type", "t", "", "Only memories of this type")
	cmd.Flags().Float64Var(&minRelevance, "min-relevance", 0, "Only memories at or above this relevance")
	cmd.Flags().IntVarP(&limit, "limit", "n", longterm.DefaultMemoryLimit, "Maximum number of memories")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newTopicsCmd(flags *globalFlags) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "topics <user>",
		Short: "List a user's recent topics by decayed relevance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withManager(cmd, func(ctx context.Context, _ config.Config, m *memory.Manager) error {
				ts := m.GetRecentTopics(ctx, args[0], limit)
				out := cmd.OutOrStdout()
				if len(ts) == 0 {
					fmt.Fprintln(out, "No recent topics.")
					return nil
				}

				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "RELEVANCE\tTOPIC\tSENTIMENT\tMESSAGES\tENDED")
				for _, t := range ts {
					fmt.Fprintf(tw, "%.2f\t%s\t%s\t%d\t%s\n",
						t.Relevance, t.Topic, t.Sentiment, t.MessageCount, formatMillis(t.EndedAt))
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", longterm.DefaultTopicLimit, "Maximum number of topics")
	return cmd
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).Format("2006-01-02 15:04")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
