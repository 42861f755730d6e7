package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/memvra/convmem/internal/config"
	"github.com/memvra/convmem/internal/convo"
	"github.com/memvra/convmem/internal/memory"
)

func newRememberCmd(flags *globalFlags) *cobra.Command {
	var (
		memType string
		guild   string
		source  string
	)

	cmd := &cobra.Command{
		Use:   "remember <user> <statement>",
		Short: "Store a memory for a user",
		Long: `Save a memory for a user. Relevance is scored from the text and type;
saving the same statement again bumps its mention count.

Examples:
  convmem remember 4242 "Eu gosto de pizza" --type preference
  convmem remember 4242 "Meu aniversário é em maio" --type personal_info --guild 99`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			user := args[0]
			statement := strings.Join(args[1:], " ")

			mt := convo.MemoryType(strings.ToLower(memType))
			if !convo.ValidMemoryType(mt) {
				return fmt.Errorf("unknown memory type %q (valid: preference, personal_info, opinion, fact, event, note)", memType)
			}

			return flags.withManager(cmd, func(ctx context.Context, _ config.Config, m *memory.Manager) error {
				mem, ok := m.SaveMemory(ctx, user, guild, mt, statement, convo.Metadata{Source: source})
				if !ok {
					return errors.New("memory was not saved (see log)")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved [%s] %s (relevance %.2f, mentioned %dx)\n",
					mem.Type, mem.ID, mem.RelevanceScore, mem.MentionCount)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&memType, "type", "t", string(convo.TypeNote), "Memory type")
	cmd.Flags().StringVar(&guild, "guild", "", "Guild the memory belongs to")
	cmd.Flags().StringVar(&source, "source", "cli", "Source recorded in metadata")
	return cmd
}
