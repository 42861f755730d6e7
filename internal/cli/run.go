package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/memvra/convmem/internal/config"
	"github.com/memvra/convmem/internal/memory"
)

func newRunCmd(flags *globalFlags) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the retention schedules in the foreground until interrupted",
		Long: `Keep the store tidy without an embedding host: runs the 5-minute expiry
sweep and the nightly forgetting pass until SIGINT or SIGTERM.

With --watch (the default) edits to the [retention] section of the config file
are applied without a restart.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withManager(cmd, func(ctx context.Context, cfg config.Config, m *memory.Manager) error {
				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()

				if err := m.Start(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Retention running on %s. Press Ctrl+C to stop.\n", cfg.Store.DBPath)

				if watch && cfg.Retention.Enabled {
					path, err := flags.resolvedConfigPath()
					if err != nil {
						return err
					}
					logger := flags.logger(cmd.ErrOrStderr())
					go func() {
						err := config.Watch(ctx, path, config.DefaultDebounce, logger, func(next config.Config) {
							if err := m.UpdateRetention(next.Retention); err != nil {
								logger.Warn("retention update rejected", "error", err)
							}
						})
						if err != nil {
							logger.Warn("config watch stopped", "error", err)
						}
					}()
				}

				<-ctx.Done()
				fmt.Fprintln(cmd.OutOrStdout(), "Stopping.")
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", true, "Apply retention changes from the config file while running")
	return cmd
}
