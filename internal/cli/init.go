package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/memvra/convmem/internal/config"
)

func newInitCmd(flags *globalFlags) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := flags.configPath
			if path == "" {
				p, err := config.Path()
				if err != nil {
					return fmt.Errorf("locate config: %w", err)
				}
				path = p
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			cfg := config.DefaultConfig()
			if flags.dbPath != "" {
				cfg.Store.DBPath = flags.dbPath
			}
			if err := config.SaveFile(path, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	return cmd
}
