// Package cli defines the Cobra command tree for the convmem operator CLI.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/memvra/convmem/internal/config"
	"github.com/memvra/convmem/internal/memory"
)

var (
	// version, commit, date are set via -ldflags at build time.
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath string
	dbPath     string
	verbose    bool
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	var flags globalFlags

	root := &cobra.Command{
		Use:   "convmem",
		Short: "Inspect and maintain a conversational memory store",
		Long: `convmem operates on the durable store of the conversational memory
subsystem: per-user memories and consolidated conversation topics.

Configuration is read from ~/.config/convmem/config.toml (see 'convmem init')
and can be overridden with CONVMEM_DB_PATH, CONVMEM_CONTEXT_TTL and
CONVMEM_MAX_HISTORY.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "Path to config.toml (default ~/.config/convmem/config.toml)")
	pf.StringVar(&flags.dbPath, "db", "", "Path to the SQLite database (overrides config)")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		newInitCmd(&flags),
		newStatusCmd(&flags),
		newRememberCmd(&flags),
		newMemoriesCmd(&flags),
		newTopicsCmd(&flags),
		newExportCmd(&flags),
		newPruneCmd(&flags),
		newRunCmd(&flags),
		newServeCmd(&flags),
		newVersionCmd(),
	)
	return root
}

// Execute runs the root command.
func Execute(v, c, d string) {
	version, commit, date = v, c, d
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "convmem %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

func (f *globalFlags) loadConfig() (config.Config, error) {
	var (
		cfg config.Config
		err error
	)
	if f.configPath != "" {
		cfg, err = config.LoadFile(f.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return cfg, err
	}
	if f.dbPath != "" {
		cfg.Store.DBPath = f.dbPath
	}
	return cfg, nil
}

// resolvedConfigPath is the config file the command reads.
func (f *globalFlags) resolvedConfigPath() (string, error) {
	if f.configPath != "" {
		return f.configPath, nil
	}
	return config.Path()
}

func (f *globalFlags) logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if f.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// withManager opens a Manager for the duration of fn and shuts it down after.
func (f *globalFlags) withManager(cmd *cobra.Command, fn func(ctx context.Context, cfg config.Config, m *memory.Manager) error) error {
	cfg, err := f.loadConfig()
	if err != nil {
		return err
	}
	return f.withConfig(cmd, cfg, fn)
}

// withConfig is withManager for an already resolved config.
func (f *globalFlags) withConfig(cmd *cobra.Command, cfg config.Config, fn func(ctx context.Context, cfg config.Config, m *memory.Manager) error) error {
	m, err := memory.New(cfg, memory.WithLogger(f.logger(cmd.ErrOrStderr())))
	if err != nil {
		return fmt.Errorf("open memory store: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	runErr := fn(ctx, cfg, m)
	if err := m.Shutdown(ctx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
