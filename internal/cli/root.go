// Package cli implements the zargo command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/zargo/internal/migrate"
	"github.com/mesh-intelligence/zargo/internal/paths"
	"github.com/mesh-intelligence/zargo/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
	exitCancelled = 3
)

// errUsage marks bad arguments and flags.
var errUsage = errors.New("usage")

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	dataDir   string
	logLevel  string
	jsonMode  bool
}

var flags rootFlags

// settings is the configuration resolved by the root command before any
// subcommand runs.
var settings struct {
	config    types.Config
	configDir string
	logger    *slog.Logger
}

// scratch collects combined documents so they are removed on exit, also
// after an interrupt.
var scratch = migrate.NewScratch()

// NewRootCmd creates the top-level "zargo" command with global flags and
// all subcommands registered.
func NewRootCmd() *cobra.Command {
	flags = rootFlags{}
	root := &cobra.Command{
		Use:   "zargo",
		Short: "Inspect, migrate and rewrite .zargo project archives",
		Long: "zargo reads and writes modeling-tool project archives. It migrates legacy\n" +
			"archives into the unified layout and saves with a rollback-safe protocol.",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: prepare,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w", errUsage, err)
	})

	root.PersistentFlags().StringVar(&flags.configDir, "config-dir", "", "configuration directory (default: platform config dir)")
	root.PersistentFlags().StringVar(&flags.dataDir, "data-dir", "", "data directory for the project history (default: platform data dir)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error (default from config, else info)")
	root.PersistentFlags().BoolVar(&flags.jsonMode, "json", false, "output in JSON format")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newInspectCmd())
	root.AddCommand(newCombineCmd())
	root.AddCommand(newLoadCmd())
	root.AddCommand(newResaveCmd())
	root.AddCommand(newHistoryCmd())
	return root
}

// Execute runs the root command and exits with the matching code.
// SIGINT and SIGTERM cancel the running operation.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewRootCmd().ExecuteContext(ctx)
	stop()
	if rerr := scratch.RemoveAll(); rerr != nil {
		slog.Warn("failed to remove temporary files", "error", rerr)
	}
	if err != nil {
		if errors.Is(err, types.ErrCancelled) {
			fmt.Fprintln(os.Stderr, "cancelled")
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
	}
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitSuccess
	case errors.Is(err, types.ErrCancelled):
		return exitCancelled
	case errors.Is(err, errUsage),
		errors.Is(err, types.ErrCorruptArchive),
		errors.Is(err, types.ErrUnsafeEntry),
		errors.Is(err, types.ErrNonLocalURL),
		errors.Is(err, types.ErrNoPersister):
		return exitUserError
	}
	return exitSysError
}

// prepare resolves directories, loads config.yaml and installs the logger.
func prepare(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "version" {
		return nil
	}
	configDir, err := paths.ResolveConfigDir(flags.configDir)
	if err != nil {
		return fmt.Errorf("resolve config dir: %w", err)
	}
	cfg, level, err := loadConfig(configDir, cmd.Name() != "init")
	if err != nil {
		return err
	}
	dataDir, err := paths.ResolveDataDir(flags.dataDir, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("resolve data dir: %w", err)
	}
	cfg.DataDir = dataDir
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %s: %w", errUsage, paths.ConfigFileName, err)
	}

	if flags.logLevel != "" {
		level = flags.logLevel
	}
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	settings.config = cfg
	settings.configDir = configDir
	settings.logger = logger
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("%w: log level %q", errUsage, s)
	}
	return lvl, nil
}

// exactArgs is cobra.ExactArgs with usage errors.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return fmt.Errorf("%w: %w", errUsage, err)
		}
		return nil
	}
}
