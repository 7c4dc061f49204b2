package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/zargo/internal/paths"
	"github.com/mesh-intelligence/zargo/pkg/sqlite"
	"github.com/mesh-intelligence/zargo/pkg/types"
)

// configFile is the structure init writes to config.yaml.
type configFile struct {
	types.Config `yaml:",inline"`
	LogLevel     string `yaml:"log_level"`
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the configuration file and the project history",
		Long:  "Write config.yaml if it is missing, then create the data directory and the project history database.",
		Args:  exactArgs(0),
		RunE:  runInit,
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg := settings.config
	if err := os.MkdirAll(settings.configDir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	configPath := filepath.Join(settings.configDir, paths.ConfigFileName)
	written, err := writeConfigIfMissing(configPath, cfg)
	if err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	history := sqlite.NewBackend()
	if err := history.Attach(cfg); err != nil {
		return fmt.Errorf("initialize project history: %w", err)
	}
	if err := history.Detach(); err != nil {
		return fmt.Errorf("finalize project history: %w", err)
	}

	out := cmd.OutOrStdout()
	if written {
		fmt.Fprintf(out, "wrote %s\n", configPath)
	}
	fmt.Fprintf(out, "zargo initialized (data: %s)\n", cfg.DataDir)
	return nil
}

// writeConfigIfMissing writes cfg to path unless the file exists. It
// reports whether it wrote.
func writeConfigIfMissing(path string, cfg types.Config) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	data, err := yaml.Marshal(&configFile{Config: cfg, LogLevel: defaultLogLevel})
	if err != nil {
		return false, fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, err
	}
	return true, nil
}
