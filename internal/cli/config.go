package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/mesh-intelligence/zargo/internal/paths"
	"github.com/mesh-intelligence/zargo/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"

	cfgKeyDataDir      = "data_dir"
	cfgKeySafeSaves    = "safe_saves"
	cfgKeyEncoding     = "encoding"
	cfgKeyModelVersion = "model_version"
	cfgKeyProbeWindow  = "probe_window"
	cfgKeySaveTypes    = "save_types"
	cfgKeyRelease      = "release"
	cfgKeyTempDir      = "temp_dir"
	cfgKeyLogLevel     = "log_level"

	defaultLogLevel = "info"
	envPrefix       = "ZARGO"
)

// defaultConfigYAML is written to config.yaml on first run.
const defaultConfigYAML = `# zargo configuration

# Keep a working copy during saves and a "~" backup afterwards.
safe_saves: true

# Charset of entries in legacy archives.
encoding: UTF-8

# Active model representation; major version 1 always loads through the
# combined document.
model_version: "2.4"

# Member types rewritten by resave.
save_types:
  - xmi

log_level: info

# Data directory for the project history (optional; overridable by --data-dir)
# data_dir:
`

// loadConfig reads config.yaml from configDir with Viper, creating the
// directory and a default file on first run. ZARGO_* environment variables
// override file values. With create unset a missing file only means
// defaults. It returns the persistence settings and the log level.
func loadConfig(configDir string, create bool) (types.Config, string, error) {
	if create {
		if err := os.MkdirAll(configDir, 0o755); err != nil {
			return types.Config{}, "", fmt.Errorf("ensure config dir: %w", err)
		}
		if err := ensureDefaultConfigFile(configDir); err != nil {
			return types.Config{}, "", fmt.Errorf("ensure default config: %w", err)
		}
	}

	def := types.DefaultConfig()
	v := viper.New()
	v.SetDefault(cfgKeySafeSaves, def.SafeSaves)
	v.SetDefault(cfgKeyEncoding, def.Encoding)
	v.SetDefault(cfgKeyModelVersion, def.ModelVersion)
	v.SetDefault(cfgKeyProbeWindow, def.ProbeWindow)
	v.SetDefault(cfgKeySaveTypes, def.SaveTypes)
	v.SetDefault(cfgKeyRelease, def.Release)
	v.SetDefault(cfgKeyLogLevel, defaultLogLevel)
	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return types.Config{}, "", fmt.Errorf("%w: read config: %w", errUsage, err)
		}
	}

	cfg := types.Config{
		DataDir:      v.GetString(cfgKeyDataDir),
		SafeSaves:    v.GetBool(cfgKeySafeSaves),
		Encoding:     v.GetString(cfgKeyEncoding),
		ModelVersion: v.GetString(cfgKeyModelVersion),
		ProbeWindow:  v.GetInt(cfgKeyProbeWindow),
		SaveTypes:    v.GetStringSlice(cfgKeySaveTypes),
		Release:      v.GetString(cfgKeyRelease),
		TempDir:      v.GetString(cfgKeyTempDir),
	}
	return cfg, v.GetString(cfgKeyLogLevel), nil
}

// ensureDefaultConfigFile writes defaultConfigYAML unless config.yaml
// exists.
func ensureDefaultConfigFile(configDir string) error {
	path := filepath.Join(configDir, paths.ConfigFileName)
	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("stat config file: %w", err)
	}
	return os.WriteFile(path, []byte(defaultConfigYAML), 0o644)
}
