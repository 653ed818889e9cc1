package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.chatlink/config.toml.
type Config struct {
	Default ConfigDefault `toml:"default" mapstructure:"default"`
	Live    ConfigLive    `toml:"live" mapstructure:"live"`
	Log     ConfigLog     `toml:"log" mapstructure:"log"`
}

// ConfigDefault holds the API endpoint and credentials.
type ConfigDefault struct {
	Token   string `toml:"token" mapstructure:"token"`
	BaseURL string `toml:"base_url" mapstructure:"base_url"`
	Thread  string `toml:"thread" mapstructure:"thread"`
}

// ConfigLive tunes the live connection. Zero values use the library defaults.
type ConfigLive struct {
	HeartbeatSeconds         int `toml:"heartbeat_seconds" mapstructure:"heartbeat_seconds"`
	ReconnectMaxDelaySeconds int `toml:"reconnect_max_delay_seconds" mapstructure:"reconnect_max_delay_seconds"`
}

type ConfigLog struct {
	Level string `toml:"level" mapstructure:"level"`
}

const envPrefix = "CHATLINK"

// configKeys lists every settable key. Each one can be overridden from the
// environment, e.g. CHATLINK_DEFAULT_TOKEN.
var configKeys = []string{
	"default.token",
	"default.base_url",
	"default.thread",
	"live.heartbeat_seconds",
	"live.reconnect_max_delay_seconds",
	"log.level",
}

// ============================================================================
// Config helpers
// ============================================================================

// configDir returns the path to ~/.chatlink, creating it if needed.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".chatlink")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

// configPath returns the full path to the config file.
func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadConfig returns the effective configuration: the config file with
// CHATLINK_* environment variables applied on top. A missing file is not an
// error.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range configKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("cannot bind %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("cannot read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

// readConfigFile parses the config file alone, without environment
// overrides, so that it can be edited and written back.
// If the file does not exist, it returns a zero-value Config.
func readConfigFile() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

// saveConfig writes the config struct back to disk as TOML.
func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// setConfigValue sets a config field using dot notation (e.g. "default.token").
func setConfigValue(cfg *Config, key, value string) error {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("key must use dot notation: section.field (e.g. default.token)")
	}
	section, field := parts[0], parts[1]

	switch section {
	case "default":
		switch field {
		case "token":
			cfg.Default.Token = value
		case "base_url":
			cfg.Default.BaseURL = value
		case "thread":
			cfg.Default.Thread = value
		default:
			return fmt.Errorf("unknown field %q in section [default]", field)
		}
	case "live":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("%s must be a non-negative number of seconds", key)
		}
		switch field {
		case "heartbeat_seconds":
			cfg.Live.HeartbeatSeconds = n
		case "reconnect_max_delay_seconds":
			cfg.Live.ReconnectMaxDelaySeconds = n
		default:
			return fmt.Errorf("unknown field %q in section [live]", field)
		}
	case "log":
		switch field {
		case "level":
			if _, err := zapcore.ParseLevel(value); err != nil {
				return fmt.Errorf("invalid log level %q: %w", value, err)
			}
			cfg.Log.Level = value
		default:
			return fmt.Errorf("unknown field %q in section [log]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: default, live, log)", section)
	}
	return nil
}

// ============================================================================
// Root command
// ============================================================================

var logLevel string

var rootCmd = &cobra.Command{
	Use:           "chatlink",
	Short:         "CRM chat CLI",
	Long:          "Command-line client for the CRM chat backend.\nStream a thread live, send messages, and manage configuration.",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides log.level")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
