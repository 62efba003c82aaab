// Package config loads PostGuard's CLI and PKG-server configuration from a
// file, environment variables, and defaults, the way dittofs's pkg/config
// layers a viper instance, generalized down to the handful of settings
// cmd/postguard actually needs.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is PostGuard's static configuration.
//
// Sources, highest precedence first:
//  1. Environment variables (POSTGUARD_*)
//  2. Configuration file (YAML)
//  3. Defaults below
type Config struct {
	// PKG is the base URL of the Private Key Generator cmd/postguard talks
	// to for seal/unseal/derive.
	PKG PKGClientConfig `mapstructure:"pkg" yaml:"pkg"`

	// Server configures the PKG server process itself (pkg-serve).
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// SegmentSize is the default streaming-mode segment size in bytes.
	SegmentSize uint32 `mapstructure:"segment_size" yaml:"segment_size"`

	// Logging controls log verbosity.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

type PKGClientConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
}

type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

// defaults holds the values Load falls back to for any field neither the
// config file nor the environment set.
var defaults = Config{
	PKG:         PKGClientConfig{BaseURL: "http://127.0.0.1:8443"},
	Server:      ServerConfig{ListenAddr: "127.0.0.1:8443"},
	SegmentSize: 1 << 20,
	Logging:     LoggingConfig{Level: "info"},
}

// Load reads configuration from the POSTGUARD_-prefixed environment,
// configPath (if non-empty; otherwise config.yaml in the default config
// directory), and defaults, in that descending order of precedence.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("POSTGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(defaultConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("pkg.base_url", defaults.PKG.BaseURL)
	v.SetDefault("server.listen_addr", defaults.Server.ListenAddr)
	v.SetDefault("segment_size", defaults.SegmentSize)
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.development", defaults.Logging.Development)
}

func defaultConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "postguard")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".postguard"
	}
	return filepath.Join(home, ".config", "postguard")
}

// SegmentSizeOrDefault returns size if non-zero, otherwise cfg's configured
// default — the seam cmd/postguard uses to let --segment-size override the
// config file without needing a sentinel in Config itself.
func (c *Config) SegmentSizeOrDefault(size uint32) uint32 {
	if size != 0 {
		return size
	}
	return c.SegmentSize
}

// pollTimeout bounds how long cmd/postguard waits on a PKG session before
// giving up, matching the teacher pack's habit of keeping a conservative
// upper bound alongside exponential backoff rather than waiting forever.
const pollTimeout = 5 * time.Minute

// PollTimeout returns the session-wait deadline.
func PollTimeout() time.Duration { return pollTimeout }
