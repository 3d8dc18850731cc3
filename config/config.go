// Package config loads the YAML configuration shared by rnodebridge and
// bridgeverify.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Log    LogConfig    `yaml:"log"`
	Serial SerialConfig `yaml:"serial"`
	Verify VerifyConfig `yaml:"verify"`
}

// LogConfig holds logging settings. An empty File logs to stderr.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // "text" or "json"
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// SerialConfig holds settings for the serial platform layer.
type SerialConfig struct {
	BaudRate          int           `yaml:"baud_rate"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	BufferSize        int           `yaml:"buffer_size"`
	PermissionTimeout time.Duration `yaml:"permission_timeout"`
	PermissionPoll    time.Duration `yaml:"permission_poll"`
	DTR               bool          `yaml:"dtr"`
}

// VerifyConfig tells the bridge verifier where call sites live and which
// names must survive in the packaged artifact.
type VerifyConfig struct {
	SourceDir    string   `yaml:"source_dir"`
	Extensions   []string `yaml:"extensions"`
	BridgeVars   []string `yaml:"bridge_vars"`
	Classes      []string `yaml:"classes"`
	CodeSuffixes []string `yaml:"code_suffixes"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "rnodebridge")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with the values RNode boards expect.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Serial: SerialConfig{
			BaudRate:          115200,
			ReadTimeout:       50 * time.Millisecond,
			BufferSize:        64 * 1024,
			PermissionTimeout: 2 * time.Minute,
			PermissionPoll:    500 * time.Millisecond,
		},
		Verify: VerifyConfig{
			SourceDir:  "python",
			Extensions: []string{".py"},
			BridgeVars: []string{
				"kotlin_bridge",
				"kotlin_reticulum_bridge",
				"kotlin_rnode_bridge",
				"kotlin_ble_bridge",
			},
			Classes: []string{
				"KotlinReticulumBridge",
				"KotlinBLEBridge",
				"KotlinRNodeBridge",
			},
			CodeSuffixes: []string{".dex"},
		},
	}
}

// Load reads and parses a YAML config file. Missing fields keep their
// defaults. A leading ~ in log.file and verify.source_dir is expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Log.File = expandTilde(cfg.Log.File)
	cfg.Verify.SourceDir = expandTilde(cfg.Verify.SourceDir)
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields Default.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn, or error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be \"text\" or \"json\", got %q", c.Log.Format)
	}

	if c.Serial.BaudRate <= 0 {
		return fmt.Errorf("serial.baud_rate must be > 0")
	}
	if c.Serial.ReadTimeout <= 0 {
		return fmt.Errorf("serial.read_timeout must be > 0")
	}
	if c.Serial.BufferSize <= 0 {
		return fmt.Errorf("serial.buffer_size must be > 0")
	}
	if c.Serial.PermissionTimeout <= 0 {
		return fmt.Errorf("serial.permission_timeout must be > 0")
	}
	if c.Serial.PermissionPoll <= 0 || c.Serial.PermissionPoll > c.Serial.PermissionTimeout {
		return fmt.Errorf("serial.permission_poll must be > 0 and <= permission_timeout")
	}

	if c.Verify.SourceDir == "" {
		return fmt.Errorf("verify.source_dir must not be empty")
	}
	if len(c.Verify.BridgeVars) == 0 {
		return fmt.Errorf("verify.bridge_vars must not be empty")
	}
	for _, v := range c.Verify.BridgeVars {
		if !isIdentifier(v) {
			return fmt.Errorf("verify.bridge_vars: %q is not an identifier", v)
		}
	}
	if len(c.Verify.CodeSuffixes) == 0 {
		return fmt.Errorf("verify.code_suffixes must not be empty")
	}
	return nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
