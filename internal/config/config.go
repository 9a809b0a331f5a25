// Package config handles loading and managing msgextract configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// DefaultMaxInputBytes caps the size of a single input file.
const DefaultMaxInputBytes = 100 << 20

// Config represents the msgextract configuration.
type Config struct {
	Parse  ParseConfig  `toml:"parse"`
	Output OutputConfig `toml:"output"`

	// Computed paths (not from config file)
	HomeDir    string `toml:"-"`
	configPath string
}

// ParseConfig holds extraction settings.
type ParseConfig struct {
	// MaxDepth bounds nested message expansion. Absent means unbounded;
	// 0 and 1 both yield only the top-level message.
	MaxDepth      *int   `toml:"max_depth"`
	NestingLevel  string `toml:"nesting_level"`   // all | outer | inner
	MaxInputBytes int64  `toml:"max_input_bytes"` // Larger inputs are rejected
	Workers       int    `toml:"workers"`         // Files parsed concurrently (0 = NumCPU)
}

// OutputConfig holds output settings.
type OutputConfig struct {
	Format string `toml:"format"` // json | text
}

// DefaultHome returns the default msgextract home directory.
// Respects MSGEXTRACT_HOME environment variable.
func DefaultHome() string {
	if h := os.Getenv("MSGEXTRACT_HOME"); h != "" {
		return expandPath(h)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".msgextract"
	}
	return filepath.Join(home, ".msgextract")
}

// NewDefaultConfig returns a configuration with default values.
func NewDefaultConfig() *Config {
	return newConfig(DefaultHome())
}

func newConfig(homeDir string) *Config {
	return &Config{
		HomeDir: homeDir,
		Parse: ParseConfig{
			NestingLevel:  "all",
			MaxInputBytes: DefaultMaxInputBytes,
		},
		Output: OutputConfig{
			Format: "json",
		},
		configPath: filepath.Join(homeDir, "config.toml"),
	}
}

// Load reads the configuration. An explicit path must exist; otherwise
// config.toml under homeDir (or DefaultHome when homeDir is empty) is read
// if present.
func Load(path, homeDir string) (*Config, error) {
	if homeDir != "" {
		homeDir = expandPath(homeDir)
	} else {
		homeDir = DefaultHome()
	}
	cfg := newConfig(homeDir)

	if path != "" {
		path = expandPath(path)
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		cfg.configPath = path
	} else if _, err := os.Stat(cfg.configPath); errors.Is(err, os.ErrNotExist) {
		// Config file is optional - use defaults if not present
		return cfg, nil
	}

	if _, err := toml.DecodeFile(cfg.configPath, cfg); err != nil {
		return nil, decodeError(cfg.configPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.configPath, err)
	}
	return cfg, nil
}

// ConfigFilePath returns the path of the config file that was (or would
// be) loaded.
func (c *Config) ConfigFilePath() string {
	return c.configPath
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	if c.Parse.MaxDepth != nil && *c.Parse.MaxDepth < 0 {
		return fmt.Errorf("parse.max_depth must not be negative, got %d", *c.Parse.MaxDepth)
	}
	switch strings.ToLower(c.Parse.NestingLevel) {
	case "", "all", "outer", "inner", "outer-only", "inner-only":
	default:
		return fmt.Errorf("parse.nesting_level %q is not one of all, outer, inner", c.Parse.NestingLevel)
	}
	if c.Parse.MaxInputBytes < 0 {
		return fmt.Errorf("parse.max_input_bytes must not be negative, got %d", c.Parse.MaxInputBytes)
	}
	if c.Parse.Workers < 0 {
		return fmt.Errorf("parse.workers must not be negative, got %d", c.Parse.Workers)
	}
	switch strings.ToLower(c.Output.Format) {
	case "", "json", "text":
	default:
		return fmt.Errorf("output.format %q is not one of json, text", c.Output.Format)
	}
	return nil
}

// decodeError wraps a TOML error, adding a hint when the failure looks like
// an unescaped Windows path.
func decodeError(path string, err error) error {
	msg := err.Error()
	if strings.Contains(msg, "escape") || strings.Contains(msg, "hexadecimal") {
		return fmt.Errorf("decode config %s: %w (hint: use forward slashes or single quotes for Windows paths, e.g. 'C:\\data')", path, err)
	}
	return fmt.Errorf("decode config %s: %w", path, err)
}

// expandPath expands a leading ~ or ~/ to the user's home directory.
func expandPath(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimLeft(path[1:], "/"))
}
