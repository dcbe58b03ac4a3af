// Package config loads tabtree settings.
//
// Settings come from, in increasing priority: defaults, the YAML file at
// ~/.config/tabtree/config.yaml, and TABTREE_* environment variables.
// Command line flags are applied on top by the caller.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lotas/tabtree/internal/firefox"
	"github.com/lotas/tabtree/internal/storage"
)

// Config holds every tunable setting.
type Config struct {
	Port    int    `yaml:"port,omitempty"`
	DBPath  string `yaml:"db_path,omitempty"`
	LogDir  string `yaml:"log_dir,omitempty"`
	Debug   bool   `yaml:"debug,omitempty"`
	Profile string `yaml:"profile,omitempty"`

	// NewTabAnimationDuration is the grace interval before a newly opened
	// tab is moved into place.
	NewTabAnimationDuration time.Duration `yaml:"new_tab_animation_duration,omitempty"`

	// ExtensionID names the extension whose session values are read from
	// session files.
	ExtensionID string `yaml:"extension_id,omitempty"`
}

// Default returns a Config with defaults filled in.
func Default() Config {
	dbPath, err := storage.DefaultDBPath()
	if err != nil {
		dbPath = "tabtree.db"
	}
	return Config{
		Port:                    19191,
		DBPath:                  dbPath,
		LogDir:                  filepath.Join(StateDir(), "logs"),
		NewTabAnimationDuration: 100 * time.Millisecond,
		ExtensionID:             firefox.TreeStyleTabID,
	}
}

func xdgDir(env string, fallback ...string) string {
	if dir := os.Getenv(env); dir != "" {
		return filepath.Join(dir, "tabtree")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(append(append([]string{home}, fallback...), "tabtree")...)
}

// ConfigDir returns the XDG config directory.
func ConfigDir() string { return xdgDir("XDG_CONFIG_HOME", ".config") }

// StateDir returns the XDG state directory.
func StateDir() string { return xdgDir("XDG_STATE_HOME", ".local", "state") }

// Path returns the full path to config.yaml.
func Path() string {
	dir := ConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

// Load reads the config file from the XDG config directory and applies the
// environment.
func Load() (Config, error) {
	cfg := Default()
	if path := Path(); path != "" {
		var err error
		if cfg, err = LoadFrom(path); err != nil {
			return cfg, err
		}
	}
	return cfg, cfg.applyEnv(os.Getenv)
}

// LoadFrom reads config from a specific path. A missing file yields the
// defaults.
func LoadFrom(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings the rest of the program cannot use.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.NewTabAnimationDuration < 0 {
		return fmt.Errorf("new_tab_animation_duration must not be negative")
	}
	if c.ExtensionID == "" {
		return fmt.Errorf("extension_id must not be empty")
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("TABTREE_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TABTREE_PORT: %w", err)
		}
		c.Port = port
	}
	if v := getenv("TABTREE_DB"); v != "" {
		c.DBPath = v
	}
	if v := getenv("TABTREE_LOG_DIR"); v != "" {
		c.LogDir = v
	}
	if v := getenv("TABTREE_DEBUG"); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("TABTREE_DEBUG: %w", err)
		}
		c.Debug = on
	}
	if v := getenv("TABTREE_PROFILE"); v != "" {
		c.Profile = v
	}
	return c.Validate()
}

// Save writes cfg to path as YAML, creating the directory if needed.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
