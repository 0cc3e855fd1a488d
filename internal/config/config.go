package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so it reads as "30s" in YAML.
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config holds the wxtap runtime configuration.
type Config struct {
	// Key is the 64-hex-character raw store key.
	Key string `yaml:"key"`
	// DBDir is the root of the external application's database storage.
	DBDir string `yaml:"db_dir"`
	// PollInterval is the safety-net capture interval when no filesystem
	// notifications arrive.
	PollInterval Duration `yaml:"poll_interval"`
	// LogPath is an optional JSON log file; empty logs to stderr only.
	LogPath string `yaml:"log_path"`
}

// PollEvery returns the poll interval as a time.Duration.
func (c *Config) PollEvery() time.Duration {
	return time.Duration(c.PollInterval)
}

// DefaultDBDir returns the external application's database directory for
// the current OS.
func DefaultDBDir() string {
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Containers", "com.tencent.xinWeChat", "Data", "db_storage")
	default:
		return filepath.Join(home, ".local", "share", "weixin", "db_storage")
	}
}

// DefaultConfigPath returns the per-user config file location.
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "wxtap", "config.yaml")
	default:
		return filepath.Join(home, ".config", "wxtap", "config.yaml")
	}
}

// Load reads the config file at path (DefaultConfigPath when empty, where
// a missing default file is fine) and applies environment overrides:
// WXTAP_KEY, WXTAP_DB_DIR, WXTAP_POLL_INTERVAL, WXTAP_LOG_PATH.
func Load(path string) (*Config, error) {
	cfg := &Config{
		DBDir:        DefaultDBDir(),
		PollInterval: Duration(30 * time.Second),
	}

	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if explicit || !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if v := os.Getenv("WXTAP_KEY"); v != "" {
		cfg.Key = v
	}
	if v := os.Getenv("WXTAP_DB_DIR"); v != "" {
		cfg.DBDir = v
	}
	if v := os.Getenv("WXTAP_POLL_INTERVAL"); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid WXTAP_POLL_INTERVAL: %w", err)
		}
		cfg.PollInterval = Duration(parsed)
	}
	if v := os.Getenv("WXTAP_LOG_PATH"); v != "" {
		cfg.LogPath = v
	}
	return cfg, nil
}
