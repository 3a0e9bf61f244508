package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultAPIBase is the hosted medical-assistant backend
const DefaultAPIBase = "https://hamzamushtaq840-ai-doctor.hf.space"

// Supported key/value store backends
const (
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// Config holds client settings. Values are layered: defaults, then the YAML
// file, then MEDICHAT_* environment variables, then command-line flags.
type Config struct {
	APIBase       string        `yaml:"api_base"`
	Stream        bool          `yaml:"stream"`
	SyncAfterSend bool          `yaml:"sync_after_send"`
	Store         string        `yaml:"store"`
	RedisURL      string        `yaml:"redis_url,omitempty"`
	DataDir       string        `yaml:"data_dir,omitempty"`
	Timeout       time.Duration `yaml:"timeout"` // history and clear requests only
}

// DefaultConfig returns the built-in settings rooted at dataDir
func DefaultConfig(dataDir string) *Config {
	return &Config{
		APIBase:       DefaultAPIBase,
		Stream:        true,
		SyncAfterSend: true,
		Store:         StoreSQLite,
		DataDir:       dataDir,
		Timeout:       30 * time.Second,
	}
}

// LoadConfig builds the configuration from defaults, the YAML file at path
// and the environment. An empty path means <data-dir>/config.yaml; a
// missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	dataDir := os.Getenv("MEDICHAT_DATA_DIR")
	if dataDir == "" {
		paths, err := DetectDataPaths()
		if err != nil {
			return nil, err
		}
		dataDir = paths.BasePath
	}
	cfg := DefaultConfig(dataDir)

	if path == "" {
		path = DataPaths{BasePath: dataDir}.ConfigPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &ConfigError{Path: path, Err: fmt.Errorf("failed to unmarshal config: %w", err)}
		}
		LogDebug("Loaded config from %s", path)
	case errors.Is(err, os.ErrNotExist):
		LogDebug("No config file at %s, using defaults", path)
	default:
		return nil, &ConfigError{Path: path, Err: err}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("MEDICHAT_API_BASE"); v != "" {
		c.APIBase = v
	}
	if v := os.Getenv("MEDICHAT_STORE"); v != "" {
		c.Store = v
	}
	if v := os.Getenv("MEDICHAT_REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("MEDICHAT_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("MEDICHAT_STREAM"); v != "" {
		stream, err := strconv.ParseBool(v)
		if err != nil {
			return &ConfigError{Key: "MEDICHAT_STREAM", Err: err}
		}
		c.Stream = stream
	}
	return nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	u, err := url.Parse(c.APIBase)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ConfigError{Key: "api_base", Err: fmt.Errorf("invalid URL %q", c.APIBase)}
	}
	switch c.Store {
	case StoreSQLite:
	case StoreRedis:
		if c.RedisURL == "" {
			return &ConfigError{Key: "redis_url", Err: errors.New("required when store is redis")}
		}
	default:
		return &ConfigError{Key: "store", Err: fmt.Errorf("unsupported store: %s (supported: sqlite, redis)", c.Store)}
	}
	if c.DataDir == "" {
		return &ConfigError{Key: "data_dir", Err: errors.New("must not be empty")}
	}
	if c.Timeout < 0 {
		return &ConfigError{Key: "timeout", Err: errors.New("must not be negative")}
	}
	return nil
}

// Paths returns the data paths rooted at the configured data directory
func (c *Config) Paths() DataPaths {
	return DataPaths{BasePath: c.DataDir}
}

// StateDBPath returns the SQLite state database location
func (c *Config) StateDBPath() string {
	return c.Paths().StateDBPath()
}

// CacheDir returns the transcript cache location
func (c *Config) CacheDir() string {
	return c.Paths().CacheDir()
}

// BaseURL returns the API base without a trailing slash
func (c *Config) BaseURL() string {
	return strings.TrimRight(c.APIBase, "/")
}

// SaveConfig writes the configuration as YAML
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return &ConfigError{Path: path, Err: err}
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return &ConfigError{Path: path, Err: fmt.Errorf("failed to marshal config: %w", err)}
	}
	return os.WriteFile(path, data, 0644)
}
