package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// DataPaths holds the locations of the client's local files
type DataPaths struct {
	BasePath string // per-profile data directory
}

// DetectDataPaths detects the data directory based on the operating system
func DetectDataPaths() (DataPaths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return DataPaths{}, fmt.Errorf("failed to get home directory: %w", err)
	}

	var basePath string
	switch runtime.GOOS {
	case "darwin":
		basePath = filepath.Join(home, "Library/Application Support/medichat")
	case "linux":
		// Respect XDG_CONFIG_HOME when set
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			basePath = filepath.Join(xdg, "medichat")
		} else {
			basePath = filepath.Join(home, ".config/medichat")
		}
	default:
		dir, err := os.UserConfigDir()
		if err != nil {
			return DataPaths{}, fmt.Errorf("unsupported OS: %s: %w", runtime.GOOS, err)
		}
		basePath = filepath.Join(dir, "medichat")
	}

	return DataPaths{BasePath: basePath}, nil
}

// StateDBPath returns the path to the SQLite state database
func (dp DataPaths) StateDBPath() string {
	return filepath.Join(dp.BasePath, "state.db")
}

// CacheDir returns the transcript cache directory
func (dp DataPaths) CacheDir() string {
	return filepath.Join(dp.BasePath, "cache")
}

// ConfigPath returns the path to the YAML config file
func (dp DataPaths) ConfigPath() string {
	return filepath.Join(dp.BasePath, "config.yaml")
}

// Exists checks if the data directory exists
func (dp DataPaths) Exists() bool {
	info, err := os.Stat(dp.BasePath)
	if err != nil {
		return false
	}
	return info.IsDir()
}
