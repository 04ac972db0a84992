// Package xdg locates burrow's config and data directories.
package xdg

import (
	"os"
	"path/filepath"
)

const appName = "burrow"

// Dir returns envVar/burrow when envVar is set, else ~/fallbackDot/burrow.
func Dir(envVar, fallbackDot string) (string, error) {
	if dir := os.Getenv(envVar); dir != "" {
		return filepath.Join(dir, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, fallbackDot, appName), nil
}

// ConfigDir holds config.toml.
func ConfigDir() (string, error) {
	return Dir("XDG_CONFIG_HOME", ".config")
}

// DataDir holds the audit database.
func DataDir() (string, error) {
	return Dir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}
