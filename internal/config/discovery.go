package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// DiscoverConfigPath finds config.yaml by checking standard locations.
// Priority order: $FOLIO_CONFIG_DIR, ./config.yaml, ~/.config/folio, /etc/folio.
// The --config flag short-circuits discovery in the CLI.
func DiscoverConfigPath() (string, error) {
	if dir := os.Getenv("FOLIO_CONFIG_DIR"); dir != "" {
		if path := filepath.Join(dir, "config.yaml"); fileExists(path) {
			return path, nil
		}
	}

	if fileExists("./config.yaml") {
		return "./config.yaml", nil
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		path := filepath.Join(homeDir, ".config", "folio", "config.yaml")
		if fileExists(path) {
			return path, nil
		}
	}

	if path := "/etc/folio/config.yaml"; fileExists(path) {
		return path, nil
	}

	return "", fmt.Errorf("no config found (checked: $FOLIO_CONFIG_DIR, ./config.yaml, ~/.config/folio, /etc/folio)")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
