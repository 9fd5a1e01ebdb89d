package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNetworkFilesystem is returned when a state or file path lives on a network mount.
var ErrNetworkFilesystem = errors.New("path is on a network filesystem")

var errUnsupportedPlatform = errors.New("filesystem detection is unsupported on this platform")

var networkFilesystems = map[string]struct{}{
	"afpfs":  {},
	"cifs":   {},
	"nfs":    {},
	"smbfs":  {},
	"smb2":   {},
	"webdav": {},
}

// CheckLocalFilesystem ensures path (or its nearest existing parent) is on a
// local filesystem. Platforms without detection support always pass.
func CheckLocalFilesystem(path string) error {
	return checkLocalFilesystem(path, detectFilesystemType)
}

func checkLocalFilesystem(path string, detect func(string) (string, error)) error {
	if path == "" {
		return fmt.Errorf("path is empty")
	}

	existing, err := nearestExistingPath(path)
	if err != nil {
		return fmt.Errorf("resolve path %q: %w", path, err)
	}

	fsType, err := detect(existing)
	if errors.Is(err, errUnsupportedPlatform) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", existing, err)
	}

	if isNetworkFilesystem(fsType) {
		return fmt.Errorf("%w: %q is on %q; SQLite locking and PDF merges need local disk (set state.path and files.* to local paths)",
			ErrNetworkFilesystem, path, fsType)
	}
	return nil
}

func nearestExistingPath(path string) (string, error) {
	candidate, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}

	for {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", path)
		}
		candidate = parent
	}
}

func isNetworkFilesystem(fsType string) bool {
	_, found := networkFilesystems[strings.ToLower(strings.TrimSpace(fsType))]
	return found
}
