package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

const checksumsFile = ".checksums"

// LockedFile is the checksum outcome for one scope file.
type LockedFile struct {
	Filename string
	Exists   bool
	Hash     string
}

// LockReport describes what `folio config lock` computed and wrote.
type LockReport struct {
	ChecksumPath string
	Written      bool
	Files        []LockedFile
}

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyFileHash verifies a file against an expected BLAKE3 hash.
func VerifyFileHash(filePath, expectedHash string) error {
	actual, err := ComputeBlake3Hash(filePath)
	if err != nil {
		return fmt.Errorf("failed to compute hash: %w", err)
	}
	if actual != expectedHash {
		return fmt.Errorf("hash mismatch for %s: expected %s, got %s",
			filepath.Base(filePath), expectedHash, actual)
	}
	return nil
}

// Lock hashes the scope files in configDir and writes .checksums unless dryRun is set.
func Lock(configDir string, dryRun bool) (*LockReport, error) {
	manifest := ChecksumManifest{
		Version:     1,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Hashes:      make(map[string]string),
	}
	report := &LockReport{
		ChecksumPath: filepath.Join(configDir, checksumsFile),
		Files:        make([]LockedFile, 0, len(ScopeFiles)),
	}

	for _, name := range ScopeFiles {
		path := filepath.Join(configDir, name)
		if !fileExists(path) {
			report.Files = append(report.Files, LockedFile{Filename: name})
			continue
		}
		hash, err := ComputeBlake3Hash(path)
		if err != nil {
			return nil, fmt.Errorf("failed to hash %s: %w", name, err)
		}
		manifest.Hashes[name] = hash
		report.Files = append(report.Files, LockedFile{Filename: name, Exists: true, Hash: hash})
	}

	if dryRun {
		return report, nil
	}

	data, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checksums: %w", err)
	}
	if err := os.WriteFile(report.ChecksumPath, data, 0600); err != nil {
		return nil, fmt.Errorf("failed to write checksums: %w", err)
	}
	report.Written = true
	return report, nil
}

// LoadChecksums reads the .checksums file from a config directory.
func LoadChecksums(configDir string) (*ChecksumManifest, error) {
	data, err := os.ReadFile(filepath.Join(configDir, checksumsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("checksums file not found (run 'folio config lock')")
		}
		return nil, fmt.Errorf("failed to read checksums: %w", err)
	}

	var manifest ChecksumManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse checksums: %w", err)
	}
	if manifest.Version != 1 {
		return nil, fmt.Errorf("unsupported checksums version: %d", manifest.Version)
	}
	return &manifest, nil
}

// VerifyScopeFiles verifies all scope files against their checksums.
func VerifyScopeFiles(configDir string, manifest *ChecksumManifest, scopeFiles []string) error {
	for _, name := range scopeFiles {
		path := filepath.Join(configDir, name)
		expected, hashed := manifest.Hashes[name]

		if !fileExists(path) {
			if hashed {
				return fmt.Errorf("scope file %s is in checksums but missing from disk", name)
			}
			continue
		}
		if !hashed {
			return fmt.Errorf("scope file %s has no hash in checksums (run 'folio config lock')", name)
		}
		if err := VerifyFileHash(path, expected); err != nil {
			return fmt.Errorf("scope file verification failed: %w\n"+
				"If you edited this file intentionally, run: folio config lock", err)
		}
	}
	return nil
}
