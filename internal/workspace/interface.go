// Package workspace maps scheme URIs (public://, temporary://) onto local
// directories and manages the files stored under them.
package workspace

import (
	"context"
	"errors"
	"time"
)

// Schemes understood by the file manager.
const (
	SchemePublic    = "public"
	SchemeTemporary = "temporary"
)

var (
	ErrUnknownScheme = errors.New("unknown file scheme")
	ErrUnsafePath    = errors.New("path escapes its scheme directory")
)

// CleanupReport summarizes a cleanup run.
type CleanupReport struct {
	DeletedFiles int
	DeletedDirs  int
}

// Manager resolves and maintains scheme-addressed files.
type Manager interface {
	// Resolve maps a scheme URI to an absolute local path.
	Resolve(uri string) (string, error)

	// PrepareDirectory creates the directory a URI names and checks it is writable.
	PrepareDirectory(ctx context.Context, uri string) error

	// TempURI returns a fresh temporary:// URI ending in hint.
	TempURI(hint, ext string) string

	// WriteFile stores data at uri, creating parent directories.
	WriteFile(ctx context.Context, uri string, data []byte) error

	// Copy copies the file at srcURI to dstURI, replacing dstURI atomically.
	Copy(ctx context.Context, srcURI, dstURI string) error

	// Cleanup removes files under scheme older than olderThan, then empty directories.
	Cleanup(ctx context.Context, scheme string, olderThan time.Duration) (CleanupReport, error)
}
