// Package artifact records merged PDF outputs and keeps one record per location.
package artifact

import (
	"context"
	"errors"
	"path"
	"time"
)

// ErrNotFound is returned by lookups that match nothing.
var ErrNotFound = errors.New("artifact not found")

// Location identifies a stored file, e.g. public://Handbook/Handbook.pdf.
type Location struct {
	URI        string
	DocumentID int64
}

// Filename is the last path element of the URI.
func (l Location) Filename() string {
	return path.Base(l.URI)
}

// Artifact is a stored output file. At most one exists per URI.
type Artifact struct {
	ID         int64     `json:"id"`
	URI        string    `json:"uri"`
	Filename   string    `json:"filename"`
	DocumentID int64     `json:"document_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Metadata describes an artifact for listings. Every record pointing at one
// artifact carries the same page count.
type Metadata struct {
	ID         int64     `json:"id"`
	ArtifactID int64     `json:"artifact_id"`
	Bundle     string    `json:"bundle"`
	Title      string    `json:"title"`
	Pages      int       `json:"pages"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store deduplicates artifacts and their metadata.
type Store interface {
	// EnsureArtifact returns the artifact for loc.URI, creating it when absent.
	EnsureArtifact(ctx context.Context, loc Location) (Artifact, bool, error)
	// EnsureMetadata creates the first metadata record for artifactID, or
	// refreshes the page count of every existing one.
	EnsureMetadata(ctx context.Context, artifactID int64, title string, pages int) ([]Metadata, error)
	// ByURI looks up an artifact without creating it.
	ByURI(ctx context.Context, uri string) (Artifact, error)
	// List returns every artifact with its metadata, oldest first.
	List(ctx context.Context) ([]Entry, error)
}

// Entry pairs an artifact with its metadata records.
type Entry struct {
	Artifact Artifact   `json:"artifact"`
	Metadata []Metadata `json:"metadata"`
}
