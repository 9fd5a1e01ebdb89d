package artifact

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteStore keeps artifacts and metadata in SQLite. The UNIQUE index on
// artifacts.uri is the dedup key.
type SQLiteStore struct {
	db     *sql.DB
	bundle string
}

// NewSQLiteStore builds a store that tags new metadata records with bundle.
func NewSQLiteStore(db *sql.DB, bundle string) *SQLiteStore {
	return &SQLiteStore{db: db, bundle: bundle}
}

func (s *SQLiteStore) EnsureArtifact(ctx context.Context, loc Location) (Artifact, bool, error) {
	if loc.URI == "" {
		return Artifact{}, false, fmt.Errorf("artifact uri is empty")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	res, err := s.db.ExecContext(ctx, `
INSERT INTO artifacts(uri, filename, document_id, created_at)
VALUES(?, ?, ?, ?)
ON CONFLICT(uri) DO NOTHING;
`, loc.URI, loc.Filename(), loc.DocumentID, now)
	if err != nil {
		return Artifact{}, false, fmt.Errorf("insert artifact %s: %w", loc.URI, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Artifact{}, false, fmt.Errorf("artifact rows affected: %w", err)
	}

	a, err := s.ByURI(ctx, loc.URI)
	if err != nil {
		return Artifact{}, false, err
	}
	return a, n == 1, nil
}

func (s *SQLiteStore) ByURI(ctx context.Context, uri string) (Artifact, error) {
	var (
		a         Artifact
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, uri, filename, document_id, created_at
FROM artifacts
WHERE uri = ?;
`, uri).Scan(&a.ID, &a.URI, &a.Filename, &a.DocumentID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Artifact{}, fmt.Errorf("%s: %w", uri, ErrNotFound)
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("load artifact %s: %w", uri, err)
	}
	a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return a, nil
}

func (s *SQLiteStore) EnsureMetadata(ctx context.Context, artifactID int64, title string, pages int) ([]Metadata, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339Nano)

	var existing int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM artifact_meta WHERE artifact_id = ?;`, artifactID).Scan(&existing); err != nil {
		return nil, fmt.Errorf("count metadata for %d: %w", artifactID, err)
	}

	if existing == 0 {
		_, err = tx.ExecContext(ctx, `
INSERT INTO artifact_meta(artifact_id, bundle, title, pages, updated_at)
VALUES(?, ?, ?, ?, ?);
`, artifactID, s.bundle, title, pages, now)
	} else {
		_, err = tx.ExecContext(ctx, `
UPDATE artifact_meta SET pages = ?, updated_at = ?
WHERE artifact_id = ?;
`, pages, now, artifactID)
	}
	if err != nil {
		return nil, fmt.Errorf("write metadata for %d: %w", artifactID, err)
	}

	out, err := metadataFor(ctx, tx, artifactID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit metadata: %w", err)
	}
	return out, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func metadataFor(ctx context.Context, q querier, artifactID int64) ([]Metadata, error) {
	rows, err := q.QueryContext(ctx, `
SELECT id, artifact_id, bundle, title, pages, updated_at
FROM artifact_meta
WHERE artifact_id = ?
ORDER BY id ASC;
`, artifactID)
	if err != nil {
		return nil, fmt.Errorf("query metadata for %d: %w", artifactID, err)
	}
	defer rows.Close()

	var out []Metadata
	for rows.Next() {
		var (
			m         Metadata
			updatedAt string
		)
		if err := rows.Scan(&m.ID, &m.ArtifactID, &m.Bundle, &m.Title, &m.Pages, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan metadata: %w", err)
		}
		m.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate metadata: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, uri, filename, document_id, created_at
FROM artifacts
ORDER BY id ASC;
`)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}

	var entries []Entry
	for rows.Next() {
		var (
			a         Artifact
			createdAt string
		)
		if err := rows.Scan(&a.ID, &a.URI, &a.Filename, &a.DocumentID, &createdAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		entries = append(entries, Entry{Artifact: a})
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("iterate artifacts: %w", err)
	}

	for i := range entries {
		meta, err := metadataFor(ctx, s.db, entries[i].Artifact.ID)
		if err != nil {
			return nil, err
		}
		entries[i].Metadata = meta
	}
	return entries, nil
}
