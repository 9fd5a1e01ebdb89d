package outline

import (
	"context"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

// ImportNode is one document of a YAML outline file.
type ImportNode struct {
	Title     string       `yaml:"title"`
	Subtitle  string       `yaml:"subtitle"`
	Bundle    string       `yaml:"bundle"`
	Body      string       `yaml:"body"`
	Published bool         `yaml:"published"`
	Weight    int          `yaml:"weight"`
	Children  []ImportNode `yaml:"children"`
}

// ImportResult summarises an outline import.
type ImportResult struct {
	BookID    int64 `json:"book_id"`
	Documents int   `json:"documents"`
}

// Import reads a YAML outline and creates it as a new book. Children without a
// bundle inherit their parent's.
func Import(ctx context.Context, repo Repository, r io.Reader, allowed []string) (ImportResult, error) {
	var root ImportNode
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&root); err != nil {
		return ImportResult{}, fmt.Errorf("parse outline: %w", err)
	}
	if root.Title == "" {
		return ImportResult{}, fmt.Errorf("outline root: title is required")
	}
	if len(allowed) > 0 && !BundleAllowed(allowed, root.Bundle) {
		return ImportResult{}, fmt.Errorf("outline root: bundle %q is not an allowed book type %v", root.Bundle, allowed)
	}

	imp := importer{repo: repo, now: time.Now().UTC()}
	bookID, err := imp.create(ctx, root, 0, root.Bundle)
	if err != nil {
		return ImportResult{}, err
	}
	return ImportResult{BookID: bookID, Documents: imp.count}, nil
}

type importer struct {
	repo  Repository
	now   time.Time
	count int
}

func (imp *importer) create(ctx context.Context, n ImportNode, parentID int64, bundle string) (int64, error) {
	if n.Bundle != "" {
		bundle = n.Bundle
	}
	if n.Title == "" {
		return 0, fmt.Errorf("outline node under %d: title is required", parentID)
	}

	doc := &Document{
		Title:    n.Title,
		Subtitle: n.Subtitle,
		Bundle:   bundle,
		Body:     n.Body,
	}
	if n.Published {
		doc.Status = Published
		doc.PublishedAt = &imp.now
	}

	id, err := imp.repo.Create(ctx, doc)
	if err != nil {
		return 0, fmt.Errorf("create %q: %w", n.Title, err)
	}
	if _, err := imp.repo.AddToBook(ctx, id, parentID, n.Weight); err != nil {
		return 0, fmt.Errorf("place %q: %w", n.Title, err)
	}
	imp.count++

	for _, child := range n.Children {
		if _, err := imp.create(ctx, child, id, bundle); err != nil {
			return 0, err
		}
	}
	return id, nil
}
