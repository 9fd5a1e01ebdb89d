package outline

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

// IsInBook reports whether doc belongs to a book whose root still loads.
func IsInBook(ctx context.Context, store Store, doc *Document) (bool, error) {
	if doc == nil || doc.Outline == nil || doc.Outline.BookID == 0 {
		return false, nil
	}
	if doc.Outline.BookID == doc.ID {
		return true, nil
	}
	_, err := store.Load(ctx, doc.Outline.BookID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// IsIDInBook is IsInBook for a document id. Unknown ids are not in a book.
func IsIDInBook(ctx context.Context, store Store, id int64) (bool, error) {
	if id <= 0 {
		return false, nil
	}
	doc, err := store.Load(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return IsInBook(ctx, store, doc)
}

// BookTitle returns the title of the book root bookID.
func BookTitle(ctx context.Context, store Store, bookID int64) (string, error) {
	doc, err := store.Load(ctx, bookID)
	if err != nil {
		return "", fmt.Errorf("book %d: %w", bookID, err)
	}
	return doc.Title, nil
}

// FlatBookTree lists every document of a book in pre-order, ignoring publish state.
func FlatBookTree(ctx context.Context, repo Repository, bookID int64) ([]int64, error) {
	root, err := repo.AllOutlineData(ctx, bookID)
	if err != nil {
		return nil, err
	}

	var out []int64
	stack := []*Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, n.ID)
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, &n.Children[i])
		}
	}
	return out, nil
}

// AllowedBundles returns the configured book bundles, sorted and deduplicated.
func AllowedBundles(configured []string) []string {
	out := slices.Clone(configured)
	slices.Sort(out)
	return slices.Compact(out)
}

// BundleAllowed reports whether bundle may hold a book outline.
func BundleAllowed(allowed []string, bundle string) bool {
	return slices.Contains(allowed, bundle)
}
