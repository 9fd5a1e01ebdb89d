// Package outline models book outlines and flattens them into render order.
package outline

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a document id does not resolve.
	ErrNotFound = errors.New("document not found")
	// ErrMoveSubtree is returned by AddToBook for a document with children
	// that would change parent; its descendants' book, branch and depth would go stale.
	ErrMoveSubtree = errors.New("document with children cannot change parent")
)

// Status is the publish state of a document.
type Status int

const (
	Unpublished Status = 0
	Published   Status = 1
)

func (s Status) String() string {
	if s == Published {
		return "published"
	}
	return "unpublished"
}

// MarshalText renders the status as "published" or "unpublished".
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Document is one page of a book, or a standalone page when Outline is nil.
type Document struct {
	ID          int64       `json:"id"`
	Title       string      `json:"title"`
	Subtitle    string      `json:"subtitle,omitempty"`
	Bundle      string      `json:"bundle"`
	Body        string      `json:"body,omitempty"`
	Status      Status      `json:"status"`
	PublishedAt *time.Time  `json:"published_at,omitempty"`
	Outline     *Membership `json:"outline,omitempty"`
}

// IsPublished reports whether the document is published.
func (d *Document) IsPublished() bool {
	return d.Status == Published
}

// Membership places a document inside a book.
type Membership struct {
	BookID   int64 `json:"book_id"`
	ParentID int64 `json:"parent_id"`
	// BranchID is the depth-2 ancestor: the document itself at depth 2, 0 for the book root.
	BranchID    int64 `json:"branch_id"`
	Depth       int   `json:"depth"`
	Weight      int   `json:"weight"`
	HasChildren bool  `json:"has_children"`
}

// Node is one entry of a book tree. No node may be its own ancestor.
type Node struct {
	ID       int64  `json:"id"`
	Children []Node `json:"children,omitempty"`
}

// Store is the read side of document storage.
type Store interface {
	// Load returns ErrNotFound when id does not resolve.
	Load(ctx context.Context, id int64) (*Document, error)
	// LoadMultiple omits ids that do not resolve.
	LoadMultiple(ctx context.Context, ids []int64) (map[int64]*Document, error)
	// ChildrenOf returns the direct children of id in ascending weight order.
	ChildrenOf(ctx context.Context, id int64) ([]int64, error)
}

// Repository is the full document storage contract.
type Repository interface {
	Store
	Create(ctx context.Context, doc *Document) (int64, error)
	Save(ctx context.Context, doc *Document) error
	Delete(ctx context.Context, id int64) error
	// AddToBook attaches id under parentID. A zero parentID makes id a new book root.
	// A document with children keeps its parent; moving it returns ErrMoveSubtree.
	AddToBook(ctx context.Context, id, parentID int64, weight int) (Membership, error)
	// AllOutlineData returns the whole tree of a book rooted at bookID.
	AllOutlineData(ctx context.Context, bookID int64) (*Node, error)
}
