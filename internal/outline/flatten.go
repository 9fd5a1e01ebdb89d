package outline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mattjoyce/folio/internal/events"
	"github.com/mattjoyce/folio/internal/log"
)

// DiagnosticKind says why a branch was left out of a flatten.
type DiagnosticKind string

const (
	MissingReference DiagnosticKind = "missing_reference"
	NotInOutline     DiagnosticKind = "not_in_outline"
	UnpublishedNode  DiagnosticKind = "unpublished"
	Cycle            DiagnosticKind = "cycle"
)

// Diagnostic records a skipped branch.
type Diagnostic struct {
	Kind       DiagnosticKind `json:"kind"`
	RootID     int64          `json:"root_id"`
	DocumentID int64          `json:"document_id"`
}

// Flattener turns a book subtree into a pre-order id sequence.
type Flattener struct {
	store  Store
	events events.Publisher
	logger *slog.Logger
}

// NewFlattener builds a Flattener. A nil publisher discards diagnostics.
func NewFlattener(store Store, pub events.Publisher) *Flattener {
	if pub == nil {
		pub = events.Discard
	}
	return &Flattener{
		store:  store,
		events: pub,
		logger: log.WithComponent("outline"),
	}
}

// Flatten returns rootID and its descendants in pre-order, each at most once.
// Skipped branches are reported as diagnostics, never as errors.
func (f *Flattener) Flatten(ctx context.Context, rootID int64, includeUnpublished bool) ([]int64, error) {
	ids, _, err := f.Walk(ctx, rootID, includeUnpublished)
	return ids, err
}

type frame struct {
	ids  []int64
	next int
}

// Walk is Flatten plus the diagnostics collected along the way.
func (f *Flattener) Walk(ctx context.Context, rootID int64, includeUnpublished bool) ([]int64, []Diagnostic, error) {
	w := &walk{
		f:                  f,
		rootID:             rootID,
		includeUnpublished: includeUnpublished,
		visited:            make(map[int64]bool),
		books:              make(map[int64]bool),
	}

	stack := []frame{{ids: []int64{rootID}}}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		top := &stack[len(stack)-1]
		if top.next >= len(top.ids) {
			stack = stack[:len(stack)-1]
			continue
		}
		id := top.ids[top.next]
		top.next++

		children, err := w.visit(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		if len(children) > 0 {
			stack = append(stack, frame{ids: children})
		}
	}
	return w.out, w.diags, nil
}

type walk struct {
	f                  *Flattener
	rootID             int64
	includeUnpublished bool
	visited            map[int64]bool
	books              map[int64]bool
	out                []int64
	diags              []Diagnostic
}

// visit appends id when it qualifies and returns the children to descend into.
func (w *walk) visit(ctx context.Context, id int64) ([]int64, error) {
	if w.visited[id] {
		w.skip(Cycle, id)
		return nil, nil
	}
	w.visited[id] = true

	doc, err := w.f.store.Load(ctx, id)
	if errors.Is(err, ErrNotFound) {
		w.skip(MissingReference, id)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load document %d: %w", id, err)
	}

	inBook, err := w.inBook(ctx, doc)
	if err != nil {
		return nil, err
	}
	if !inBook {
		w.skip(NotInOutline, id)
		return nil, nil
	}

	if !w.includeUnpublished && !doc.IsPublished() {
		w.skip(UnpublishedNode, id)
		return nil, nil
	}

	w.out = append(w.out, id)
	if !doc.Outline.HasChildren {
		return nil, nil
	}

	children, err := w.f.store.ChildrenOf(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("children of %d: %w", id, err)
	}
	return children, nil
}

func (w *walk) inBook(ctx context.Context, doc *Document) (bool, error) {
	if doc.Outline == nil || doc.Outline.BookID == 0 {
		return false, nil
	}
	bookID := doc.Outline.BookID
	if bookID == doc.ID {
		return true, nil
	}
	if ok, seen := w.books[bookID]; seen {
		return ok, nil
	}

	_, err := w.f.store.Load(ctx, bookID)
	switch {
	case errors.Is(err, ErrNotFound):
		w.books[bookID] = false
	case err != nil:
		return false, fmt.Errorf("load book %d: %w", bookID, err)
	default:
		w.books[bookID] = true
	}
	return w.books[bookID], nil
}

func (w *walk) skip(kind DiagnosticKind, id int64) {
	d := Diagnostic{Kind: kind, RootID: w.rootID, DocumentID: id}
	w.diags = append(w.diags, d)
	w.f.logger.Warn("outline branch skipped",
		"kind", string(kind),
		"root_id", w.rootID,
		"document_id", id,
	)
	w.f.events.Publish(events.OutlineBranchSkipped, d)
}
