package outline

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryRepository is a map-backed Repository for tests and dry runs.
type MemoryRepository struct {
	mu     sync.Mutex
	nextID int64
	docs   map[int64]*Document
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{docs: make(map[int64]*Document)}
}

// Put stores doc as-is, including any membership, without consistency checks.
func (m *MemoryRepository) Put(doc Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ID] = cloneDocument(&doc)
	if doc.ID > m.nextID {
		m.nextID = doc.ID
	}
}

func (m *MemoryRepository) Load(_ context.Context, id int64) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %d: %w", id, ErrNotFound)
	}
	return cloneDocument(doc), nil
}

func (m *MemoryRepository) LoadMultiple(_ context.Context, ids []int64) (map[int64]*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64]*Document, len(ids))
	for _, id := range ids {
		if doc, ok := m.docs[id]; ok {
			out[id] = cloneDocument(doc)
		}
	}
	return out, nil
}

func (m *MemoryRepository) ChildrenOf(_ context.Context, id int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.childrenLocked(id), nil
}

func (m *MemoryRepository) childrenLocked(id int64) []int64 {
	var kids []*Document
	for _, doc := range m.docs {
		if doc.Outline != nil && doc.Outline.ParentID == id && doc.ID != id {
			kids = append(kids, doc)
		}
	}
	sort.Slice(kids, func(i, j int) bool {
		if kids[i].Outline.Weight != kids[j].Outline.Weight {
			return kids[i].Outline.Weight < kids[j].Outline.Weight
		}
		return kids[i].ID < kids[j].ID
	})
	ids := make([]int64, len(kids))
	for i, k := range kids {
		ids[i] = k.ID
	}
	return ids
}

func (m *MemoryRepository) Create(_ context.Context, doc *Document) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	stored := cloneDocument(doc)
	stored.ID = m.nextID
	stored.Outline = nil
	m.docs[stored.ID] = stored
	doc.ID = stored.ID
	return stored.ID, nil
}

func (m *MemoryRepository) Save(_ context.Context, doc *Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[doc.ID]; !ok {
		return fmt.Errorf("save document %d: %w", doc.ID, ErrNotFound)
	}
	m.docs[doc.ID] = cloneDocument(doc)
	return nil
}

func (m *MemoryRepository) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return fmt.Errorf("delete document %d: %w", id, ErrNotFound)
	}
	delete(m.docs, id)
	if doc.Outline != nil && doc.Outline.ParentID != 0 {
		if parent, ok := m.docs[doc.Outline.ParentID]; ok && parent.Outline != nil {
			parent.Outline.HasChildren = len(m.childrenLocked(parent.ID)) > 0
		}
	}
	return nil
}

func (m *MemoryRepository) AddToBook(_ context.Context, id, parentID int64, weight int) (Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return Membership{}, fmt.Errorf("add document %d: %w", id, ErrNotFound)
	}

	var parentOutline *Membership
	if parentID != 0 {
		parent, ok := m.docs[parentID]
		if !ok || parent.Outline == nil {
			return Membership{}, fmt.Errorf("parent %d: %w", parentID, ErrNotFound)
		}
		parentOutline = parent.Outline
	}

	mem := membershipUnder(id, parentID, parentOutline, weight)
	mem.HasChildren = len(m.childrenLocked(id)) > 0

	var oldParent int64
	if doc.Outline != nil {
		oldParent = doc.Outline.ParentID
		if oldParent != parentID && mem.HasChildren {
			return Membership{}, fmt.Errorf("move %d under %d: %w", id, parentID, ErrMoveSubtree)
		}
	}

	doc.Outline = &mem
	if parentOutline != nil {
		parentOutline.HasChildren = true
	}
	if oldParent != 0 && oldParent != parentID {
		if prev, ok := m.docs[oldParent]; ok && prev.Outline != nil {
			prev.Outline.HasChildren = len(m.childrenLocked(oldParent)) > 0
		}
	}
	return mem, nil
}

func (m *MemoryRepository) AllOutlineData(_ context.Context, bookID int64) (*Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	root, ok := m.docs[bookID]
	if !ok || root.Outline == nil || root.Outline.BookID != bookID {
		return nil, fmt.Errorf("book %d: %w", bookID, ErrNotFound)
	}

	children := make(map[int64][]int64)
	for _, doc := range m.docs {
		if doc.Outline != nil && doc.Outline.BookID == bookID && doc.ID != bookID {
			children[doc.Outline.ParentID] = append(children[doc.Outline.ParentID], doc.ID)
		}
	}
	for pid := range children {
		children[pid] = m.childrenLocked(pid)
	}
	return buildTree(bookID, children), nil
}

// membershipUnder computes the outline row for id placed below a parent.
func membershipUnder(id, parentID int64, parent *Membership, weight int) Membership {
	if parent == nil {
		return Membership{BookID: id, Depth: 1, Weight: weight}
	}
	mem := Membership{
		BookID:   parent.BookID,
		ParentID: parentID,
		Depth:    parent.Depth + 1,
		Weight:   weight,
		BranchID: parent.BranchID,
	}
	if mem.Depth == 2 {
		mem.BranchID = id
	}
	return mem
}

// buildTree assembles a Node tree from a parent -> children index, visiting each id once.
func buildTree(rootID int64, children map[int64][]int64) *Node {
	seen := map[int64]bool{rootID: true}
	var build func(id int64) Node
	build = func(id int64) Node {
		n := Node{ID: id}
		for _, c := range children[id] {
			if seen[c] {
				continue
			}
			seen[c] = true
			n.Children = append(n.Children, build(c))
		}
		return n
	}
	root := build(rootID)
	return &root
}

func cloneDocument(doc *Document) *Document {
	c := *doc
	if doc.Outline != nil {
		o := *doc.Outline
		c.Outline = &o
	}
	if doc.PublishedAt != nil {
		t := *doc.PublishedAt
		c.PublishedAt = &t
	}
	return &c
}
