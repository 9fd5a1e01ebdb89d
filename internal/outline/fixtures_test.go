package outline

import (
	"sync"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Publish(eventType string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
}

// put adds a document placed in book 1 with the given parent and weight.
func put(m *MemoryRepository, id, parent int64, depth, weight int, status Status, hasChildren bool) {
	branch := int64(0)
	switch {
	case depth == 2:
		branch = id
	case depth > 2:
		branch = parent
	}
	m.Put(Document{
		ID:     id,
		Title:  "Doc",
		Bundle: "book",
		Status: status,
		Outline: &Membership{
			BookID:      1,
			ParentID:    parent,
			BranchID:    branch,
			Depth:       depth,
			Weight:      weight,
			HasChildren: hasChildren,
		},
	})
}

// sevenDocBook builds 1 -> (2 -> 3, 4), (5 -> 6, 7), all published.
func sevenDocBook() *MemoryRepository {
	m := NewMemoryRepository()
	put(m, 1, 0, 1, 0, Published, true)
	put(m, 2, 1, 2, 0, Published, true)
	put(m, 3, 2, 3, 0, Published, false)
	put(m, 4, 2, 3, 1, Published, false)
	put(m, 5, 1, 2, 1, Published, true)
	put(m, 6, 5, 3, 0, Published, false)
	put(m, 7, 5, 3, 1, Published, false)
	return m
}
