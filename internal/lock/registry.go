// Package lock provides the advisory document lock registry and the
// single-instance process lock.
package lock

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/mattjoyce/folio/internal/events"
)

// ErrLocked is returned by TryLock when a document is held by another lock set.
var ErrLocked = errors.New("document is locked")

// Registry maps lock names to sets of document ids. Locks are advisory: nothing
// stops a writer that does not ask.
type Registry struct {
	mu     sync.Mutex
	sets   map[string]map[int64]struct{}
	events events.Publisher
}

// NewRegistry builds an empty registry. A nil publisher discards lock events.
func NewRegistry(pub events.Publisher) *Registry {
	if pub == nil {
		pub = events.Discard
	}
	return &Registry{
		sets:   make(map[string]map[int64]struct{}),
		events: pub,
	}
}

type lockEvent struct {
	Name  string  `json:"name"`
	IDs   []int64 `json:"ids,omitempty"`
	Count int     `json:"count"`
}

// Lock adds ids to the named set.
func (r *Registry) Lock(name string, ids []int64) {
	r.mu.Lock()
	r.lockLocked(name, ids)
	r.mu.Unlock()
	r.events.Publish(events.LockAcquired, lockEvent{Name: name, IDs: ids, Count: len(ids)})
}

// TryLock locks ids under name unless one of them already belongs to another set.
func (r *Registry) TryLock(name string, ids []int64) error {
	r.mu.Lock()
	for _, id := range ids {
		if holder, ok := r.lockedLocked(id); ok && holder != name {
			r.mu.Unlock()
			return fmt.Errorf("%w: document %d held by %q", ErrLocked, id, holder)
		}
	}
	r.lockLocked(name, ids)
	r.mu.Unlock()
	r.events.Publish(events.LockAcquired, lockEvent{Name: name, IDs: ids, Count: len(ids)})
	return nil
}

func (r *Registry) lockLocked(name string, ids []int64) {
	set, ok := r.sets[name]
	if !ok {
		set = make(map[int64]struct{}, len(ids))
		r.sets[name] = set
	}
	for _, id := range ids {
		set[id] = struct{}{}
	}
}

// Unlock drops the named set. It reports whether the set existed.
func (r *Registry) Unlock(name string) bool {
	r.mu.Lock()
	set, ok := r.sets[name]
	delete(r.sets, name)
	r.mu.Unlock()
	if ok {
		r.events.Publish(events.LockReleased, lockEvent{Name: name, Count: len(set)})
	}
	return ok
}

// Locked returns the name of a set holding id.
func (r *Registry) Locked(id int64) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lockedLocked(id)
}

func (r *Registry) lockedLocked(id int64) (string, bool) {
	names := make([]string, 0, len(r.sets))
	for name := range r.sets {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := r.sets[name][id]; ok {
			return name, true
		}
	}
	return "", false
}

// Held returns the sorted ids of the named set, or nil.
func (r *Registry) Held(name string) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedIDs(r.sets[name])
}

// Snapshot copies every set.
func (r *Registry) Snapshot() map[string][]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][]int64, len(r.sets))
	for name, set := range r.sets {
		out[name] = sortedIDs(set)
	}
	return out
}

func sortedIDs(set map[int64]struct{}) []int64 {
	if set == nil {
		return nil
	}
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
