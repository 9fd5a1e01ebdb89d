package artifact

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is the map-indexed Store: uri -> artifact id and
// artifact id -> set of metadata ids.
type MemoryStore struct {
	mu     sync.Mutex
	bundle string

	nextArtifact int64
	nextMeta     int64
	artifacts    map[int64]Artifact
	metadata     map[int64]Metadata
	byURI        map[string]int64
	byArtifact   map[int64]map[int64]struct{}
}

func NewMemoryStore(bundle string) *MemoryStore {
	return &MemoryStore{
		bundle:     bundle,
		artifacts:  make(map[int64]Artifact),
		metadata:   make(map[int64]Metadata),
		byURI:      make(map[string]int64),
		byArtifact: make(map[int64]map[int64]struct{}),
	}
}

func (m *MemoryStore) EnsureArtifact(_ context.Context, loc Location) (Artifact, bool, error) {
	if loc.URI == "" {
		return Artifact{}, false, fmt.Errorf("artifact uri is empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byURI[loc.URI]; ok {
		return m.artifacts[id], false, nil
	}
	m.nextArtifact++
	a := Artifact{
		ID:         m.nextArtifact,
		URI:        loc.URI,
		Filename:   loc.Filename(),
		DocumentID: loc.DocumentID,
		CreatedAt:  time.Now().UTC(),
	}
	m.artifacts[a.ID] = a
	m.byURI[a.URI] = a.ID
	return a, true, nil
}

func (m *MemoryStore) ByURI(_ context.Context, uri string) (Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byURI[uri]
	if !ok {
		return Artifact{}, fmt.Errorf("%s: %w", uri, ErrNotFound)
	}
	return m.artifacts[id], nil
}

func (m *MemoryStore) EnsureMetadata(_ context.Context, artifactID int64, title string, pages int) ([]Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.artifacts[artifactID]; !ok {
		return nil, fmt.Errorf("artifact %d: %w", artifactID, ErrNotFound)
	}

	now := time.Now().UTC()
	set := m.byArtifact[artifactID]
	if len(set) == 0 {
		m.nextMeta++
		md := Metadata{
			ID:         m.nextMeta,
			ArtifactID: artifactID,
			Bundle:     m.bundle,
			Title:      title,
			Pages:      pages,
			UpdatedAt:  now,
		}
		m.metadata[md.ID] = md
		m.byArtifact[artifactID] = map[int64]struct{}{md.ID: {}}
	} else {
		for id := range set {
			md := m.metadata[id]
			md.Pages = pages
			md.UpdatedAt = now
			m.metadata[id] = md
		}
	}
	return m.metadataLocked(artifactID), nil
}

func (m *MemoryStore) metadataLocked(artifactID int64) []Metadata {
	out := make([]Metadata, 0, len(m.byArtifact[artifactID]))
	for id := range m.byArtifact[artifactID] {
		out = append(out, m.metadata[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MemoryStore) List(context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, 0, len(m.artifacts))
	for _, a := range m.artifacts {
		out = append(out, Entry{Artifact: a, Metadata: m.metadataLocked(a.ID)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Artifact.ID < out[j].Artifact.ID })
	return out, nil
}
