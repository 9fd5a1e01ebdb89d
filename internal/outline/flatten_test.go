package outline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/folio/internal/events"
)

func TestFlattenPreOrder(t *testing.T) {
	f := NewFlattener(sevenDocBook(), nil)

	ids, err := f.Flatten(context.Background(), 1, true)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7}, ids)
}

func TestFlattenHonoursWeight(t *testing.T) {
	m := sevenDocBook()
	put(m, 5, 1, 2, -10, Published, true)

	ids, err := NewFlattener(m, nil).Flatten(context.Background(), 1, true)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 5, 6, 7, 2, 3, 4}, ids)
}

func TestFlattenSubtree(t *testing.T) {
	ids, err := NewFlattener(sevenDocBook(), nil).Flatten(context.Background(), 5, true)
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 6, 7}, ids)
}

func TestFlattenUnpublishedStopsBranch(t *testing.T) {
	m := sevenDocBook()
	put(m, 2, 1, 2, 0, Unpublished, true)
	rec := &recorder{}
	f := NewFlattener(m, rec)

	published, diags, err := f.Walk(context.Background(), 1, false)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 5, 6, 7}, published)
	require.Len(t, diags, 1)
	assert.Equal(t, UnpublishedNode, diags[0].Kind)
	assert.Equal(t, int64(2), diags[0].DocumentID)
	assert.Equal(t, []string{events.OutlineBranchSkipped}, rec.events)

	all, err := f.Flatten(context.Background(), 1, true)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7}, all)
	assertSubsequence(t, published, all)
}

func TestFlattenTerminatesOnCycle(t *testing.T) {
	m := NewMemoryRepository()
	put(m, 1, 0, 1, 0, Published, true)
	put(m, 2, 1, 2, 0, Published, true)
	put(m, 3, 2, 3, 0, Published, true)
	// 1 also claims to be a child of 3.
	m.Put(Document{ID: 1, Title: "Root", Bundle: "book", Status: Published,
		Outline: &Membership{BookID: 1, ParentID: 3, Depth: 1, HasChildren: true}})

	ids, diags, err := NewFlattener(m, nil).Walk(context.Background(), 1, true)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids)
	require.Len(t, diags, 1)
	assert.Equal(t, Cycle, diags[0].Kind)
	assert.Equal(t, int64(1), diags[0].DocumentID)
}

func TestFlattenMissingRoot(t *testing.T) {
	ids, diags, err := NewFlattener(NewMemoryRepository(), nil).Walk(context.Background(), 99, true)
	require.NoError(t, err)
	assert.Empty(t, ids)
	require.Len(t, diags, 1)
	assert.Equal(t, MissingReference, diags[0].Kind)
}

func TestFlattenSkipsDocumentsOutsideBook(t *testing.T) {
	m := sevenDocBook()
	// 4 points at a book root that does not exist.
	m.Put(Document{ID: 4, Title: "Stray", Bundle: "book", Status: Published,
		Outline: &Membership{BookID: 404, ParentID: 2, Depth: 3, Weight: 1}})
	// 8 is a loose page with no outline at all.
	m.Put(Document{ID: 8, Title: "Loose", Bundle: "page", Status: Published})

	ids, diags, err := NewFlattener(m, nil).Walk(context.Background(), 1, true)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 5, 6, 7}, ids)
	require.Len(t, diags, 1)
	assert.Equal(t, NotInOutline, diags[0].Kind)

	ids, err = NewFlattener(m, nil).Flatten(context.Background(), 8, true)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

type failingStore struct{ Store }

var errDisk = errors.New("disk on fire")

func (failingStore) Load(context.Context, int64) (*Document, error) { return nil, errDisk }

func TestFlattenReturnsStoreErrors(t *testing.T) {
	_, err := NewFlattener(failingStore{}, nil).Flatten(context.Background(), 1, true)
	assert.ErrorIs(t, err, errDisk)
}

func TestFlattenHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewFlattener(sevenDocBook(), nil).Flatten(ctx, 1, true)
	assert.ErrorIs(t, err, context.Canceled)
}

func assertSubsequence(t *testing.T, sub, full []int64) {
	t.Helper()
	i := 0
	for _, id := range full {
		if i < len(sub) && sub[i] == id {
			i++
		}
	}
	assert.Equal(t, len(sub), i, "%v is not a subsequence of %v", sub, full)
}
