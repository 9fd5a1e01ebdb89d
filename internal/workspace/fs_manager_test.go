package workspace

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T) (*FSManager, string, string) {
	t.Helper()
	root := t.TempDir()
	pub := filepath.Join(root, "public")
	tmp := filepath.Join(root, "tmp")
	m, err := NewFSManager(pub, tmp)
	require.NoError(t, err)
	return m, pub, tmp
}

func TestResolveMapsSchemes(t *testing.T) {
	m, pub, tmp := newManager(t)

	p, err := m.Resolve("public://Handbook/Chapter 1.pdf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(pub, "Handbook", "Chapter 1.pdf"), p)

	p, err = m.Resolve(URI(SchemeTemporary, "abc.pdf"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tmp, "abc.pdf"), p)

	_, err = m.Resolve("private://x")
	assert.ErrorIs(t, err, ErrUnknownScheme)

	_, err = m.Resolve("no-scheme.pdf")
	assert.Error(t, err)
}

func TestResolveRejectsTraversal(t *testing.T) {
	m, _, _ := newManager(t)
	for _, uri := range []string{"public://../escape.pdf", "public://a/../../escape", "temporary://.."} {
		_, err := m.Resolve(uri)
		assert.ErrorIs(t, err, ErrUnsafePath, uri)
	}
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "A-B", SafeName("A/B"))
	assert.Equal(t, "C-D", SafeName(`C\D`))
	assert.Equal(t, "untitled", SafeName(".."))
	assert.Equal(t, "untitled", SafeName("  "))
	assert.Equal(t, "Guide to Go", SafeName(" Guide to Go "))
}

func TestPrepareDirectoryAndCopy(t *testing.T) {
	ctx := context.Background()
	m, pub, tmp := newManager(t)

	require.NoError(t, m.PrepareDirectory(ctx, "public://Book"))
	info, err := os.Stat(filepath.Join(pub, "Book"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	src := m.TempURI("Intro", ".pdf")
	assert.True(t, strings.HasPrefix(src, "temporary://"))
	assert.True(t, strings.HasSuffix(src, "-Intro.pdf"))

	require.NoError(t, os.MkdirAll(tmp, 0o755))
	srcPath, err := m.Resolve(src)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(srcPath, []byte("%PDF-1.4"), 0o644))

	require.NoError(t, m.Copy(ctx, src, "public://Book/Intro.pdf"))
	data, err := os.ReadFile(filepath.Join(pub, "Book", "Intro.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(data))

	// Copy replaces an existing destination.
	require.NoError(t, os.WriteFile(srcPath, []byte("%PDF-1.7"), 0o644))
	require.NoError(t, m.Copy(ctx, src, "public://Book/Intro.pdf"))
	data, err = os.ReadFile(filepath.Join(pub, "Book", "Intro.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(data))

	err = m.Copy(ctx, "temporary://missing.pdf", "public://Book/x.pdf")
	assert.Error(t, err)
}

func TestPrepareDirectoryFailsOnFile(t *testing.T) {
	m, pub, _ := newManager(t)
	require.NoError(t, os.MkdirAll(pub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pub, "taken"), []byte("x"), 0o644))
	assert.Error(t, m.PrepareDirectory(context.Background(), "public://taken"))
}

func TestCleanupRemovesOldFiles(t *testing.T) {
	ctx := context.Background()
	m, _, tmp := newManager(t)
	now := time.Now()
	m.now = func() time.Time { return now }

	oldDir := filepath.Join(tmp, "old")
	require.NoError(t, os.MkdirAll(oldDir, 0o755))
	oldFile := filepath.Join(oldDir, "a.pdf")
	freshFile := filepath.Join(tmp, "b.pdf")
	require.NoError(t, os.WriteFile(oldFile, []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(freshFile, []byte("b"), 0o644))
	stale := now.Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(oldFile, stale, stale))

	report, err := m.Cleanup(ctx, SchemeTemporary, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, report.DeletedFiles)
	assert.Equal(t, 1, report.DeletedDirs)

	_, err = os.Stat(oldDir)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(freshFile)
	assert.NoError(t, err)
	_, err = os.Stat(tmp)
	assert.NoError(t, err, "scheme root is kept")
}

func TestCleanupMissingRootIsNoop(t *testing.T) {
	m, _, _ := newManager(t)
	report, err := m.Cleanup(context.Background(), SchemeTemporary, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, report.DeletedFiles)

	_, err = m.Cleanup(context.Background(), "nope", time.Hour)
	assert.ErrorIs(t, err, ErrUnknownScheme)
}

func TestWriteFileCreatesParents(t *testing.T) {
	m, _, tmp := newManager(t)
	uri := UniqueURI(SchemeTemporary, "Group", ".html")
	require.NoError(t, m.WriteFile(context.Background(), uri, []byte("<html/>")))

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasSuffix(entries[0].Name(), "-Group.html"))
}
