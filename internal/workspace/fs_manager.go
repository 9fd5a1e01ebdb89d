package workspace

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FSManager maps schemes to directories on local disk.
type FSManager struct {
	dirs map[string]string
	now  func() time.Time
}

var _ Manager = (*FSManager)(nil)

// NewFSManager creates a filesystem-backed manager for the public and temporary schemes.
func NewFSManager(publicDir, temporaryDir string) (*FSManager, error) {
	dirs := map[string]string{}
	for scheme, dir := range map[string]string{SchemePublic: publicDir, SchemeTemporary: temporaryDir} {
		trimmed := strings.TrimSpace(dir)
		if trimmed == "" {
			return nil, fmt.Errorf("%s directory is empty", scheme)
		}
		abs, err := filepath.Abs(trimmed)
		if err != nil {
			return nil, fmt.Errorf("resolve %s directory: %w", scheme, err)
		}
		dirs[scheme] = abs
	}
	return &FSManager{dirs: dirs, now: time.Now}, nil
}

// SplitURI splits "scheme://rest" into its parts.
func SplitURI(uri string) (scheme, rest string, err error) {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok || scheme == "" {
		return "", "", fmt.Errorf("%q is not a scheme URI", uri)
	}
	return scheme, rest, nil
}

// URI joins a scheme and slash-separated path elements.
func URI(scheme string, elems ...string) string {
	return scheme + "://" + path.Join(elems...)
}

// SafeName turns a title into a single path element.
func SafeName(title string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '-'
		}
		return r
	}, strings.TrimSpace(title))
	if name == "" || name == "." || name == ".." {
		return "untitled"
	}
	return name
}

func (m *FSManager) Resolve(uri string) (string, error) {
	scheme, rest, err := SplitURI(uri)
	if err != nil {
		return "", err
	}
	base, ok := m.dirs[scheme]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownScheme, scheme)
	}

	full := filepath.Join(base, filepath.FromSlash(rest))
	rel, err := filepath.Rel(base, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, uri)
	}
	return full, nil
}

func (m *FSManager) PrepareDirectory(ctx context.Context, uri string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := m.Resolve(uri)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", uri, err)
	}

	f, err := os.CreateTemp(dir, ".folio-write-*")
	if err != nil {
		return fmt.Errorf("%s is not writable: %w", uri, err)
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return nil
}

func (m *FSManager) TempURI(hint, ext string) string {
	return UniqueURI(SchemeTemporary, hint, ext)
}

// UniqueURI returns a collision-free URI in scheme whose filename ends in hint.
func UniqueURI(scheme, hint, ext string) string {
	name := uuid.NewString()
	if hint != "" {
		name += "-" + SafeName(hint)
	}
	return URI(scheme, name+ext)
}

func (m *FSManager) WriteFile(ctx context.Context, uri string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst, err := m.Resolve(uri)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create parent of %s: %w", uri, err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", uri, err)
	}
	return nil
}

func (m *FSManager) Copy(ctx context.Context, srcURI, dstURI string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := m.Resolve(srcURI)
	if err != nil {
		return err
	}
	dst, err := m.Resolve(dstURI)
	if err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", srcURI, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create parent of %s: %w", dstURI, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".folio-copy-*")
	if err != nil {
		return fmt.Errorf("stage %s: %w", dstURI, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("copy %s to %s: %w", srcURI, dstURI, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close staged copy: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("replace %s: %w", dstURI, err)
	}
	return nil
}

// Cleanup removes regular files whose modification time is older than olderThan,
// then removes directories left empty. The scheme root itself is kept.
func (m *FSManager) Cleanup(ctx context.Context, scheme string, olderThan time.Duration) (CleanupReport, error) {
	if err := ctx.Err(); err != nil {
		return CleanupReport{}, err
	}
	if olderThan <= 0 {
		return CleanupReport{}, fmt.Errorf("olderThan must be positive")
	}
	base, ok := m.dirs[scheme]
	if !ok {
		return CleanupReport{}, fmt.Errorf("%w: %q", ErrUnknownScheme, scheme)
	}

	cutoff := m.now().Add(-olderThan)
	report := CleanupReport{}
	var dirs []string

	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) && p == base {
				return fs.SkipAll
			}
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == base {
			return nil
		}
		if d.IsDir() {
			dirs = append(dirs, p)
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %q: %w", p, err)
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(p); err != nil {
			return fmt.Errorf("remove %q: %w", p, err)
		}
		report.DeletedFiles++
		return nil
	})
	if err != nil {
		return report, err
	}

	// Deepest first so parents empty out after their children.
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
	for _, dir := range dirs {
		if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
			if err := os.Remove(dir); err == nil {
				report.DeletedDirs++
			}
		}
	}
	return report, nil
}
