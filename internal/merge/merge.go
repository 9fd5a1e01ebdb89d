// Package merge concatenates rendered PDF files in order.
package merge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/mattjoyce/folio/internal/workspace"
)

var ErrNoSources = errors.New("merge has no sources")

// Merger collects source locations and writes them, in the order added, to one output.
type Merger interface {
	AddSource(location string)
	MergeInto(ctx context.Context, output string) error
}

// Factory returns an empty Merger.
type Factory func() Merger

// PDFMerger merges with pdfcpu.
type PDFMerger struct {
	files   workspace.Manager
	sources []string
}

var _ Merger = (*PDFMerger)(nil)

func New(files workspace.Manager) *PDFMerger {
	return &PDFMerger{files: files}
}

// NewFactory returns a Factory producing PDFMergers over files.
func NewFactory(files workspace.Manager) Factory {
	return func() Merger { return New(files) }
}

func (m *PDFMerger) AddSource(location string) {
	m.sources = append(m.sources, location)
}

// Sources returns the locations added so far.
func (m *PDFMerger) Sources() []string {
	return append([]string(nil), m.sources...)
}

// MergeInto writes the merged PDF to output, replacing it. A single source is copied.
func (m *PDFMerger) MergeInto(ctx context.Context, output string) error {
	if len(m.sources) == 0 {
		return ErrNoSources
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(m.sources) == 1 {
		return m.files.Copy(ctx, m.sources[0], output)
	}

	inFiles := make([]string, 0, len(m.sources))
	for _, src := range m.sources {
		p, err := m.files.Resolve(src)
		if err != nil {
			return err
		}
		inFiles = append(inFiles, p)
	}
	outPath, err := m.files.Resolve(output)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create parent of %s: %w", output, err)
	}

	staged := filepath.Join(filepath.Dir(outPath), ".merge-"+uuid.NewString()+".pdf")
	defer func() { _ = os.Remove(staged) }()

	if err := api.MergeCreateFile(inFiles, staged, false, Configuration()); err != nil {
		return fmt.Errorf("merge %d files into %s: %w", len(inFiles), output, err)
	}
	if err := os.Rename(staged, outPath); err != nil {
		return fmt.Errorf("replace %s: %w", output, err)
	}
	return nil
}

// Configuration is the pdfcpu configuration used for writing. Object and
// xref streams stay off so every page object remains visible in plain text.
func Configuration() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	conf.WriteObjectStream = false
	conf.WriteXRefStream = false
	return conf
}

// PageCount parses the PDF at path and returns its page count.
func PageCount(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n, err := api.PageCount(f, Configuration())
	if err != nil {
		return 0, fmt.Errorf("count pages of %s: %w", path, err)
	}
	return n, nil
}
