package pdfbuild

import (
	"context"
	"errors"
	"fmt"

	"github.com/mattjoyce/folio/internal/batch"
	"github.com/mattjoyce/folio/internal/outline"
	"github.com/mattjoyce/folio/internal/render"
	"github.com/mattjoyce/folio/internal/workspace"
)

// Sandbox.Values keys used by the render operation.
const (
	valueTitle  = "title"
	valueOutput = "output"
)

func (b *Builder) renderOp(anchorID int64) batch.Operation {
	return batch.Operation{
		Name: fmt.Sprintf("render:%d", anchorID),
		Run: func(ctx context.Context, bc *batch.Context) error {
			return b.render(ctx, anchorID, bc)
		},
	}
}

func (b *Builder) render(ctx context.Context, anchorID int64, bc *batch.Context) error {
	sb := &bc.Sandbox
	if bc.FirstPass() {
		if err := b.setUp(ctx, anchorID, bc); err != nil {
			return err
		}
		if sb.Max == 0 {
			bc.SetValue(fileKey(anchorID), fileFailed)
			b.logger.Warn("nothing to render", "document_id", anchorID)
			return nil
		}
	}

	title := sb.Values[valueTitle]
	if len(sb.Pending) > 0 {
		bc.Message = fmt.Sprintf("Stitching files into %s", title)
		group := sb.Pending[:min(b.opts.GroupSize, len(sb.Pending))]
		loc, err := b.renderGroup(ctx, group, title)
		switch {
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, render.ErrEngineUnavailable):
			return err
		case err != nil:
			markDocuments(bc, group, false)
			b.logger.Error("group render failed", "document_id", anchorID, "group", group, "error", err)
		default:
			markDocuments(bc, group, true)
			sb.Artifacts = append(sb.Artifacts, loc)
		}
		sb.Pending = sb.Pending[len(group):]
		sb.Progress += len(group)
	}

	if sb.Progress == sb.Max {
		bc.Message = fmt.Sprintf("Saving %s", title)
		if err := b.mergeArtifacts(ctx, anchorID, bc); err != nil {
			return err
		}
	}
	bc.Finished = float64(sb.Progress) / float64(sb.Max)
	return nil
}

// setUp flattens the anchor's subtree and prepares its output directory.
func (b *Builder) setUp(ctx context.Context, anchorID int64, bc *batch.Context) error {
	anchor, err := b.deps.Store.Load(ctx, anchorID)
	if err != nil {
		return fmt.Errorf("load anchor %d: %w", anchorID, err)
	}
	bc.Message = fmt.Sprintf("Setting things up for %s", anchor.Title)

	ids, err := b.flattener.Flatten(ctx, anchorID, b.opts.IncludeUnpublished)
	if err != nil {
		return fmt.Errorf("flatten %d: %w", anchorID, err)
	}

	var bookID int64
	if anchor.Outline != nil {
		bookID = anchor.Outline.BookID
	}
	bookTitle, err := outline.BookTitle(ctx, b.deps.Store, bookID)
	if err != nil {
		return err
	}

	dir := workspace.URI(workspace.SchemePublic, workspace.SafeName(bookTitle))
	if err := b.deps.Files.PrepareDirectory(ctx, dir); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.logger.Error("error creating output directory", "dir", dir, "error", err)
		return fmt.Errorf("%w: %s: %v", ErrDirectoryPreparation, dir, err)
	}

	bc.Sandbox = batch.Sandbox{
		Max:     len(ids),
		Pending: ids,
		Values: map[string]string{
			valueTitle:  anchor.Title,
			valueOutput: workspace.URI(workspace.SchemePublic, workspace.SafeName(bookTitle), workspace.SafeName(anchor.Title)+".pdf"),
		},
	}
	bc.SetValue(titleKey(anchorID), anchor.Title)
	return nil
}

// renderGroup renders ids with a fresh renderer into temporary://.
func (b *Builder) renderGroup(ctx context.Context, ids []int64, title string) (string, error) {
	docs, err := b.deps.Store.LoadMultiple(ctx, ids)
	if err != nil {
		return "", fmt.Errorf("load group: %w", err)
	}
	ordered := make([]outline.Document, 0, len(ids))
	for _, id := range ids {
		if doc, ok := docs[id]; ok {
			ordered = append(ordered, *doc)
		}
	}

	r, err := b.deps.Renderers.New(ctx)
	if err != nil {
		if !errors.Is(err, render.ErrEngineUnavailable) {
			err = fmt.Errorf("%w: %w", render.ErrEngineUnavailable, err)
		}
		return "", err
	}
	defer func() {
		if cerr := r.Close(); cerr != nil {
			b.logger.Warn("closing renderer", "error", cerr)
		}
	}()
	return r.Render(ctx, ordered, workspace.SchemeTemporary, title)
}

func (b *Builder) mergeArtifacts(ctx context.Context, anchorID int64, bc *batch.Context) error {
	sb := &bc.Sandbox
	if len(sb.Artifacts) == 0 {
		// The failed groups are already counted per document.
		bc.SetValue(fileKey(anchorID), fileFailed)
		b.logger.Error("no rendered files to merge", "document_id", anchorID)
		return nil
	}

	output := sb.Values[valueOutput]
	m := b.deps.Mergers()
	for _, loc := range sb.Artifacts {
		m.AddSource(loc)
	}
	if err := m.MergeInto(ctx, output); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		bc.SetValue(fileKey(anchorID), fileFailed)
		b.logger.Error("merge failed", "document_id", anchorID, "output", output, "error", err)
		return nil
	}
	bc.SetValue(artifactKey(anchorID), output)
	b.logger.Info("merged pdf", "document_id", anchorID, "output", output, "parts", len(sb.Artifacts))
	return nil
}
