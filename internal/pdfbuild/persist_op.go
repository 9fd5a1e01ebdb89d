package pdfbuild

import (
	"context"
	"fmt"

	"github.com/mattjoyce/folio/internal/artifact"
	"github.com/mattjoyce/folio/internal/batch"
	"github.com/mattjoyce/folio/internal/events"
)

// StoredEvent is published after an artifact and its metadata are recorded.
type StoredEvent struct {
	DocumentID int64  `json:"document_id"`
	ArtifactID int64  `json:"artifact_id"`
	URI        string `json:"uri"`
	Created    bool   `json:"created"`
	Pages      int    `json:"pages"`
}

func (b *Builder) persistOp(anchorID int64) batch.Operation {
	return batch.Operation{
		Name: fmt.Sprintf("persist:%d", anchorID),
		Run: func(ctx context.Context, bc *batch.Context) error {
			return b.persist(ctx, anchorID, bc)
		},
	}
}

// persist records the merged file under file:<anchor>. Failures are soft;
// only cancellation is returned.
func (b *Builder) persist(ctx context.Context, anchorID int64, bc *batch.Context) error {
	title := bc.Results.Values[titleKey(anchorID)]
	bc.Message = fmt.Sprintf("Recording %s", title)

	uri, ok := bc.Results.Values[artifactKey(anchorID)]
	if !ok {
		b.logger.Debug("no merged file to persist", "document_id", anchorID)
		return nil
	}

	fail := func(msg string, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		bc.SetValue(fileKey(anchorID), fileFailed)
		b.logger.Error(msg, "document_id", anchorID, "uri", uri, "error", err)
		return nil
	}

	art, created, err := b.deps.Artifacts.EnsureArtifact(ctx, artifact.Location{URI: uri, DocumentID: anchorID})
	if err != nil {
		return fail("failed to record artifact", err)
	}

	path, err := b.deps.Files.Resolve(uri)
	if err != nil {
		return fail("failed to resolve artifact", err)
	}
	pages, err := artifact.CountPagesFile(path)
	if err != nil {
		return fail("failed to count pages", err)
	}

	bc.Message = fmt.Sprintf("Counted %d pages in %s", pages, title)
	if _, err := b.deps.Artifacts.EnsureMetadata(ctx, art.ID, title, pages); err != nil {
		return fail("failed to record artifact metadata", err)
	}

	bc.SetValue(fileKey(anchorID), fileSaved)
	b.deps.Events.Publish(events.ArtifactStored, StoredEvent{
		DocumentID: anchorID,
		ArtifactID: art.ID,
		URI:        uri,
		Created:    created,
		Pages:      pages,
	})
	return nil
}
