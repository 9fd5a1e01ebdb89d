// Package pdfbuild assembles book PDFs through the batch engine.
//
// A build renders the target document's subtree, then the subtree of its
// branch and of its book root. Each of these anchors gets a render operation,
// which renders the flattened subtree in small groups and merges the group
// files once the last one is written, and a persist operation, which records
// the merged file and its page count in the artifact store.
//
// SuccessCount and FailCount count documents, each once per job: a document
// that fails to render under any anchor is a failure. Output files are tracked
// separately under "file:<anchor id>" result values.
package pdfbuild

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mattjoyce/folio/internal/artifact"
	"github.com/mattjoyce/folio/internal/batch"
	"github.com/mattjoyce/folio/internal/events"
	"github.com/mattjoyce/folio/internal/log"
	"github.com/mattjoyce/folio/internal/merge"
	"github.com/mattjoyce/folio/internal/outline"
	"github.com/mattjoyce/folio/internal/render"
	"github.com/mattjoyce/folio/internal/workspace"
)

var (
	// ErrDirectoryPreparation means the public output directory could not be made writable.
	ErrDirectoryPreparation = errors.New("output directory preparation failed")
	// ErrNotInBook is returned for targets that are not part of a book.
	ErrNotInBook = errors.New("document is not part of a book")
)

const (
	DefaultGroupSize = 3

	finishedMessage = "Batch job finished"
	failedMessage   = "Error: Something went wrong!"

	docOK      = "ok"
	docFailed  = "failed"
	fileSaved  = "saved"
	fileFailed = "failed"
)

// Scheduler accepts batch jobs.
type Scheduler interface {
	Schedule(ctx context.Context, job batch.Job) (string, error)
}

// Deps are the collaborators of a Builder.
type Deps struct {
	Store     outline.Store
	Jobs      Scheduler
	Renderers render.Factory
	Mergers   merge.Factory
	Files     workspace.Manager
	Artifacts artifact.Store
	Events    events.Publisher
}

// Options tune a Builder.
type Options struct {
	GroupSize          int
	IncludeUnpublished bool
}

// Builder schedules PDF assembly jobs.
type Builder struct {
	deps      Deps
	flattener *outline.Flattener
	opts      Options
	logger    *slog.Logger
}

func New(deps Deps, opts Options) *Builder {
	if deps.Events == nil {
		deps.Events = events.Discard
	}
	if opts.GroupSize <= 0 {
		opts.GroupSize = DefaultGroupSize
	}
	return &Builder{
		deps:      deps,
		flattener: outline.NewFlattener(deps.Store, deps.Events),
		opts:      opts,
		logger:    log.WithComponent("pdfbuild"),
	}
}

// Anchors lists the documents a build of target produces PDFs for: the
// target, its branch, then its book root, without repeats.
func Anchors(target *outline.Document) []int64 {
	if target.Outline == nil {
		return []int64{target.ID}
	}
	out := make([]int64, 0, 3)
	seen := make(map[int64]bool, 3)
	for _, id := range []int64{target.ID, target.Outline.BranchID, target.Outline.BookID} {
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// BuildDocumentTree schedules the job building targetID and its ancestors' PDFs.
func (b *Builder) BuildDocumentTree(ctx context.Context, targetID int64) (string, error) {
	target, err := b.deps.Store.Load(ctx, targetID)
	if err != nil {
		return "", fmt.Errorf("load target %d: %w", targetID, err)
	}
	inBook, err := outline.IsInBook(ctx, b.deps.Store, target)
	if err != nil {
		return "", err
	}
	if !inBook {
		return "", fmt.Errorf("document %d: %w", targetID, ErrNotInBook)
	}

	anchors := Anchors(target)
	ops := make([]batch.Operation, 0, 2*len(anchors))
	for _, id := range anchors {
		ops = append(ops, b.renderOp(id), b.persistOp(id))
	}

	jobID, err := b.deps.Jobs.Schedule(ctx, batch.Job{
		Title:       "Creating PDF file",
		InitMessage: fmt.Sprintf("Printing file(s) for %s", target.Title),
		Operations:  ops,
		OnComplete:  b.finished,
	})
	if err != nil {
		return "", err
	}
	log.WithBook(target.Outline.BookID).Info("pdf build scheduled",
		"job_id", jobID, "target_id", targetID, "anchors", anchors)
	return jobID, nil
}

func (b *Builder) finished(_ context.Context, out batch.Outcome) string {
	saved, failedFiles := FileCounts(out.Results.Values)
	counts := fmt.Sprintf("%d documents printed, %d failed; %d of %d file(s) saved",
		out.Results.SuccessCount, out.Results.FailCount, saved, saved+failedFiles)
	elapsed := out.Elapsed.Round(time.Millisecond)

	switch {
	case !out.Success:
		b.logger.Error("pdf build failed", "job_id", out.JobID, "operation", out.FailedOp,
			"unprocessed", out.Unprocessed, "error", out.Error)
	case out.Results.FailCount > 0 || failedFiles > 0:
		b.logger.Warn("pdf build finished with failures", "job_id", out.JobID,
			"fail_count", out.Results.FailCount, "failed_files", failedFiles)
	default:
		return fmt.Sprintf("%s: %s. Time elapsed: %s", finishedMessage, counts, elapsed)
	}
	return fmt.Sprintf("%s %s. Time elapsed: %s", failedMessage, counts, elapsed)
}

// FileCounts reports how many output files a build saved and how many it lost.
func FileCounts(values map[string]string) (saved, failed int) {
	for k, v := range values {
		if !strings.HasPrefix(k, "file:") {
			continue
		}
		if v == fileSaved {
			saved++
		} else {
			failed++
		}
	}
	return saved, failed
}

// markDocuments records a render outcome for ids. A document already marked
// failed stays failed.
func markDocuments(bc *batch.Context, ids []int64, ok bool) {
	for _, id := range ids {
		key := docKey(id)
		prev, seen := bc.Results.Values[key]
		switch {
		case ok && !seen:
			bc.Results.SuccessCount++
			bc.SetValue(key, docOK)
		case !ok && !seen:
			bc.Results.FailCount++
			bc.SetValue(key, docFailed)
		case !ok && prev == docOK:
			bc.Results.SuccessCount--
			bc.Results.FailCount++
			bc.SetValue(key, docFailed)
		}
	}
}

func artifactKey(anchorID int64) string { return fmt.Sprintf("artifact:%d", anchorID) }

func titleKey(anchorID int64) string { return fmt.Sprintf("title:%d", anchorID) }

func fileKey(anchorID int64) string { return fmt.Sprintf("file:%d", anchorID) }

func docKey(id int64) string { return fmt.Sprintf("doc:%d", id) }
