// Package bookops runs bulk book changes (publish, unpublish, delete) as batch
// jobs guarded by advisory document locks.
package bookops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/folio/internal/batch"
	"github.com/mattjoyce/folio/internal/events"
	"github.com/mattjoyce/folio/internal/lock"
	"github.com/mattjoyce/folio/internal/log"
	"github.com/mattjoyce/folio/internal/outline"
)

var ErrEmptyBook = errors.New("book has no documents")

// Scheduler accepts batch jobs.
type Scheduler interface {
	Schedule(ctx context.Context, job batch.Job) (string, error)
}

// Utility schedules bulk book jobs.
type Utility struct {
	repo      outline.Repository
	jobs      Scheduler
	locks     *lock.Registry
	flattener *outline.Flattener
	now       func() time.Time
	logger    *slog.Logger
}

func New(repo outline.Repository, jobs Scheduler, locks *lock.Registry, pub events.Publisher) *Utility {
	if pub == nil {
		pub = events.Discard
	}
	return &Utility{
		repo:      repo,
		jobs:      jobs,
		locks:     locks,
		flattener: outline.NewFlattener(repo, pub),
		now:       time.Now,
		logger:    log.WithComponent("bookops"),
	}
}

// UpdateBook publishes or unpublishes every document of a book.
func (u *Utility) UpdateBook(ctx context.Context, bookID int64, publish bool) (string, error) {
	ids, err := u.collect(ctx, bookID)
	if err != nil {
		return "", err
	}
	name := lockName("book", bookID)

	ops := make([]batch.Operation, 0, len(ids)+1)
	ops = append(ops, u.lockOp(name, ids))
	for _, id := range ids {
		ops = append(ops, u.updateOp(id, publish))
	}

	return u.jobs.Schedule(ctx, batch.Job{
		Title:       "Updating book",
		InitMessage: "Updating documents...",
		Operations:  ops,
		OnComplete: func(_ context.Context, out batch.Outcome) string {
			u.release(name)
			if out.Success && out.Results.FailCount == 0 {
				return fmt.Sprintf("%d documents were successfully updated", out.Results.SuccessCount)
			}
			return fmt.Sprintf("%d documents couldn't be updated", failed(out, len(ids)))
		},
	})
}

// DeleteBook deletes every document of a book, deepest documents first.
func (u *Utility) DeleteBook(ctx context.Context, bookID int64) (string, error) {
	ids, err := u.collect(ctx, bookID)
	if err != nil {
		return "", err
	}
	return u.scheduleDelete(ctx, "Deleting book", "Deleting the book", lockName("book", bookID), ids)
}

// DeleteBranch deletes branchID and its whole subtree, deepest documents first.
func (u *Utility) DeleteBranch(ctx context.Context, branchID int64) (string, error) {
	ids, err := u.collect(ctx, branchID)
	if err != nil {
		return "", err
	}
	return u.scheduleDelete(ctx, "Deleting branch", "Deleting part of the book", lockName("branch", branchID), ids)
}

func (u *Utility) scheduleDelete(ctx context.Context, title, init, name string, ids []int64) (string, error) {
	tail := slices.Clone(ids)
	slices.Reverse(tail)

	ops := make([]batch.Operation, 0, len(tail)+1)
	ops = append(ops, u.lockOp(name, ids))
	for _, id := range tail {
		ops = append(ops, u.deleteOp(id))
	}

	return u.jobs.Schedule(ctx, batch.Job{
		Title:       title,
		InitMessage: init,
		Operations:  ops,
		OnComplete: func(_ context.Context, out batch.Outcome) string {
			u.release(name)
			if out.Success && out.Results.FailCount == 0 {
				return fmt.Sprintf("The book was successfully deleted. %d documents deleted.", out.Results.SuccessCount)
			}
			return fmt.Sprintf("The book did not delete correctly. %d documents couldn't be deleted.", failed(out, len(ids)))
		},
	})
}

// collect flattens rootID with unpublished documents and refuses when any is
// held by another lock set.
func (u *Utility) collect(ctx context.Context, rootID int64) ([]int64, error) {
	ids, err := u.flattener.Flatten(ctx, rootID, true)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%d: %w", rootID, ErrEmptyBook)
	}
	for _, id := range ids {
		if holder, ok := u.locks.Locked(id); ok {
			return nil, fmt.Errorf("%w: document %d held by %q", lock.ErrLocked, id, holder)
		}
	}
	return ids, nil
}

func (u *Utility) lockOp(name string, ids []int64) batch.Operation {
	return batch.Operation{
		Name: "lock",
		Run: func(_ context.Context, bc *batch.Context) error {
			bc.Message = fmt.Sprintf("Locking %d documents", len(ids))
			return u.locks.TryLock(name, ids)
		},
	}
}

func (u *Utility) release(name string) {
	if u.locks.Unlock(name) {
		u.logger.Debug("lock released", "lock", name)
	}
}

func (u *Utility) updateOp(id int64, publish bool) batch.Operation {
	return batch.Operation{
		Name: fmt.Sprintf("update:%d", id),
		Run: func(ctx context.Context, bc *batch.Context) error {
			doc, err := u.repo.Load(ctx, id)
			if err != nil {
				return u.soft(ctx, bc, "cannot load document", id, err)
			}
			if publish {
				now := u.now().UTC()
				doc.Status = outline.Published
				doc.PublishedAt = &now
			} else {
				doc.Status = outline.Unpublished
			}
			if err := u.repo.Save(ctx, doc); err != nil {
				return u.soft(ctx, bc, "cannot update document", id, err)
			}
			bc.Message = fmt.Sprintf("Updating document: %s", doc.Title)
			bc.Results.SuccessCount++
			return nil
		},
	}
}

func (u *Utility) deleteOp(id int64) batch.Operation {
	return batch.Operation{
		Name: fmt.Sprintf("delete:%d", id),
		Run: func(ctx context.Context, bc *batch.Context) error {
			bc.Message = fmt.Sprintf("Deleting document %d", id)
			if err := u.repo.Delete(ctx, id); err != nil {
				return u.soft(ctx, bc, "cannot delete document", id, err)
			}
			bc.Results.SuccessCount++
			return nil
		},
	}
}

// soft counts a per-document failure. Cancellation is passed through so the
// engine retries the document.
func (u *Utility) soft(ctx context.Context, bc *batch.Context, msg string, id int64, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	bc.Results.FailCount++
	u.logger.Error(msg, "document_id", id, "error", err)
	return nil
}

func lockName(kind string, id int64) string {
	return fmt.Sprintf("%s:%d/%s", kind, id, uuid.NewString()[:8])
}

// failed counts documents left unchanged. An aborted job leaves every
// document it did not reach unchanged too.
func failed(out batch.Outcome, total int) int {
	if !out.Success {
		return total - out.Results.SuccessCount
	}
	return out.Results.FailCount
}
