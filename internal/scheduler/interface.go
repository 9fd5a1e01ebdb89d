package scheduler

import (
	"context"
	"time"

	"github.com/mattjoyce/folio/internal/workspace"
)

//go:generate mockgen -destination=mocks/mock_scheduler.go -package=mocks github.com/mattjoyce/folio/internal/scheduler JobStore,Cleaner,Forgetter

// JobStore is the persisted job state the scheduler maintains.
type JobStore interface {
	MarkInterrupted(ctx context.Context) ([]string, error)
	PruneLogs(ctx context.Context, retention time.Duration) (int64, error)
}

// Cleaner removes stale files from a file scheme.
type Cleaner interface {
	Cleanup(ctx context.Context, scheme string, olderThan time.Duration) (workspace.CleanupReport, error)
}

// Forgetter drops finished jobs from memory.
type Forgetter interface {
	Forget(cutoff time.Time) int
}
