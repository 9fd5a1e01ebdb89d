package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/folio/internal/config"
	"github.com/mattjoyce/folio/internal/events"
	"github.com/mattjoyce/folio/internal/log"
	"github.com/mattjoyce/folio/internal/workspace"
)

// Scheduler runs startup recovery and the periodic housekeeping tick.
type Scheduler struct {
	cfg    *config.Config
	jobs   JobStore
	files  Cleaner
	engine Forgetter
	events events.Publisher
	logger *slog.Logger
	now    func() time.Time
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a new Scheduler instance. logger is used as given; a nil logger
// falls back to the global "scheduler" component logger.
func New(cfg *config.Config, jobs JobStore, files Cleaner, engine Forgetter, pub events.Publisher, logger *slog.Logger) *Scheduler {
	if pub == nil {
		pub = events.Discard
	}
	if logger == nil {
		logger = log.WithComponent("scheduler")
	}
	return &Scheduler{
		cfg:    cfg,
		jobs:   jobs,
		files:  files,
		engine: engine,
		events: pub,
		logger: logger,
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
}

// Start recovers jobs left behind by a previous process and begins the tick loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("Starting scheduler")

	if err := s.recoverInterruptedJobs(ctx); err != nil {
		return fmt.Errorf("scheduler crash recovery failed: %w", err)
	}

	s.wg.Add(1)
	go s.tickLoop(ctx)

	return nil
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler")
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	defer s.wg.Done()

	s.tick(ctx)

	ticker := time.NewTicker(s.cfg.Service.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			s.logger.Warn("Scheduler context cancelled, stopping tick loop")
			return
		}
	}
}

// tick prunes job logs, forgets old jobs and removes stale temporary files.
func (s *Scheduler) tick(ctx context.Context) {
	s.logger.Debug("Scheduler tick")
	s.events.Publish(events.SchedulerTick, map[string]any{
		"at": s.now().UTC(),
	})

	if retention := s.cfg.Service.JobLogRetention; retention > 0 {
		if n, err := s.jobs.PruneLogs(ctx, retention); err != nil {
			s.logger.Error("Failed to prune job logs", "error", err)
		} else if n > 0 {
			s.logger.Info("Pruned job logs", "rows", n)
		}
		if n := s.engine.Forget(s.now().Add(-retention)); n > 0 {
			s.logger.Debug("Forgot finished jobs", "count", n)
		}
	}

	if retention := s.cfg.Files.TemporaryRetention; retention > 0 {
		report, err := s.files.Cleanup(ctx, workspace.SchemeTemporary, retention)
		if err != nil {
			s.logger.Error("Failed to clean temporary files", "error", err)
		} else if report.DeletedFiles > 0 || report.DeletedDirs > 0 {
			s.logger.Info("Cleaned temporary files", "files", report.DeletedFiles, "dirs", report.DeletedDirs)
		}
	}
}

// recoverInterruptedJobs marks jobs that were pending or running when the
// previous process stopped. Their operations lived in that process and
// cannot be resumed.
func (s *Scheduler) recoverInterruptedJobs(ctx context.Context) error {
	s.logger.Info("Performing crash recovery for interrupted jobs")

	ids, err := s.jobs.MarkInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("failed to mark interrupted jobs: %w", err)
	}
	if len(ids) == 0 {
		s.logger.Info("No interrupted jobs found.")
		return nil
	}

	for _, id := range ids {
		s.logger.Warn("Marked job as interrupted", "job_id", id)
		s.events.Publish(events.JobInterrupted, map[string]any{"job_id": id})
	}
	return nil
}
