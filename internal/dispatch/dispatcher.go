package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mattjoyce/folio/internal/batch"
	"github.com/mattjoyce/folio/internal/log"
)

const defaultPollInterval = time.Second

// Engine is the part of batch.Engine the dispatcher needs.
type Engine interface {
	Next() (string, bool)
	Run(ctx context.Context, jobID string) (batch.Outcome, error)
	Wake() <-chan struct{}
}

// Dispatcher runs jobs serially in FIFO order.
type Dispatcher struct {
	engine Engine
	poll   time.Duration
	logger *slog.Logger
}

// New creates a new Dispatcher.
func New(engine Engine, poll time.Duration) *Dispatcher {
	if poll <= 0 {
		poll = defaultPollInterval
	}
	return &Dispatcher{
		engine: engine,
		poll:   poll,
		logger: log.WithComponent("dispatch"),
	}
}

// Start runs the dispatch loop until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.logger.Info("dispatch loop started")
	defer d.logger.Info("dispatch loop stopped")

	ticker := time.NewTicker(d.poll)
	defer ticker.Stop()

	for {
		d.drain(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.engine.Wake():
		case <-ticker.C:
		}
	}
}

// drain runs jobs until none has work left.
func (d *Dispatcher) drain(ctx context.Context) {
	for ctx.Err() == nil {
		id, ok := d.engine.Next()
		if !ok {
			return
		}
		d.runJob(ctx, id)
	}
}

func (d *Dispatcher) runJob(ctx context.Context, id string) {
	jobLogger := log.WithJob(id)
	jobLogger.Info("executing job")

	out, err := d.engine.Run(ctx, id)
	switch {
	case err == nil:
		jobLogger.Info("job done", "success", out.Success,
			"success_count", out.Results.SuccessCount, "fail_count", out.Results.FailCount)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		jobLogger.Warn("job interrupted by shutdown")
	case errors.Is(err, batch.ErrJobBusy):
		// Someone else is stepping it; the next pass picks it up again.
		jobLogger.Debug("job busy, skipping")
	default:
		jobLogger.Error("failed to run job", "error", err)
	}
}
