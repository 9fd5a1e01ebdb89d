package scheduler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/folio/internal/config"
	"github.com/mattjoyce/folio/internal/events"
	"github.com/mattjoyce/folio/internal/scheduler/mocks"
	"github.com/mattjoyce/folio/internal/workspace"
)

// TestLogBuffer is a bytes.Buffer that can be used to capture log output.
type TestLogBuffer struct {
	bytes.Buffer
}

// NewTestSlogger creates a new *slog.Logger that writes to a TestLogBuffer.
func NewTestSlogger() (*slog.Logger, *TestLogBuffer) {
	var buf TestLogBuffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(handler), &buf
}

type harness struct {
	jobs    *mocks.MockJobStore
	files   *mocks.MockCleaner
	engine  *mocks.MockForgetter
	hub     *events.Hub
	logBuf  *TestLogBuffer
	sched   *Scheduler
	fixedAt time.Time
}

func newHarness(t *testing.T, cfg *config.Config) *harness {
	ctrl := gomock.NewController(t)
	slogger, logBuf := NewTestSlogger()
	h := &harness{
		jobs:    mocks.NewMockJobStore(ctrl),
		files:   mocks.NewMockCleaner(ctrl),
		engine:  mocks.NewMockForgetter(ctrl),
		hub:     events.NewHub(32),
		logBuf:  logBuf,
		fixedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	h.sched = New(cfg, h.jobs, h.files, h.engine, h.hub, slogger)
	h.sched.now = func() time.Time { return h.fixedAt }
	return h
}

func TestRecoverInterruptedJobs(t *testing.T) {
	ctx := context.Background()

	t.Run("No interrupted jobs", func(t *testing.T) {
		h := newHarness(t, config.Defaults())
		h.jobs.EXPECT().MarkInterrupted(ctx).Return(nil, nil)
		assert.NoError(t, h.sched.recoverInterruptedJobs(ctx))
		assert.Contains(t, h.logBuf.String(), "No interrupted jobs found.")
	})

	t.Run("Interrupted jobs are reported", func(t *testing.T) {
		h := newHarness(t, config.Defaults())
		h.jobs.EXPECT().MarkInterrupted(ctx).Return([]string{"job1", "job2"}, nil)
		assert.NoError(t, h.sched.recoverInterruptedJobs(ctx))
		assert.Contains(t, h.logBuf.String(), "Marked job as interrupted")

		evs := h.hub.SnapshotSince(0)
		require.Len(t, evs, 2)
		assert.Equal(t, events.JobInterrupted, evs[0].Type)
		assert.Contains(t, string(evs[1].Data), "job2")
	})

	t.Run("Store error aborts start", func(t *testing.T) {
		h := newHarness(t, config.Defaults())
		h.jobs.EXPECT().MarkInterrupted(gomock.Any()).Return(nil, errors.New("db error"))
		err := h.sched.Start(ctx)
		assert.ErrorContains(t, err, "db error")
	})
}

func TestTickHousekeeping(t *testing.T) {
	ctx := context.Background()
	cfg := config.Defaults()
	cfg.Service.JobLogRetention = 24 * time.Hour
	cfg.Files.TemporaryRetention = time.Hour

	h := newHarness(t, cfg)
	h.jobs.EXPECT().PruneLogs(ctx, 24*time.Hour).Return(int64(4), nil)
	h.engine.EXPECT().Forget(h.fixedAt.Add(-24 * time.Hour)).Return(2)
	h.files.EXPECT().Cleanup(ctx, workspace.SchemeTemporary, time.Hour).
		Return(workspace.CleanupReport{DeletedFiles: 3}, nil)

	h.sched.tick(ctx)

	assert.Contains(t, h.logBuf.String(), "Pruned job logs")
	assert.Contains(t, h.logBuf.String(), "Cleaned temporary files")
	evs := h.hub.SnapshotSince(0)
	require.Len(t, evs, 1)
	assert.Equal(t, events.SchedulerTick, evs[0].Type)
}

func TestTickContinuesAfterErrors(t *testing.T) {
	ctx := context.Background()
	cfg := config.Defaults()
	cfg.Service.JobLogRetention = time.Hour
	cfg.Files.TemporaryRetention = time.Hour

	h := newHarness(t, cfg)
	h.jobs.EXPECT().PruneLogs(ctx, time.Hour).Return(int64(0), errors.New("locked"))
	h.engine.EXPECT().Forget(gomock.Any()).Return(0)
	h.files.EXPECT().Cleanup(ctx, workspace.SchemeTemporary, time.Hour).
		Return(workspace.CleanupReport{}, errors.New("permission denied"))

	h.sched.tick(ctx)

	assert.Contains(t, h.logBuf.String(), "Failed to prune job logs")
	assert.Contains(t, h.logBuf.String(), "Failed to clean temporary files")
}

func TestTickSkipsDisabledRetention(t *testing.T) {
	cfg := config.Defaults()
	cfg.Service.JobLogRetention = 0
	cfg.Files.TemporaryRetention = 0

	// No expectations: a tick must not touch the store, engine or files.
	h := newHarness(t, cfg)
	h.sched.tick(context.Background())
}

func TestStartStop(t *testing.T) {
	cfg := config.Defaults()
	cfg.Service.TickInterval = 10 * time.Millisecond
	cfg.Service.JobLogRetention = 0
	cfg.Files.TemporaryRetention = 0

	h := newHarness(t, cfg)
	h.jobs.EXPECT().MarkInterrupted(gomock.Any()).Return(nil, nil)

	require.NoError(t, h.sched.Start(context.Background()))
	time.Sleep(30 * time.Millisecond)
	h.sched.Stop()

	assert.NotEmpty(t, h.hub.SnapshotSince(0))
}

func TestSchedulerLogsComponentOnce(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	slogger, logBuf := NewTestSlogger()
	jobs := mocks.NewMockJobStore(ctrl)
	jobs.EXPECT().MarkInterrupted(ctx).Return([]string{"job1"}, nil)

	s := New(config.Defaults(), jobs, mocks.NewMockCleaner(ctrl), mocks.NewMockForgetter(ctrl), nil,
		slogger.With("component", "scheduler"))
	require.NoError(t, s.recoverInterruptedJobs(ctx))

	lines := strings.Split(strings.TrimSpace(logBuf.String()), "\n")
	require.NotEmpty(t, lines)
	for _, line := range lines {
		assert.Equal(t, 1, strings.Count(line, `"component"`), line)
	}
}
