package inspect

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/folio/internal/batch"
	"github.com/mattjoyce/folio/internal/storage"
	"github.com/mattjoyce/folio/internal/workspace"
)

func TestBuildReportRendersStepsAndArtifacts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tmpDir := t.TempDir()

	db, err := storage.OpenSQLite(ctx, filepath.Join(tmpDir, "folio.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	files, err := workspace.NewFSManager(filepath.Join(tmpDir, "public"), filepath.Join(tmpDir, "tmp"))
	require.NoError(t, err)
	require.NoError(t, files.WriteFile(ctx, "public://Handbook/Handbook.pdf", []byte("%PDF-1.4")))

	store := batch.NewJobStore(db)
	engine := batch.NewEngine(batch.WithRecorder(store))
	jobID, err := engine.Schedule(ctx, batch.Job{
		Title:       "Creating PDF file",
		InitMessage: "Printing file(s) for Handbook",
		Operations: []batch.Operation{{
			Name: "render:1",
			Run: func(_ context.Context, bc *batch.Context) error {
				if bc.FirstPass() {
					bc.Sandbox.Max = 2
				}
				bc.Sandbox.Progress++
				bc.Results.SuccessCount++
				if bc.Sandbox.Progress < bc.Sandbox.Max {
					bc.Finished = 0.5
					return nil
				}
				bc.SetValue("artifact:1", "public://Handbook/Handbook.pdf")
				bc.SetValue("artifact:2", "public://Handbook/Part One.pdf")
				bc.SetValue("title:1", "Handbook")
				return nil
			},
		}},
		OnComplete: func(context.Context, batch.Outcome) string { return "Batch job finished" },
	})
	require.NoError(t, err)
	_, err = engine.Run(ctx, jobID)
	require.NoError(t, err)

	report, err := BuildReport(ctx, store, files, jobID)
	require.NoError(t, err)

	for _, want := range []string{
		"Job ID      : " + jobID,
		"Title       : Creating PDF file",
		"State       : completed",
		"Message     : Batch job finished",
		"Results     : 2 succeeded, 0 failed",
		"[1] render:1 (running)",
		"    progress : 1/2",
		"[2] <done> (completed)",
		"public://Handbook/Handbook.pdf [ok]",
		"public://Handbook/Part One.pdf [missing]",
	} {
		assert.Contains(t, report, want)
	}
	assert.NotContains(t, report, "title:1")

	jsonReport, err := BuildJSONReport(ctx, store, files, jobID)
	require.NoError(t, err)
	var parsed Report
	require.NoError(t, json.Unmarshal([]byte(jsonReport), &parsed))
	assert.Equal(t, batch.StateCompleted, parsed.State)
	require.Len(t, parsed.Steps, 2)
	require.Len(t, parsed.Artifacts, 2)
	assert.Equal(t, "artifact:1", parsed.Artifacts[0].Key)
	assert.True(t, parsed.Artifacts[0].Exists)
	_, statErr := os.Stat(parsed.Artifacts[0].Path)
	assert.NoError(t, statErr)
}

func TestBuildReportInterruptedJob(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	db, err := storage.OpenSQLite(ctx, filepath.Join(t.TempDir(), "folio.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := batch.NewJobStore(db)
	engine := batch.NewEngine(batch.WithRecorder(store))
	jobID, err := engine.Schedule(ctx, batch.Job{Title: "Deleting book", Operations: []batch.Operation{{
		Name: "lock",
		Run:  func(context.Context, *batch.Context) error { return nil },
	}}})
	require.NoError(t, err)
	_, err = store.MarkInterrupted(ctx)
	require.NoError(t, err)

	report, err := BuildReport(ctx, store, nil, jobID)
	require.NoError(t, err)
	assert.Contains(t, report, "State       : interrupted")
	assert.Contains(t, report, "Last error  : interrupted by restart")
	assert.False(t, strings.Contains(report, "Artifacts"))
}

func TestBuildReportMissingJob(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, filepath.Join(t.TempDir(), "folio.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = BuildReport(ctx, batch.NewJobStore(db), nil, "missing")
	assert.ErrorIs(t, err, batch.ErrJobNotFound)

	_, err = BuildReport(ctx, batch.NewJobStore(db), nil, " ")
	assert.Error(t, err)
}
