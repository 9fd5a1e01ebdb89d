// Package inspect renders persisted batch jobs for `folio job inspect`.
package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mattjoyce/folio/internal/batch"
	"github.com/mattjoyce/folio/internal/workspace"
)

// JobSource reads persisted jobs and their step logs.
type JobSource interface {
	Get(ctx context.Context, id string) (*batch.JobRecord, error)
	Log(ctx context.Context, id string) ([]batch.LogEntry, error)
}

// Report is the structured JSON representation of a job report.
type Report struct {
	JobID        string        `json:"job_id"`
	Title        string        `json:"title"`
	State        batch.State   `json:"state"`
	Message      string        `json:"message"`
	Operations   []string      `json:"operations"`
	SuccessCount int           `json:"success_count"`
	FailCount    int           `json:"fail_count"`
	FailedOp     string        `json:"failed_operation,omitempty"`
	LastError    string        `json:"last_error,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
	Steps        []Step        `json:"steps"`
	Artifacts    []ArtifactRef `json:"artifacts,omitempty"`
}

// Step is one persisted engine step.
type Step struct {
	Step      int         `json:"step"`
	Operation string      `json:"operation"`
	State     batch.State `json:"state"`
	Finished  float64     `json:"finished"`
	Progress  int         `json:"progress"`
	Max       int         `json:"max"`
	At        time.Time   `json:"at"`
}

// ArtifactRef is a file a job produced, as recorded in its results.
type ArtifactRef struct {
	Key    string `json:"key"`
	URI    string `json:"uri"`
	Path   string `json:"path,omitempty"`
	Exists bool   `json:"exists"`
}

// BuildReport renders a terminal-friendly report for a job.
func BuildReport(ctx context.Context, src JobSource, files workspace.Manager, jobID string) (string, error) {
	report, err := gatherReportData(ctx, src, files, jobID)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Job Report\n")
	fmt.Fprintf(&out, "Job ID      : %s\n", report.JobID)
	fmt.Fprintf(&out, "Title       : %s\n", renderUnset(report.Title, "<untitled>"))
	fmt.Fprintf(&out, "State       : %s\n", report.State)
	fmt.Fprintf(&out, "Message     : %s\n", renderUnset(report.Message, "<none>"))
	fmt.Fprintf(&out, "Operations  : %d\n", len(report.Operations))
	fmt.Fprintf(&out, "Results     : %d succeeded, %d failed\n", report.SuccessCount, report.FailCount)
	if report.FailedOp != "" {
		fmt.Fprintf(&out, "Failed op   : %s\n", report.FailedOp)
	}
	if report.LastError != "" {
		fmt.Fprintf(&out, "Last error  : %s\n", report.LastError)
	}
	fmt.Fprintf(&out, "\n")

	for _, step := range report.Steps {
		fmt.Fprintf(&out, "[%d] %s (%s)\n", step.Step, renderUnset(step.Operation, "<done>"), step.State)
		if step.Max > 0 {
			fmt.Fprintf(&out, "    progress : %d/%d\n", step.Progress, step.Max)
		}
		fmt.Fprintf(&out, "    finished : %.2f\n", step.Finished)
	}

	if len(report.Artifacts) > 0 {
		fmt.Fprintf(&out, "\nArtifacts\n")
		for _, a := range report.Artifacts {
			status := "ok"
			if !a.Exists {
				status = "missing"
			}
			fmt.Fprintf(&out, "  - %s [%s]\n", a.URI, status)
		}
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable JSON job report.
func BuildJSONReport(ctx context.Context, src JobSource, files workspace.Manager, jobID string) (string, error) {
	report, err := gatherReportData(ctx, src, files, jobID)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReportData(ctx context.Context, src JobSource, files workspace.Manager, jobID string) (*Report, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, fmt.Errorf("job_id is required")
	}

	rec, err := src.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	entries, err := src.Log(ctx, jobID)
	if err != nil {
		return nil, err
	}

	report := &Report{
		JobID:       rec.ID,
		Title:       rec.Title,
		State:       rec.State,
		Operations:  rec.Operations,
		CreatedAt:   rec.CreatedAt,
		CompletedAt: rec.CompletedAt,
		Steps:       make([]Step, 0, len(entries)),
	}
	if rec.LastError != nil {
		report.LastError = *rec.LastError
	}

	var values map[string]string
	if snap := rec.Snapshot; snap != nil {
		report.Message = snap.Message
		report.SuccessCount = snap.Results.SuccessCount
		report.FailCount = snap.Results.FailCount
		values = snap.Results.Values
		if snap.Outcome != nil {
			report.FailedOp = snap.Outcome.FailedOp
		}
	}

	for _, e := range entries {
		report.Steps = append(report.Steps, Step{
			Step:      e.Step,
			Operation: e.Operation,
			State:     e.State,
			Finished:  e.Snapshot.Finished,
			Progress:  e.Snapshot.Sandbox.Progress,
			Max:       e.Snapshot.Sandbox.Max,
			At:        e.CreatedAt,
		})
	}

	report.Artifacts = listArtifacts(files, values)
	return report, nil
}

// listArtifacts picks the artifact:<id> result values and checks them on disk.
func listArtifacts(files workspace.Manager, values map[string]string) []ArtifactRef {
	keys := make([]string, 0, len(values))
	for k := range values {
		if strings.HasPrefix(k, "artifact:") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	refs := make([]ArtifactRef, 0, len(keys))
	for _, k := range keys {
		ref := ArtifactRef{Key: k, URI: values[k]}
		if files != nil {
			if path, err := files.Resolve(ref.URI); err == nil {
				ref.Path = path
				_, statErr := os.Stat(path)
				ref.Exists = statErr == nil
			}
		}
		refs = append(refs, ref)
	}
	return refs
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
