package api

import (
	"github.com/mattjoyce/folio/internal/batch"
	"github.com/mattjoyce/folio/internal/outline"
)

// JobAcceptedResponse is returned when a job has been scheduled.
type JobAcceptedResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// JobStatusResponse is returned by GET /jobs/{id}. Live jobs carry a
// progress snapshot; jobs from a previous process come from the job store.
type JobStatusResponse struct {
	JobID    string           `json:"job_id"`
	State    batch.State      `json:"state"`
	Live     bool             `json:"live"`
	Progress *batch.Progress  `json:"progress,omitempty"`
	Record   *batch.JobRecord `json:"record,omitempty"`
}

// OutlineEntry is one flattened document.
type OutlineEntry struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Subtitle  string `json:"subtitle,omitempty"`
	Depth     int    `json:"depth"`
	Published bool   `json:"published"`
}

// OutlineResponse is returned by GET /books/{id}/outline.
type OutlineResponse struct {
	BookID             int64                `json:"book_id"`
	IncludeUnpublished bool                 `json:"include_unpublished"`
	Documents          []OutlineEntry       `json:"documents"`
	Diagnostics        []outline.Diagnostic `json:"diagnostics,omitempty"`
}

// LocksResponse is returned by GET /locks.
type LocksResponse struct {
	Locks map[string][]int64 `json:"locks"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	ActiveJobs    int    `json:"active_jobs"`
	HeldLocks     int    `json:"held_locks"`
}
