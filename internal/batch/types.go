// Package batch runs jobs made of resumable operations, one invocation per step.
//
// An operation that needs several passes sets Context.Finished below 1; the
// engine invokes it again on the next step with the same Sandbox. When an
// operation finishes, the engine moves on and hands the next operation a fresh
// Sandbox. Results live for the whole job and are passed to the job's
// completion callback.
package batch

import (
	"context"
	"errors"
	"time"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobBusy     = errors.New("job is already being stepped")
	ErrNoOperation = errors.New("job has no operations")
)

// State is the lifecycle state of a job.
type State string

const (
	StatePending     State = "pending"
	StateRunning     State = "running"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
	StateInterrupted State = "interrupted"
)

// Terminal reports whether no further steps will run.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateInterrupted
}

// Sandbox is per-operation scratch space.
type Sandbox struct {
	Progress  int               `json:"progress"`
	Max       int               `json:"max"`
	Artifacts []string          `json:"artifacts,omitempty"`
	Pending   []int64           `json:"pending,omitempty"`
	Values    map[string]string `json:"values,omitempty"`
}

// Results accumulate across every operation of a job.
type Results struct {
	SuccessCount int               `json:"success_count"`
	FailCount    int               `json:"fail_count"`
	Values       map[string]string `json:"values,omitempty"`
}

// Context is handed to each operation invocation. It is owned by the running step.
type Context struct {
	Message  string
	Sandbox  Sandbox
	Results  Results
	Finished float64

	pass int
}

// FirstPass reports whether this is the first invocation of the current operation.
func (c *Context) FirstPass() bool {
	return c.pass == 1
}

// SetValue stores a job-wide result value.
func (c *Context) SetValue(key, value string) {
	if c.Results.Values == nil {
		c.Results.Values = make(map[string]string)
	}
	c.Results.Values[key] = value
}

// Operation is one unit of work. Returning an error fails the whole job; soft
// failures bump Results.FailCount and return nil.
type Operation struct {
	Name string
	Run  func(ctx context.Context, bc *Context) error
}

// Outcome is what a job's completion callback receives.
type Outcome struct {
	JobID       string        `json:"job_id"`
	Success     bool          `json:"success"`
	Results     Results       `json:"results"`
	FailedOp    string        `json:"failed_operation,omitempty"`
	Unprocessed []string      `json:"unprocessed,omitempty"`
	Error       string        `json:"error,omitempty"`
	Elapsed     time.Duration `json:"elapsed"`
}

// CompleteFunc runs exactly once when a job reaches Completed or Failed. The
// returned string becomes the job's final message.
type CompleteFunc func(ctx context.Context, out Outcome) string

// Job describes work to schedule.
type Job struct {
	Title       string
	InitMessage string
	Operations  []Operation
	OnComplete  CompleteFunc
}

// Progress is the externally visible snapshot of a job after a step.
type Progress struct {
	JobID      string    `json:"job_id"`
	Title      string    `json:"title"`
	State      State     `json:"state"`
	Operation  string    `json:"operation"`
	Index      int       `json:"operation_index"`
	Operations int       `json:"operations"`
	Step       int       `json:"step"`
	Message    string    `json:"message"`
	Sandbox    Sandbox   `json:"sandbox"`
	Results    Results   `json:"results"`
	Finished   float64   `json:"finished"`
	Outcome    *Outcome  `json:"outcome,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}
