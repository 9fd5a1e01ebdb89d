package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/folio/internal/events"
	"github.com/mattjoyce/folio/internal/log"
)

// Recorder persists job snapshots.
type Recorder interface {
	Create(ctx context.Context, p Progress, operations []string) error
	Record(ctx context.Context, p Progress) error
}

// Engine holds scheduled jobs and advances them one operation invocation at a time.
type Engine struct {
	recorder Recorder
	events   events.Publisher
	logger   *slog.Logger
	now      func() time.Time

	mu    sync.Mutex
	jobs  map[string]*run
	order []string
	wake  chan struct{}
}

type run struct {
	id       string
	job      Job
	state    State
	op       int
	step     int
	started  time.Time
	stepping bool

	// bc is only touched by the goroutine holding stepping.
	bc Context

	last    Progress
	outcome *Outcome
}

// Option configures an Engine.
type Option func(*Engine)

// WithRecorder persists every snapshot through r.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithEvents publishes job events to p.
func WithEvents(p events.Publisher) Option {
	return func(e *Engine) { e.events = p }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		events: events.Discard,
		logger: log.WithComponent("batch"),
		now:    time.Now,
		jobs:   make(map[string]*run),
		wake:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Schedule registers job in Pending state and returns its id.
func (e *Engine) Schedule(ctx context.Context, job Job) (string, error) {
	if len(job.Operations) == 0 {
		return "", ErrNoOperation
	}
	for i, op := range job.Operations {
		if op.Run == nil {
			return "", fmt.Errorf("operation %d (%q) has no Run func", i, op.Name)
		}
	}

	r := &run{
		id:    uuid.NewString(),
		job:   job,
		state: StatePending,
		bc: Context{
			Message:  job.InitMessage,
			Finished: 1,
			Results:  Results{Values: make(map[string]string)},
		},
	}
	r.last = e.snapshot(r)

	if e.recorder != nil {
		names := make([]string, len(job.Operations))
		for i, op := range job.Operations {
			names[i] = op.Name
		}
		if err := e.recorder.Create(ctx, r.last, names); err != nil {
			return "", fmt.Errorf("record job: %w", err)
		}
	}

	e.mu.Lock()
	e.jobs[r.id] = r
	e.order = append(e.order, r.id)
	e.mu.Unlock()

	e.logger.Info("job scheduled", "job_id", r.id, "title", job.Title, "operations", len(job.Operations))
	e.events.Publish(events.JobScheduled, r.last)
	e.signal()
	return r.id, nil
}

// Wake is signalled whenever a job is scheduled.
func (e *Engine) Wake() <-chan struct{} {
	return e.wake
}

func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Step runs one invocation of the job's current operation. Stepping a
// terminal job is a no-op that returns its final snapshot.
func (e *Engine) Step(ctx context.Context, jobID string) (Progress, error) {
	e.mu.Lock()
	r, ok := e.jobs[jobID]
	if !ok {
		e.mu.Unlock()
		return Progress{}, fmt.Errorf("%s: %w", jobID, ErrJobNotFound)
	}
	if r.state.Terminal() {
		p := r.last
		e.mu.Unlock()
		return p, nil
	}
	if r.stepping {
		e.mu.Unlock()
		return Progress{}, fmt.Errorf("%s: %w", jobID, ErrJobBusy)
	}
	r.stepping = true
	if r.state == StatePending {
		r.state = StateRunning
		r.started = e.now()
	}
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		r.stepping = false
		e.mu.Unlock()
	}()

	logger := log.WithJob(jobID)
	op := r.job.Operations[r.op]

	r.bc.Finished = 1
	r.bc.pass++
	err := invoke(ctx, op, &r.bc)

	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		// Interrupted mid-invocation: the pass is retried on the next Step.
		r.bc.pass--
		return e.Status(jobID)
	}

	var finished *Outcome
	e.mu.Lock()
	r.step++
	switch {
	case err != nil:
		logger.Error("operation failed", "operation", op.Name, "error", err)
		names := make([]string, 0, len(r.job.Operations)-r.op-1)
		for _, rest := range r.job.Operations[r.op+1:] {
			names = append(names, rest.Name)
		}
		r.state = StateFailed
		finished = &Outcome{
			JobID:       jobID,
			Success:     false,
			FailedOp:    op.Name,
			Unprocessed: names,
			Error:       err.Error(),
		}
	case r.bc.Finished < 1:
		if r.bc.Finished < 0 {
			r.bc.Finished = 0
		}
	default:
		r.op++
		r.bc.Sandbox = Sandbox{}
		r.bc.pass = 0
		if r.op == len(r.job.Operations) {
			r.state = StateCompleted
			finished = &Outcome{JobID: jobID, Success: true}
		}
	}
	if finished != nil {
		finished.Results = cloneResults(r.bc.Results)
		finished.Elapsed = e.now().Sub(r.started)
		r.outcome = finished
	}
	r.last = e.snapshot(r)
	p := r.last
	e.mu.Unlock()

	if finished != nil {
		p = e.complete(ctx, r, *finished)
	}

	e.record(ctx, p)
	e.events.Publish(events.JobStep, p)
	if finished != nil {
		// job.completed is the last event of a job.
		e.events.Publish(events.JobCompleted, *finished)
	}
	logger.Debug("step done", "operation", p.Operation, "state", p.State, "finished", p.Finished)
	return p, nil
}

// complete runs OnComplete once and stores its message.
func (e *Engine) complete(ctx context.Context, r *run, out Outcome) Progress {
	msg := ""
	if r.job.OnComplete != nil {
		msg = safeComplete(ctx, r.job.OnComplete, out, log.WithJob(r.id))
	}

	e.mu.Lock()
	if msg != "" {
		r.bc.Message = msg
	}
	r.last = e.snapshot(r)
	p := r.last
	e.mu.Unlock()

	e.logger.Info("job finished",
		"job_id", r.id,
		"state", p.State,
		"success_count", out.Results.SuccessCount,
		"fail_count", out.Results.FailCount,
		"elapsed", out.Elapsed,
	)
	return p
}

// Run steps jobID until it reaches a terminal state. Cancelling ctx stops the
// loop between steps and leaves the job Running.
func (e *Engine) Run(ctx context.Context, jobID string) (Outcome, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}
		p, err := e.Step(ctx, jobID)
		if err != nil {
			return Outcome{}, err
		}
		if p.State.Terminal() {
			if p.Outcome == nil {
				return Outcome{JobID: jobID}, nil
			}
			return *p.Outcome, nil
		}
	}
}

// Status returns the latest snapshot of jobID.
func (e *Engine) Status(jobID string) (Progress, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.jobs[jobID]
	if !ok {
		return Progress{}, fmt.Errorf("%s: %w", jobID, ErrJobNotFound)
	}
	return r.last, nil
}

// List returns snapshots of every job in scheduling order.
func (e *Engine) List() []Progress {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Progress, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.jobs[id].last)
	}
	return out
}

// Next returns the oldest job that still has work.
func (e *Engine) Next() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range e.order {
		if r := e.jobs[id]; !r.state.Terminal() && !r.stepping {
			return id, true
		}
	}
	return "", false
}

// Forget drops terminal jobs finished before cutoff from memory.
func (e *Engine) Forget(cutoff time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	kept := e.order[:0]
	n := 0
	for _, id := range e.order {
		r := e.jobs[id]
		if r.state.Terminal() && r.last.UpdatedAt.Before(cutoff) {
			delete(e.jobs, id)
			n++
			continue
		}
		kept = append(kept, id)
	}
	e.order = kept
	return n
}

func (e *Engine) snapshot(r *run) Progress {
	name := ""
	if r.op < len(r.job.Operations) {
		name = r.job.Operations[r.op].Name
	}
	return Progress{
		JobID:      r.id,
		Title:      r.job.Title,
		State:      r.state,
		Operation:  name,
		Index:      r.op,
		Operations: len(r.job.Operations),
		Step:       r.step,
		Message:    r.bc.Message,
		Sandbox:    cloneSandbox(r.bc.Sandbox),
		Results:    cloneResults(r.bc.Results),
		Finished:   r.bc.Finished,
		Outcome:    r.outcome,
		UpdatedAt:  e.now().UTC(),
	}
}

func (e *Engine) record(ctx context.Context, p Progress) {
	if e.recorder == nil {
		return
	}
	// Persist even when the caller's context is already done.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.recorder.Record(rctx, p); err != nil {
		e.logger.Error("failed to record job snapshot", "job_id", p.JobID, "error", err)
	}
}

func invoke(ctx context.Context, op Operation, bc *Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("operation %q panicked: %v", op.Name, rec)
		}
	}()
	return op.Run(ctx, bc)
}

func safeComplete(ctx context.Context, fn CompleteFunc, out Outcome, logger *slog.Logger) (msg string) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("completion callback panicked", "panic", rec)
			msg = ""
		}
	}()
	return fn(ctx, out)
}

func cloneSandbox(s Sandbox) Sandbox {
	c := s
	c.Artifacts = append([]string(nil), s.Artifacts...)
	c.Pending = append([]int64(nil), s.Pending...)
	c.Values = cloneMap(s.Values)
	return c
}

func cloneResults(r Results) Results {
	c := r
	c.Values = cloneMap(r.Values)
	return c
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
