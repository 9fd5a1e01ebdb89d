package batch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunked processes total items, size per pass.
func chunked(name string, total, size int, seen *[]int) Operation {
	return Operation{
		Name: name,
		Run: func(_ context.Context, bc *Context) error {
			if bc.FirstPass() {
				bc.Sandbox.Max = total
			}
			n := min(size, bc.Sandbox.Max-bc.Sandbox.Progress)
			bc.Sandbox.Progress += n
			bc.Results.SuccessCount += n
			*seen = append(*seen, bc.Sandbox.Progress)
			if bc.Sandbox.Progress < bc.Sandbox.Max {
				bc.Finished = float64(bc.Sandbox.Progress) / float64(bc.Sandbox.Max)
			}
			return nil
		},
	}
}

func TestEngineMultiPassOperation(t *testing.T) {
	ctx := context.Background()
	e := NewEngine()

	var seen []int
	var outcome Outcome
	calls := 0
	id, err := e.Schedule(ctx, Job{
		Title:       "chunks",
		InitMessage: "starting",
		Operations:  []Operation{chunked("render", 7, 3, &seen)},
		OnComplete: func(_ context.Context, out Outcome) string {
			calls++
			outcome = out
			return "done"
		},
	})
	require.NoError(t, err)

	p, err := e.Status(id)
	require.NoError(t, err)
	assert.Equal(t, StatePending, p.State)
	assert.Equal(t, "starting", p.Message)

	var finished []float64
	for i := 0; i < 2; i++ {
		p, err = e.Step(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StateRunning, p.State)
		assert.Equal(t, "render", p.Operation)
		finished = append(finished, p.Finished)
	}
	assert.InDelta(t, 3.0/7, finished[0], 1e-9)
	assert.InDelta(t, 6.0/7, finished[1], 1e-9)

	p, err = e.Step(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, p.State)
	assert.Equal(t, "done", p.Message)
	assert.Equal(t, []int{3, 6, 7}, seen)

	assert.Equal(t, 1, calls)
	assert.True(t, outcome.Success)
	assert.Equal(t, 7, outcome.Results.SuccessCount)

	// Stepping a finished job changes nothing.
	again, err := e.Step(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, again.State)
	assert.Equal(t, 1, calls)
}

func TestEngineResetsSandboxBetweenOperations(t *testing.T) {
	ctx := context.Background()
	e := NewEngine()

	var sandboxes []Sandbox
	record := func(name string) Operation {
		return Operation{Name: name, Run: func(_ context.Context, bc *Context) error {
			sandboxes = append(sandboxes, bc.Sandbox)
			bc.Sandbox.Values = map[string]string{"op": name}
			bc.Sandbox.Progress = 5
			bc.SetValue(name, "ran")
			return nil
		}}
	}

	id, err := e.Schedule(ctx, Job{Operations: []Operation{record("a"), record("b")}})
	require.NoError(t, err)

	out, err := e.Run(ctx, id)
	require.NoError(t, err)
	require.Len(t, sandboxes, 2)
	assert.Equal(t, Sandbox{}, sandboxes[1], "second operation must start with an empty sandbox")
	assert.Equal(t, map[string]string{"a": "ran", "b": "ran"}, out.Results.Values)
}

func TestEngineHardFailureSkipsRemaining(t *testing.T) {
	ctx := context.Background()
	e := NewEngine()
	boom := errors.New("renderer exploded")

	ran := map[string]bool{}
	op := func(name string, err error) Operation {
		return Operation{Name: name, Run: func(_ context.Context, bc *Context) error {
			ran[name] = true
			if err == nil {
				bc.Results.SuccessCount++
			}
			return err
		}}
	}

	var outcome Outcome
	id, err := e.Schedule(ctx, Job{
		Operations: []Operation{op("lock", nil), op("render", boom), op("persist", nil), op("cleanup", nil)},
		OnComplete: func(_ context.Context, out Outcome) string {
			outcome = out
			return ""
		},
	})
	require.NoError(t, err)

	out, err := e.Run(ctx, id)
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, "render", out.FailedOp)
	assert.Equal(t, []string{"persist", "cleanup"}, out.Unprocessed)
	assert.Contains(t, out.Error, "renderer exploded")
	assert.Equal(t, 1, out.Results.SuccessCount)
	assert.False(t, ran["persist"])
	assert.Equal(t, out, outcome)

	p, err := e.Status(id)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, p.State)
}

func TestEnginePanicIsHardFailure(t *testing.T) {
	ctx := context.Background()
	e := NewEngine()
	id, err := e.Schedule(ctx, Job{Operations: []Operation{{
		Name: "bad",
		Run:  func(context.Context, *Context) error { panic("nil map") },
	}}})
	require.NoError(t, err)

	out, err := e.Run(ctx, id)
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, "bad", out.FailedOp)
}

func TestEngineCancelLeavesJobResumable(t *testing.T) {
	e := NewEngine()
	var seen []int
	id, err := e.Schedule(context.Background(), Job{Operations: []Operation{chunked("render", 9, 3, &seen)}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	_, err = e.Step(ctx, id)
	require.NoError(t, err)
	cancel()

	_, err = e.Run(ctx, id)
	assert.ErrorIs(t, err, context.Canceled)

	p, err := e.Status(id)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, p.State)

	out, err := e.Run(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, []int{3, 6, 9}, seen)
}

func TestEngineOperationSeesCancelledContext(t *testing.T) {
	e := NewEngine()
	passes := 0
	id, err := e.Schedule(context.Background(), Job{Operations: []Operation{{
		Name: "wait",
		Run: func(ctx context.Context, bc *Context) error {
			passes++
			if err := ctx.Err(); err != nil {
				return err
			}
			return nil
		},
	}}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p, err := e.Step(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, p.State, "cancellation is not a failure")

	out, err := e.Run(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, 2, passes)
}

func TestEngineScheduleValidation(t *testing.T) {
	e := NewEngine()
	_, err := e.Schedule(context.Background(), Job{})
	assert.ErrorIs(t, err, ErrNoOperation)

	_, err = e.Schedule(context.Background(), Job{Operations: []Operation{{Name: "nil"}}})
	assert.Error(t, err)

	_, err = e.Step(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = e.Status("nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestEngineNextIsFIFO(t *testing.T) {
	ctx := context.Background()
	e := NewEngine()
	noop := []Operation{{Name: "noop", Run: func(context.Context, *Context) error { return nil }}}

	first, err := e.Schedule(ctx, Job{Title: "first", Operations: noop})
	require.NoError(t, err)
	second, err := e.Schedule(ctx, Job{Title: "second", Operations: noop})
	require.NoError(t, err)

	select {
	case <-e.Wake():
	default:
		t.Fatal("Schedule should signal Wake")
	}

	next, ok := e.Next()
	require.True(t, ok)
	assert.Equal(t, first, next)

	_, err = e.Run(ctx, first)
	require.NoError(t, err)
	next, ok = e.Next()
	require.True(t, ok)
	assert.Equal(t, second, next)

	_, err = e.Run(ctx, second)
	require.NoError(t, err)
	_, ok = e.Next()
	assert.False(t, ok)

	assert.Len(t, e.List(), 2)
}

type memRecorder struct {
	created  []Progress
	recorded []Progress
}

func (m *memRecorder) Create(_ context.Context, p Progress, _ []string) error {
	m.created = append(m.created, p)
	return nil
}

func (m *memRecorder) Record(_ context.Context, p Progress) error {
	m.recorded = append(m.recorded, p)
	return nil
}

func TestEngineRecordsEveryStep(t *testing.T) {
	ctx := context.Background()
	rec := &memRecorder{}
	e := NewEngine(WithRecorder(rec))

	var seen []int
	id, err := e.Schedule(ctx, Job{Operations: []Operation{chunked("render", 4, 2, &seen)}})
	require.NoError(t, err)
	_, err = e.Run(ctx, id)
	require.NoError(t, err)

	require.Len(t, rec.created, 1)
	require.Len(t, rec.recorded, 2)
	assert.Equal(t, 1, rec.recorded[0].Step)
	assert.Equal(t, StateCompleted, rec.recorded[1].State)
	assert.NotNil(t, rec.recorded[1].Outcome)
}

type memPublisher struct{ types []string }

func (m *memPublisher) Publish(eventType string, _ any) { m.types = append(m.types, eventType) }

func TestEngineCompletedIsLastEvent(t *testing.T) {
	ctx := context.Background()
	pub := &memPublisher{}
	e := NewEngine(WithEvents(pub))

	var seen []int
	id, err := e.Schedule(ctx, Job{Operations: []Operation{chunked("render", 4, 2, &seen)}})
	require.NoError(t, err)
	_, err = e.Run(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, []string{"job.scheduled", "job.step", "job.step", "job.completed"}, pub.types)
}
