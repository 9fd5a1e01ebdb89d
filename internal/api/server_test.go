package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/folio/internal/batch"
	"github.com/mattjoyce/folio/internal/bookops"
	"github.com/mattjoyce/folio/internal/config"
	"github.com/mattjoyce/folio/internal/events"
	"github.com/mattjoyce/folio/internal/lock"
	"github.com/mattjoyce/folio/internal/outline"
	"github.com/mattjoyce/folio/internal/pdfbuild"
	"github.com/mattjoyce/folio/internal/storage"
)

const adminKey = "test-key-123"

type stubBuilder struct {
	calls []int64
	err   error
}

func (b *stubBuilder) BuildDocumentTree(_ context.Context, targetID int64) (string, error) {
	b.calls = append(b.calls, targetID)
	if b.err != nil {
		return "", b.err
	}
	return fmt.Sprintf("job-%d", targetID), nil
}

type harness struct {
	server  *Server
	handler http.Handler
	engine  *batch.Engine
	records *batch.JobStore
	locks   *lock.Registry
	builder *stubBuilder
	hub     *events.Hub
	bookID  int64
	ids     []int64
}

// newHarness imports Handbook -> Part One -> (Intro, Draft) where Draft is unpublished.
func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, filepath.Join(t.TempDir(), "folio.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := outline.NewSQLiteRepository(db)
	res, err := outline.Import(ctx, repo, strings.NewReader(`
title: Handbook
bundle: book
published: true
children:
  - title: Part One
    published: true
    children:
      - title: Intro
        published: true
      - title: Draft
`), []string{"book"})
	require.NoError(t, err)

	hub := events.NewHub(64)
	records := batch.NewJobStore(db)
	engine := batch.NewEngine(batch.WithRecorder(records), batch.WithEvents(hub))
	locks := lock.NewRegistry(hub)
	builder := &stubBuilder{}

	ids, err := outline.FlatBookTree(ctx, repo, res.BookID)
	require.NoError(t, err)

	cfg := config.APIConfig{
		Listen: "localhost:0",
		Auth: config.APIAuthConfig{
			APIKey: adminKey,
			Tokens: []config.APIToken{
				{Token: "reader", Scopes: []string{"books:ro", "jobs:ro"}},
				{Token: "watcher", Scopes: []string{"events:ro"}},
			},
		},
	}
	s := New(cfg, Deps{
		Jobs:      engine,
		Records:   records,
		Builder:   builder,
		Books:     bookops.New(repo, engine, locks, hub),
		Outline:   outline.NewFlattener(repo, hub),
		Documents: repo,
		Locks:     locks,
		Events:    hub,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	return &harness{
		server:  s,
		handler: s.Handler(),
		engine:  engine,
		records: records,
		locks:   locks,
		builder: builder,
		hub:     hub,
		bookID:  res.BookID,
		ids:     ids,
	}
}

func (h *harness) do(t *testing.T, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestHandleHealthz_NoAuth(t *testing.T) {
	h := newHarness(t)
	h.locks.Lock("book:1/test", []int64{1})

	rr := h.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	resp := decode[HealthzResponse](t, rr)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 0, resp.ActiveJobs)
	assert.Equal(t, 1, resp.HeldLocks)
}

func TestAuth(t *testing.T) {
	h := newHarness(t)
	path := fmt.Sprintf("/books/%d/pdf", h.bookID)

	tests := []struct {
		name  string
		token string
		code  int
	}{
		{name: "missing token", token: "", code: http.StatusUnauthorized},
		{name: "unknown token", token: "nope", code: http.StatusUnauthorized},
		{name: "read-only token", token: "reader", code: http.StatusForbidden},
		{name: "events token", token: "watcher", code: http.StatusForbidden},
		{name: "admin", token: adminKey, code: http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := h.do(t, http.MethodPost, path, tt.token)
			assert.Equal(t, tt.code, rr.Code, rr.Body.String())
			if tt.code != http.StatusAccepted {
				assert.NotEmpty(t, decode[ErrorResponse](t, rr).Error)
			}
		})
	}
	assert.Equal(t, []int64{h.bookID}, h.builder.calls)
}

func TestHandleBuildPDF(t *testing.T) {
	h := newHarness(t)

	rr := h.do(t, http.MethodPost, fmt.Sprintf("/books/%d/pdf", h.ids[2]), adminKey)
	require.Equal(t, http.StatusAccepted, rr.Code)
	resp := decode[JobAcceptedResponse](t, rr)
	assert.Equal(t, fmt.Sprintf("job-%d", h.ids[2]), resp.JobID)
	assert.Equal(t, "pending", resp.Status)

	tests := []struct {
		name string
		path string
		err  error
		code int
	}{
		{name: "bad id", path: "/books/abc/pdf", code: http.StatusBadRequest},
		{name: "zero id", path: "/books/0/pdf", code: http.StatusBadRequest},
		{name: "not found", path: "/books/999/pdf", err: fmt.Errorf("load target 999: %w", outline.ErrNotFound), code: http.StatusNotFound},
		{name: "not in book", path: "/books/7/pdf", err: fmt.Errorf("document 7: %w", pdfbuild.ErrNotInBook), code: http.StatusUnprocessableEntity},
		{name: "internal", path: "/books/7/pdf", err: fmt.Errorf("disk on fire"), code: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h.builder.err = tt.err
			rr := h.do(t, http.MethodPost, tt.path, adminKey)
			assert.Equal(t, tt.code, rr.Code, rr.Body.String())
		})
	}
}

func TestPublishSchedulesJobAndReportsProgress(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	rr := h.do(t, http.MethodPost, fmt.Sprintf("/books/%d/unpublish", h.bookID), adminKey)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	jobID := decode[JobAcceptedResponse](t, rr).JobID

	rr = h.do(t, http.MethodGet, "/jobs/"+jobID, "reader")
	require.Equal(t, http.StatusOK, rr.Code)
	status := decode[JobStatusResponse](t, rr)
	assert.True(t, status.Live)
	assert.Equal(t, batch.StatePending, status.State)
	require.NotNil(t, status.Progress)
	assert.Equal(t, "Updating documents...", status.Progress.Message)

	out, err := h.engine.Run(ctx, jobID)
	require.NoError(t, err)
	assert.True(t, out.Success)

	rr = h.do(t, http.MethodGet, "/jobs/"+jobID, "reader")
	status = decode[JobStatusResponse](t, rr)
	assert.Equal(t, batch.StateCompleted, status.State)
	assert.Equal(t, "4 documents were successfully updated", status.Progress.Message)

	rr = h.do(t, http.MethodGet, fmt.Sprintf("/books/%d/outline?include_unpublished=false", h.bookID), "reader")
	require.Equal(t, http.StatusNotFound, rr.Code, "an unpublished root hides the whole book")
}

func TestBookWritesConflictWithHeldLocks(t *testing.T) {
	h := newHarness(t)
	h.locks.Lock("book:other/job", []int64{h.ids[3]})

	for _, path := range []string{
		fmt.Sprintf("/books/%d/publish", h.bookID),
		fmt.Sprintf("/books/%d", h.bookID),
		fmt.Sprintf("/branches/%d", h.ids[1]),
	} {
		method := http.MethodPost
		if !strings.HasSuffix(path, "publish") {
			method = http.MethodDelete
		}
		rr := h.do(t, method, path, adminKey)
		assert.Equal(t, http.StatusConflict, rr.Code, path)
	}

	rr := h.do(t, http.MethodGet, "/locks", "reader")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, map[string][]int64{"book:other/job": {h.ids[3]}}, decode[LocksResponse](t, rr).Locks)
}

func TestDeleteBranch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	rr := h.do(t, http.MethodDelete, fmt.Sprintf("/branches/%d", h.ids[1]), adminKey)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	out, err := h.engine.Run(ctx, decode[JobAcceptedResponse](t, rr).JobID)
	require.NoError(t, err)
	assert.Equal(t, 3, out.Results.SuccessCount)

	rr = h.do(t, http.MethodGet, fmt.Sprintf("/books/%d/outline", h.bookID), "reader")
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode[OutlineResponse](t, rr)
	require.Len(t, resp.Documents, 1)
	assert.Equal(t, "Handbook", resp.Documents[0].Title)

	rr = h.do(t, http.MethodDelete, "/branches/999", adminKey)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleOutline(t *testing.T) {
	h := newHarness(t)

	rr := h.do(t, http.MethodGet, fmt.Sprintf("/books/%d/outline", h.bookID), "reader")
	require.Equal(t, http.StatusOK, rr.Code)
	all := decode[OutlineResponse](t, rr)
	assert.True(t, all.IncludeUnpublished)
	titles := make([]string, 0, len(all.Documents))
	for _, d := range all.Documents {
		titles = append(titles, d.Title)
	}
	assert.Equal(t, []string{"Handbook", "Part One", "Intro", "Draft"}, titles)
	assert.Equal(t, 1, all.Documents[0].Depth)
	assert.False(t, all.Documents[3].Published)

	rr = h.do(t, http.MethodGet, fmt.Sprintf("/books/%d/outline?include_unpublished=false", h.bookID), "reader")
	require.Equal(t, http.StatusOK, rr.Code)
	published := decode[OutlineResponse](t, rr)
	assert.Len(t, published.Documents, 3)
	require.Len(t, published.Diagnostics, 1)
	assert.Equal(t, outline.UnpublishedNode, published.Diagnostics[0].Kind)

	rr = h.do(t, http.MethodGet, fmt.Sprintf("/books/%d/outline?include_unpublished=maybe", h.bookID), "reader")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = h.do(t, http.MethodGet, fmt.Sprintf("/books/%d/outline", h.bookID), "watcher")
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestHandleGetJobFallsBackToRecords(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	// A job scheduled by an earlier process exists only in the job store.
	earlier := batch.NewEngine(batch.WithRecorder(h.records))
	jobID, err := earlier.Schedule(ctx, batch.Job{Title: "old", Operations: []batch.Operation{{
		Name: "noop",
		Run:  func(context.Context, *batch.Context) error { return nil },
	}}})
	require.NoError(t, err)
	_, err = h.records.MarkInterrupted(ctx)
	require.NoError(t, err)

	rr := h.do(t, http.MethodGet, "/jobs/"+jobID, "reader")
	require.Equal(t, http.StatusOK, rr.Code)
	status := decode[JobStatusResponse](t, rr)
	assert.False(t, status.Live)
	assert.Equal(t, batch.StateInterrupted, status.State)
	require.NotNil(t, status.Record)
	assert.Equal(t, "old", status.Record.Title)

	rr = h.do(t, http.MethodGet, "/jobs/missing", "reader")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleEventsStreamsBufferedEvents(t *testing.T) {
	h := newHarness(t)
	h.hub.Publish(events.LockAcquired, map[string]string{"name": "first"})
	h.hub.Publish(events.LockReleased, map[string]string{"name": "second"})

	srv := httptest.NewServer(h.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer watcher")
	req.Header.Set("Last-Event-ID", "1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	sc := bufio.NewScanner(resp.Body)
	var lines []string
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			break
		}
		lines = append(lines, line)
	}
	assert.Equal(t, []string{"id: 2", "event: lock.released", `data: {"name":"second"}`}, lines)
}
