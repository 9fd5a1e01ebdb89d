package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/folio/internal/batch"
	"github.com/mattjoyce/folio/internal/events"
)

const sseKeepAlive = 15 * time.Second

// eventFilter narrows GET /events.
//
//	?job_id=<id>             only events carrying that job id; the stream ends
//	                         with the job's job.completed or job.interrupted
//	?type=job.step,lock.*    exact event types or "prefix.*" patterns
type eventFilter struct {
	jobID string
	types []string
}

func parseEventFilter(q url.Values) eventFilter {
	f := eventFilter{jobID: strings.TrimSpace(q.Get("job_id"))}
	for _, v := range q["type"] {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				f.types = append(f.types, t)
			}
		}
	}
	return f
}

func (f eventFilter) match(ev events.Event) bool {
	if len(f.types) > 0 && !slices.ContainsFunc(f.types, func(p string) bool { return typeMatches(p, ev.Type) }) {
		return false
	}
	return f.jobID == "" || eventJobID(ev) == f.jobID
}

// ends reports whether ev closes the followed job, whatever the type filter says.
func (f eventFilter) ends(ev events.Event) bool {
	if f.jobID == "" || (ev.Type != events.JobCompleted && ev.Type != events.JobInterrupted) {
		return false
	}
	return eventJobID(ev) == f.jobID
}

func typeMatches(pattern, eventType string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(eventType, prefix)
	}
	return pattern == eventType
}

// eventJobID reads the job_id of job events. Other events have none.
func eventJobID(ev events.Event) string {
	var payload struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		return ""
	}
	return payload.JobID
}

// jobState looks a job up in the engine, then in the persisted records.
func (s *Server) jobState(ctx context.Context, jobID string) (batch.State, bool, error) {
	if p, err := s.deps.Jobs.Status(jobID); err == nil {
		return p.State, true, nil
	}
	if s.deps.Records == nil {
		return "", false, nil
	}
	rec, err := s.deps.Records.Get(ctx, jobID)
	switch {
	case errors.Is(err, batch.ErrJobNotFound):
		return "", false, nil
	case err != nil:
		return "", false, err
	}
	return rec.State, true, nil
}

// handleEvents streams hub events as SSE. Buffered events after Last-Event-ID
// are replayed first.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	filter := parseEventFilter(r.URL.Query())

	finished := false
	if filter.jobID != "" {
		state, found, err := s.jobState(r.Context(), filter.jobID)
		if err != nil {
			s.logger.Error("failed to load job record", "job_id", filter.jobID, "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to load job")
			return
		}
		if !found {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		finished = state.Terminal()
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Subscribe before the replay so nothing published in between is missed.
	ch, cancel := s.deps.Events.Subscribe()
	defer cancel()

	sent := parseLastEventID(r.Header.Get("Last-Event-ID"))
	for _, ev := range s.deps.Events.SnapshotSince(sent) {
		done, err := sendEvent(w, filter, ev)
		if err != nil {
			return
		}
		sent = ev.ID
		if done {
			flusher.Flush()
			return
		}
	}
	flusher.Flush()
	if finished {
		return
	}

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.ID <= sent {
				continue
			}
			sent = ev.ID
			done, err := sendEvent(w, filter, ev)
			if err != nil {
				return
			}
			flusher.Flush()
			if done {
				return
			}
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func sendEvent(w http.ResponseWriter, f eventFilter, ev events.Event) (bool, error) {
	if f.match(ev) {
		if err := writeSSE(w, ev); err != nil {
			return false, err
		}
	}
	return f.ends(ev), nil
}

func parseLastEventID(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// writeSSE writes one event. Payloads are single-line JSON, so one data line suffices.
func writeSSE(w http.ResponseWriter, ev events.Event) error {
	if ev.Type != "" {
		_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, ev.Data)
		return err
	}
	_, err := fmt.Fprintf(w, "id: %d\ndata: %s\n\n", ev.ID, ev.Data)
	return err
}
