package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/folio/internal/batch"
	"github.com/mattjoyce/folio/internal/bookops"
	"github.com/mattjoyce/folio/internal/lock"
	"github.com/mattjoyce/folio/internal/outline"
	"github.com/mattjoyce/folio/internal/pdfbuild"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	active := 0
	if s.deps.Jobs != nil {
		for _, p := range s.deps.Jobs.List() {
			if !p.State.Terminal() {
				active++
			}
		}
	}
	held := 0
	if s.deps.Locks != nil {
		held = len(s.deps.Locks.Snapshot())
	}

	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		ActiveJobs:    active,
		HeldLocks:     held,
	})
}

// handleBuildPDF handles POST /books/{id}/pdf. The id may be any document of a book.
func (s *Server) handleBuildPDF(w http.ResponseWriter, r *http.Request) {
	id, ok := s.documentID(w, r)
	if !ok {
		return
	}
	jobID, err := s.deps.Builder.BuildDocumentTree(r.Context(), id)
	s.respondScheduled(w, jobID, err)
}

func (s *Server) handlePublish(publish bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := s.documentID(w, r)
		if !ok {
			return
		}
		jobID, err := s.deps.Books.UpdateBook(r.Context(), id, publish)
		s.respondScheduled(w, jobID, err)
	}
}

func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request) {
	id, ok := s.documentID(w, r)
	if !ok {
		return
	}
	jobID, err := s.deps.Books.DeleteBook(r.Context(), id)
	s.respondScheduled(w, jobID, err)
}

func (s *Server) handleDeleteBranch(w http.ResponseWriter, r *http.Request) {
	id, ok := s.documentID(w, r)
	if !ok {
		return
	}
	jobID, err := s.deps.Books.DeleteBranch(r.Context(), id)
	s.respondScheduled(w, jobID, err)
}

// handleOutline handles GET /books/{id}/outline.
func (s *Server) handleOutline(w http.ResponseWriter, r *http.Request) {
	id, ok := s.documentID(w, r)
	if !ok {
		return
	}
	includeUnpublished := true
	if v := r.URL.Query().Get("include_unpublished"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "include_unpublished must be a boolean")
			return
		}
		includeUnpublished = b
	}

	ids, diags, err := s.deps.Outline.Walk(r.Context(), id, includeUnpublished)
	if err != nil {
		s.logger.Error("failed to flatten outline", "book_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to flatten outline")
		return
	}
	if len(ids) == 0 {
		s.writeError(w, http.StatusNotFound, "book not found")
		return
	}
	docs, err := s.deps.Documents.LoadMultiple(r.Context(), ids)
	if err != nil {
		s.logger.Error("failed to load outline documents", "book_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load documents")
		return
	}

	resp := OutlineResponse{
		BookID:             id,
		IncludeUnpublished: includeUnpublished,
		Documents:          make([]OutlineEntry, 0, len(ids)),
		Diagnostics:        diags,
	}
	for _, docID := range ids {
		doc, ok := docs[docID]
		if !ok {
			continue
		}
		entry := OutlineEntry{
			ID:        doc.ID,
			Title:     doc.Title,
			Subtitle:  doc.Subtitle,
			Published: doc.IsPublished(),
		}
		if doc.Outline != nil {
			entry.Depth = doc.Outline.Depth
		}
		resp.Documents = append(resp.Documents, entry)
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleGetJob handles GET /jobs/{jobID}.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	if p, err := s.deps.Jobs.Status(jobID); err == nil {
		respondJSON(w, http.StatusOK, JobStatusResponse{
			JobID:    jobID,
			State:    p.State,
			Live:     true,
			Progress: &p,
		})
		return
	}

	if s.deps.Records != nil {
		rec, err := s.deps.Records.Get(r.Context(), jobID)
		switch {
		case err == nil:
			respondJSON(w, http.StatusOK, JobStatusResponse{JobID: jobID, State: rec.State, Record: rec})
			return
		case !errors.Is(err, batch.ErrJobNotFound):
			s.logger.Error("failed to load job record", "job_id", jobID, "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to load job")
			return
		}
	}
	s.writeError(w, http.StatusNotFound, "job not found")
}

func (s *Server) handleLocks(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, LocksResponse{Locks: s.deps.Locks.Snapshot()})
}

func (s *Server) documentID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

// respondScheduled maps a scheduling result to 202 or an error status.
func (s *Server) respondScheduled(w http.ResponseWriter, jobID string, err error) {
	switch {
	case err == nil:
		respondJSON(w, http.StatusAccepted, JobAcceptedResponse{JobID: jobID, Status: string(batch.StatePending)})
	case errors.Is(err, outline.ErrNotFound), errors.Is(err, bookops.ErrEmptyBook):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, pdfbuild.ErrNotInBook):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, lock.ErrLocked):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("failed to schedule job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to schedule job")
	}
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
