package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/wesm/lifevault/internal/importer"
	"github.com/wesm/lifevault/internal/jobs"
	"github.com/wesm/lifevault/internal/progress"
	"github.com/wesm/lifevault/internal/scheduler"
	"github.com/wesm/lifevault/internal/store"
)

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ImportRequest is the body of POST /api/v1/imports/{source}.
type ImportRequest struct {
	Dirs    []string `json:"dirs,omitempty"`
	Account string   `json:"account,omitempty"`
	Labels  []string `json:"labels,omitempty"`
	Query   string   `json:"query,omitempty"`
	NewOnly bool     `json:"new_only,omitempty"`

	UserName         string   `json:"user_name,omitempty"`
	ExportRoot       string   `json:"export_root,omitempty"`
	MaxImages        int      `json:"max_images,omitempty"`
	ExcludePatterns  []string `json:"exclude_patterns,omitempty"`
	CreateThumbnails bool     `json:"create_thumbnails,omitempty"`
	ThumbnailSize    int      `json:"thumbnail_size,omitempty"`
}

func (ir ImportRequest) job(source importer.Source) jobs.Request {
	return jobs.Request{
		Source:  source,
		Dirs:    ir.Dirs,
		Account: ir.Account,
		Labels:  ir.Labels,
		Query:   ir.Query,
		NewOnly: ir.NewOnly,
		Options: importer.Options{
			UserName:         ir.UserName,
			ExportRoot:       ir.ExportRoot,
			MaxImages:        ir.MaxImages,
			ExcludePatterns:  ir.ExcludePatterns,
			CreateThumbnails: ir.CreateThumbnails,
			ThumbnailSize:    ir.ThumbnailSize,
		},
	}
}

// SchedulerStatusResponse lists scheduled accounts.
type SchedulerStatusResponse struct {
	Accounts []scheduler.AccountStatus `json:"accounts"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// writeErr maps a domain error to a status code.
func (s *Server) writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, progress.ErrConflict), errors.Is(err, scheduler.ErrBusy):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, progress.ErrNotRunning):
		writeError(w, http.StatusConflict, "not_running", err.Error())
	case errors.Is(err, importer.ErrInvalidDirectory),
		errors.Is(err, jobs.ErrUnknownSource),
		errors.Is(err, jobs.ErrNoAccount):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, store.ErrNotFound), errors.Is(err, scheduler.ErrNotScheduled):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, jobs.ErrGmailUnavailable), errors.Is(err, scheduler.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}

// sourceParam parses {source}, writing a 400 when it is unknown.
func sourceParam(w http.ResponseWriter, r *http.Request) (importer.Source, bool) {
	name := chi.URLParam(r, "source")
	src, ok := importer.ParseSource(name)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown_source", "Unknown import source: "+name)
	}
	return src, ok
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetStats(r.Context())
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if runs == nil {
		runs = []store.ImportRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleDeleteMedia(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "invalid_id", "Media id must be a positive integer")
		return
	}
	if err := s.store.DeleteMediaItem(r.Context(), id); err != nil {
		s.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListImports(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"imports": s.jobs.Registry().List()})
}

func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	src, ok := sourceParam(w, r)
	if !ok {
		return
	}

	var body ImportRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	t, err := s.jobs.Start(body.job(src))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, t.Snapshot())
}

func (s *Server) handleGetImport(w http.ResponseWriter, r *http.Request) {
	src, ok := sourceParam(w, r)
	if !ok {
		return
	}
	t, found := s.jobs.Registry().Get(string(src))
	if !found {
		writeJSON(w, http.StatusOK, progress.Snapshot{Source: string(src), Status: progress.StatusIdle})
		return
	}
	writeJSON(w, http.StatusOK, t.Snapshot())
}

func (s *Server) handleCancelImport(w http.ResponseWriter, r *http.Request) {
	src, ok := sourceParam(w, r)
	if !ok {
		return
	}
	if err := s.jobs.Cancel(string(src)); err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	resp := SchedulerStatusResponse{Accounts: []scheduler.AccountStatus{}}
	if s.sched != nil {
		if st := s.sched.Status(); st != nil {
			resp.Accounts = st
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if s.sched == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "Scheduler is not running")
		return
	}
	if err := s.sched.Trigger(chi.URLParam(r, "email")); err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}
