package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/aria-voice/aria/internal/transcript"
)

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	tlog, ok := s.requireLog(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"messages": tlog.Visible(),
		"total":    tlog.Len(),
	})
}

func (s *Server) handleTranscriptSearch(w http.ResponseWriter, r *http.Request) {
	tlog, ok := s.requireLog(w, r)
	if !ok {
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		respondError(w, http.StatusBadRequest, "missing_query", "query parameter q is required")
		return
	}
	matches := tlog.Search(query)
	respondJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"matches": matches,
		"total":   len(matches),
	})
}

func (s *Server) handleTranscriptExport(w http.ResponseWriter, r *http.Request) {
	tlog, ok := s.requireLog(w, r)
	if !ok {
		return
	}
	format, err := transcript.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_format", err.Error())
		return
	}
	body, err := tlog.Export(format)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "export_failed", err.Error())
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "transcript."+string(format)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) requireLog(w http.ResponseWriter, r *http.Request) (*transcript.Log, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return nil, false
	}
	tlog, ok := s.sessionLog(id)
	if !ok {
		respondError(w, http.StatusNotFound, "session_not_found", "no transcript for session")
		return nil, false
	}
	return tlog, true
}
