package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"mercator-hq/sweeper/pkg/retention"
)

// maxAuditLimit bounds one audit page.
const maxAuditLimit = 1000

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

// storeFailure answers 503 for store outages and 500 otherwise.
func (s *Server) storeFailure(w http.ResponseWriter, r *http.Request, what string, err error) {
	s.logger.ErrorContext(r.Context(), what, "error", err)
	if errors.Is(err, retention.ErrStoreUnavailable) {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeError(w, http.StatusInternalServerError, what)
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	if s.deps.Channels == nil {
		http.NotFound(w, r)
		return
	}
	channels, err := s.deps.Channels.ListChannels(r.Context())
	if err != nil {
		s.storeFailure(w, r, "failed to list channels", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"channels": channels,
		"count":    len(channels),
	})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.deps.Audit == nil {
		http.NotFound(w, r)
		return
	}
	query, err := parseAuditQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := s.deps.Audit.QueryAudit(r.Context(), query)
	if err != nil {
		s.storeFailure(w, r, "failed to query audit trail", err)
		return
	}
	if entries == nil {
		entries = []*retention.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

var (
	errBadLimit = errors.New("limit must be a positive integer")
	errBadSince = errors.New("since must be an RFC 3339 timestamp or a duration such as 24h")
)

// parseAuditQuery reads limit, since and cycle_id. since accepts an RFC 3339
// timestamp or a duration back from now.
func parseAuditQuery(r *http.Request) (retention.AuditQuery, error) {
	q := r.URL.Query()
	var query retention.AuditQuery

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return query, errBadLimit
		}
		query.Limit = min(n, maxAuditLimit)
	}

	if v := q.Get("since"); v != "" {
		since, err := ParseSince(v, time.Now())
		if err != nil {
			return query, errBadSince
		}
		query.Since = since
	}

	query.CycleID = q.Get("cycle_id")
	return query, nil
}

// ParseSince parses an RFC 3339 timestamp, or a retention-style duration
// measured back from now.
func ParseSince(v string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	d, err := retention.ParseRetention(v)
	if err != nil {
		return time.Time{}, err
	}
	return now.Add(-d), nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Status == nil {
		http.NotFound(w, r)
		return
	}
	status, err := s.deps.Status(r.Context())
	if err != nil {
		s.storeFailure(w, r, "failed to read status", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
