package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/creator-outreach-sync/internal/outreach"
)

const (
	defaultBlocklistLimit = 100
	maxBlocklistLimit     = 1000
	listTimeout           = 3 * time.Second
)

// lastRun handles GET /v1/runs/last. 404 until a run has been recorded.
func (s *Server) lastRun(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run reporter unavailable")
		return
	}
	run, ok := s.deps.Runs.Last()
	if !ok {
		writeError(w, http.StatusNotFound, "no run recorded yet")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

// credentialStats handles GET /v1/credentials.
func (s *Server) credentialStats(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Pool == nil {
		writeError(w, http.StatusServiceUnavailable, "credential pool unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"credentials": s.deps.Pool.Stats()})
}

// listBlocklist handles GET /v1/blocklist?limit=&offset=. It returns
// {"domains": [...], "total": n}, 400 for bad paging, 503 when no store is
// wired, or 500 when the store fails.
func (s *Server) listBlocklist(w http.ResponseWriter, r *http.Request) {
	if s.deps.Blocklist == nil {
		writeError(w, http.StatusServiceUnavailable, "blocklist unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultBlocklistLimit, maxBlocklistLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), listTimeout)
	defer cancel()

	entries, err := s.deps.Blocklist.ListBlockedDomains(ctx)
	if err != nil {
		s.logger.Error("list blocked domains failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list blocked domains")
		return
	}
	total := len(entries)
	start := min(offset, total)
	end := min(start+limit, total)
	page := entries[start:end]
	if page == nil {
		page = []outreach.BlockedDomain{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"domains": page, "total": total})
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}
