package httpapi

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/MimeLyc/storyclip/internal/jobs"
)

const (
	defaultPartsPageLimit = 50
	maxPartsPageLimit     = 500
)

type partsPageResponse struct {
	JobID  string         `json:"job_id"`
	Status jobs.Status    `json:"status"`
	Total  int            `json:"total"`
	Done   int            `json:"done"`
	Offset int            `json:"offset"`
	Limit  int            `json:"limit"`
	Parts  []jobs.Segment `json:"parts"`
}

// handleJobDetailRoutes serves /api/jobs/{id} and /api/jobs/{id}/parts.
func (s *Server) handleJobDetailRoutes(w http.ResponseWriter, r *http.Request) {
	jobID, action, ok := parseJobRoute(r.URL.Path)
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	switch action {
	case "":
		s.writeStatus(w, r, jobID)
	case "parts":
		s.handleJobParts(w, r, jobID)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func parseJobRoute(path string) (jobID string, action string, ok bool) {
	trimmed := strings.TrimPrefix(path, "/api/jobs/")
	trimmed = strings.Trim(trimmed, "/")
	if trimmed == "" {
		return "", "", false
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) > 2 {
		return "", "", false
	}
	rawID, err := url.PathUnescape(parts[0])
	if err != nil || strings.TrimSpace(rawID) == "" {
		return "", "", false
	}
	if len(parts) == 1 {
		return rawID, "", true
	}
	return rawID, parts[1], true
}

func (s *Server) handleJobParts(w http.ResponseWriter, r *http.Request, jobID string) {
	view, ok := s.loadStatus(w, r, jobID)
	if !ok {
		return
	}

	offset := parsePositiveIntWithDefault(r.URL.Query().Get("offset"), 0)
	limit := parsePositiveIntWithDefault(r.URL.Query().Get("limit"), defaultPartsPageLimit)
	if limit <= 0 {
		limit = defaultPartsPageLimit
	}
	if limit > maxPartsPageLimit {
		limit = maxPartsPageLimit
	}

	total := len(view.Parts)
	done := 0
	for _, p := range view.Parts {
		if p.Status == jobs.StatusDone {
			done++
		}
	}
	start := min(offset, total)
	end := min(start+limit, total)

	writeJSON(w, http.StatusOK, partsPageResponse{
		JobID:  view.JobID,
		Status: view.Status,
		Total:  total,
		Done:   done,
		Offset: offset,
		Limit:  limit,
		Parts:  view.Parts[start:end],
	})
}

func parsePositiveIntWithDefault(raw string, def int) int {
	if strings.TrimSpace(raw) == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}
