package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/MimeLyc/storyclip/internal/jobs"
	"github.com/MimeLyc/storyclip/pkg/log"
)

type enqueueJobRequest struct {
	SourceURL   string        `json:"source_url"`
	RequesterID *requesterID  `json:"requester_id"`
	Profile     *jobs.Profile `json:"profile"`
}

// requesterID accepts both JSON strings and numbers; chat ids arrive as numbers.
type requesterID string

func (r *requesterID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*r = requesterID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.New("requester_id must be a string or number")
	}
	*r = requesterID(n.String())
	return nil
}

func (req enqueueJobRequest) toEnqueue() jobs.EnqueueRequest {
	ret := jobs.EnqueueRequest{
		SourceURL: req.SourceURL,
		Profile:   req.Profile,
	}
	if req.RequesterID != nil {
		v := string(*req.RequesterID)
		ret.RequesterID = &v
	}
	return ret
}

type statusResponse struct {
	jobs.StatusView
	StageText string `json:"stage_text"`
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body enqueueJobRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req := body.toEnqueue()

	if !s.authorize(r.Context(), req.RequesterID) {
		writeError(w, http.StatusForbidden, "requester is not allowed to submit jobs")
		return
	}

	res, err := s.resolver.Resolve(r.Context(), req)
	if err != nil {
		var verr *jobs.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		log.Error("Failed to enqueue %s: %v", req.SourceURL, err)
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}
	s.metrics.RecordSubmission(res.Reused)

	code := http.StatusAccepted
	if res.Reused {
		code = http.StatusOK
	}
	writeJSON(w, code, res)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jobID := strings.TrimSpace(r.URL.Query().Get("job_id"))
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job_id is required")
		return
	}
	s.writeStatus(w, r, jobID)
}

func (s *Server) writeStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	view, ok := s.loadStatus(w, r, jobID)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// loadStatus writes the error response itself when it returns false.
func (s *Server) loadStatus(w http.ResponseWriter, r *http.Request, jobID string) (statusResponse, bool) {
	job, err := s.store.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return statusResponse{}, false
		}
		log.Error("Failed to load job %s: %v", jobID, err)
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return statusResponse{}, false
	}
	view := jobs.Project(job)
	return statusResponse{
		StatusView: view,
		StageText:  stageText(view.Stage, requestLanguage(r)),
	}, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
