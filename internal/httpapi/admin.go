package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/MimeLyc/storyclip/internal/jobs"
	"github.com/MimeLyc/storyclip/pkg/file"
	"github.com/MimeLyc/storyclip/pkg/log"
)

type resetRequest struct {
	Owner *requesterID `json:"owner"`
}

type resetResponse struct {
	Owner        string `json:"owner"`
	DeletedJobs  int    `json:"deleted_jobs"`
	RemovedFiles int    `json:"removed_files"`
}

// handleAdminReset deletes every job of an owner and their output files.
// Executors still running a deleted job keep going; their writes are no-ops.
func (s *Server) handleAdminReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.adminToken == "" {
		writeError(w, http.StatusNotFound, "admin reset is disabled")
		return
	}
	if !bearerMatches(r.Header.Get("Authorization"), s.adminToken) {
		writeError(w, http.StatusUnauthorized, "invalid admin token")
		return
	}

	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	owner := ""
	if req.Owner != nil {
		owner = strings.TrimSpace(string(*req.Owner))
	}
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner is required")
		return
	}

	deleted, err := s.store.DeleteByOwner(r.Context(), owner)
	if err != nil {
		log.Error("Failed to reset jobs of %s: %v", owner, err)
		writeError(w, http.StatusInternalServerError, "failed to delete jobs")
		return
	}

	removed := 0
	for _, path := range s.outputFiles(deleted) {
		if err := os.Remove(path); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				log.Warn("Failed to remove output %s: %v", path, err)
			}
			continue
		}
		removed++
	}
	log.Info("Admin reset for %s: %d jobs, %d files", owner, len(deleted), removed)

	writeJSON(w, http.StatusOK, resetResponse{
		Owner:        owner,
		DeletedJobs:  len(deleted),
		RemovedFiles: removed,
	})
}

// outputFiles lists the distinct files inside outputDir referenced by jobs.
func (s *Server) outputFiles(deleted []*jobs.Job) []string {
	seen := make(map[string]bool)
	var ret []string
	add := func(stored string) {
		path, ok := file.ResolveInDir(s.outputDir, stored)
		if !ok || seen[path] {
			return
		}
		seen[path] = true
		ret = append(ret, path)
	}
	for _, job := range deleted {
		add(job.Metadata.Output)
		for _, part := range job.Metadata.Parts {
			add(part.Output)
		}
	}
	return ret
}

func bearerMatches(header, token string) bool {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	got := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1
}
