package httpapi

import (
	"net/http"
	"time"

	"github.com/MimeLyc/storyclip/internal/media"
	"github.com/MimeLyc/storyclip/pkg/icron"
)

type healthResponse struct {
	OK           bool                    `json:"ok"`
	Tools        *media.DependencyReport `json:"tools,omitempty"`
	ScratchSweep *sweepInfo              `json:"scratch_sweep,omitempty"`
}

type sweepInfo struct {
	Expression string    `json:"expression"`
	Next       time.Time `json:"next"`
	Last       time.Time `json:"last,omitzero"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	resp := healthResponse{OK: true}
	if s.tools != nil {
		report := s.tools.Status()
		resp.Tools = &report
		resp.OK = report.YtDlpFound && report.FFmpegFound
	}
	if s.sweepCron != "" {
		if info, err := icron.GetTriggerInfo(s.sweepCron, s.now()); err == nil {
			resp.ScratchSweep = &sweepInfo{
				Expression: info.Expression,
				Next:       info.Next,
				Last:       info.Last,
			}
		}
	}

	code := http.StatusOK
	if !resp.OK {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}
