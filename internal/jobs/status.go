package jobs

import "time"

// StatusView is the external status representation served to pollers.
type StatusView struct {
	JobID     string     `json:"job_id"`
	Status    Status     `json:"status"`
	Progress  int        `json:"progress"`
	Stage     Stage      `json:"stage"`
	Output    string     `json:"output,omitempty"`
	VideoID   string     `json:"video_id,omitempty"`
	Title     string     `json:"title,omitempty"`
	Parts     []Segment  `json:"parts"`
	Error     string     `json:"error,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// Project converts a stored job into its status view. A done job always
// reports 100, whatever the last throttled progress write left behind.
func Project(job *Job) StatusView {
	if job == nil {
		return StatusView{Parts: []Segment{}}
	}
	view := StatusView{
		JobID:     job.ID,
		Status:    job.Status,
		Progress:  clampPercent(job.ProgressPercent),
		Stage:     job.Stage,
		Output:    job.Metadata.Output,
		VideoID:   job.Metadata.VideoID,
		Title:     job.Metadata.Title,
		Parts:     CloneSegments(job.Metadata.Parts),
		StartedAt: job.StartedAt,
	}
	if view.Parts == nil {
		view.Parts = []Segment{}
	}
	switch job.Status {
	case StatusDone:
		view.Progress = 100
	case StatusFailed:
		view.Error = job.ErrorMessage
		if view.Progress >= 100 {
			view.Progress = 99
		}
	}
	return view
}

func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
