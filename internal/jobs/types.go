package jobs

import (
	"context"
	"time"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further writes are accepted for the job.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Reusable reports whether a job in this status may be handed back to a
// repeated submission instead of enqueuing new work.
func (s Status) Reusable() bool {
	return s == StatusQueued || s == StatusProcessing || s == StatusDone
}

// Stage is a human-facing sub-phase label. It never drives control flow.
type Stage string

const (
	StageQueued      Stage = "queued"
	StageStarting    Stage = "starting"
	StageDownloading Stage = "downloading"
	StageDownloaded  Stage = "downloaded"
	StageSegmenting  Stage = "segmenting"
	StageTranscoding Stage = "transcoding"
	StageFinalizing  Stage = "finalizing"
	StageRetrying    Stage = "retrying"
	StageDone        Stage = "done"
	StageFailed      Stage = "failed"
)

type Segment struct {
	Index       int     `json:"index"`
	StartSec    float64 `json:"start_sec"`
	DurationSec float64 `json:"duration_sec"`
	Status      Status  `json:"status"`
	Progress    int     `json:"progress"`
	Output      string  `json:"output,omitempty"`
}

// Profile controls the output geometry and encoding of every segment.
type Profile struct {
	Width        int    `json:"width"         yaml:"width"`
	Height       int    `json:"height"        yaml:"height"`
	FPS          int    `json:"fps"           yaml:"fps"`
	CRF          int    `json:"crf"           yaml:"crf"`
	Preset       string `json:"preset"        yaml:"preset"`
	AudioBitrate string `json:"audio_bitrate" yaml:"audio_bitrate"`
}

// Metadata is the structured bag persisted next to the job row.
type Metadata struct {
	Parts   []Segment `json:"parts,omitempty"`
	VideoID string    `json:"video_id,omitempty"`
	Output  string    `json:"output,omitempty"`
	Title   string    `json:"title,omitempty"`
	Profile *Profile  `json:"profile,omitempty"`
}

type Job struct {
	ID              string     `json:"id"`
	Owner           *string    `json:"owner,omitempty"`
	SourceURL       string     `json:"source_url"`
	Status          Status     `json:"status"`
	Stage           Stage      `json:"stage"`
	ProgressPercent int        `json:"progress_percent"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	Metadata        Metadata   `json:"metadata"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// DoneUpdate carries the optional metadata merged on completion. Empty
// fields leave the stored values alone.
type DoneUpdate struct {
	Output  string
	VideoID string
	Title   string
	Parts   []Segment
}

type EnqueueRequest struct {
	SourceURL   string   `json:"source_url"`
	RequesterID *string  `json:"requester_id,omitempty"`
	Profile     *Profile `json:"profile,omitempty"`
}

type Resolution struct {
	JobID    string `json:"job_id"`
	Status   Status `json:"status"`
	Reused   bool   `json:"reused"`
	Progress *int   `json:"progress,omitempty"`
	Stage    Stage  `json:"stage,omitempty"`
}

// Executor runs one attempt of a job inside the queue runtime.
type Executor func(ctx context.Context, job *Job) error

func cloneJob(job *Job) *Job {
	if job == nil {
		return nil
	}
	tmp := *job
	tmp.Metadata.Parts = CloneSegments(job.Metadata.Parts)
	if job.Metadata.Profile != nil {
		p := *job.Metadata.Profile
		tmp.Metadata.Profile = &p
	}
	return &tmp
}

func CloneSegments(parts []Segment) []Segment {
	if parts == nil {
		return nil
	}
	ret := make([]Segment, len(parts))
	copy(ret, parts)
	return ret
}
