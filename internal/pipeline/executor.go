package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/MimeLyc/storyclip/internal/jobs"
	"github.com/MimeLyc/storyclip/internal/media"
	"github.com/MimeLyc/storyclip/internal/metrics"
	"github.com/MimeLyc/storyclip/internal/probe"
	"github.com/MimeLyc/storyclip/pkg/file"
	"github.com/MimeLyc/storyclip/pkg/log"
	"github.com/google/uuid"
)

const (
	progressDownloading = 5
	progressDownloaded  = 25
	progressSegmenting  = 30
	progressFinalizing  = 90
	transcodeSpan       = 60
	transcodeCeiling    = 95

	// OutputURLPrefix is the public path segment stored in front of output
	// file names.
	OutputURLPrefix = "outputs"
)

type Prober interface {
	Probe(ctx context.Context, sourceURL string) probe.Result
}

type Config struct {
	MaxSegmentSec    float64
	OutputDir        string
	ScratchRoot      string
	ProgressInterval time.Duration
	Profile          jobs.Profile
}

// Executor runs the download, plan and transcode pipeline for one job.
type Executor struct {
	store      jobs.Store
	downloader media.Downloader
	transcoder media.Transcoder
	toolchain  media.Toolchain
	prober     Prober
	cfg        Config
	metrics    *metrics.Metrics
	now        func() time.Time
	newName    func() string
}

type Option func(*Executor)

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) {
		e.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

func NewExecutor(
	store jobs.Store,
	downloader media.Downloader,
	transcoder media.Transcoder,
	toolchain media.Toolchain,
	prober Prober,
	cfg Config,
	opts ...Option,
) *Executor {
	if cfg.MaxSegmentSec <= 0 {
		cfg.MaxSegmentSec = jobs.DefaultMaxSegmentSeconds
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 500 * time.Millisecond
	}
	if cfg.Profile == (jobs.Profile{}) {
		cfg.Profile = jobs.DefaultProfile()
	}
	e := &Executor{
		store:      store,
		downloader: downloader,
		transcoder: transcoder,
		toolchain:  toolchain,
		prober:     prober,
		cfg:        cfg,
		now:        time.Now,
		newName:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one attempt of job. It matches the jobs.Executor signature.
func (e *Executor) Execute(ctx context.Context, job *jobs.Job) error {
	attempt := jobs.AttemptFrom(ctx)
	started := e.now()
	e.metrics.JobStarted()

	r := &jobRun{
		exec:       e,
		job:        job,
		progress:   newThrottle(e.cfg.ProgressInterval, e.now),
		segWrites:  newThrottle(e.cfg.ProgressInterval, e.now),
		lastReport: job.ProgressPercent,
	}

	log.Info("Job %s: attempt %d/%d for %s", job.ID, attempt.Number, attempt.Max, job.SourceURL)
	err := r.run(ctx)
	elapsed := e.now().Sub(started)
	if err == nil {
		e.metrics.JobFinished("done", elapsed)
		log.Info("Job %s: done in %s", job.ID, elapsed.Round(time.Millisecond))
		return nil
	}

	if ctx.Err() != nil {
		// Interrupted by shutdown. The row stays active for recovery.
		e.metrics.JobFinished("interrupted", elapsed)
		log.Warn("Job %s: interrupted: %v", job.ID, err)
		return err
	}

	writeCtx := context.WithoutCancel(ctx)
	if !attempt.Final() && IsRetryable(err) {
		e.metrics.JobFinished("retrying", elapsed)
		log.Warn("Job %s: attempt %d failed, will retry: %v", job.ID, attempt.Number, err)
		r.report(writeCtx, r.lastReport, jobs.StageRetrying)
		return err
	}

	e.metrics.JobFinished("failed", elapsed)
	log.Error("Job %s: failed: %v", job.ID, err)
	if markErr := e.store.MarkFailed(writeCtx, job.ID, err.Error()); markErr != nil {
		e.metrics.StoreError("mark_failed")
		log.Error("Job %s: failed to record failure: %v", job.ID, markErr)
	}
	return err
}

// jobRun is the mutable state of one attempt.
type jobRun struct {
	exec       *Executor
	job        *jobs.Job
	scratch    string
	parts      []jobs.Segment
	progress   *throttle
	segWrites  *throttle
	lastReport int
}

func (r *jobRun) run(ctx context.Context) error {
	e := r.exec
	job := r.job

	scratch, release, err := newScratchDir(e.cfg.ScratchRoot)
	if err != nil {
		return NewErrorWithCause(ErrUnknown, "scratch dir unavailable", err)
	}
	defer release()
	r.scratch = scratch

	r.report(ctx, 0, jobs.StageStarting)

	if err := e.toolchain.Check(); err != nil {
		return NewErrorWithCause(ErrPrecondition, "required tools are not installed", err)
	}

	r.removePreviousOutputs(ctx)

	res := e.prober.Probe(ctx, job.SourceURL)
	r.parts = jobs.PlanSegments(res.DurationSec, res.Known, e.cfg.MaxSegmentSec)
	r.persistSegments(ctx)
	log.Info("Job %s: planned %d segment(s), duration known=%t", job.ID, len(r.parts), res.Known)
	r.report(ctx, progressDownloading, jobs.StageDownloading)

	input, err := e.downloader.Download(ctx, job.SourceURL, scratch)
	if err != nil {
		return NewErrorWithCause(ErrDownload, "download failed", err)
	}
	r.report(ctx, progressDownloaded, jobs.StageDownloaded)

	if !res.Known {
		total, err := e.transcoder.ProbeDuration(ctx, input)
		switch {
		case err != nil:
			log.Warn("Job %s: container probe failed, keeping single segment: %v", job.ID, err)
		case total > 0:
			r.parts = jobs.PlanSegments(total, true, e.cfg.MaxSegmentSec)
			r.persistSegments(ctx)
			log.Info("Job %s: replanned %d segment(s) from %.3fs container duration", job.ID, len(r.parts), total)
		}
	}
	r.report(ctx, progressSegmenting, jobs.StageSegmenting)

	profile := e.cfg.Profile.Merge(job.Metadata.Profile)
	if err := profile.Validate(); err != nil {
		return NewErrorWithCause(ErrValidation, "invalid transcode profile", err)
	}
	if err := os.MkdirAll(e.cfg.OutputDir, 0o755); err != nil {
		return NewErrorWithCause(ErrPrecondition, "output dir unavailable", err)
	}

	for i := range r.parts {
		if err := r.transcodeSegment(ctx, i, input, profile); err != nil {
			return err
		}
	}

	r.report(ctx, progressFinalizing, jobs.StageFinalizing)
	done := jobs.DoneUpdate{
		Output:  r.parts[0].Output,
		VideoID: res.VideoID,
		Title:   res.Title,
		Parts:   jobs.CloneSegments(r.parts),
	}
	if err := e.store.MarkDone(ctx, job.ID, done); err != nil {
		e.metrics.StoreError("mark_done")
		log.Error("Job %s: failed to record completion: %v", job.ID, err)
	}
	return nil
}

func (r *jobRun) transcodeSegment(ctx context.Context, i int, input string, profile jobs.Profile) error {
	e := r.exec
	n := len(r.parts)
	seg := &r.parts[i]

	seg.Status = jobs.StatusProcessing
	seg.Progress = 0
	keepScratchAlive(r.scratch)
	r.persistSegments(ctx)
	r.report(ctx, OverallProgress(i, 0, n), jobs.StageTranscoding)

	name := e.newName() + ".mp4"
	req := media.TranscodeRequest{
		Input:        input,
		Output:       filepath.Join(e.cfg.OutputDir, name),
		StartSec:     seg.StartSec,
		DurationSec:  seg.DurationSec,
		Width:        profile.Width,
		Height:       profile.Height,
		FPS:          profile.FPS,
		CRF:          profile.CRF,
		Preset:       profile.Preset,
		AudioBitrate: profile.AudioBitrate,
	}

	started := e.now()
	err := e.transcoder.Transcode(ctx, req, func(ev media.ProgressEvent) {
		segProgress := SegmentProgress(ev.OutTime, seg.DurationSec)
		if segProgress > seg.Progress {
			seg.Progress = segProgress
		}
		if r.progress.Allow() {
			r.report(ctx, OverallProgress(i, seg.Progress, n), jobs.StageTranscoding)
		}
		if r.segWrites.Allow() {
			keepScratchAlive(r.scratch)
			r.persistSegments(ctx)
		}
	})
	if err != nil {
		e.metrics.SegmentFinished(false, e.now().Sub(started))
		seg.Status = jobs.StatusFailed
		r.persistSegments(context.WithoutCancel(ctx))
		if rmErr := os.Remove(req.Output); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			log.Warn("Job %s: failed to remove partial output %s: %v", r.job.ID, req.Output, rmErr)
		}
		return NewErrorWithCause(ErrTranscode, fmt.Sprintf("segment %d/%d transcode failed", seg.Index, n), err).
			WithContext("start_sec", seg.StartSec)
	}

	e.metrics.SegmentFinished(true, e.now().Sub(started))
	seg.Status = jobs.StatusDone
	seg.Progress = 100
	seg.Output = path.Join(OutputURLPrefix, name)
	r.persistSegments(ctx)
	r.report(ctx, OverallProgress(i+1, 0, n), jobs.StageTranscoding)
	log.Info("Job %s: segment %d/%d done -> %s", r.job.ID, seg.Index, n, seg.Output)
	return nil
}

// removePreviousOutputs deletes segment files written by an earlier attempt
// of the job. The new plan replaces the stored segment list, so nothing would
// reference them afterwards.
func (r *jobRun) removePreviousOutputs(ctx context.Context) {
	prev, err := r.exec.store.Get(ctx, r.job.ID)
	if err != nil || prev == nil {
		prev = r.job
	}
	stored := []string{prev.Metadata.Output}
	for _, part := range prev.Metadata.Parts {
		stored = append(stored, part.Output)
	}

	seen := make(map[string]bool)
	for _, s := range stored {
		p, ok := file.ResolveInDir(r.exec.cfg.OutputDir, s)
		if !ok || seen[p] {
			continue
		}
		seen[p] = true
		if err := os.Remove(p); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				log.Warn("Job %s: failed to remove previous output %s: %v", r.job.ID, p, err)
			}
			continue
		}
		log.Info("Job %s: removed output of previous attempt %s", r.job.ID, p)
	}
}

// report writes job progress. Store failures are logged and never abort the run.
func (r *jobRun) report(ctx context.Context, percent int, stage jobs.Stage) {
	if percent > r.lastReport {
		r.lastReport = percent
	}
	if err := r.exec.store.UpdateProgress(ctx, r.job.ID, percent, stage); err != nil {
		r.exec.metrics.StoreError("progress")
		log.Error("Job %s: failed to update progress: %v", r.job.ID, err)
	}
}

func (r *jobRun) persistSegments(ctx context.Context) {
	if err := r.exec.store.UpdateSegments(ctx, r.job.ID, jobs.CloneSegments(r.parts)); err != nil {
		r.exec.metrics.StoreError("segments")
		log.Error("Job %s: failed to update segments: %v", r.job.ID, err)
	}
}

// SegmentProgress converts the transcoder's elapsed output time into a
// 0..100 share of the segment.
func SegmentProgress(elapsed time.Duration, segmentSec float64) int {
	if segmentSec <= 0 {
		return 0
	}
	ratio := elapsed.Seconds() / segmentSec
	ratio = math.Max(0, math.Min(1, ratio))
	return int(math.Floor(ratio * 100))
}

// OverallProgress maps segment i (0-based) at segProgress percent out of n
// segments into the transcoding band [30, 95].
func OverallProgress(i int, segProgress int, n int) int {
	if n <= 0 {
		return progressSegmenting
	}
	share := (float64(i) + float64(segProgress)/100) / float64(n)
	v := progressSegmenting + int(math.Floor(share*transcodeSpan))
	if v < progressSegmenting {
		return progressSegmenting
	}
	if v > transcodeCeiling {
		return transcodeCeiling
	}
	return v
}
