package media

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/MimeLyc/storyclip/pkg/log"
)

const stderrTailLines = 20

type Ffmpeg struct {
	ffmpegCmd  string
	ffprobeCmd string
}

var _ Transcoder = Ffmpeg{}

func NewFfmpeg(ffmpegCmd, ffprobeCmd string) Ffmpeg {
	if ffmpegCmd == "" {
		ffmpegCmd = "ffmpeg"
	}
	if ffprobeCmd == "" {
		ffprobeCmd = "ffprobe"
	}
	return Ffmpeg{
		ffmpegCmd:  ffmpegCmd,
		ffprobeCmd: ffprobeCmd,
	}
}

// Transcode encodes one time range of req.Input into a vertical story clip,
// reporting progress blocks to onProgress as ffmpeg emits them.
func (ff Ffmpeg) Transcode(ctx context.Context, req TranscodeRequest, onProgress func(ProgressEvent)) error {
	cmdPath, err := exec.LookPath(ff.ffmpegCmd)
	if err != nil {
		return &ToolError{Tool: "ffmpeg", Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(req.Output), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	cmd := exec.CommandContext(ctx, cmdPath, ff.transcodeArgs(req)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("setup stdout pipe: %w", err)
	}
	stderr := newLineTail(stderrTailLines)
	cmd.Stderr = stderr

	log.Debug("Running ffmpeg %v", cmd.Args)
	if err := cmd.Start(); err != nil {
		return &ToolError{Tool: "ffmpeg", Err: err}
	}

	ps := NewProgressScanner(stdout)
	for ps.Scan() {
		if onProgress != nil {
			onProgress(ps.Event())
		}
	}
	if err := ps.Err(); err != nil {
		log.Warn("Reading ffmpeg progress: %v", err)
	}
	// drain so ffmpeg never blocks on a full pipe
	_, _ = io.Copy(io.Discard, stdout)

	if err := cmd.Wait(); err != nil {
		return &ToolError{Tool: "ffmpeg", Output: stderr.String(), Err: err}
	}
	if _, err := os.Stat(req.Output); err != nil {
		return &ToolError{Tool: "ffmpeg", Output: stderr.String(), Err: fmt.Errorf("output not produced: %w", err)}
	}
	return nil
}

func (ff Ffmpeg) transcodeArgs(req TranscodeRequest) []string {
	w, h := req.Width, req.Height
	vf := fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,format=yuv420p",
		w, h, w, h,
	)
	return []string{
		"-hide_banner",
		"-nostats",
		"-y",
		"-ss", formatSeconds(req.StartSec),
		"-i", req.Input,
		"-t", formatSeconds(req.DurationSec),
		"-vf", vf,
		"-r", strconv.Itoa(req.FPS),
		"-c:v", "libx264",
		"-profile:v", "baseline",
		"-level", "3.1",
		"-preset", req.Preset,
		"-crf", strconv.Itoa(req.CRF),
		"-movflags", "+faststart",
		"-c:a", "aac",
		"-b:a", req.AudioBitrate,
		"-progress", "pipe:1",
		req.Output,
	}
}

// ProbeDuration reads the container duration of a local file.
func (ff Ffmpeg) ProbeDuration(ctx context.Context, path string) (float64, error) {
	cmdPath, err := exec.LookPath(ff.ffprobeCmd)
	if err != nil {
		return 0, err
	}
	cmd := exec.CommandContext(ctx, cmdPath, ff.readProbeArgs(path)...)
	stderr := newLineTail(stderrTailLines)
	cmd.Stderr = stderr

	output, err := cmd.Output()
	if err != nil {
		return 0, &ToolError{Tool: "ffprobe", Output: stderr.String(), Err: err}
	}
	return parseProbeDuration(output)
}

func (Ffmpeg) readProbeArgs(path string) []string {
	return []string{
		"-v", "error",
		"-print_format", "json",
		"-show_entries", "format=duration",
		path,
	}
}

type probeResult struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func parseProbeDuration(output []byte) (float64, error) {
	var result probeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return 0, fmt.Errorf("parse ffprobe output: %w", err)
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(result.Format.Duration), 64)
	if err != nil {
		return 0, fmt.Errorf("parse ffprobe duration %q: %w", result.Format.Duration, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("non-positive duration %v", d)
	}
	return d, nil
}

func formatSeconds(v float64) string {
	if v < 0 {
		v = 0
	}
	return strconv.FormatFloat(v, 'f', 3, 64)
}
