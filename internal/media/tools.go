package media

import (
	"fmt"
	"os/exec"
)

type DependencyReport struct {
	YtDlpFound   bool   `json:"yt_dlp_found"`
	YtDlpPath    string `json:"yt_dlp_path,omitempty"`
	FFmpegFound  bool   `json:"ffmpeg_found"`
	FFmpegPath   string `json:"ffmpeg_path,omitempty"`
	FFprobeFound bool   `json:"ffprobe_found"`
	FFprobePath  string `json:"ffprobe_path,omitempty"`
}

// Tools names the binaries looked up on PATH.
type Tools struct {
	YtDlp   string
	FFmpeg  string
	FFprobe string
}

func DefaultTools() Tools {
	return Tools{YtDlp: "yt-dlp", FFmpeg: "ffmpeg", FFprobe: "ffprobe"}
}

func (t Tools) Status() DependencyReport {
	report := DependencyReport{}
	if path, err := exec.LookPath(t.YtDlp); err == nil {
		report.YtDlpFound = true
		report.YtDlpPath = path
	}
	if path, err := exec.LookPath(t.FFmpeg); err == nil {
		report.FFmpegFound = true
		report.FFmpegPath = path
	}
	if path, err := exec.LookPath(t.FFprobe); err == nil {
		report.FFprobeFound = true
		report.FFprobePath = path
	}
	return report
}

func (t Tools) Check() error {
	report := t.Status()
	if !report.YtDlpFound {
		return fmt.Errorf("missing dependency: %s is not installed or not on PATH", t.YtDlp)
	}
	if !report.FFmpegFound {
		return fmt.Errorf("missing dependency: %s is not installed or not on PATH", t.FFmpeg)
	}
	return nil
}
