package media

import (
	"context"
	"fmt"
	"strings"
)

// Downloader fetches the source video once per job.
type Downloader interface {
	Download(ctx context.Context, sourceURL string, dir string) (string, error)
	PrintDuration(ctx context.Context, sourceURL string) (float64, error)
}

// Transcoder cuts and re-encodes one time range of a downloaded file.
type Transcoder interface {
	Transcode(ctx context.Context, req TranscodeRequest, onProgress func(ProgressEvent)) error
	ProbeDuration(ctx context.Context, path string) (float64, error)
}

// Toolchain reports whether the external binaries are installed.
type Toolchain interface {
	Check() error
}

type TranscodeRequest struct {
	Input        string
	Output       string
	StartSec     float64
	DurationSec  float64
	Width        int
	Height       int
	FPS          int
	CRF          int
	Preset       string
	AudioBitrate string
}

// ToolError is a non-zero exit or start failure of an external tool. Output
// holds the tail of the tool's diagnostic stream.
type ToolError struct {
	Tool   string
	Output string
	Err    error
}

func (e *ToolError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("%s failed: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("%s failed: %v: %s", e.Tool, e.Err, out)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}
