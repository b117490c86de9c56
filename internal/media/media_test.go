package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not supported on windows")
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestParseDurationOutput(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   float64
		ok     bool
	}{
		{name: "plain", output: "125\n", want: 125, ok: true},
		{name: "fractional after blanks", output: "\n\n  212.5 \n", want: 212.5, ok: true},
		{name: "skips non numeric", output: "WARNING: x\n90\n", want: 90, ok: true},
		{name: "NA", output: "NA\n", ok: false},
		{name: "zero", output: "0\n", ok: false},
		{name: "empty", output: "", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseDurationOutput(tt.output)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.want, got, 0.0001)
			}
		})
	}
}

func TestParseProbeDuration(t *testing.T) {
	d, err := parseProbeDuration([]byte(`{"format":{"duration":"125.040000"}}`))
	require.NoError(t, err)
	assert.InDelta(t, 125.04, d, 0.0001)

	_, err = parseProbeDuration([]byte(`{"format":{}}`))
	assert.Error(t, err)
	_, err = parseProbeDuration([]byte(`not json`))
	assert.Error(t, err)
}

func TestLineTail_KeepsLastLines(t *testing.T) {
	tail := newLineTail(2)
	_, _ = tail.Write([]byte("one\ntwo\nthr"))
	_, _ = tail.Write([]byte("ee\nfour"))
	assert.Equal(t, "three\nfour", tail.String())
}

func TestFfmpeg_TranscodeArgs(t *testing.T) {
	args := NewFfmpeg("", "").transcodeArgs(TranscodeRequest{
		Input:        "/tmp/in.mp4",
		Output:       "/tmp/out.mp4",
		StartSec:     60,
		DurationSec:  5,
		Width:        720,
		Height:       1280,
		FPS:          30,
		CRF:          28,
		Preset:       "fast",
		AudioBitrate: "96k",
	})
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-ss 60.000 -i /tmp/in.mp4 -t 5.000")
	assert.Contains(t, joined, "scale=720:1280:force_original_aspect_ratio=decrease,pad=720:1280:(ow-iw)/2:(oh-ih)/2")
	assert.Contains(t, joined, "-r 30")
	assert.Contains(t, joined, "-progress pipe:1")
	assert.Equal(t, "/tmp/out.mp4", args[len(args)-1])
}

func TestFfmpeg_TranscodeStreamsProgress(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out", "clip.mp4")
	script := writeScript(t, dir, "ffmpeg", `
for last; do :; done
echo "out_time_us=1000000"
echo "progress=continue"
echo "out_time_us=2000000"
echo "progress=end"
echo "encoder noise" 1>&2
touch "$last"
exit 0
`)

	var events []ProgressEvent
	err := NewFfmpeg(script, "").Transcode(context.Background(), TranscodeRequest{
		Input: "in.mp4", Output: out, DurationSec: 2, Width: 720, Height: 1280, FPS: 30, CRF: 28, Preset: "fast", AudioBitrate: "96k",
	}, func(ev ProgressEvent) {
		events = append(events, ev)
	})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.True(t, events[1].End)
	assert.FileExists(t, out)
}

func TestFfmpeg_TranscodeFailureCarriesDiagnostics(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "ffmpeg", `
echo "Invalid data found when processing input" 1>&2
exit 1
`)

	err := NewFfmpeg(script, "").Transcode(context.Background(), TranscodeRequest{
		Input: "in.mp4", Output: filepath.Join(dir, "o.mp4"), Width: 720, Height: 1280, FPS: 30, Preset: "fast", AudioBitrate: "96k",
	}, nil)
	require.Error(t, err)
	var toolErr *ToolError
	require.True(t, errors.As(err, &toolErr))
	assert.Equal(t, "ffmpeg", toolErr.Tool)
	assert.Contains(t, toolErr.Output, "Invalid data found")
}

func TestFfmpeg_ProbeDuration(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "ffprobe", `echo '{"format":{"duration":"42.5"}}'`)

	d, err := NewFfmpeg("", script).ProbeDuration(context.Background(), "/tmp/x.mp4")
	require.NoError(t, err)
	assert.InDelta(t, 42.5, d, 0.0001)
}

func TestYtDlp_PrintDuration(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "yt-dlp", "printf '\\n125\\n'\n")

	d, err := NewYtDlp(script).PrintDuration(context.Background(), "https://youtu.be/abc")
	require.NoError(t, err)
	assert.InDelta(t, 125, d, 0.0001)
}

func TestYtDlp_DownloadFindsFile(t *testing.T) {
	dir := t.TempDir()
	work := filepath.Join(dir, "work")
	require.NoError(t, os.MkdirAll(work, 0o755))
	script := writeScript(t, dir, "yt-dlp", `
out=""
while [ $# -gt 0 ]; do
  if [ "$1" = "-o" ]; then out="$2"; fi
  shift
done
dest=$(echo "$out" | sed 's/%(ext)s/mp4/')
echo "data" > "$dest"
`)

	path, err := NewYtDlp(script).Download(context.Background(), "https://youtu.be/abc", work)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(work, "input.mp4"), path)
}

func TestYtDlp_DownloadFailure(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "yt-dlp", `
echo "ERROR: Video unavailable" 1>&2
exit 1
`)

	_, err := NewYtDlp(script).Download(context.Background(), "https://youtu.be/abc", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Video unavailable")
}

func TestTools_CheckMissing(t *testing.T) {
	tools := Tools{YtDlp: "definitely-missing-yt-dlp", FFmpeg: "definitely-missing-ffmpeg", FFprobe: "nope"}
	err := tools.Check()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "definitely-missing-yt-dlp")
	assert.False(t, tools.Status().FFmpegFound)
}
