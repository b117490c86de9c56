package media

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/MimeLyc/storyclip/pkg/log"
)

const downloadBaseName = "input"

type YtDlp struct {
	cmd string
}

var _ Downloader = YtDlp{}

func NewYtDlp(cmd string) YtDlp {
	if cmd == "" {
		cmd = "yt-dlp"
	}
	return YtDlp{cmd: cmd}
}

// Download fetches the best single-file format of sourceURL into dir and
// returns the path of the downloaded file.
func (y YtDlp) Download(ctx context.Context, sourceURL string, dir string) (string, error) {
	if strings.TrimSpace(sourceURL) == "" {
		return "", fmt.Errorf("source URL is required")
	}
	if strings.TrimSpace(dir) == "" {
		return "", fmt.Errorf("output directory is required")
	}

	args := []string{
		"--no-playlist",
		"--newline",
		"--no-part",
		"-f", "best",
		"-o", filepath.Join(dir, downloadBaseName+".%(ext)s"),
		sourceURL,
	}
	log.Info("Running yt-dlp for %s", sourceURL)
	if _, diag, err := y.run(ctx, args); err != nil {
		return "", &ToolError{Tool: "yt-dlp", Output: diag, Err: err}
	}

	path, err := findDownloaded(dir)
	if err != nil {
		return "", &ToolError{Tool: "yt-dlp", Err: err}
	}
	return path, nil
}

// PrintDuration asks yt-dlp for metadata only and returns the duration in seconds.
func (y YtDlp) PrintDuration(ctx context.Context, sourceURL string) (float64, error) {
	args := []string{
		"--no-playlist",
		"--skip-download",
		"--no-warnings",
		"--print", "duration",
		sourceURL,
	}
	stdout, diag, err := y.run(ctx, args)
	if err != nil {
		return 0, &ToolError{Tool: "yt-dlp", Output: diag, Err: err}
	}
	d, ok := ParseDurationOutput(stdout)
	if !ok {
		return 0, fmt.Errorf("yt-dlp printed no duration")
	}
	return d, nil
}

// ParseDurationOutput returns the first non-blank numeric line of out.
func ParseDurationOutput(out string) (float64, bool) {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			continue
		}
		if v > 0 {
			return v, true
		}
		return 0, false
	}
	return 0, false
}

func findDownloaded(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, downloadBaseName+".*"))
	if err != nil {
		return "", err
	}
	for _, m := range matches {
		if strings.HasSuffix(m, ".part") || strings.HasSuffix(m, ".ytdl") {
			continue
		}
		info, err := os.Stat(m)
		if err != nil || info.IsDir() || info.Size() == 0 {
			continue
		}
		return m, nil
	}
	return "", fmt.Errorf("downloaded file not found in %s", dir)
}

// run executes yt-dlp and returns stdout plus the tail of stderr.
func (y YtDlp) run(ctx context.Context, args []string) (string, string, error) {
	cmdPath, err := exec.LookPath(y.cmd)
	if err != nil {
		return "", "", err
	}
	cmd := exec.CommandContext(ctx, cmdPath, args...)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return "", "", fmt.Errorf("setup stdout pipe: %w", err)
	}
	stderr := newLineTail(stderrTailLines)
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return "", "", fmt.Errorf("start yt-dlp: %w", err)
	}

	var outBuf strings.Builder
	scanner := bufio.NewScanner(stdoutPipe)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(splitByNewlineOrCR)
	for scanner.Scan() {
		line := scanner.Text()
		log.Debug("yt-dlp: %s", line)
		appendLimited(&outBuf, line)
	}
	_, _ = io.Copy(io.Discard, stdoutPipe)

	if err := cmd.Wait(); err != nil {
		return outBuf.String(), stderr.String(), err
	}
	return outBuf.String(), stderr.String(), nil
}

func appendLimited(b *strings.Builder, line string) {
	const maxKeep = 8192
	if b.Len() >= maxKeep {
		return
	}
	toWrite := line + "\n"
	if remain := maxKeep - b.Len(); len(toWrite) > remain {
		toWrite = toWrite[:remain]
	}
	b.WriteString(toWrite)
}
