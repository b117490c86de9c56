package media

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"
)

// ProgressEvent is one block of ffmpeg's "-progress" key=value output.
type ProgressEvent struct {
	Frame   int64
	OutTime time.Duration
	Speed   float64
	End     bool
}

// ProgressScanner turns a live "-progress" stream into typed events. A block
// is emitted when its terminating "progress=continue|end" line arrives.
//
//	ps := NewProgressScanner(stdout)
//	for ps.Scan() {
//		ev := ps.Event()
//	}
type ProgressScanner struct {
	sc      *bufio.Scanner
	pending ProgressEvent
	event   ProgressEvent
}

func NewProgressScanner(r io.Reader) *ProgressScanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 16*1024), 256*1024)
	sc.Split(splitByNewlineOrCR)
	return &ProgressScanner{sc: sc}
}

func (p *ProgressScanner) Scan() bool {
	for p.sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(p.sc.Text()), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "frame":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				p.pending.Frame = n
			}
		case "out_time_us", "out_time_ms":
			// both keys carry microseconds
			if n, err := strconv.ParseInt(value, 10, 64); err == nil && n >= 0 {
				p.pending.OutTime = time.Duration(n) * time.Microsecond
			}
		case "out_time":
			if d, ok := parseClock(value); ok && p.pending.OutTime == 0 {
				p.pending.OutTime = d
			}
		case "speed":
			if v, err := strconv.ParseFloat(strings.TrimSuffix(value, "x"), 64); err == nil {
				p.pending.Speed = v
			}
		case "progress":
			p.event = p.pending
			p.event.End = value == "end"
			p.pending = ProgressEvent{}
			return true
		}
	}
	return false
}

func (p *ProgressScanner) Event() ProgressEvent {
	return p.event
}

func (p *ProgressScanner) Err() error {
	return p.sc.Err()
}

// parseClock parses "HH:MM:SS.micro".
func parseClock(v string) (time.Duration, bool) {
	parts := strings.Split(v, ":")
	if len(parts) != 3 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 {
		return 0, false
	}
	s, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || s < 0 {
		return 0, false
	}
	total := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute
	return total + time.Duration(s*float64(time.Second)), true
}
