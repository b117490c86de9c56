package media

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressScanner_EmitsOneEventPerBlock(t *testing.T) {
	stream := strings.Join([]string{
		"frame=30",
		"fps=29.97",
		"out_time_us=1000000",
		"out_time_ms=1000000",
		"out_time=00:00:01.000000",
		"speed=2.5x",
		"progress=continue",
		"frame=60",
		"out_time_us=N/A",
		"out_time=00:00:02.500000",
		"progress=continue",
		"frame=90",
		"out_time_us=3000000",
		"progress=end",
		"",
	}, "\n")

	ps := NewProgressScanner(strings.NewReader(stream))
	var events []ProgressEvent
	for ps.Scan() {
		events = append(events, ps.Event())
	}
	require.NoError(t, ps.Err())
	require.Len(t, events, 3)

	assert.Equal(t, int64(30), events[0].Frame)
	assert.Equal(t, time.Second, events[0].OutTime)
	assert.InDelta(t, 2.5, events[0].Speed, 0.001)
	assert.False(t, events[0].End)

	assert.Equal(t, 2500*time.Millisecond, events[1].OutTime)

	assert.Equal(t, 3*time.Second, events[2].OutTime)
	assert.True(t, events[2].End)
}

func TestProgressScanner_IgnoresNoise(t *testing.T) {
	ps := NewProgressScanner(strings.NewReader("garbage\r\nout_time_us=500\r\n\r\nprogress=end\r\n"))
	require.True(t, ps.Scan())
	assert.Equal(t, 500*time.Microsecond, ps.Event().OutTime)
	assert.True(t, ps.Event().End)
	assert.False(t, ps.Scan())
}

func TestParseClock(t *testing.T) {
	d, ok := parseClock("01:02:03.500000")
	require.True(t, ok)
	assert.Equal(t, time.Hour+2*time.Minute+3500*time.Millisecond, d)

	_, ok = parseClock("N/A")
	assert.False(t, ok)
}
