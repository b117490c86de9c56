package jobs

import "math"

const DefaultMaxSegmentSeconds = 60.0

// MaxPlannedSegments bounds the plan size. A duration that would need more
// segments is treated as unknown.
const MaxPlannedSegments = 10000

// PlanSegments splits [0, total) into consecutive segments no longer than
// maxLen. When the total is unknown, not positive or implausibly long a
// single segment of maxLen is planned so there is always one unit of work.
func PlanSegments(total float64, known bool, maxLen float64) []Segment {
	if maxLen <= 0 || math.IsNaN(maxLen) || math.IsInf(maxLen, 0) {
		maxLen = DefaultMaxSegmentSeconds
	}
	if !known || total <= 0 || math.IsNaN(total) || math.IsInf(total, 0) || total/maxLen > MaxPlannedSegments {
		return []Segment{{Index: 1, StartSec: 0, DurationSec: maxLen, Status: StatusQueued}}
	}

	count := int(math.Ceil(total / maxLen))
	parts := make([]Segment, 0, count)
	for i := 0; i < count; i++ {
		start := float64(i) * maxLen
		length := math.Min(maxLen, total-start)
		if length <= 0 {
			break
		}
		parts = append(parts, Segment{
			Index:       i + 1,
			StartSec:    start,
			DurationSec: length,
			Status:      StatusQueued,
		})
	}
	return parts
}
