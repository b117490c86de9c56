package pipeline

import (
	"time"

	"golang.org/x/time/rate"
)

// throttle lets at most one event through per interval, measured on the
// executor's clock.
type throttle struct {
	limiter *rate.Limiter
	now     func() time.Time
}

func newThrottle(interval time.Duration, now func() time.Time) *throttle {
	if now == nil {
		now = time.Now
	}
	return &throttle{
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		now:     now,
	}
}

func (t *throttle) Allow() bool {
	return t.limiter.AllowN(t.now(), 1)
}
