package qvmc

import "time"

// skipThrottler allows an event at most once per interval and drops the rest.
type skipThrottler struct {
	d    time.Duration
	last time.Time
}

func newSkipThrottler(d time.Duration) *skipThrottler {
	return &skipThrottler{d: d}
}

func (tt *skipThrottler) ok() bool {
	if tt.d <= 0 {
		return false
	}
	now := time.Now()
	if now.Before(tt.last.Add(tt.d)) {
		return false
	}
	tt.last = now
	return true
}
