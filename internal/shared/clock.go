package shared

import "time"

// Clock abstracts wall-clock and monotonic time so schedulers and
// retry logic can be driven deterministically in tests.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

type systemClock struct{}

func (systemClock) Now() time.Time                  { return time.Now() }
func (systemClock) Since(t time.Time) time.Duration { return time.Since(t) }

// SystemClock returns the real clock.
func SystemClock() Clock {
	return systemClock{}
}
