package playback

import "time"

// Timer is a cancelable scheduled callback.
type Timer interface {
	// Stop cancels the timer. Stopping an already-fired timer is a no-op.
	Stop() bool
}

// Clock provides the scheduler's notion of time, relative to its own start.
type Clock interface {
	// Now returns the time elapsed since the clock started.
	Now() time.Duration

	// AfterFunc runs f after d has elapsed on this clock.
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct {
	start time.Time
}

func newRealClock() *realClock {
	return &realClock{start: time.Now()}
}

func (c *realClock) Now() time.Duration {
	return time.Since(c.start)
}

func (c *realClock) AfterFunc(d time.Duration, f func()) Timer {
	if d < 0 {
		d = 0
	}
	return time.AfterFunc(d, f)
}
