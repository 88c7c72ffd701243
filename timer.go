package fog

import "time"

// Timer measures frame time in seconds.
type Timer struct {
	start time.Time
	now   func() time.Time
}

// NewTimer returns a running timer.
func NewTimer() *Timer {
	t := &Timer{now: time.Now}
	t.Restart()
	return t
}

// Restart resets the elapsed time to zero.
func (t *Timer) Restart() { t.start = t.now() }

// Elapsed returns the seconds since the last restart.
func (t *Timer) Elapsed() float32 {
	return float32(t.now().Sub(t.start).Seconds())
}

// Lap returns the elapsed seconds and restarts the timer.
func (t *Timer) Lap() float32 {
	now := t.now()
	dt := float32(now.Sub(t.start).Seconds())
	t.start = now
	return dt
}
