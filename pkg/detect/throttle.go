package detect

import "time"

// ThrottleWindow rate-limits fallback calls: at most one per
// minInterval. The window does not reset on primary success, so a noisy
// primary cannot starve the fallback cadence.
type ThrottleWindow struct {
	now         func() time.Time
	minInterval time.Duration
	last        time.Time
}

func NewThrottleWindow(minInterval time.Duration, now func() time.Time) *ThrottleWindow {
	return &ThrottleWindow{now: now, minInterval: minInterval}
}

// Allow reports whether a call may proceed now.
func (w *ThrottleWindow) Allow() bool {
	if w.last.IsZero() {
		return true
	}
	return w.now().Sub(w.last) >= w.minInterval
}

// Mark records a call attempt. Marked on every attempt, success or
// failure, so a failing fallback cannot be hammered.
func (w *ThrottleWindow) Mark() {
	w.last = w.now()
}
