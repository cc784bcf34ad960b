// Package timeutil provides the monotonic microsecond clock shared by the
// motor transport, the mocap session and the control loop.
package timeutil

import "time"

var epoch = time.Now()

// NowUS returns the number of microseconds elapsed since an arbitrary
// process-relative epoch. It is backed by the runtime monotonic clock, so it
// is unaffected by wall-clock adjustments.
func NowUS() int64 {
	return time.Since(epoch).Microseconds()
}
