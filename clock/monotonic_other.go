//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd && !windows

package clock

import "time"

var processEpoch = time.Now()

// monotonicNs falls back to the Go runtime's monotonic reading, counted from
// process start.
func monotonicNs() int64 {
	return int64(time.Since(processEpoch))
}
