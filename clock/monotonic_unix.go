//go:build linux || darwin || freebsd || netbsd || openbsd

package clock

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// monotonicNs returns CLOCK_MONOTONIC in nanoseconds. On linux this is the
// same clock bpf_ktime_get_ns() reads.
func monotonicNs() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		panic(fmt.Sprintf("clock: reading CLOCK_MONOTONIC: %v", err))
	}
	return ts.Nano()
}
