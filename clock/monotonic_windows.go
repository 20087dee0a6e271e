//go:build windows

package clock

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// monotonicNs derives nanoseconds from the performance counter. The division
// goes through float64, so readings carry a small rounding error that the
// unix path does not have.
func monotonicNs() int64 {
	var freq, counter int64
	if err := windows.QueryPerformanceFrequency(&freq); err != nil {
		panic(fmt.Sprintf("clock: QueryPerformanceFrequency: %v", err))
	}
	if err := windows.QueryPerformanceCounter(&counter); err != nil {
		panic(fmt.Sprintf("clock: QueryPerformanceCounter: %v", err))
	}
	return int64(float64(counter) / float64(freq) * 1e9)
}
