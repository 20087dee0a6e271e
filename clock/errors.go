package clock

import "errors"

var (
	// ErrInvalidUnit is returned when a Unit lies outside Nanoseconds..Days.
	ErrInvalidUnit = errors.New("clock: invalid time unit")
	// ErrNilClock is returned when a required Clock handle is nil.
	ErrNilClock = errors.New("clock: nil clock handle")
)
