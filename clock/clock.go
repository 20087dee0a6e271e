// Package clock reads the host monotonic clock in nanoseconds and measures
// elapsed time between readings in a chosen unit.
//
// Readings are only meaningful relative to other readings taken on the same
// machine since the same boot. They have no relation to wall-clock time.
package clock

import "time"

// Timestamp is a monotonic clock reading in nanoseconds since an arbitrary,
// platform-defined epoch.
type Timestamp int64

// Sub returns t-u in nanoseconds.
func (t Timestamp) Sub(u Timestamp) int64 {
	return int64(t) - int64(u)
}

// Now returns the current monotonic clock reading.
func Now() Timestamp {
	return Timestamp(monotonicNs())
}

// Since returns the nanoseconds elapsed since start. A start taken in the
// future yields a negative result.
func Since(start Timestamp) int64 {
	return Now().Sub(start)
}

// Clock holds a single captured reading. The zero value is usable and
// has Start == 0 until Tick is called.
//
// A Clock is not safe for concurrent Tick calls; callers sharing one
// across goroutines must synchronize.
type Clock struct {
	Start Timestamp `json:"start_time"`
}

// NewClock returns a Clock already ticked.
func NewClock() *Clock {
	c := &Clock{}
	c.Tick()
	return c
}

// Tick overwrites Start with the current reading. Tick on a nil Clock does
// nothing.
func (c *Clock) Tick() {
	if c == nil {
		return
	}
	c.Start = Now()
}

// Distance returns b.Start-a.Start converted to unit. The result is negative
// when b was ticked before a.
func Distance(a, b *Clock, unit Unit) (int64, error) {
	if a == nil || b == nil {
		return 0, ErrNilClock
	}
	return Convert(b.Start.Sub(a.Start), unit)
}

// DistanceFromNow returns the time elapsed since c.Start converted to unit.
func (c *Clock) DistanceFromNow(unit Unit) (int64, error) {
	if c == nil {
		return 0, ErrNilClock
	}
	return Convert(Since(c.Start), unit)
}

// Elapsed returns the time since c.Start as a time.Duration.
func (c *Clock) Elapsed() time.Duration {
	if c == nil {
		return 0
	}
	return time.Duration(Since(c.Start))
}
