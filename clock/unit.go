package clock

import (
	"fmt"
	"strings"
	"time"
)

// Unit selects the unit a nanosecond duration is converted to.
type Unit uint8

const (
	Nanoseconds Unit = iota
	Microseconds
	Milliseconds
	Seconds
	Minutes
	Hours
	Days
)

var unitFactors = [...]int64{
	Nanoseconds:  1,
	Microseconds: 1_000,
	Milliseconds: 1_000_000,
	Seconds:      1_000_000_000,
	Minutes:      60_000_000_000,
	Hours:        3_600_000_000_000,
	Days:         86_400_000_000_000,
}

var unitNames = [...]string{
	Nanoseconds:  "ns",
	Microseconds: "us",
	Milliseconds: "ms",
	Seconds:      "s",
	Minutes:      "m",
	Hours:        "h",
	Days:         "d",
}

var unitAliases = map[string]Unit{
	"ns": Nanoseconds, "nano": Nanoseconds, "nanos": Nanoseconds, "nanosecond": Nanoseconds, "nanoseconds": Nanoseconds,
	"us": Microseconds, "µs": Microseconds, "micro": Microseconds, "micros": Microseconds, "microsecond": Microseconds, "microseconds": Microseconds,
	"ms": Milliseconds, "milli": Milliseconds, "millis": Milliseconds, "millisecond": Milliseconds, "milliseconds": Milliseconds,
	"s": Seconds, "sec": Seconds, "secs": Seconds, "second": Seconds, "seconds": Seconds,
	"m": Minutes, "min": Minutes, "mins": Minutes, "minute": Minutes, "minutes": Minutes,
	"h": Hours, "hr": Hours, "hrs": Hours, "hour": Hours, "hours": Hours,
	"d": Days, "day": Days, "days": Days,
}

// Valid reports whether u is one of the defined units.
func (u Unit) Valid() bool {
	return u <= Days
}

// Factor returns the number of nanoseconds in one u, or 0 for an invalid
// unit.
func (u Unit) Factor() int64 {
	if !u.Valid() {
		return 0
	}
	return unitFactors[u]
}

// Duration returns one u as a time.Duration.
func (u Unit) Duration() time.Duration {
	return time.Duration(u.Factor())
}

func (u Unit) String() string {
	if !u.Valid() {
		return fmt.Sprintf("unit(%d)", uint8(u))
	}
	return unitNames[u]
}

// ParseUnit maps a short or long unit name ("ms", "millis",
// "milliseconds", ...) to a Unit. Matching ignores case and surrounding
// space.
func ParseUnit(s string) (Unit, error) {
	u, ok := unitAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidUnit, s)
	}
	return u, nil
}

// Convert divides nanos by the factor of unit, truncating toward zero.
func Convert(nanos int64, unit Unit) (int64, error) {
	if !unit.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidUnit, uint8(unit))
	}
	return nanos / unitFactors[unit], nil
}

// NanosToUnit is Convert with -1 in place of the error. The sentinel is
// indistinguishable from a legitimate -1 result, so prefer Convert.
func NanosToUnit(nanos int64, unit Unit) int64 {
	v, err := Convert(nanos, unit)
	if err != nil {
		return -1
	}
	return v
}

// MarshalText implements encoding.TextMarshaler.
func (u Unit) MarshalText() ([]byte, error) {
	if !u.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidUnit, uint8(u))
	}
	return []byte(unitNames[u]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (u *Unit) UnmarshalText(text []byte) error {
	v, err := ParseUnit(string(text))
	if err != nil {
		return err
	}
	*u = v
	return nil
}
