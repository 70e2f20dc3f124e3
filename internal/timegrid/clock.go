// Package timegrid holds the pure date and time-of-day helpers used across the scheduler.
// Everything is clinic-local wall clock; no time zone math happens here.
package timegrid

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidTimeFormat is returned for malformed date or clock strings.
var ErrInvalidTimeFormat = errors.New("timegrid: invalid time format")

// DefaultStep is the slot grid spacing.
const DefaultStep = 30 * time.Minute

const secondsPerDay = 24 * 60 * 60

// Clock is a time of day in seconds since midnight.
type Clock int

// NewClock builds a clock value from its parts.
func NewClock(hour, minute, second int) Clock {
	return Clock(hour*3600 + minute*60 + second)
}

// MustClock parses s and panics on error. Meant for constants and tests.
func MustClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

// ParseClock accepts "HH:MM" or "HH:MM:SS".
func ParseClock(s string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, s)
	}
	limits := []int{23, 59, 59}
	vals := make([]int, 3)
	for i, p := range parts {
		if len(p) != 2 || !isDigit(p[0]) || !isDigit(p[1]) {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, s)
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > limits[i] {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, s)
		}
		vals[i] = n
	}
	return NewClock(vals[0], vals[1], vals[2]), nil
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// ClockOf extracts the wall-clock time of day from t.
func ClockOf(t time.Time) Clock {
	return NewClock(t.Hour(), t.Minute(), t.Second())
}

func (c Clock) Hour() int   { return int(c) / 3600 }
func (c Clock) Minute() int { return int(c) % 3600 / 60 }
func (c Clock) Second() int { return int(c) % 60 }

// Duration returns the offset from midnight.
func (c Clock) Duration() time.Duration {
	return time.Duration(c) * time.Second
}

// Add shifts the clock by d. The result is not wrapped past midnight.
func (c Clock) Add(d time.Duration) Clock {
	return c + Clock(d/time.Second)
}

// Valid reports whether c falls inside a single day.
func (c Clock) Valid() bool {
	return c >= 0 && c < secondsPerDay
}

// String renders HH:MM, or HH:MM:SS when seconds are set.
func (c Clock) String() string {
	if c.Second() != 0 {
		return c.Long()
	}
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

// Long always renders HH:MM:SS.
func (c Clock) Long() string {
	return fmt.Sprintf("%02d:%02d:%02d", c.Hour(), c.Minute(), c.Second())
}

func (c Clock) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Clock) UnmarshalText(b []byte) error {
	parsed, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// InRange reports whether start <= t <= end.
func InRange(t, start, end Clock) bool {
	return t >= start && t <= end
}

// GenerateSlots walks from start to end inclusive in step increments.
// A non-positive step uses DefaultStep.
func GenerateSlots(start, end Clock, step time.Duration) []Clock {
	if step <= 0 {
		step = DefaultStep
	}
	if end < start {
		return nil
	}
	inc := Clock(step / time.Second)
	if inc <= 0 {
		inc = Clock(DefaultStep / time.Second)
	}
	slots := make([]Clock, 0, int(end-start)/int(inc)+1)
	for c := start; c <= end; c += inc {
		slots = append(slots, c)
	}
	return slots
}
