package timegrid

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// Date is a civil calendar date. It is comparable and safe as a map key.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// ParseDate accepts YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, s)
	}
	return DateOf(t), nil
}

// MustDate parses s and panics on error.
func MustDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// Time returns midnight UTC of the date, the form the stores persist.
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

func (d Date) IsZero() bool {
	return d == Date{}
}

func (d Date) String() string {
	return d.Time().Format(dateLayout)
}

// AddDays moves the date by n days, normalising month and year.
func (d Date) AddDays(n int) Date {
	return DateOf(d.Time().AddDate(0, 0, n))
}

func (d Date) Before(o Date) bool {
	return d.Time().Before(o.Time())
}

func (d Date) After(o Date) bool {
	return d.Time().After(o.Time())
}

// MarshalText renders the zero date as an empty string.
func (d Date) MarshalText() ([]byte, error) {
	if d.IsZero() {
		return []byte{}, nil
	}
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// WeekdayOf returns 0 for Monday through 6 for Sunday.
func WeekdayOf(d Date) int {
	return (int(d.Time().Weekday()) + 6) % 7
}

// Combine joins a date and clock into a wall-clock instant in loc.
func Combine(d Date, c Clock, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.Date(d.Year, d.Month, d.Day, c.Hour(), c.Minute(), c.Second(), 0, loc)
}
