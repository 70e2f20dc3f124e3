package timegrid

import "time"

// Interval is a closed time-of-day window.
type Interval struct {
	Start Clock
	End   Clock
}

func (iv Interval) Contains(t Clock) bool {
	return InRange(t, iv.Start, iv.End)
}

// Overlaps reports whether the two closed windows share at least one instant.
func (iv Interval) Overlaps(o Interval) bool {
	return iv.Start <= o.End && o.Start <= iv.End
}

// Slots returns the grid points inside the window.
func (iv Interval) Slots(step time.Duration) []Clock {
	return GenerateSlots(iv.Start, iv.End, step)
}
