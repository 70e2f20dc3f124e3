// Package slotload keeps the historical demand counter per (date, time) bucket.
//
// The counter is clinic-wide, not per doctor, and only ever grows: a cancelled
// visit still counts as demand for that slot. There is deliberately no
// decrement operation.
package slotload

import (
	"context"
	"errors"

	"github.com/wolfman30/polyclinic-scheduler/internal/timegrid"
)

// ErrInvalidCapacity is returned when a slot is created with capacity below one.
var ErrInvalidCapacity = errors.New("slotload: max capacity must be at least 1")

// SlotLoad is one bucket of the demand counter.
type SlotLoad struct {
	Date            timegrid.Date  `json:"date"`
	Time            timegrid.Clock `json:"time"`
	CurrentPatients int            `json:"current_patients"`
	MaxCapacity     int            `json:"max_capacity"`
}

// HasRoom reports whether recorded demand is still below capacity.
func (s SlotLoad) HasRoom() bool {
	return s.CurrentPatients < s.MaxCapacity
}

// Tracker records demand. Increment must be atomic per bucket.
type Tracker interface {
	// Increment creates the bucket at 1 or adds one to it. maxCapacity only
	// applies when the bucket is created.
	Increment(ctx context.Context, date timegrid.Date, at timegrid.Clock, maxCapacity int) (SlotLoad, error)
	// Day returns the date's buckets ordered by time.
	Day(ctx context.Context, date timegrid.Date) ([]SlotLoad, error)
}

// WithRoom filters loads down to buckets still under capacity.
func WithRoom(loads []SlotLoad) []SlotLoad {
	out := make([]SlotLoad, 0, len(loads))
	for _, l := range loads {
		if l.HasRoom() {
			out = append(out, l)
		}
	}
	return out
}

// Suggestions returns the date's buckets that still have room.
func Suggestions(ctx context.Context, t Tracker, date timegrid.Date) ([]SlotLoad, error) {
	loads, err := t.Day(ctx, date)
	if err != nil {
		return nil, err
	}
	return WithRoom(loads), nil
}
