package slotload

import (
	"context"
	"sort"
	"sync"

	"github.com/wolfman30/polyclinic-scheduler/internal/timegrid"
)

type bucket struct {
	date timegrid.Date
	at   timegrid.Clock
}

// MemoryTracker is a mutex-guarded Tracker.
type MemoryTracker struct {
	mu    sync.Mutex
	loads map[bucket]SlotLoad
}

var _ Tracker = (*MemoryTracker)(nil)

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{loads: make(map[bucket]SlotLoad)}
}

func (m *MemoryTracker) Increment(_ context.Context, date timegrid.Date, at timegrid.Clock, maxCapacity int) (SlotLoad, error) {
	if maxCapacity < 1 {
		return SlotLoad{}, ErrInvalidCapacity
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := bucket{date, at}
	load, ok := m.loads[key]
	if !ok {
		load = SlotLoad{Date: date, Time: at, MaxCapacity: maxCapacity}
	}
	load.CurrentPatients++
	m.loads[key] = load
	return load, nil
}

func (m *MemoryTracker) Day(_ context.Context, date timegrid.Date) ([]SlotLoad, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SlotLoad
	for k, l := range m.loads {
		if k.date == date {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out, nil
}

// Seed sets a bucket directly. Used by tests and local fixtures.
func (m *MemoryTracker) Seed(date timegrid.Date, at timegrid.Clock, count, maxCapacity int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads[bucket{date, at}] = SlotLoad{Date: date, Time: at, CurrentPatients: count, MaxCapacity: maxCapacity}
}
