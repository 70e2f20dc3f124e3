package bookings

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/polyclinic-scheduler/internal/timegrid"
)

// MemoryStore is the in-process Store.
type MemoryStore struct {
	mu     sync.RWMutex
	visits map[uuid.UUID]Visit
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{visits: make(map[uuid.UUID]Visit)}
}

func (m *MemoryStore) Insert(_ context.Context, v Visit) (Visit, error) {
	if err := v.validate(); err != nil {
		return Visit{}, err
	}
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.visits[v.ID] = v
	return v, nil
}

func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (Visit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.visits[id]
	if !ok {
		return Visit{}, ErrNotFound
	}
	return v, nil
}

func (m *MemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.visits[id]; !ok {
		return ErrNotFound
	}
	delete(m.visits, id)
	return nil
}

func (m *MemoryStore) OccupiedTimes(_ context.Context, doctorID uuid.UUID, date timegrid.Date) ([]timegrid.Clock, error) {
	visits := m.filter(func(v Visit) bool { return v.DoctorID == doctorID && v.Date == date })
	var out []timegrid.Clock
	for i, v := range visits {
		if i > 0 && visits[i-1].Time == v.Time {
			continue
		}
		out = append(out, v.Time)
	}
	return out, nil
}

func (m *MemoryStore) ListForDate(_ context.Context, date timegrid.Date, doctorID *uuid.UUID) ([]Visit, error) {
	return m.filter(func(v Visit) bool {
		return v.Date == date && (doctorID == nil || v.DoctorID == *doctorID)
	}), nil
}

func (m *MemoryStore) ListForDoctorFrom(_ context.Context, doctorID uuid.UUID, from timegrid.Date) ([]Visit, error) {
	return m.filter(func(v Visit) bool { return v.DoctorID == doctorID && !v.Date.Before(from) }), nil
}

func (m *MemoryStore) ListByCreator(_ context.Context, userID uuid.UUID) ([]Visit, error) {
	return m.filter(func(v Visit) bool { return v.CreatedBy != nil && *v.CreatedBy == userID }), nil
}

func (m *MemoryStore) ListBetween(_ context.Context, date timegrid.Date, from, to timegrid.Clock) ([]Visit, error) {
	return m.filter(func(v Visit) bool { return v.Date == date && timegrid.InRange(v.Time, from, to) }), nil
}

// DeleteForDoctor drops every visit with the doctor and reports how many.
func (m *MemoryStore) DeleteForDoctor(doctorID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, v := range m.visits {
		if v.DoctorID == doctorID {
			delete(m.visits, id)
			n++
		}
	}
	return n
}

// Reassign moves visits created by from over to to.
func (m *MemoryStore) Reassign(from, to uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, v := range m.visits {
		if v.CreatedBy != nil && *v.CreatedBy == from {
			newOwner := to
			v.CreatedBy = &newOwner
			m.visits[id] = v
			n++
		}
	}
	return n
}

func (m *MemoryStore) filter(keep func(Visit) bool) []Visit {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Visit
	for _, v := range m.visits {
		if keep(v) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date.Before(out[j].Date)
		}
		if out[i].Time != out[j].Time {
			return out[i].Time < out[j].Time
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
