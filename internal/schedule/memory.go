package schedule

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/polyclinic-scheduler/internal/timegrid"
)

type exceptionKey struct {
	doctor uuid.UUID
	date   timegrid.Date
}

// MemoryStore is an in-process Store for tests and local runs.
type MemoryStore struct {
	mu         sync.RWMutex
	doctors    map[uuid.UUID]Doctor
	rules      map[uuid.UUID][]WeeklyRule
	exceptions map[exceptionKey]DateException
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		doctors:    make(map[uuid.UUID]Doctor),
		rules:      make(map[uuid.UUID][]WeeklyRule),
		exceptions: make(map[exceptionKey]DateException),
	}
}

func (m *MemoryStore) CreateDoctor(_ context.Context, d Doctor) (Doctor, error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doctors[d.ID] = d
	return d, nil
}

func (m *MemoryStore) GetDoctor(_ context.Context, id uuid.UUID) (Doctor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.doctors[id]
	if !ok {
		return Doctor{}, ErrDoctorNotFound
	}
	return d, nil
}

func (m *MemoryStore) DoctorByUser(_ context.Context, userID uuid.UUID) (Doctor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.doctors {
		if d.UserID != nil && *d.UserID == userID {
			return d, nil
		}
	}
	return Doctor{}, ErrDoctorNotFound
}

func (m *MemoryStore) ListDoctors(_ context.Context) ([]Doctor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Doctor, 0, len(m.doctors))
	for _, d := range m.doctors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) UpdateDoctor(_ context.Context, d Doctor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.doctors[d.ID]
	if !ok {
		return ErrDoctorNotFound
	}
	existing.Name = d.Name
	existing.Specialization = d.Specialization
	m.doctors[d.ID] = existing
	return nil
}

func (m *MemoryStore) WeeklyRules(_ context.Context, doctorID uuid.UUID) ([]WeeklyRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]WeeklyRule(nil), m.rules[doctorID]...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DayOfWeek != out[j].DayOfWeek {
			return out[i].DayOfWeek < out[j].DayOfWeek
		}
		return out[i].Start < out[j].Start
	})
	return out, nil
}

func (m *MemoryStore) RulesForDay(ctx context.Context, doctorID uuid.UUID, weekday int) ([]WeeklyRule, error) {
	all, _ := m.WeeklyRules(ctx, doctorID)
	var out []WeeklyRule
	for _, r := range all {
		if r.DayOfWeek == weekday {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemoryStore) ReplaceWeeklyRules(_ context.Context, doctorID uuid.UUID, rules []WeeklyRule) ([]WeeklyRule, error) {
	prepared, err := prepareRules(doctorID, rules)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.doctors[doctorID]; !ok {
		return nil, ErrDoctorNotFound
	}
	m.rules[doctorID] = prepared
	return append([]WeeklyRule(nil), prepared...), nil
}

func (m *MemoryStore) DeleteWeeklyRule(_ context.Context, doctorID, ruleID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rules := m.rules[doctorID]
	for i, r := range rules {
		if r.ID == ruleID {
			m.rules[doctorID] = append(rules[:i:i], rules[i+1:]...)
			return nil
		}
	}
	return ErrRuleNotFound
}

func (m *MemoryStore) ExceptionOn(_ context.Context, doctorID uuid.UUID, date timegrid.Date) (DateException, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.exceptions[exceptionKey{doctorID, date}]
	if !ok {
		return DateException{}, ErrExceptionNotFound
	}
	return e, nil
}

func (m *MemoryStore) Exceptions(_ context.Context, doctorID uuid.UUID) ([]DateException, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []DateException
	for k, e := range m.exceptions {
		if k.doctor == doctorID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *MemoryStore) UpsertException(_ context.Context, in ExceptionInput) (DateException, error) {
	if err := in.validate(); err != nil {
		return DateException{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.doctors[in.DoctorID]; !ok {
		return DateException{}, ErrDoctorNotFound
	}
	key := exceptionKey{in.DoctorID, in.Date}
	var existing *DateException
	if e, ok := m.exceptions[key]; ok {
		existing = &e
	}
	merged, err := in.merge(existing)
	if err != nil {
		return DateException{}, err
	}
	if merged.ID == uuid.Nil {
		merged.ID = uuid.New()
	}
	m.exceptions[key] = merged
	return merged, nil
}

// DeleteDoctor drops the doctor with its rules and exceptions.
func (m *MemoryStore) DeleteDoctor(_ context.Context, doctorID uuid.UUID) (Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.doctors[doctorID]
	if !ok {
		return Doctor{}, ErrDoctorNotFound
	}
	delete(m.doctors, doctorID)
	delete(m.rules, doctorID)
	for k := range m.exceptions {
		if k.doctor == doctorID {
			delete(m.exceptions, k)
		}
	}
	return d, nil
}
