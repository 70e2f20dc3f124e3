package clinicdata

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/wolfman30/polyclinic-scheduler/internal/bookings"
	"github.com/wolfman30/polyclinic-scheduler/internal/identity"
	"github.com/wolfman30/polyclinic-scheduler/internal/schedule"
)

// MemoryPurger performs the same removals over the in-memory stores.
type MemoryPurger struct {
	mu       sync.Mutex
	schedule *schedule.MemoryStore
	visits   *bookings.MemoryStore
	users    *identity.MemoryDirectory
}

func NewMemoryPurger(s *schedule.MemoryStore, v *bookings.MemoryStore, u *identity.MemoryDirectory) *MemoryPurger {
	return &MemoryPurger{schedule: s, visits: v, users: u}
}

func (p *MemoryPurger) PurgeDoctor(ctx context.Context, doctorID uuid.UUID) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, err := p.schedule.DeleteDoctor(ctx, doctorID)
	if err != nil {
		return 0, err
	}
	n := p.visits.DeleteForDoctor(doctorID)
	if d.UserID != nil {
		p.users.DeleteUser(*d.UserID)
	}
	return n, nil
}

func (p *MemoryPurger) ReassignStaff(ctx context.Context, staffID, adminID uuid.UUID) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, err := p.users.User(ctx, staffID)
	if err != nil {
		return 0, err
	}
	if u.Kind != identity.KindStaff {
		return 0, identity.ErrUserNotFound
	}
	n := p.visits.Reassign(staffID, adminID)
	p.users.DeleteUser(staffID)
	return n, nil
}
