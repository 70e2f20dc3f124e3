package bookings

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/wolfman30/polyclinic-scheduler/internal/timegrid"
)

type slotKey struct {
	date timegrid.Date
	at   timegrid.Clock
}

type slotLock struct {
	sem  *semaphore.Weighted
	refs int
}

// slotLocks serializes bookings per (date, time). Entries are dropped once
// nobody holds or waits on them.
type slotLocks struct {
	mu    sync.Mutex
	locks map[slotKey]*slotLock
}

func newSlotLocks() *slotLocks {
	return &slotLocks{locks: make(map[slotKey]*slotLock)}
}

// acquire blocks until the slot is free or ctx ends. The returned func releases it.
func (l *slotLocks) acquire(ctx context.Context, date timegrid.Date, at timegrid.Clock) (func(), error) {
	key := slotKey{date: date, at: at}

	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &slotLock{sem: semaphore.NewWeighted(1)}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	if err := entry.sem.Acquire(ctx, 1); err != nil {
		l.drop(key, entry)
		return nil, errors.Join(ErrConcurrencyConflict, err)
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			entry.sem.Release(1)
			l.drop(key, entry)
		})
	}, nil
}

func (l *slotLocks) drop(key slotKey, entry *slotLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, key)
	}
}

func (l *slotLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
