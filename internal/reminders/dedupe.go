package reminders

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DedupeKey is the Redis key marking a visit as reminded.
func DedupeKey(visitID uuid.UUID) string {
	return "reminder:sent:" + visitID.String()
}

// Deduper records which visits were already reminded. Claim returns true
// only for the first caller per visit.
type Deduper interface {
	Claim(ctx context.Context, visitID uuid.UUID, ttl time.Duration) (bool, error)
}

// RedisDeduper claims through SETNX so several API replicas can sweep at once.
type RedisDeduper struct {
	client redis.Cmdable
}

func NewRedisDeduper(client redis.Cmdable) *RedisDeduper {
	if client == nil {
		panic("reminders: redis client cannot be nil")
	}
	return &RedisDeduper{client: client}
}

func (d *RedisDeduper) Claim(ctx context.Context, visitID uuid.UUID, ttl time.Duration) (bool, error) {
	ok, err := d.client.SetNX(ctx, DedupeKey(visitID), time.Now().UTC().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("reminders: claim %s: %w", visitID, err)
	}
	return ok, nil
}

// MemoryDeduper is the single-process Deduper.
type MemoryDeduper struct {
	mu      sync.Mutex
	claimed map[uuid.UUID]time.Time
	now     func() time.Time
}

func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{claimed: make(map[uuid.UUID]time.Time), now: time.Now}
}

func (d *MemoryDeduper) Claim(_ context.Context, visitID uuid.UUID, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	for id, until := range d.claimed {
		if !until.After(now) {
			delete(d.claimed, id)
		}
	}
	if _, ok := d.claimed[visitID]; ok {
		return false, nil
	}
	d.claimed[visitID] = now.Add(ttl)
	return true, nil
}
