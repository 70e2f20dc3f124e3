package slotload

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/polyclinic-scheduler/internal/timegrid"
)

// RedisTracker keeps one hash of counts and one of capacities per date.
// HINCRBY is atomic, so no extra locking is needed.
type RedisTracker struct {
	client    redis.Cmdable
	keyPrefix string
	ttl       time.Duration
}

var _ Tracker = (*RedisTracker)(nil)

// NewRedisTracker builds a tracker. ttl bounds how long a day's counters live; zero keeps them.
func NewRedisTracker(client redis.Cmdable, ttl time.Duration) *RedisTracker {
	if client == nil {
		panic("slotload: redis client required")
	}
	return &RedisTracker{client: client, keyPrefix: "slotload", ttl: ttl}
}

func (r *RedisTracker) countKey(date timegrid.Date) string {
	return fmt.Sprintf("%s:%s:count", r.keyPrefix, date)
}

func (r *RedisTracker) capKey(date timegrid.Date) string {
	return fmt.Sprintf("%s:%s:cap", r.keyPrefix, date)
}

func (r *RedisTracker) Increment(ctx context.Context, date timegrid.Date, at timegrid.Clock, maxCapacity int) (SlotLoad, error) {
	if maxCapacity < 1 {
		return SlotLoad{}, ErrInvalidCapacity
	}
	field := at.Long()
	pipe := r.client.TxPipeline()
	pipe.HSetNX(ctx, r.capKey(date), field, maxCapacity)
	incr := pipe.HIncrBy(ctx, r.countKey(date), field, 1)
	capCmd := pipe.HGet(ctx, r.capKey(date), field)
	if r.ttl > 0 {
		pipe.Expire(ctx, r.countKey(date), r.ttl)
		pipe.Expire(ctx, r.capKey(date), r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return SlotLoad{}, fmt.Errorf("slotload: redis increment: %w", err)
	}
	capacity, err := capCmd.Int()
	if err != nil {
		return SlotLoad{}, fmt.Errorf("slotload: redis capacity: %w", err)
	}
	return SlotLoad{Date: date, Time: at, CurrentPatients: int(incr.Val()), MaxCapacity: capacity}, nil
}

func (r *RedisTracker) Day(ctx context.Context, date timegrid.Date) ([]SlotLoad, error) {
	counts, err := r.client.HGetAll(ctx, r.countKey(date)).Result()
	if err != nil {
		return nil, fmt.Errorf("slotload: redis counts: %w", err)
	}
	if len(counts) == 0 {
		return nil, nil
	}
	caps, err := r.client.HGetAll(ctx, r.capKey(date)).Result()
	if err != nil {
		return nil, fmt.Errorf("slotload: redis capacities: %w", err)
	}

	out := make([]SlotLoad, 0, len(counts))
	for field, raw := range counts {
		at, err := timegrid.ParseClock(field)
		if err != nil {
			continue
		}
		count, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("slotload: redis count %q: %w", field, err)
		}
		capacity, _ := strconv.Atoi(caps[field])
		if capacity < 1 {
			capacity = 1
		}
		out = append(out, SlotLoad{Date: date, Time: at, CurrentPatients: count, MaxCapacity: capacity})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out, nil
}
