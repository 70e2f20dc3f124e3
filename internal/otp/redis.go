package otp

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps one key per (email, code). Redis TTL does the sweeping;
// the stored expiry guards against clock skew between Redis and the caller.
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client redis.Cmdable) *RedisStore {
	if client == nil {
		panic("otp: redis client required")
	}
	return &RedisStore{client: client, prefix: "otp"}
}

func (s *RedisStore) key(email, code string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, email, code)
}

func (s *RedisStore) Save(ctx context.Context, c Code) error {
	ttl := time.Until(c.ExpiresAt)
	if ttl < time.Second {
		ttl = time.Second
	}
	value := strconv.FormatInt(c.ExpiresAt.UnixNano(), 10)
	if err := s.client.Set(ctx, s.key(c.Email, c.Code), value, ttl).Err(); err != nil {
		return fmt.Errorf("otp: redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Consume(ctx context.Context, email, code string, now time.Time) (bool, error) {
	raw, err := s.client.GetDel(ctx, s.key(email, code)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("otp: redis getdel: %w", err)
	}
	expires, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false, nil
	}
	return now.Before(time.Unix(0, expires)), nil
}

// DeleteExpired is a no-op: keys expire on their own.
func (s *RedisStore) DeleteExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}
