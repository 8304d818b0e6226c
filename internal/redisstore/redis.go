package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	checkoutKeyPrefix = "checkout:idem:"
	checkoutKeyTTL    = 24 * time.Hour
)

// IdempotencyStore marks checkout idempotency keys; SetIdempotency
// returns false when the key was already claimed. ReleaseIdempotency
// frees a claimed key again when the checkout it guarded did not
// persist anything.
type IdempotencyStore interface {
	SetIdempotency(ctx context.Context, key string) (bool, error)
	ReleaseIdempotency(ctx context.Context, key string) error
}

type Store struct {
	client *redis.Client
}

func New(addr, password string) *Store {
	return &Store{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})}
}

func (s *Store) SetIdempotency(ctx context.Context, key string) (bool, error) {
	return s.client.SetNX(ctx, checkoutKeyPrefix+key, 1, checkoutKeyTTL).Result()
}

func (s *Store) ReleaseIdempotency(ctx context.Context, key string) error {
	return s.client.Del(ctx, checkoutKeyPrefix+key).Err()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}
