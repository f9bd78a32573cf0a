package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/medibook/hospital-appointments/internal/availability"
)

var (
	ErrLockNotAcquired = errors.New("reservation lock not acquired")
)

// Locker guards the reservation critical section for one
// (doctor, date, start time) key. The Postgres unique index remains the
// authoritative double-booking guard; the lock keeps concurrent attempts
// from both reaching the insert and one of them eating a constraint error.
type Locker interface {
	WithReservationLock(ctx context.Context, doctorID uuid.UUID, date time.Time, start availability.TimeOfDay, fn func(ctx context.Context) error) error
}

type redisReservationLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisReservationLocker creates a locker using a per reservation-key
// Redis key.
func NewRedisReservationLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisReservationLocker{
		client: client,
		ttl:    ttl,
	}
}

func (l *redisReservationLocker) WithReservationLock(ctx context.Context, doctorID uuid.UUID, date time.Time, start availability.TimeOfDay, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("lock:reservation:%s:%s:%s", doctorID, date.Format("2006-01-02"), start)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire reservation lock: %w", err)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		_ = l.release(ctx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisReservationLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release reservation lock: %w", err)
	}
	return nil
}
