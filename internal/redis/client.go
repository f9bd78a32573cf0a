package redisclient

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient dials the instance holding the reservation locks and
// verifies it answers before any booking traffic depends on it. Timeouts
// stay short: a slow lock server must fail the reservation, not stall it
// past the lock TTL.
func NewRedisClient(addr, username, password string) (*redis.Client, error) {
	poolSize := 4 * runtime.GOMAXPROCS(0)
	if poolSize < 10 {
		poolSize = 10
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Username:     username,
		Password:     password,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     poolSize,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return rdb, nil
}
