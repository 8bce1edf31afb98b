// internal/pipeline/runlock.go
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RunLock enforces single-orchestrator ownership of a project: a run
// takes the lock before touching any scene and releases it at run end.
// A second run against the same project fails fast instead of racing
// the cache and the blueprint history.
type RunLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	holder string
}

func NewRunLock(client *redis.Client, key string, ttl time.Duration, holder string) *RunLock {
	return &RunLock{
		client: client,
		key:    key,
		ttl:    ttl,
		holder: holder,
	}
}

// Acquire takes the lock, reporting the current holder on conflict.
func (l *RunLock) Acquire(ctx context.Context) error {
	ok, err := l.client.SetNX(ctx, l.key, l.holder, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		holder, _ := l.client.Get(ctx, l.key).Result()
		return fmt.Errorf("run lock held by %q", holder)
	}
	return nil
}

// Release drops the lock if this run still holds it.
func (l *RunLock) Release(ctx context.Context) error {
	holder, err := l.client.Get(ctx, l.key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("release run lock: %w", err)
	}
	if holder != l.holder {
		// Lock expired and was taken by another run; leave it alone.
		return nil
	}
	if err := l.client.Del(ctx, l.key).Err(); err != nil {
		return fmt.Errorf("release run lock: %w", err)
	}
	return nil
}
