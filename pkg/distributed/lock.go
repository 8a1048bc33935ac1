package distributed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrNotHeld     = errors.New("lock not held by this holder")
	ErrLockTimeout = errors.New("lock acquisition timeout")
)

// Delete only if the value is still ours.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// Extend only if the value is still ours.
var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`)

// Lock is a Redis mutex held with SET NX PX and renewed at half its TTL
// until released.
type Lock struct {
	client redis.Cmdable
	key    string
	token  string
	ttl    time.Duration
	retry  time.Duration

	mu        sync.Mutex
	stopRenew chan struct{}
}

func NewLock(client redis.Cmdable, key string, ttl time.Duration) *Lock {
	return &Lock{
		client: client,
		key:    key,
		token:  uuid.NewString(),
		ttl:    ttl,
		retry:  100 * time.Millisecond,
	}
}

func (l *Lock) Key() string { return l.key }

// TryAcquire attempts to acquire the lock without blocking.
func (l *Lock) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", l.key, err)
	}
	if ok {
		l.startRenewal()
	}
	return ok, nil
}

// Acquire blocks until the lock is held or ctx ends.
func (l *Lock) Acquire(ctx context.Context) error {
	for {
		ok, err := l.TryAcquire(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: %s", ErrLockTimeout, l.key)
			}
			return ctx.Err()
		case <-time.After(l.retry):
		}
	}
}

// Release drops the lock if this holder still owns it.
func (l *Lock) Release(ctx context.Context) error {
	l.mu.Lock()
	if l.stopRenew != nil {
		close(l.stopRenew)
		l.stopRenew = nil
	}
	l.mu.Unlock()

	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

func (l *Lock) startRenewal() {
	stop := make(chan struct{})
	l.mu.Lock()
	l.stopRenew = stop
	l.mu.Unlock()

	go func() {
		ticker := time.NewTicker(l.ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), l.ttl/2)
				n, err := renewScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
				cancel()
				if err != nil || n == 0 {
					return
				}
			}
		}
	}()
}

// WithLock runs fn while holding key.
func WithLock(ctx context.Context, client redis.Cmdable, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	lock := NewLock(client, key, ttl)
	if err := lock.Acquire(ctx); err != nil {
		return err
	}
	defer lock.Release(context.Background())
	return fn(ctx)
}
