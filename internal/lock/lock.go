// Package lock provides short-lived distributed locks.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrNotObtained is returned when another holder owns the key.
var ErrNotObtained = errors.New("lock not obtained")

// Lock is a held lock.
type Lock interface {
	Release(ctx context.Context) error
}

// Locker obtains locks by key.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// Redis is a Locker backed by redislock. Obtain does not wait: a held key
// fails immediately with ErrNotObtained.
type Redis struct {
	client *redislock.Client
}

// NewRedis creates a Redis locker on an existing client.
func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{client: redislock.New(rdb)}
}

// Obtain implements Locker.
func (r *Redis) Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	l, err := r.client.Obtain(ctx, fmt.Sprintf("lock:%s", key), ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotObtained)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to obtain lock %s: %w", key, err)
	}
	return l, nil
}

// Local is an in-process Locker used when Redis is not configured. It only
// guards callers within one process.
type Local struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

// NewLocal creates an empty in-process locker.
func NewLocal() *Local {
	return &Local{held: make(map[string]time.Time), now: time.Now}
}

type localLock struct {
	l      *Local
	key    string
	expiry time.Time
}

// Obtain implements Locker. Expired entries are treated as free.
func (l *Local) Obtain(_ context.Context, key string, ttl time.Duration) (Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if expiry, ok := l.held[key]; ok && now.Before(expiry) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotObtained)
	}
	expiry := now.Add(ttl)
	l.held[key] = expiry
	return &localLock{l: l, key: key, expiry: expiry}, nil
}

// Release frees the key unless another holder took it over after expiry.
func (ll *localLock) Release(context.Context) error {
	ll.l.mu.Lock()
	defer ll.l.mu.Unlock()
	if ll.l.held[ll.key].Equal(ll.expiry) {
		delete(ll.l.held, ll.key)
	}
	return nil
}
