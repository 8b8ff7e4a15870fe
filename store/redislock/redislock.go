// Package redislock implements generic.Locker on Redis so that several
// server replicas serialize writes to the same (school, month).
package redislock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/warp/meal-ledger/generic"
)

const (
	DefaultTTL   = 30 * time.Second
	DefaultRetry = 50 * time.Millisecond
)

// Locker obtains one Redis lock per key. A lock that is not obtained before
// the context ends returns generic.ErrLockNotObtained.
type Locker struct {
	client *redislock.Client
	ttl    time.Duration
	retry  time.Duration
}

type Option func(*Locker)

// WithTTL bounds how long a crashed holder can block the key.
func WithTTL(ttl time.Duration) Option {
	return func(l *Locker) { l.ttl = ttl }
}

// WithRetry sets the linear backoff between attempts.
func WithRetry(d time.Duration) Option {
	return func(l *Locker) { l.retry = d }
}

func New(rdb redis.UniversalClient, opts ...Option) *Locker {
	l := &Locker{
		client: redislock.New(rdb),
		ttl:    DefaultTTL,
		retry:  DefaultRetry,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Locker) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	lock, err := l.client.Obtain(ctx, key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(l.retry),
	})
	if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: %s", generic.ErrLockNotObtained, key)
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}
	return func(ctx context.Context) error {
		if err := lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			return fmt.Errorf("release lock %s: %w", key, err)
		}
		return nil
	}, nil
}

var _ generic.Locker = (*Locker)(nil)
