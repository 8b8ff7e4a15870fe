package generic

import (
	"context"
	"sync"
)

// =============================================================================
// LOCKER - Single writer per (school, month)
// =============================================================================

// Locker serializes writers on a key. Reconciliation reads and rewrites a
// whole month, so every mutation of a month must hold that month's key.
//
// Acquire blocks until the key is free or ctx is done. The returned release
// function must be called exactly once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(context.Context) error, err error)
}

// MonthLockKey is the lock key for one school's month.
func MonthLockKey(school SchoolID, month MonthKey) string {
	return "mdm:month:" + string(school) + ":" + month.String()
}

// KeyedMutex is an in-process Locker. Keys are created on demand and dropped
// once nobody holds or waits on them.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyLock)}
}

func (m *KeyedMutex) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	m.mu.Lock()
	kl, ok := m.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		m.locks[key] = kl
	}
	kl.refs++
	m.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		m.unref(key, kl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			<-kl.ch
			m.unref(key, kl)
		})
		return nil
	}, nil
}

func (m *KeyedMutex) unref(key string, kl *keyLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(m.locks, key)
	}
}
