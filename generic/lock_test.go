package generic_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/meal-ledger/generic"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	// GIVEN: 50 goroutines incrementing a counter under one key
	m := generic.NewKeyedMutex()
	ctx := context.Background()
	key := generic.MonthLockKey("school-1", generic.NewMonthKey(2025, time.March))

	var (
		wg      sync.WaitGroup
		inside  int
		maxSeen int
		mu      sync.Mutex
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := m.Acquire(ctx, key)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			assert.NoError(t, release(ctx))
		}()
	}
	wg.Wait()

	// THEN: Never more than one holder at a time
	assert.Equal(t, 1, maxSeen)
}

func TestKeyedMutex_DifferentKeysDoNotBlock(t *testing.T) {
	m := generic.NewKeyedMutex()
	ctx := context.Background()

	r1, err := m.Acquire(ctx, generic.MonthLockKey("school-1", generic.NewMonthKey(2025, time.March)))
	require.NoError(t, err)
	defer r1(ctx)

	ctx2, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	r2, err := m.Acquire(ctx2, generic.MonthLockKey("school-1", generic.NewMonthKey(2025, time.April)))
	require.NoError(t, err)
	require.NoError(t, r2(ctx))
}

func TestKeyedMutex_HonoursContext(t *testing.T) {
	// GIVEN: A held key
	m := generic.NewKeyedMutex()
	ctx := context.Background()
	release, err := m.Acquire(ctx, "k")
	require.NoError(t, err)

	// WHEN: A second caller gives up
	ctx2, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = m.Acquire(ctx2, "k")

	// THEN
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// AND: Releasing twice is harmless and the key is reusable
	require.NoError(t, release(ctx))
	require.NoError(t, release(ctx))
	again, err := m.Acquire(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestMonthLockKey(t *testing.T) {
	assert.Equal(t, "mdm:month:s-9:2025-03", generic.MonthLockKey("s-9", generic.NewMonthKey(2025, time.March)))
}
