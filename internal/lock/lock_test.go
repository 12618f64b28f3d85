package lock

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewManager(client, nil, "test", 200*time.Millisecond)
}

func TestAcquireRelease_FencingTokenIncreases(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	h1, err := m.Acquire(ctx, "sku-1", time.Second)
	require.NoError(t, err)
	require.NoError(t, m.Release(ctx, h1))

	h2, err := m.Acquire(ctx, "sku-1", time.Second)
	require.NoError(t, err)
	require.NoError(t, m.Release(ctx, h2))

	assert.Greater(t, h2.Token, h1.Token)
}

func TestWithLock_SerializesSameKey(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	var counter int64
	var maxObserved int64
	done := make(chan struct{}, 2)

	run := func() {
		err := m.WithLock(ctx, "sku-1", time.Second, func(token int64) error {
			n := atomic.AddInt64(&counter, 1)
			if n > atomic.LoadInt64(&maxObserved) {
				atomic.StoreInt64(&maxObserved, n)
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt64(&counter, -1)
			return nil
		})
		assert.NoError(t, err)
		done <- struct{}{}
	}

	go run()
	go run()
	<-done
	<-done

	assert.Equal(t, int64(1), maxObserved, "concurrent holders of the same key must never overlap")
}

func TestWithMultiLock_LocksEveryKeyAndReleasesAll(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	var seen []string
	err := m.WithMultiLock(ctx, []string{"sku-3", "sku-1", "sku-2"}, time.Second, func(tokens map[string]int64) error {
		for k := range tokens {
			seen = append(seen, k)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, seen, 3)

	// Every key must be free again once WithMultiLock returns.
	h, err := m.Acquire(ctx, "sku-1", time.Second)
	require.NoError(t, err)
	require.NoError(t, m.Release(ctx, h))
	h2, err := m.Acquire(ctx, "sku-2", time.Second)
	require.NoError(t, err)
	require.NoError(t, m.Release(ctx, h2))
	h3, err := m.Acquire(ctx, "sku-3", time.Second)
	require.NoError(t, err)
	require.NoError(t, m.Release(ctx, h3))
}

func TestWithMultiLock_PropagatesCallbackError(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	boom := assert.AnError
	err := m.WithMultiLock(ctx, []string{"sku-1", "sku-2"}, time.Second, func(tokens map[string]int64) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)

	// Both keys must have been released despite the error.
	h1, err := m.Acquire(ctx, "sku-1", time.Second)
	require.NoError(t, err)
	require.NoError(t, m.Release(ctx, h1))
	h2, err := m.Acquire(ctx, "sku-2", time.Second)
	require.NoError(t, err)
	require.NoError(t, m.Release(ctx, h2))
}
