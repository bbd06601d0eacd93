package syncutil

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockContext_MutualExclusion(t *testing.T) {
	m := NewContextShardedMutex()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.WithLock(context.Background(), "session-1", func() error {
				v := counter
				time.Sleep(time.Microsecond)
				counter = v + 1
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, counter)
}

func TestLockContext_CancelledWaiter(t *testing.T) {
	m := NewContextShardedMutex()
	unlock, err := m.LockContext(context.Background(), "session-1")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = m.LockContext(ctx, "session-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLockContext_UnlockHandsOver(t *testing.T) {
	m := NewContextShardedMutex()
	unlock, err := m.LockContext(context.Background(), "session-2")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		u, err := m.LockContext(context.Background(), "session-2")
		if err != nil {
			return
		}
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second waiter acquired a held lock")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second waiter never acquired the lock")
	}
}

func TestWithLock_PropagatesError(t *testing.T) {
	m := NewContextShardedMutex()
	boom := errors.New("boom")
	assert.ErrorIs(t, m.WithLock(context.Background(), "k", func() error { return boom }), boom)

	// The shard is released after an error.
	assert.NoError(t, m.WithLock(context.Background(), "k", func() error { return nil }))
}

func TestShardIndexStable(t *testing.T) {
	assert.Equal(t, shardIndex("abc"), shardIndex("abc"))
	assert.Less(t, shardIndex("abc"), uint32(shardCount))
}
