package attemptlock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var examID = uuid.MustParse("5b0e6a52-8f6c-4a3e-9d57-0f1e2d3c4b5a")

func TestMemoryManagerNoReentry(t *testing.T) {
	m := NewMemoryManager("node-a")
	ctx := context.Background()

	token, ok, err := m.TryLock(ctx, 1, examID, "submit")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEmpty(t, token)

	_, ok, err = m.TryLock(ctx, 1, examID, "submit")
	require.NoError(t, err)
	assert.False(t, ok, "second lock by the same student must be rejected")

	_, ok, _ = m.TryLock(ctx, 2, examID, "submit")
	assert.True(t, ok, "other students are unaffected")

	require.NoError(t, m.Unlock(ctx, 1, examID, token))
	_, ok, _ = m.TryLock(ctx, 1, examID, "submit")
	assert.True(t, ok)
}

func TestMemoryManagerStaleLockIsCleared(t *testing.T) {
	now := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	m := NewMemoryManager("node-a").WithClock(func() time.Time { return now })
	ctx := context.Background()

	_, ok, _ := m.TryLock(ctx, 1, examID, "submit")
	require.True(t, ok)

	now = now.Add(StaleAfter)
	_, ok, _ = m.TryLock(ctx, 1, examID, "submit")
	assert.False(t, ok, "exactly five minutes old is still fresh")

	now = now.Add(time.Second)
	st, err := m.Status(ctx, 1, examID)
	require.NoError(t, err)
	assert.False(t, st.Locked)

	_, ok, _ = m.TryLock(ctx, 1, examID, "retry")
	assert.True(t, ok)
}

func TestMemoryManagerStaleHolderCannotReleaseSuccessor(t *testing.T) {
	now := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	m := NewMemoryManager("node-a").WithClock(func() time.Time { return now })
	ctx := context.Background()

	first, ok, _ := m.TryLock(ctx, 1, examID, "submit")
	require.True(t, ok)

	now = now.Add(StaleAfter + time.Second)
	second, ok, _ := m.TryLock(ctx, 1, examID, "submit")
	require.True(t, ok)
	require.NotEqual(t, first, second)

	require.NoError(t, m.Unlock(ctx, 1, examID, first))
	st, err := m.Status(ctx, 1, examID)
	require.NoError(t, err)
	assert.True(t, st.Locked, "the slow holder's release must not free the new lock")

	require.NoError(t, m.Unlock(ctx, 1, examID, second))
	st, _ = m.Status(ctx, 1, examID)
	assert.False(t, st.Locked)
}

func TestMemoryManagerStatus(t *testing.T) {
	now := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	m := NewMemoryManager("node-a").WithClock(func() time.Time { return now })
	ctx := context.Background()

	st, err := m.Status(ctx, 1, examID)
	require.NoError(t, err)
	assert.Equal(t, Status{}, st)

	_, _, _ = m.TryLock(ctx, 1, examID, "submit")
	st, err = m.Status(ctx, 1, examID)
	require.NoError(t, err)
	assert.True(t, st.Locked)
	require.NotNil(t, st.LockedAt)
	assert.True(t, st.LockedAt.Equal(now))
	assert.Equal(t, "node-a", st.LockedBy)
	assert.Equal(t, "submit", st.Reason)
}

func TestMemoryManagerConcurrentTryLock(t *testing.T) {
	m := NewMemoryManager("node-a")
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, _ := m.TryLock(ctx, 9, examID, "submit"); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func newRedisManager(t *testing.T) (*RedisManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisManager(rdb, "node-b"), mr
}

func TestRedisManagerLifecycle(t *testing.T) {
	m, _ := newRedisManager(t)
	ctx := context.Background()

	token, ok, err := m.TryLock(ctx, 3, examID, "submit")
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = m.TryLock(ctx, 3, examID, "submit")
	require.NoError(t, err)
	assert.False(t, ok)

	st, err := m.Status(ctx, 3, examID)
	require.NoError(t, err)
	assert.True(t, st.Locked)
	assert.Equal(t, "node-b", st.LockedBy)
	assert.Equal(t, "submit", st.Reason)

	require.NoError(t, m.Unlock(ctx, 3, examID, "someone-else"))
	st, err = m.Status(ctx, 3, examID)
	require.NoError(t, err)
	assert.True(t, st.Locked, "a foreign token leaves the lock in place")

	require.NoError(t, m.Unlock(ctx, 3, examID, token))
	st, err = m.Status(ctx, 3, examID)
	require.NoError(t, err)
	assert.False(t, st.Locked)
}

func TestRedisManagerStaleLockExpires(t *testing.T) {
	m, mr := newRedisManager(t)
	ctx := context.Background()

	first, ok, _ := m.TryLock(ctx, 3, examID, "submit")
	require.True(t, ok)

	mr.FastForward(StaleAfter + time.Second)
	second, ok, err := m.TryLock(ctx, 3, examID, "retry")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, m.Unlock(ctx, 3, examID, first))
	st, err := m.Status(ctx, 3, examID)
	require.NoError(t, err)
	assert.True(t, st.Locked, "the expired holder's release must not free the new lock")
	assert.Equal(t, "retry", st.Reason)

	require.NoError(t, m.Unlock(ctx, 3, examID, second))
	assert.False(t, mr.Exists(Key(3, examID)))
}
