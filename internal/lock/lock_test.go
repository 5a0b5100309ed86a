package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "session:abc", SessionKey("abc"))
	assert.Equal(t, "user:42", UserKey(42))
}

// exercise runs n goroutines that each hold key while bumping a counter and
// reports the highest concurrency observed.
func exercise(t *testing.T, l Locker, n int) int32 {
	t.Helper()
	var inside, peak int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "k")
			if !assert.NoError(t, err) {
				return
			}
			cur := atomic.AddInt32(&inside, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	return peak
}

func TestMemory_MutualExclusion(t *testing.T) {
	m := NewMemory()
	assert.Equal(t, int32(1), exercise(t, m, 16))
	assert.Equal(t, 0, m.size(), "keys are dropped once released")
}

func TestMemory_IndependentKeys(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	a, err := m.Lock(ctx, "a")
	require.NoError(t, err)
	b, err := m.Lock(ctx, "b")
	require.NoError(t, err)
	a()
	b()
}

func TestMemory_ContextCancel(t *testing.T) {
	m := NewMemory()
	unlock, err := m.Lock(context.Background(), "k")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemory_UnlockIdempotent(t *testing.T) {
	m := NewMemory()
	unlock, err := m.Lock(context.Background(), "k")
	require.NoError(t, err)
	unlock()
	unlock()

	again, err := m.Lock(context.Background(), "k")
	require.NoError(t, err)
	again()
}

func setupTestRedis(t *testing.T, opts ...RedisOption) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	r, err := NewRedis("redis://"+s.Addr(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r, s
}

func TestNewRedis_BadURL(t *testing.T) {
	_, err := NewRedis("not-a-url")
	assert.Error(t, err)
}

func TestRedis_MutualExclusion(t *testing.T) {
	r, _ := setupTestRedis(t)
	assert.Equal(t, int32(1), exercise(t, r, 8))
}

func TestRedis_ReleaseDeletesKey(t *testing.T) {
	r, s := setupTestRedis(t)

	unlock, err := r.Lock(context.Background(), "session:1")
	require.NoError(t, err)
	assert.True(t, s.Exists("arzu:lock:session:1"))

	unlock()
	assert.False(t, s.Exists("arzu:lock:session:1"))
}

func TestRedis_TimesOutWhileHeld(t *testing.T) {
	r, _ := setupTestRedis(t, WithWait(50*time.Millisecond))

	unlock, err := r.Lock(context.Background(), "k")
	require.NoError(t, err)
	defer unlock()

	_, err = r.Lock(context.Background(), "k")
	assert.ErrorIs(t, err, ErrLockTimeout)
}

func TestRedis_ExpiredLockIsNotStolenBack(t *testing.T) {
	r, s := setupTestRedis(t, WithTTL(time.Second))
	ctx := context.Background()

	first, err := r.Lock(ctx, "k")
	require.NoError(t, err)

	// The holder stalls past its TTL and another caller takes over.
	s.FastForward(2 * time.Second)
	second, err := r.Lock(ctx, "k")
	require.NoError(t, err)

	// The stale release must not delete the new holder's key.
	first()
	assert.True(t, s.Exists("arzu:lock:k"))

	second()
	assert.False(t, s.Exists("arzu:lock:k"))
}
