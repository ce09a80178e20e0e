package lock

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/nexus/errors"
)

func TestKeyedMutex(t *testing.T) {
	ctx := context.Background()
	k := NewKeyedMutex()

	release, err := k.TryLock(ctx, "alpha")
	require.NoError(t, err)
	assert.True(t, k.Held("alpha"))

	_, err = k.TryLock(ctx, "alpha")
	assert.True(t, errors.Is(err, errors.ErrAlreadyRunning))

	// Other keys are independent
	releaseBeta, err := k.TryLock(ctx, "beta")
	require.NoError(t, err)
	releaseBeta()

	release()
	release()
	assert.False(t, k.Held("alpha"))

	release, err = k.TryLock(ctx, "alpha")
	require.NoError(t, err)
	release()
}

func TestKeyedMutex_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewKeyedMutex().TryLock(ctx, "alpha")
	assert.True(t, errors.Is(err, errors.ErrTimeout))
}

func TestKeyedMutex_SingleWinner(t *testing.T) {
	ctx := context.Background()
	k := NewKeyedMutex()

	var wins, busy atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := k.TryLock(ctx, "alpha"); err == nil {
				wins.Add(1)
			} else if errors.Is(err, errors.ErrAlreadyRunning) {
				busy.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(19), busy.Load())
}

// Runs against a real server when NEXUS_TEST_REDIS_ADDR is set
func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("NEXUS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("NEXUS_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()

	rdb, err := DialRedis(ctx, addr, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { rdb.Close() })

	key := "test-" + t.Name()
	t.Cleanup(func() { rdb.Del(ctx, KeyPrefix+key) })

	a := NewRedisLocker(rdb, time.Minute)
	b := NewRedisLocker(rdb, time.Minute)

	release, err := a.TryLock(ctx, key)
	require.NoError(t, err)

	_, err = b.TryLock(ctx, key)
	assert.True(t, errors.Is(err, errors.ErrAlreadyRunning))

	release()
	release, err = b.TryLock(ctx, key)
	require.NoError(t, err)
	release()

	t.Run("stale holder cannot release", func(t *testing.T) {
		short := NewRedisLocker(rdb, 50*time.Millisecond)
		stale, err := short.TryLock(ctx, key)
		require.NoError(t, err)
		time.Sleep(100 * time.Millisecond)

		fresh, err := a.TryLock(ctx, key)
		require.NoError(t, err)
		stale()

		val, err := rdb.Get(ctx, KeyPrefix+key).Result()
		require.NoError(t, err, "fresh holder's key must survive")
		assert.NotEmpty(t, val)
		fresh()
	})
}

func TestDialRedis_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := DialRedis(ctx, "127.0.0.1:1", "", 0)
	assert.Error(t, err)
}
