package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/prompt-engine/internal/flow"
)

func TestGetOrCreate(t *testing.T) {
	store := NewStore(time.Minute)

	sess := store.GetOrCreate("user-1", "or")
	assert.Equal(t, flow.PhaseAwaitingInput, sess.State.Phase)
	assert.Equal(t, "or", string(sess.Language))
	assert.Zero(t, store.Len())

	sess.State.Phase = flow.PhaseCollectingIdentifier
	store.Save(sess)

	again := store.GetOrCreate("user-1", "hi")
	assert.Equal(t, flow.PhaseCollectingIdentifier, again.State.Phase)
	assert.Equal(t, "or", string(again.Language))
}

func TestSaveTerminalDeletes(t *testing.T) {
	store := NewStore(time.Minute)

	sess := store.GetOrCreate("user-1", "en")
	store.Save(sess)
	require.Equal(t, 1, store.Len())

	sess.State.Phase = flow.PhaseErrored
	store.Save(sess)

	_, ok := store.Get("user-1")
	assert.False(t, ok)
	assert.Zero(t, store.Len())
}

func TestSessionsExpire(t *testing.T) {
	store := NewStore(50 * time.Millisecond)
	store.Save(store.GetOrCreate("user-1", "en"))

	assert.Eventually(t, func() bool {
		_, ok := store.Get("user-1")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestAcquireSerializesSameKey(t *testing.T) {
	store := NewStore(time.Minute)

	var inFlight, maxInFlight atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := store.Acquire(context.Background(), "user-1")
			if !assert.NoError(t, err) {
				return
			}
			defer release()

			n := inFlight.Add(1)
			for {
				m := maxInFlight.Load()
				if n <= m || maxInFlight.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inFlight.Add(-1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load())
	store.mu.Lock()
	assert.Empty(t, store.locks)
	store.mu.Unlock()
}

func TestAcquireDistinctKeysInParallel(t *testing.T) {
	store := NewStore(time.Minute)

	releaseA, err := store.Acquire(context.Background(), "user-a")
	require.NoError(t, err)
	defer releaseA()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	releaseB, err := store.Acquire(ctx, "user-b")
	require.NoError(t, err)
	releaseB()
}

func TestAcquireHonoursContext(t *testing.T) {
	store := NewStore(time.Minute)

	release, err := store.Acquire(context.Background(), "user-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = store.Acquire(ctx, "user-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release()

	again, err := store.Acquire(context.Background(), "user-1")
	require.NoError(t, err)
	again()
}

func TestConcurrentFirstTurnsShareOneSession(t *testing.T) {
	store := NewStore(time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := store.Acquire(context.Background(), "user-1")
			if !assert.NoError(t, err) {
				return
			}
			defer release()

			sess := store.GetOrCreate("user-1", "en")
			sess.State.Query += "x"
			store.Save(sess)
		}()
	}
	wg.Wait()

	sess, ok := store.Get("user-1")
	require.True(t, ok)
	assert.Len(t, sess.State.Query, 10)
	assert.Equal(t, 1, store.Len())
}
