package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLockerMutualExclusion(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "KOI-001")
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()

			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
	assert.Equal(t, 0, l.Keys())
}

func TestMemoryLockerIndependentKeys(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	unlockA, err := l.Lock(ctx, "KOI-A")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()

	unlockB, err := l.Lock(ctx, "KOI-B")
	require.NoError(t, err)
	unlockB()
}

func TestMemoryLockerHonoursContext(t *testing.T) {
	l := NewMemoryLocker()

	unlock, err := l.Lock(context.Background(), "KOI-001")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = l.Lock(ctx, "KOI-001")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock() // second call is a no-op
	assert.Equal(t, 0, l.Keys())

	unlock, err = l.Lock(context.Background(), "KOI-001")
	require.NoError(t, err)
	unlock()
}
