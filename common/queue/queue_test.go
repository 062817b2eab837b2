package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/koicert/registry/common/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueueDeliversInOrder(t *testing.T) {
	q := NewMemoryQueue(logger.Discard())
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []string
	require.NoError(t, q.Subscribe(ctx, "koi.events", func(_ context.Context, key string, value []byte) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, key+"="+string(value))
		return nil
	}))

	require.NoError(t, q.Publish(ctx, "koi.events", "KOI-001", []byte("1")))
	require.NoError(t, q.Publish(ctx, "koi.events", "KOI-001", []byte("2")))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"KOI-001=1", "KOI-001=2"}, got)
	mu.Unlock()
}

func TestMemoryQueueCloseIsIdempotent(t *testing.T) {
	q := NewMemoryQueue(logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, q.Subscribe(ctx, "t", func(context.Context, string, []byte) error { return nil }))

	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	// Publishing after close is a no-op rather than a panic
	assert.NoError(t, q.Publish(ctx, "t", "k", []byte("v")))
}
