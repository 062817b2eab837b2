package saga

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompensateRunsEveryStepAndCollectsFailures(t *testing.T) {
	s := New()

	var mu sync.Mutex
	ran := map[string]bool{}
	record := func(name string, err error) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			ran[name] = true
			mu.Unlock()
			return err
		}
	}

	boom := errors.New("boom")
	s.Register("photo", record("photo", nil))
	s.Register("cert", record("cert", boom))
	s.Register("contest", record("contest", nil))
	s.Register("panics", func(context.Context) error { panic("bad") })
	require.Equal(t, 4, s.Len())

	failures := s.Compensate(context.Background())

	assert.Equal(t, map[string]bool{"photo": true, "cert": true, "contest": true}, ran)
	require.Len(t, failures, 2)
	assert.Equal(t, "cert", failures[0].Step)
	assert.ErrorIs(t, failures[0], boom)
	assert.Equal(t, "panics", failures[1].Step)
}

func TestCompensateRunsOnce(t *testing.T) {
	s := New()
	calls := 0
	s.Register("photo", func(context.Context) error {
		calls++
		return nil
	})

	assert.Empty(t, s.Compensate(context.Background()))
	assert.Empty(t, s.Compensate(context.Background()))
	assert.Equal(t, 1, calls)
}

func TestCompleteDiscardsCompensations(t *testing.T) {
	s := New()
	called := false
	s.Register("photo", func(context.Context) error {
		called = true
		return nil
	})

	s.Complete()

	assert.Empty(t, s.Compensate(context.Background()))
	assert.False(t, called)
	assert.Equal(t, 0, s.Len())
}

func TestSequentialCompensationUnwindsInReverse(t *testing.T) {
	s := New(WithConcurrency(1))

	var order []string
	for _, name := range []string{"a", "b", "c"} {
		s.Register(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	assert.Empty(t, s.Compensate(context.Background()))
	assert.Equal(t, []string{"c", "b", "a"}, order)
}

func TestCompensateOrderIndependence(t *testing.T) {
	// The outcome does not depend on which compensation finishes first
	for i := 0; i < 20; i++ {
		s := New()
		var mu sync.Mutex
		removed := map[string]bool{}
		for _, name := range []string{"photos/a", "certs/b", "contests/c"} {
			s.Register(name, func(context.Context) error {
				mu.Lock()
				defer mu.Unlock()
				removed[name] = true
				return nil
			})
		}

		assert.Empty(t, s.Compensate(context.Background()))
		assert.Len(t, removed, 3)
	}
}
