package lock

import (
	"context"
	"sync"
)

// MemoryLocker is a keyed mutex for a single process
// Each key owns a one-slot channel; holding the slot is holding the lock.
type MemoryLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch      chan struct{}
	waiters int
}

// NewMemoryLocker creates an empty locker
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{slots: make(map[string]*slot)}
}

// Lock acquires key, honouring ctx while waiting
func (l *MemoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.waiters++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, s, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, s, true) })
	}, nil
}

func (l *MemoryLocker) release(key string, s *slot, held bool) {
	if held {
		<-s.ch
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	s.waiters--
	if s.waiters == 0 {
		delete(l.slots, key)
	}
}

// Keys returns how many keys currently have holders or waiters
func (l *MemoryLocker) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
