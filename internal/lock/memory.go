package lock

import (
	"context"
	"sync"
)

// Memory is an in-process Locker. Idle keys are dropped once nobody holds or
// waits for them.
type Memory struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewMemory creates an in-process Locker.
func NewMemory() *Memory {
	return &Memory{slots: make(map[string]*slot)}
}

// Lock blocks until key is held or ctx is done.
func (m *Memory) Lock(ctx context.Context, key string) (Unlock, error) {
	m.mu.Lock()
	sl, ok := m.slots[key]
	if !ok {
		sl = &slot{ch: make(chan struct{}, 1)}
		m.slots[key] = sl
	}
	sl.refs++
	m.mu.Unlock()

	select {
	case sl.ch <- struct{}{}:
	case <-ctx.Done():
		m.release(key, sl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-sl.ch
			m.release(key, sl)
		})
	}, nil
}

func (m *Memory) release(key string, sl *slot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sl.refs--
	if sl.refs == 0 {
		delete(m.slots, key)
	}
}

// Len returns the number of keys currently held or waited on.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}
