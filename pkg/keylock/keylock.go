// Package keylock provides a keyed mutual-exclusion manager: an arbitrary
// string key maps to an exclusive lock that is created on first use.
//
// Typical usage:
//
//	var locks = keylock.New()
//
//	release, err := locks.Acquire(ctx, "guild:"+guildID)
//	if err != nil {
//	    return err
//	}
//	defer release()
//
// Keys are never removed; the set of keys is bounded by the number of guilds
// the process has seen.
package keylock

import (
	"context"
	"sync"
)

// Manager hands out per-key locks. It is safe for concurrent use.
type Manager struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{locks: make(map[string]chan struct{})}
}

func (m *Manager) slot(key string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		m.locks[key] = ch
	}
	return ch
}

// Acquire blocks until the lock for key is held or ctx is done. The returned
// release func must be called exactly once; extra calls are ignored.
func (m *Manager) Acquire(ctx context.Context, key string) (release func(), err error) {
	ch := m.slot(key)

	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-ch })
	}, nil
}

// With runs fn while holding the lock for key. The lock is released on every
// exit path, including a panic in fn.
func (m *Manager) With(ctx context.Context, key string, fn func() error) error {
	release, err := m.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// Len reports how many keys have been created.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
