package authclient

import (
	"context"
	"sync"
)

// Mutex is the single-flight guard around token refresh. Acquire queues
// concurrent callers in FIFO order and hands the lock to the next waiter on
// release; Wait blocks until the mutex is free without taking it. Waiting is
// event-based, no polling.
type Mutex struct {
	mu            sync.Mutex
	locked        bool
	waiters       []chan struct{}
	unlockWaiters []chan struct{}
}

// NewMutex returns an unlocked mutex.
func NewMutex() *Mutex {
	return &Mutex{}
}

// TryAcquire takes the lock if it is free and returns a release callback.
// The callback is safe to call once; further calls are no-ops.
func (m *Mutex) TryAcquire() (func(), bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked {
		return nil, false
	}
	m.locked = true
	return m.releaseOnce(), true
}

// Acquire takes the lock, queuing behind current holders. The returned
// release callback must be called exactly once; extra calls are no-ops.
func (m *Mutex) Acquire(ctx context.Context) (func(), error) {
	m.mu.Lock()
	if !m.locked {
		m.locked = true
		m.mu.Unlock()
		return m.releaseOnce(), nil
	}

	ch := make(chan struct{})
	m.waiters = append(m.waiters, ch)
	m.mu.Unlock()

	select {
	case <-ch:
		return m.releaseOnce(), nil
	case <-ctx.Done():
		m.mu.Lock()
		removed := false
		for i, w := range m.waiters {
			if w == ch {
				m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
				removed = true
				break
			}
		}
		m.mu.Unlock()
		if !removed {
			// the lock was handed to us while cancelling; pass it on
			m.release()
		}
		return nil, ctx.Err()
	}
}

// Wait blocks until the mutex is unlocked, without acquiring it.
func (m *Mutex) Wait(ctx context.Context) error {
	m.mu.Lock()
	if !m.locked {
		m.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	m.unlockWaiters = append(m.unlockWaiters, ch)
	m.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Locked reports whether the mutex is currently held.
func (m *Mutex) Locked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locked
}

func (m *Mutex) releaseOnce() func() {
	var once sync.Once
	return func() { once.Do(m.release) }
}

func (m *Mutex) release() {
	m.mu.Lock()
	if len(m.waiters) > 0 {
		// hand the lock to the next queued acquirer; it stays locked
		next := m.waiters[0]
		m.waiters = m.waiters[1:]
		m.mu.Unlock()
		close(next)
		return
	}

	m.locked = false
	unlockWaiters := m.unlockWaiters
	m.unlockWaiters = nil
	m.mu.Unlock()

	for _, ch := range unlockWaiters {
		close(ch)
	}
}
