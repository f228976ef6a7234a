package deployment

import (
	"context"
	"sync"
)

// LockManager manages per-key install locks so two deployments never write
// the same hook file at the same time.
//
// This uses a two-level locking strategy:
// 1. The outer mutex (mu) protects the locks map itself from concurrent access
// 2. Each key has its own one-slot channel acting as the actual lock
//
// Different keys proceed concurrently; the same key is serialized.
type LockManager struct {
	mu    sync.Mutex               // Protects the locks map
	locks map[string]chan struct{} // Per-key locks
}

// NewLockManager creates a new lock manager
func NewLockManager() *LockManager {
	return &LockManager{
		locks: make(map[string]chan struct{}),
	}
}

func (lm *LockManager) slot(key string) chan struct{} {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lock, exists := lm.locks[key]
	if !exists {
		lock = make(chan struct{}, 1)
		lm.locks[key] = lock
	}
	return lock
}

// TryLock attempts to acquire the lock for key without blocking.
func (lm *LockManager) TryLock(key string) bool {
	select {
	case lm.slot(key) <- struct{}{}:
		return true
	default:
		return false
	}
}

// Lock blocks until the lock for key is acquired or ctx is done.
func (lm *LockManager) Lock(ctx context.Context, key string) error {
	select {
	case lm.slot(key) <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unlock releases the lock for key.
//
// It is safe to call this even if the lock is not held (no-op).
func (lm *LockManager) Unlock(key string) {
	lm.mu.Lock()
	lock := lm.locks[key]
	lm.mu.Unlock()

	if lock == nil {
		return
	}
	select {
	case <-lock:
	default:
	}
}
