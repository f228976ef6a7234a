package deployment

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLockManager_BasicLocking(t *testing.T) {
	lm := NewLockManager()

	// First lock should succeed
	if !lm.TryLock("hook-path") {
		t.Fatal("First TryLock should succeed")
	}

	// Second lock on same key should fail
	if lm.TryLock("hook-path") {
		t.Error("Second TryLock on same key should fail")
	}

	lm.Unlock("hook-path")

	// Lock should succeed again after unlock
	if !lm.TryLock("hook-path") {
		t.Error("TryLock should succeed after unlock")
	}

	lm.Unlock("hook-path")
}

func TestLockManager_MultipleKeys(t *testing.T) {
	lm := NewLockManager()

	for _, key := range []string{"a", "b", "c"} {
		if !lm.TryLock(key) {
			t.Errorf("%s lock should succeed", key)
		}
	}

	if lm.TryLock("a") {
		t.Error("Second lock on a should fail")
	}

	for _, key := range []string{"a", "b", "c"} {
		lm.Unlock(key)
	}

	if !lm.TryLock("a") {
		t.Error("a should be lockable after unlock")
	}
	lm.Unlock("a")
}

func TestLockManager_UnlockNotHeld(t *testing.T) {
	lm := NewLockManager()

	// Unlocking a lock that was never taken should not panic or block
	lm.Unlock("nonexistent")

	if !lm.TryLock("nonexistent") {
		t.Error("Should be able to lock after unlocking non-existent")
	}
	lm.Unlock("nonexistent")
	lm.Unlock("nonexistent")
}

func TestLockManager_LockWaitsForRelease(t *testing.T) {
	lm := NewLockManager()
	if !lm.TryLock("k") {
		t.Fatal("TryLock should succeed")
	}

	acquired := make(chan struct{})
	go func() {
		if err := lm.Lock(context.Background(), "k"); err != nil {
			t.Errorf("Lock failed: %v", err)
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("Lock returned while the key was still held")
	case <-time.After(50 * time.Millisecond):
	}

	lm.Unlock("k")

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("Lock did not return after Unlock")
	}
	lm.Unlock("k")
}

func TestLockManager_LockHonorsContext(t *testing.T) {
	lm := NewLockManager()
	lm.TryLock("k")
	defer lm.Unlock("k")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := lm.Lock(ctx, "k")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected DeadlineExceeded, got %v", err)
	}
}

func TestLockManager_SerializesHolders(t *testing.T) {
	lm := NewLockManager()

	const goroutineCount = 20
	var holders, maxHolders int32
	var wg sync.WaitGroup
	wg.Add(goroutineCount)

	for i := 0; i < goroutineCount; i++ {
		go func() {
			defer wg.Done()
			if err := lm.Lock(context.Background(), "same-path"); err != nil {
				t.Errorf("Lock failed: %v", err)
				return
			}
			n := atomic.AddInt32(&holders, 1)
			for {
				m := atomic.LoadInt32(&maxHolders)
				if n <= m || atomic.CompareAndSwapInt32(&maxHolders, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&holders, -1)
			lm.Unlock("same-path")
		}()
	}

	wg.Wait()

	if maxHolders != 1 {
		t.Errorf("Expected at most one concurrent holder, saw %d", maxHolders)
	}
}

func TestLockManager_DeadlockPrevention(t *testing.T) {
	lm := NewLockManager()

	const keyCount = 10
	var wg sync.WaitGroup

	for i := 0; i < keyCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			key := string(rune('a' + id))
			for j := 0; j < 100; j++ {
				if lm.TryLock(key) {
					lm.Unlock(key)
				}
			}
		}(i)
	}

	// Set a timeout to detect potential deadlock
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Test timed out - potential deadlock detected")
	}
}

// Benchmark tests

func BenchmarkLockManager_TryLock(b *testing.B) {
	lm := NewLockManager()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		lm.TryLock("bench")
		lm.Unlock("bench")
	}
}

func BenchmarkLockManager_ConcurrentLocks(b *testing.B) {
	lm := NewLockManager()
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			key := string(rune('0' + (i % 10)))
			if err := lm.Lock(ctx, key); err == nil {
				lm.Unlock(key)
			}
			i++
		}
	})
}
