// Property-based tests for per-chat event serialization.
package lock

import (
	"sync"
	"sync/atomic"
	"testing"

	"pgregory.net/rapid"
)

// TestSerializedMutationProperty checks that for any set of concurrent
// read-modify-write operations against the same chat, the final value matches
// sequential execution.
func TestSerializedMutationProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		chatID := rapid.Int64Range(1, 1_000_000).Draw(t, "chatID")
		numOps := rapid.IntRange(2, 30).Draw(t, "numOps")

		deltas := make([]int, numOps)
		expected := 0
		for i := range deltas {
			deltas[i] = rapid.IntRange(-5, 5).Draw(t, "delta")
			expected += deltas[i]
		}

		cl := NewChatLock()
		counter := 0

		var wg sync.WaitGroup
		wg.Add(numOps)
		for _, d := range deltas {
			go func(d int) {
				defer wg.Done()
				cl.Lock(chatID)
				defer cl.Unlock(chatID)
				counter += d
			}(d)
		}
		wg.Wait()

		if counter != expected {
			t.Fatalf("counter mismatch with locking: expected %d, got %d", expected, counter)
		}
	})
}

// TestIndependentChatsProperty checks that locks for different chats do not
// interfere with each other's counters.
func TestIndependentChatsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		numChats := rapid.IntRange(2, 8).Draw(t, "numChats")
		opsPerChat := rapid.IntRange(5, 20).Draw(t, "opsPerChat")

		cl := NewChatLock()
		counters := make([]int, numChats)

		var wg sync.WaitGroup
		wg.Add(numChats * opsPerChat)
		for c := 0; c < numChats; c++ {
			for i := 0; i < opsPerChat; i++ {
				go func(c int) {
					defer wg.Done()
					chatID := int64(c + 1)
					cl.Lock(chatID)
					defer cl.Unlock(chatID)
					counters[c]++
				}(c)
			}
		}
		wg.Wait()

		for c := 0; c < numChats; c++ {
			if counters[c] != opsPerChat {
				t.Fatalf("chat %d counter mismatch: expected %d, got %d", c+1, opsPerChat, counters[c])
			}
		}
	})
}

// TestNoConcurrentHoldersProperty checks that at most one goroutine holds a
// chat's lock at any moment.
func TestNoConcurrentHoldersProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		chatID := rapid.Int64Range(1, 1_000_000).Draw(t, "chatID")
		numOps := rapid.IntRange(2, 30).Draw(t, "numOps")

		cl := NewChatLock()

		var inside atomic.Int32
		var violations atomic.Int32
		var wg sync.WaitGroup
		wg.Add(numOps)
		for i := 0; i < numOps; i++ {
			go func() {
				defer wg.Done()
				_ = cl.WithLock(chatID, func() error {
					if inside.Add(1) > 1 {
						violations.Add(1)
					}
					inside.Add(-1)
					return nil
				})
			}()
		}
		wg.Wait()

		if violations.Load() != 0 {
			t.Fatalf("detected %d concurrent critical section entries", violations.Load())
		}
	})
}

// TestLockUnlockSymmetry checks the lock is free after matched lock/unlock cycles.
func TestLockUnlockSymmetry(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		chatID := rapid.Int64Range(1, 1_000_000).Draw(t, "chatID")
		numCycles := rapid.IntRange(1, 50).Draw(t, "numCycles")

		cl := NewChatLock()
		for i := 0; i < numCycles; i++ {
			cl.Lock(chatID)
			cl.Unlock(chatID)
		}

		if !cl.TryLock(chatID) {
			t.Fatal("lock should be available after symmetric lock/unlock cycles")
		}
		cl.Unlock(chatID)
	})
}
