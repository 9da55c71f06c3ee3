// Package lock provides chat-level locking so that events belonging to the
// same chat are processed strictly one at a time, while events for different
// chats proceed in parallel.
package lock

import "sync"

// chatMutex wraps a mutex with reference counting for pooling.
type chatMutex struct {
	mu       sync.Mutex
	refCount int
}

// ChatLock provides per-chat mutual exclusion. Dispatcher workers take the
// chat's lock before invoking the orchestrator, and orchestrator timer
// callbacks take the same lock before firing, which serializes turn-queue
// and session mutations within one chat.
type ChatLock struct {
	locks sync.Map // map[int64]*chatMutex
	pool  sync.Pool
}

// NewChatLock creates a new ChatLock instance.
func NewChatLock() *ChatLock {
	return &ChatLock{
		pool: sync.Pool{
			New: func() any {
				return &chatMutex{}
			},
		},
	}
}

// getLock retrieves or creates a mutex for the given chat ID.
func (cl *ChatLock) getLock(chatID int64) *chatMutex {
	if v, ok := cl.locks.Load(chatID); ok {
		return v.(*chatMutex)
	}

	newLock := cl.pool.Get().(*chatMutex)
	newLock.refCount = 0

	actual, loaded := cl.locks.LoadOrStore(chatID, newLock)
	if loaded {
		// Another goroutine created the lock first, return ours to pool.
		cl.pool.Put(newLock)
	}
	return actual.(*chatMutex)
}

// Lock acquires the lock for a chat.
func (cl *ChatLock) Lock(chatID int64) {
	l := cl.getLock(chatID)
	l.mu.Lock()
	l.refCount++
}

// Unlock releases the lock for a chat.
func (cl *ChatLock) Unlock(chatID int64) {
	if v, ok := cl.locks.Load(chatID); ok {
		l := v.(*chatMutex)
		l.refCount--
		l.mu.Unlock()
	}
}

// TryLock attempts to acquire the lock without blocking.
// Returns true if the lock was acquired, false otherwise.
func (cl *ChatLock) TryLock(chatID int64) bool {
	l := cl.getLock(chatID)
	if l.mu.TryLock() {
		l.refCount++
		return true
	}
	return false
}

// WithLock executes a function while holding the chat's lock.
func (cl *ChatLock) WithLock(chatID int64, fn func() error) error {
	cl.Lock(chatID)
	defer cl.Unlock(chatID)
	return fn()
}
