// Package timer schedules delayed, cancellable callbacks scoped to a game
// session: the preparation timeout, per-turn answer timeouts and the overall
// session deadline.
//
// The registry only delivers the firing; it never inspects game state. A
// callback may race a state transition, so every callback must re-read the
// session and verify status and move number before acting.
package timer

import (
	"context"
	"sync"
	"time"
)

// Callback runs when a scheduled timer fires. The context is cancelled on
// registry shutdown.
type Callback = func(ctx context.Context)

type handle struct {
	id     uint64
	cancel context.CancelFunc
}

// Registry tracks pending timers per session id. Cancellation is driven by
// explicit insert/remove on session transitions: CancelAll is invoked on
// every terminal transition.
type Registry struct {
	mu     sync.Mutex
	timers map[int64][]*handle
	nextID uint64

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRegistry creates an empty timer registry.
func NewRegistry() *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		timers:  make(map[int64][]*handle),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Schedule starts a cancellable delayed task bound to the session id.
// The callback runs in its own goroutine after the delay unless the handle is
// cancelled first.
func (r *Registry) Schedule(sessionID int64, delay time.Duration, fn Callback) {
	r.mu.Lock()
	if r.baseCtx.Err() != nil {
		r.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(r.baseCtx)
	h := &handle{id: r.nextID, cancel: cancel}
	r.nextID++
	r.timers[sessionID] = append(r.timers[sessionID], h)
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
			// Forget the handle before running so CancelAll issued from
			// within the callback cannot deadlock on this entry.
			r.remove(sessionID, h.id)
			fn(ctx)
		case <-ctx.Done():
		}
	}()
}

// CancelAll cancels and forgets every pending timer for the session.
func (r *Registry) CancelAll(sessionID int64) {
	r.mu.Lock()
	handles := r.timers[sessionID]
	delete(r.timers, sessionID)
	r.mu.Unlock()

	for _, h := range handles {
		h.cancel()
	}
}

// Pending returns the number of timers currently armed for the session.
func (r *Registry) Pending(sessionID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers[sessionID])
}

// Shutdown cancels every pending timer and waits for in-flight callbacks.
func (r *Registry) Shutdown() {
	r.cancel()
	r.wg.Wait()

	r.mu.Lock()
	r.timers = make(map[int64][]*handle)
	r.mu.Unlock()
}

func (r *Registry) remove(sessionID int64, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	handles := r.timers[sessionID]
	for i, h := range handles {
		if h.id == id {
			r.timers[sessionID] = append(handles[:i], handles[i+1:]...)
			break
		}
	}
	if len(r.timers[sessionID]) == 0 {
		delete(r.timers, sessionID)
	}
}
