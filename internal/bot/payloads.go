package bot

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"trivia-game-bot/internal/event"
)

const (
	payloadTTL    = time.Hour
	janitorPeriod = 10 * time.Minute
)

// payloadStore keeps inline-button payloads server-side, keyed by an opaque
// token placed in the callback data. Telegram caps callback data at 64
// bytes, far too small for the structured payloads the game attaches to its
// buttons. Entries expire after payloadTTL; pressing an evicted button is
// reported to the user as an expired action.
type payloadStore struct {
	mu      sync.Mutex
	entries map[string]payloadEntry
}

type payloadEntry struct {
	payload event.Payload
	addedAt time.Time
}

func newPayloadStore() *payloadStore {
	return &payloadStore{entries: make(map[string]payloadEntry)}
}

// Put stores the payload and returns the token to embed in callback data.
func (s *payloadStore) Put(p event.Payload) string {
	key := uuid.NewString()
	s.mu.Lock()
	s.entries[key] = payloadEntry{payload: p, addedAt: time.Now()}
	s.mu.Unlock()
	return key
}

// Get resolves a token back to its payload. The entry stays until the
// janitor evicts it, since several presses of the same button are valid.
func (s *payloadStore) Get(key string) (event.Payload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	return entry.payload, ok
}

// runJanitor evicts expired entries until ctx is cancelled.
func (s *payloadStore) runJanitor(ctx context.Context) {
	ticker := time.NewTicker(janitorPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.evictExpired()
		case <-ctx.Done():
			return
		}
	}
}

func (s *payloadStore) evictExpired() {
	cutoff := time.Now().Add(-payloadTTL)

	s.mu.Lock()
	removed := 0
	for key, entry := range s.entries {
		if entry.addedAt.Before(cutoff) {
			delete(s.entries, key)
			removed++
		}
	}
	remaining := len(s.entries)
	s.mu.Unlock()

	if removed > 0 {
		log.Debug().
			Int("removed", removed).
			Int("remaining", remaining).
			Msg("Evicted expired button payloads")
	}
}
