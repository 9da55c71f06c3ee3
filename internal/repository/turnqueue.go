package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// ErrQueueEmpty is returned when a session's responder queue has no entries.
var ErrQueueEmpty = errors.New("responder queue is empty")

// TurnQueueStore keeps, per session, the rotating responder queue and the set
// of already-asked question ids, both as redis lists. Rotation never changes
// the queue length; only elimination shrinks it.
type TurnQueueStore struct {
	rdb *redis.Client
}

// NewTurnQueueStore creates a new TurnQueueStore instance.
func NewTurnQueueStore(rdb *redis.Client) *TurnQueueStore {
	return &TurnQueueStore{rdb: rdb}
}

func queueKey(sessionID int64) string {
	return fmt.Sprintf("queue:%d", sessionID)
}

func answeredKey(sessionID int64) string {
	return fmt.Sprintf("answered:%d", sessionID)
}

// Seed replaces the session's queue with the given responder ids, in order.
func (s *TurnQueueStore) Seed(ctx context.Context, sessionID int64, userIDs []int64) error {
	key := queueKey(sessionID)
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to reset queue: %w", err)
	}
	if len(userIDs) == 0 {
		return nil
	}
	values := make([]any, len(userIDs))
	for i, id := range userIDs {
		values[i] = id
	}
	if err := s.rdb.RPush(ctx, key, values...).Err(); err != nil {
		return fmt.Errorf("failed to seed queue: %w", err)
	}
	return nil
}

// Current peeks the responder at the front of the queue.
func (s *TurnQueueStore) Current(ctx context.Context, sessionID int64) (int64, error) {
	val, err := s.rdb.LIndex(ctx, queueKey(sessionID), 0).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, ErrQueueEmpty
		}
		return 0, fmt.Errorf("failed to peek queue: %w", err)
	}
	return parseID(val)
}

// Advance rotates the front responder to the back and returns the new front.
func (s *TurnQueueStore) Advance(ctx context.Context, sessionID int64) (int64, error) {
	key := queueKey(sessionID)
	val, err := s.rdb.LPop(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, ErrQueueEmpty
		}
		return 0, fmt.Errorf("failed to rotate queue: %w", err)
	}
	if err := s.rdb.RPush(ctx, key, val).Err(); err != nil {
		return 0, fmt.Errorf("failed to rotate queue: %w", err)
	}
	return s.Current(ctx, sessionID)
}

// EliminateCurrent removes the front responder without rotating.
func (s *TurnQueueStore) EliminateCurrent(ctx context.Context, sessionID int64) error {
	err := s.rdb.LPop(ctx, queueKey(sessionID)).Err()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrQueueEmpty
		}
		return fmt.Errorf("failed to eliminate responder: %w", err)
	}
	return nil
}

// Length returns the number of still-eligible responders.
func (s *TurnQueueStore) Length(ctx context.Context, sessionID int64) (int, error) {
	n, err := s.rdb.LLen(ctx, queueKey(sessionID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to measure queue: %w", err)
	}
	return int(n), nil
}

// Clear deletes the session's queue and answered-question entries.
// Invoked on every terminal transition.
func (s *TurnQueueStore) Clear(ctx context.Context, sessionID int64) error {
	if err := s.rdb.Del(ctx, queueKey(sessionID), answeredKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}
	return nil
}

// AddAnswered records a question id as used within the session.
func (s *TurnQueueStore) AddAnswered(ctx context.Context, sessionID, questionID int64) error {
	if err := s.rdb.RPush(ctx, answeredKey(sessionID), questionID).Err(); err != nil {
		return fmt.Errorf("failed to record answered question: %w", err)
	}
	return nil
}

// AnsweredQuestions returns every question id already used in the session.
func (s *TurnQueueStore) AnsweredQuestions(ctx context.Context, sessionID int64) ([]int64, error) {
	vals, err := s.rdb.LRange(ctx, answeredKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read answered questions: %w", err)
	}
	ids := make([]int64, 0, len(vals))
	for _, v := range vals {
		id, err := parseID(v)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseID(val string) (int64, error) {
	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed queue entry %q: %w", val, err)
	}
	return id, nil
}
