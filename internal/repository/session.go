// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"trivia-game-bot/internal/model"
)

// Common errors for repository operations.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrPlayerNotFound  = errors.New("player not found")
	ErrStatusNotFound  = errors.New("player status not found")
)

const sessionColumns = `id, chat_id, started_by, status, move_number, response_time,
	session_duration, answering_user_id, question_asked, start_message_id,
	winner_id, started_at, finished_at`

// SessionRepository handles game session persistence.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository instance.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

func scanSession(row pgx.Row) (*model.Session, error) {
	var s model.Session
	err := row.Scan(
		&s.ID,
		&s.ChatID,
		&s.StartedBy,
		&s.Status,
		&s.MoveNumber,
		&s.ResponseTime,
		&s.SessionDuration,
		&s.AnsweringUserID,
		&s.QuestionAsked,
		&s.StartMessageID,
		&s.WinnerID,
		&s.StartedAt,
		&s.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	return &s, nil
}

// Create inserts a new session in the Prepared state with move number 0.
func (r *SessionRepository) Create(ctx context.Context, chatID, startedBy int64, responseTime, sessionDuration int) (*model.Session, error) {
	query := `
		INSERT INTO sessions (chat_id, started_by, status, move_number, response_time, session_duration, question_asked, started_at)
		VALUES ($1, $2, $3, 0, $4, $5, FALSE, NOW())
		RETURNING ` + sessionColumns

	return scanSession(r.pool.QueryRow(ctx, query,
		chatID, startedBy, model.StatusPrepared, responseTime, sessionDuration))
}

// GetByID retrieves a session by its identifier.
func (r *SessionRepository) GetByID(ctx context.Context, id int64) (*model.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	return scanSession(r.pool.QueryRow(ctx, query, id))
}

// GetLiveByChat retrieves the chat's session in a live state
// (Prepared or Active). Returns ErrSessionNotFound if none exists.
func (r *SessionRepository) GetLiveByChat(ctx context.Context, chatID int64) (*model.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE chat_id = $1 AND status IN ($2, $3)
		ORDER BY id DESC
		LIMIT 1`

	return scanSession(r.pool.QueryRow(ctx, query,
		chatID, model.StatusPrepared, model.StatusActive))
}

// Update persists the session's mutable fields.
func (r *SessionRepository) Update(ctx context.Context, s *model.Session) error {
	const query = `
		UPDATE sessions
		SET status = $2,
			move_number = $3,
			response_time = $4,
			session_duration = $5,
			answering_user_id = $6,
			question_asked = $7,
			start_message_id = $8,
			winner_id = $9,
			finished_at = $10
		WHERE id = $1`

	result, err := r.pool.Exec(ctx, query,
		s.ID,
		s.Status,
		s.MoveNumber,
		s.ResponseTime,
		s.SessionDuration,
		s.AnsweringUserID,
		s.QuestionAsked,
		s.StartMessageID,
		s.WinnerID,
		s.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}
