package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"trivia-game-bot/internal/model"
)

// PlayerRepository handles player and per-session player status persistence.
type PlayerRepository struct {
	pool *pgxpool.Pool
}

// NewPlayerRepository creates a new PlayerRepository instance.
func NewPlayerRepository(pool *pgxpool.Pool) *PlayerRepository {
	return &PlayerRepository{pool: pool}
}

const playerColumns = `id, chat_user_id, first_name, last_name, games_count, wins_count, loses_count`

func scanPlayer(row pgx.Row) (*model.Player, error) {
	var p model.Player
	err := row.Scan(
		&p.ID,
		&p.ChatUserID,
		&p.FirstName,
		&p.LastName,
		&p.GamesCount,
		&p.WinsCount,
		&p.LosesCount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPlayerNotFound
		}
		return nil, fmt.Errorf("failed to scan player: %w", err)
	}
	return &p, nil
}

// Create inserts a new player with zeroed statistics.
func (r *PlayerRepository) Create(ctx context.Context, chatUserID int64, firstName, lastName string) (*model.Player, error) {
	query := `
		INSERT INTO players (chat_user_id, first_name, last_name, games_count, wins_count, loses_count)
		VALUES ($1, $2, $3, 0, 0, 0)
		RETURNING ` + playerColumns

	return scanPlayer(r.pool.QueryRow(ctx, query, chatUserID, firstName, lastName))
}

// GetByChatUserID retrieves a player by their chat platform user id.
// Returns ErrPlayerNotFound if the player does not exist.
func (r *PlayerRepository) GetByChatUserID(ctx context.Context, chatUserID int64) (*model.Player, error) {
	query := `SELECT ` + playerColumns + ` FROM players WHERE chat_user_id = $1`
	return scanPlayer(r.pool.QueryRow(ctx, query, chatUserID))
}

// GetOrCreate retrieves a player, creating one on first contact.
func (r *PlayerRepository) GetOrCreate(ctx context.Context, chatUserID int64, firstName, lastName string) (*model.Player, error) {
	player, err := r.GetByChatUserID(ctx, chatUserID)
	if err == nil {
		return player, nil
	}
	if !errors.Is(err, ErrPlayerNotFound) {
		return nil, err
	}

	player, err = r.Create(ctx, chatUserID, firstName, lastName)
	if err != nil {
		// Handle race condition: another event might have created the player.
		player, err = r.GetByChatUserID(ctx, chatUserID)
		if err != nil {
			return nil, err
		}
	}
	return player, nil
}

// Update persists the player's cumulative counters and name.
func (r *PlayerRepository) Update(ctx context.Context, p *model.Player) error {
	const query = `
		UPDATE players
		SET first_name = $2, last_name = $3, games_count = $4, wins_count = $5, loses_count = $6
		WHERE id = $1`

	result, err := r.pool.Exec(ctx, query,
		p.ID, p.FirstName, p.LastName, p.GamesCount, p.WinsCount, p.LosesCount)
	if err != nil {
		return fmt.Errorf("failed to update player: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrPlayerNotFound
	}
	return nil
}

const statusColumns = `id, player_id, session_id, difficulty_id, right_answers, wrong_answers, is_won, is_lost`

func scanStatus(row pgx.Row) (*model.PlayerStatus, error) {
	var st model.PlayerStatus
	err := row.Scan(
		&st.ID,
		&st.PlayerID,
		&st.SessionID,
		&st.DifficultyID,
		&st.RightAnswers,
		&st.WrongAnswers,
		&st.IsWon,
		&st.IsLost,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStatusNotFound
		}
		return nil, fmt.Errorf("failed to scan player status: %w", err)
	}
	return &st, nil
}

// CreateStatus inserts a status row linking a player to a session with the
// given difficulty. Unique per (player, session).
func (r *PlayerRepository) CreateStatus(ctx context.Context, playerID, sessionID, difficultyID int64) (*model.PlayerStatus, error) {
	query := `
		INSERT INTO player_statuses (player_id, session_id, difficulty_id, right_answers, wrong_answers, is_won, is_lost)
		VALUES ($1, $2, $3, 0, 0, FALSE, FALSE)
		RETURNING ` + statusColumns

	return scanStatus(r.pool.QueryRow(ctx, query, playerID, sessionID, difficultyID))
}

// GetStatus retrieves the status row for a (player, session) pair.
// Returns ErrStatusNotFound if the player has not joined the session.
func (r *PlayerRepository) GetStatus(ctx context.Context, playerID, sessionID int64) (*model.PlayerStatus, error) {
	query := `SELECT ` + statusColumns + ` FROM player_statuses WHERE player_id = $1 AND session_id = $2`
	return scanStatus(r.pool.QueryRow(ctx, query, playerID, sessionID))
}

// UpdateStatus persists the status counters and terminal flags.
func (r *PlayerRepository) UpdateStatus(ctx context.Context, st *model.PlayerStatus) error {
	const query = `
		UPDATE player_statuses
		SET right_answers = $2, wrong_answers = $3, is_won = $4, is_lost = $5
		WHERE id = $1`

	result, err := r.pool.Exec(ctx, query,
		st.ID, st.RightAnswers, st.WrongAnswers, st.IsWon, st.IsLost)
	if err != nil {
		return fmt.Errorf("failed to update player status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrStatusNotFound
	}
	return nil
}

// CountBySession returns the number of players who joined the session.
func (r *PlayerRepository) CountBySession(ctx context.Context, sessionID int64) (int, error) {
	const query = `SELECT COUNT(*) FROM player_statuses WHERE session_id = $1`

	var count int
	if err := r.pool.QueryRow(ctx, query, sessionID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count player statuses: %w", err)
	}
	return count, nil
}

// ListStandings returns every status in the session joined with its player
// and difficulty, ordered by ascending difficulty id then join order.
func (r *PlayerRepository) ListStandings(ctx context.Context, sessionID int64) ([]model.PlayerStanding, error) {
	const query = `
		SELECT ps.id, ps.player_id, ps.session_id, ps.difficulty_id,
			ps.right_answers, ps.wrong_answers, ps.is_won, ps.is_lost,
			p.id, p.chat_user_id, p.first_name, p.last_name,
			p.games_count, p.wins_count, p.loses_count,
			d.id, d.title, d.right_answers_to_win, d.wrong_answers_to_lose
		FROM player_statuses ps
		JOIN players p ON p.id = ps.player_id
		JOIN difficulties d ON d.id = ps.difficulty_id
		WHERE ps.session_id = $1
		ORDER BY ps.difficulty_id ASC, ps.id ASC`

	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list standings: %w", err)
	}
	defer rows.Close()

	var standings []model.PlayerStanding
	for rows.Next() {
		var s model.PlayerStanding
		err := rows.Scan(
			&s.PlayerStatus.ID,
			&s.PlayerStatus.PlayerID,
			&s.PlayerStatus.SessionID,
			&s.PlayerStatus.DifficultyID,
			&s.PlayerStatus.RightAnswers,
			&s.PlayerStatus.WrongAnswers,
			&s.PlayerStatus.IsWon,
			&s.PlayerStatus.IsLost,
			&s.Player.ID,
			&s.Player.ChatUserID,
			&s.Player.FirstName,
			&s.Player.LastName,
			&s.Player.GamesCount,
			&s.Player.WinsCount,
			&s.Player.LosesCount,
			&s.Difficulty.ID,
			&s.Difficulty.Title,
			&s.Difficulty.RightAnswersToWin,
			&s.Difficulty.WrongAnswersToLose,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan standing: %w", err)
		}
		standings = append(standings, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating standings: %w", err)
	}
	return standings, nil
}
