package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"trivia-game-bot/internal/config"
	"trivia-game-bot/internal/model"
)

// ErrDifficultyNotFound is returned when no difficulty matches the lookup.
var ErrDifficultyNotFound = errors.New("difficulty not found")

// DifficultyRepository handles the fixed difficulty set.
type DifficultyRepository struct {
	pool *pgxpool.Pool
}

// NewDifficultyRepository creates a new DifficultyRepository instance.
func NewDifficultyRepository(pool *pgxpool.Pool) *DifficultyRepository {
	return &DifficultyRepository{pool: pool}
}

const difficultyColumns = `id, title, right_answers_to_win, wrong_answers_to_lose`

func scanDifficulty(row pgx.Row) (*model.Difficulty, error) {
	var d model.Difficulty
	err := row.Scan(&d.ID, &d.Title, &d.RightAnswersToWin, &d.WrongAnswersToLose)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDifficultyNotFound
		}
		return nil, fmt.Errorf("failed to scan difficulty: %w", err)
	}
	return &d, nil
}

// GetByID retrieves a difficulty by its identifier.
func (r *DifficultyRepository) GetByID(ctx context.Context, id int64) (*model.Difficulty, error) {
	query := `SELECT ` + difficultyColumns + ` FROM difficulties WHERE id = $1`
	return scanDifficulty(r.pool.QueryRow(ctx, query, id))
}

// GetRandom picks one difficulty uniformly at random from the configured set.
func (r *DifficultyRepository) GetRandom(ctx context.Context) (*model.Difficulty, error) {
	query := `SELECT ` + difficultyColumns + ` FROM difficulties ORDER BY random() LIMIT 1`
	return scanDifficulty(r.pool.QueryRow(ctx, query))
}

// Seed inserts the configured difficulty set, skipping titles that already
// exist. Called once at startup.
func (r *DifficultyRepository) Seed(ctx context.Context, difficulties []config.DifficultyConfig) error {
	const query = `
		INSERT INTO difficulties (title, right_answers_to_win, wrong_answers_to_lose)
		VALUES ($1, $2, $3)
		ON CONFLICT (title) DO NOTHING`

	for _, d := range difficulties {
		if _, err := r.pool.Exec(ctx, query, d.Title, d.RightAnswersToWin, d.WrongAnswersToLose); err != nil {
			return fmt.Errorf("failed to seed difficulty %q: %w", d.Title, err)
		}
	}
	return nil
}
