package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"trivia-game-bot/internal/model"
)

// QuizRepository provides read access to themes, questions and answers.
// Content management happens through the admin surface; the game only reads.
type QuizRepository struct {
	pool *pgxpool.Pool
}

// NewQuizRepository creates a new QuizRepository instance.
func NewQuizRepository(pool *pgxpool.Pool) *QuizRepository {
	return &QuizRepository{pool: pool}
}

// ListThemes returns every theme.
func (r *QuizRepository) ListThemes(ctx context.Context) ([]model.Theme, error) {
	const query = `SELECT id, title FROM themes ORDER BY id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list themes: %w", err)
	}
	defer rows.Close()

	var themes []model.Theme
	for rows.Next() {
		var t model.Theme
		if err := rows.Scan(&t.ID, &t.Title); err != nil {
			return nil, fmt.Errorf("failed to scan theme: %w", err)
		}
		themes = append(themes, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating themes: %w", err)
	}
	return themes, nil
}

// ListQuestions returns every question of the theme at the given difficulty,
// excluding the already-asked ids, with answers attached.
func (r *QuizRepository) ListQuestions(ctx context.Context, themeID, difficultyID int64, excludeIDs []int64) ([]model.Question, error) {
	const query = `
		SELECT id, title, theme_id, difficulty_id
		FROM questions
		WHERE theme_id = $1 AND difficulty_id = $2 AND NOT (id = ANY($3))
		ORDER BY id`

	if excludeIDs == nil {
		excludeIDs = []int64{}
	}

	rows, err := r.pool.Query(ctx, query, themeID, difficultyID, excludeIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list questions: %w", err)
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.Title, &q.ThemeID, &q.DifficultyID); err != nil {
			return nil, fmt.Errorf("failed to scan question: %w", err)
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating questions: %w", err)
	}

	for i := range questions {
		answers, err := r.listAnswers(ctx, questions[i].ID)
		if err != nil {
			return nil, err
		}
		questions[i].Answers = answers
	}
	return questions, nil
}

func (r *QuizRepository) listAnswers(ctx context.Context, questionID int64) ([]model.Answer, error) {
	const query = `SELECT id, question_id, title, is_correct FROM answers WHERE question_id = $1 ORDER BY id`

	rows, err := r.pool.Query(ctx, query, questionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list answers: %w", err)
	}
	defer rows.Close()

	var answers []model.Answer
	for rows.Next() {
		var a model.Answer
		if err := rows.Scan(&a.ID, &a.QuestionID, &a.Title, &a.IsCorrect); err != nil {
			return nil, fmt.Errorf("failed to scan answer: %w", err)
		}
		answers = append(answers, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating answers: %w", err)
	}
	return answers, nil
}
