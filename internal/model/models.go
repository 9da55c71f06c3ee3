// Package model defines the data models for the trivia game bot.
package model

import "time"

// SessionStatus is the lifecycle state of a game session.
type SessionStatus string

// Session lifecycle states.
const (
	StatusPrepared    SessionStatus = "Prepared"
	StatusActive      SessionStatus = "Active"
	StatusFinished    SessionStatus = "Finished"
	StatusInterrupted SessionStatus = "Interrupted"
)

// IsLive reports whether the session still accepts events.
func (s SessionStatus) IsLive() bool {
	return s == StatusPrepared || s == StatusActive
}

// IsTerminal reports whether the session reached a final state.
func (s SessionStatus) IsTerminal() bool {
	return s == StatusFinished || s == StatusInterrupted
}

// Session default timings and configurable bounds, in seconds.
const (
	DefaultResponseTime    = 30
	DefaultSessionDuration = 1800

	MinResponseTime    = 10
	MaxResponseTime    = 60
	MinSessionDuration = 120
	MaxSessionDuration = 3600
)

// Session represents one played-or-playing game in a chat.
// At most one session per chat may be in a live state at any time.
type Session struct {
	ID              int64         `db:"id"`
	ChatID          int64         `db:"chat_id"`
	StartedBy       int64         `db:"started_by"`
	Status          SessionStatus `db:"status"`
	MoveNumber      int           `db:"move_number"`
	ResponseTime    int           `db:"response_time"`
	SessionDuration int           `db:"session_duration"`
	AnsweringUserID *int64        `db:"answering_user_id"`
	QuestionAsked   bool          `db:"question_asked"`
	StartMessageID  *int          `db:"start_message_id"`
	WinnerID        *int64        `db:"winner_id"`
	StartedAt       time.Time     `db:"started_at"`
	FinishedAt      *time.Time    `db:"finished_at"`
}

// Player is a chat platform user with cumulative game statistics.
type Player struct {
	ID         int64  `db:"id"`
	ChatUserID int64  `db:"chat_user_id"`
	FirstName  string `db:"first_name"`
	LastName   string `db:"last_name"`
	GamesCount int    `db:"games_count"`
	WinsCount  int    `db:"wins_count"`
	LosesCount int    `db:"loses_count"`
}

// DisplayName returns the player's name for chat messages.
func (p *Player) DisplayName() string {
	if p.LastName == "" {
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

// PlayerStatus tracks a player's progress within one session.
// It is terminal once IsWon or IsLost is set.
type PlayerStatus struct {
	ID           int64 `db:"id"`
	PlayerID     int64 `db:"player_id"`
	SessionID    int64 `db:"session_id"`
	DifficultyID int64 `db:"difficulty_id"`
	RightAnswers int   `db:"right_answers"`
	WrongAnswers int   `db:"wrong_answers"`
	IsWon        bool  `db:"is_won"`
	IsLost       bool  `db:"is_lost"`
}

// PlayerStanding joins a PlayerStatus with its player and difficulty
// for roster and standings messages.
type PlayerStanding struct {
	PlayerStatus
	Player     Player
	Difficulty Difficulty
}

// Difficulty holds the win/loss thresholds assigned to a player at join time.
type Difficulty struct {
	ID                 int64  `db:"id"`
	Title              string `db:"title"`
	RightAnswersToWin  int    `db:"right_answers_to_win"`
	WrongAnswersToLose int    `db:"wrong_answers_to_lose"`
}

// Theme is a question category.
type Theme struct {
	ID    int64  `db:"id"`
	Title string `db:"title"`
}

// Question belongs to a theme and a difficulty and has exactly one
// correct answer.
type Question struct {
	ID           int64  `db:"id"`
	Title        string `db:"title"`
	ThemeID      int64  `db:"theme_id"`
	DifficultyID int64  `db:"difficulty_id"`
	Answers      []Answer
}

// Answer is one of a question's options.
type Answer struct {
	ID         int64  `db:"id"`
	QuestionID int64  `db:"question_id"`
	Title      string `db:"title"`
	IsCorrect  bool   `db:"is_correct"`
}
