// Package game implements the session orchestrator: the state machine that
// drives one trivia session per chat through preparation, active play and
// termination.
//
// All work for one chat runs under that chat's lock: the dispatcher takes it
// before delivering an event, and timer callbacks take the same lock before
// acting. On top of that, state-changing button payloads carry the session id
// and move number they were issued under, and every timer callback re-reads
// the session, so actions superseded while waiting for the lock become no-ops.
package game

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"trivia-game-bot/internal/event"
	"trivia-game-bot/internal/model"
	"trivia-game-bot/internal/pkg/lock"
)

// SessionStore is the persistence gateway for sessions.
type SessionStore interface {
	Create(ctx context.Context, chatID, startedBy int64, responseTime, sessionDuration int) (*model.Session, error)
	GetByID(ctx context.Context, id int64) (*model.Session, error)
	// GetLiveByChat returns the chat's Prepared or Active session, or
	// repository.ErrSessionNotFound.
	GetLiveByChat(ctx context.Context, chatID int64) (*model.Session, error)
	Update(ctx context.Context, s *model.Session) error
}

// PlayerStore is the persistence gateway for players and their per-session
// statuses.
type PlayerStore interface {
	GetOrCreate(ctx context.Context, chatUserID int64, firstName, lastName string) (*model.Player, error)
	GetByChatUserID(ctx context.Context, chatUserID int64) (*model.Player, error)
	Update(ctx context.Context, p *model.Player) error
	CreateStatus(ctx context.Context, playerID, sessionID, difficultyID int64) (*model.PlayerStatus, error)
	// GetStatus returns repository.ErrStatusNotFound when the player has not
	// joined the session.
	GetStatus(ctx context.Context, playerID, sessionID int64) (*model.PlayerStatus, error)
	UpdateStatus(ctx context.Context, st *model.PlayerStatus) error
	CountBySession(ctx context.Context, sessionID int64) (int, error)
	ListStandings(ctx context.Context, sessionID int64) ([]model.PlayerStanding, error)
}

// DifficultyStore reads the fixed difficulty set.
type DifficultyStore interface {
	GetByID(ctx context.Context, id int64) (*model.Difficulty, error)
	GetRandom(ctx context.Context) (*model.Difficulty, error)
}

// QuizStore reads themes and questions.
type QuizStore interface {
	ListThemes(ctx context.Context) ([]model.Theme, error)
	ListQuestions(ctx context.Context, themeID, difficultyID int64, excludeIDs []int64) ([]model.Question, error)
}

// TurnQueue maintains, per session, the rotation of players still eligible to
// answer, plus the set of already-asked question ids.
type TurnQueue interface {
	Seed(ctx context.Context, sessionID int64, userIDs []int64) error
	Current(ctx context.Context, sessionID int64) (int64, error)
	Advance(ctx context.Context, sessionID int64) (int64, error)
	EliminateCurrent(ctx context.Context, sessionID int64) error
	Length(ctx context.Context, sessionID int64) (int, error)
	Clear(ctx context.Context, sessionID int64) error
	AddAnswered(ctx context.Context, sessionID, questionID int64) error
	AnsweredQuestions(ctx context.Context, sessionID int64) ([]int64, error)
}

// Timers schedules session-scoped cancellable callbacks.
type Timers interface {
	Schedule(sessionID int64, delay time.Duration, fn func(ctx context.Context))
	CancelAll(sessionID int64)
}

// Button is an outbound labeled action button.
type Button struct {
	Label   string
	Payload event.Payload
}

// Messenger sends outbound effects to the chat platform.
type Messenger interface {
	// Send posts a message, optionally with buttons, and returns its id.
	Send(ctx context.Context, chatID int64, text string, buttons []Button) (int, error)
	// Edit replaces a previously sent message's text and buttons.
	Edit(ctx context.Context, chatID int64, messageID int, text string, buttons []Button) error
	// Notify answers a callback with an ephemeral notice visible only to the
	// pressing user.
	Notify(ctx context.Context, callbackID, text string) error
}

// Config holds orchestrator timing parameters.
type Config struct {
	PrepTimeout            time.Duration
	DefaultResponseTime    int
	DefaultSessionDuration int
	ThemeSampleSize        int
}

// Orchestrator is the session state machine for all chats. Inbound events of
// one chat must be serialized by the caller under the ChatLock passed to New;
// timer callbacks acquire that same lock themselves before touching state, so
// a timer firing can never interleave with an in-flight event for the chat.
type Orchestrator struct {
	sessions     SessionStore
	players      PlayerStore
	difficulties DifficultyStore
	quiz         QuizStore
	queue        TurnQueue
	timers       Timers
	msgr         Messenger
	locks        *lock.ChatLock
	cfg          Config
}

// New creates an Orchestrator.
func New(
	sessions SessionStore,
	players PlayerStore,
	difficulties DifficultyStore,
	quiz QuizStore,
	queue TurnQueue,
	timers Timers,
	msgr Messenger,
	locks *lock.ChatLock,
	cfg Config,
) *Orchestrator {
	if locks == nil {
		locks = lock.NewChatLock()
	}
	if cfg.PrepTimeout <= 0 {
		cfg.PrepTimeout = 30 * time.Second
	}
	if cfg.DefaultResponseTime <= 0 {
		cfg.DefaultResponseTime = model.DefaultResponseTime
	}
	if cfg.DefaultSessionDuration <= 0 {
		cfg.DefaultSessionDuration = model.DefaultSessionDuration
	}
	if cfg.ThemeSampleSize <= 0 {
		cfg.ThemeSampleSize = 3
	}
	return &Orchestrator{
		sessions:     sessions,
		players:      players,
		difficulties: difficulties,
		quiz:         quiz,
		queue:        queue,
		timers:       timers,
		msgr:         msgr,
		locks:        locks,
		cfg:          cfg,
	}
}

// HandleEvent processes one inbound chat event. Transport and persistence
// failures propagate to the caller; rejected actions (stale buttons, turn
// violations, precondition violations) are answered ephemerally and do not
// mutate state.
func (o *Orchestrator) HandleEvent(ctx context.Context, ev event.Event) error {
	switch ev.Kind {
	case event.KindCallback:
		return o.handleCallback(ctx, ev)
	case event.KindMessage:
		return o.handleMessage(ctx, ev)
	}
	return nil
}

func (o *Orchestrator) handleCallback(ctx context.Context, ev event.Event) error {
	switch ev.Payload.Command {
	case event.CmdStart:
		return o.startSession(ctx, ev)
	case event.CmdJoin:
		return o.join(ctx, ev)
	case event.CmdFinish:
		return o.finishCommand(ctx, ev)
	case event.CmdShowInfo:
		return o.showInfo(ctx, ev)
	case event.CmdChoice:
		return o.themeChoice(ctx, ev)
	case event.CmdAnswer:
		return o.answer(ctx, ev)
	default:
		log.Debug().
			Int64("chat_id", ev.ChatID).
			Str("command", string(ev.Payload.Command)).
			Msg("Ignoring unknown callback command")
		return nil
	}
}

func (o *Orchestrator) handleMessage(ctx context.Context, ev event.Event) error {
	if ev.Text == "/start" {
		return o.startSession(ctx, ev)
	}

	session, err := o.liveSession(ctx, ev.ChatID)
	if err != nil {
		return err
	}
	if session == nil || session.Status != model.StatusPrepared {
		return nil
	}

	switch {
	case strings.HasPrefix(ev.Text, "/duration "):
		return o.setDuration(ctx, ev, session)
	case strings.HasPrefix(ev.Text, "/answer_time "):
		return o.setResponseTime(ctx, ev, session)
	case ev.Text == "/begin":
		if session.StartedBy != ev.UserID {
			return nil
		}
		return o.activate(ctx, session.ID)
	}
	return nil
}

// setDuration handles the initiator-only /duration command while Prepared.
func (o *Orchestrator) setDuration(ctx context.Context, ev event.Event, session *model.Session) error {
	seconds, ok := parseSeconds(ev.Text)
	if !ok || session.StartedBy != ev.UserID {
		return nil
	}
	if seconds < model.MinSessionDuration || seconds > model.MaxSessionDuration {
		return nil
	}
	session.SessionDuration = seconds
	if err := o.sessions.Update(ctx, session); err != nil {
		return err
	}
	_, err := o.msgr.Send(ctx, ev.ChatID, msgDurationChanged(seconds), nil)
	return err
}

// setResponseTime handles the initiator-only /answer_time command while Prepared.
func (o *Orchestrator) setResponseTime(ctx context.Context, ev event.Event, session *model.Session) error {
	seconds, ok := parseSeconds(ev.Text)
	if !ok || session.StartedBy != ev.UserID {
		return nil
	}
	if seconds < model.MinResponseTime || seconds > model.MaxResponseTime {
		return nil
	}
	session.ResponseTime = seconds
	if err := o.sessions.Update(ctx, session); err != nil {
		return err
	}
	_, err := o.msgr.Send(ctx, ev.ChatID, msgResponseTimeChanged(seconds), nil)
	return err
}

func parseSeconds(text string) (int, bool) {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return 0, false
	}
	n, err := strconv.Atoi(fields[len(fields)-1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// liveSession fetches the chat's live session, mapping not-found to nil.
func (o *Orchestrator) liveSession(ctx context.Context, chatID int64) (*model.Session, error) {
	session, err := o.sessions.GetLiveByChat(ctx, chatID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return session, nil
}

// notify answers a callback ephemerally; plain messages have nothing to answer.
func (o *Orchestrator) notify(ctx context.Context, ev event.Event, text string) error {
	if ev.CallbackID == "" {
		return nil
	}
	return o.msgr.Notify(ctx, ev.CallbackID, text)
}
