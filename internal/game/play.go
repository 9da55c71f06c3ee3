package game

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"trivia-game-bot/internal/event"
	"trivia-game-bot/internal/model"
)

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

// offerThemes posts a random sample of themes as buttons for the current
// responder. Buttons carry the session id and the current move number.
func (o *Orchestrator) offerThemes(ctx context.Context, session *model.Session) error {
	themes, err := o.quiz.ListThemes(ctx)
	if err != nil {
		return err
	}
	if len(themes) == 0 {
		return o.outOfQuestions(ctx, session)
	}

	rand.Shuffle(len(themes), func(i, j int) {
		themes[i], themes[j] = themes[j], themes[i]
	})
	sample := themes
	if len(sample) > o.cfg.ThemeSampleSize {
		sample = sample[:o.cfg.ThemeSampleSize]
	}

	buttons := make([]Button, 0, len(sample))
	for _, t := range sample {
		buttons = append(buttons, Button{
			Label: t.Title,
			Payload: event.Payload{
				Command:    event.CmdChoice,
				SessionID:  session.ID,
				ThemeID:    t.ID,
				ThemeTitle: t.Title,
				MoveNumber: session.MoveNumber,
			},
		})
	}
	_, err = o.msgr.Send(ctx, session.ChatID, "Pick a question theme!", buttons)
	return err
}

// themeChoice validates a theme button press and asks a question from the
// chosen theme.
func (o *Orchestrator) themeChoice(ctx context.Context, ev event.Event) error {
	session, err := o.liveSession(ctx, ev.ChatID)
	if err != nil {
		return err
	}
	if session == nil || session.ID != ev.Payload.SessionID || session.MoveNumber != ev.Payload.MoveNumber {
		return o.notify(ctx, ev, noticeStale)
	}
	if session.AnsweringUserID == nil || *session.AnsweringUserID != ev.UserID {
		return o.notify(ctx, ev, noticeNotYourTurn)
	}
	if session.QuestionAsked {
		return o.notify(ctx, ev, noticeThemeChosen)
	}

	if err := o.msgr.Edit(ctx, ev.ChatID, ev.MessageID,
		fmt.Sprintf("Theme %q chosen!", ev.Payload.ThemeTitle), nil); err != nil {
		return err
	}
	return o.askQuestion(ctx, session, ev.Payload.ThemeID)
}

// askQuestion picks a random eligible question for the current responder,
// posts it with shuffled answer buttons and arms the answer timeout. If no
// question remains the session is interrupted.
func (o *Orchestrator) askQuestion(ctx context.Context, session *model.Session, themeID int64) error {
	answered, err := o.queue.AnsweredQuestions(ctx, session.ID)
	if err != nil {
		return err
	}
	player, err := o.players.GetByChatUserID(ctx, *session.AnsweringUserID)
	if err != nil {
		return err
	}
	status, err := o.players.GetStatus(ctx, player.ID, session.ID)
	if err != nil {
		return err
	}

	questions, err := o.quiz.ListQuestions(ctx, themeID, status.DifficultyID, answered)
	if err != nil {
		return err
	}
	if len(questions) == 0 {
		return o.outOfQuestions(ctx, session)
	}

	question := questions[rand.Intn(len(questions))]
	if err := o.queue.AddAnswered(ctx, session.ID, question.ID); err != nil {
		return err
	}

	answers := make([]model.Answer, len(question.Answers))
	copy(answers, question.Answers)
	rand.Shuffle(len(answers), func(i, j int) {
		answers[i], answers[j] = answers[j], answers[i]
	})

	buttons := make([]Button, 0, len(answers))
	for _, a := range answers {
		buttons = append(buttons, Button{
			Label: a.Title,
			Payload: event.Payload{
				Command:       event.CmdAnswer,
				SessionID:     session.ID,
				IsCorrect:     a.IsCorrect,
				AnswerTitle:   a.Title,
				QuestionTitle: question.Title,
				MoveNumber:    session.MoveNumber,
			},
		})
	}

	messageID, err := o.msgr.Send(ctx, session.ChatID,
		fmt.Sprintf("Question: %s", question.Title), buttons)
	if err != nil {
		return err
	}

	session.QuestionAsked = true
	if err := o.sessions.Update(ctx, session); err != nil {
		return err
	}

	o.scheduleAnswerTimeout(session, messageID, question.Title)
	return nil
}

func (o *Orchestrator) scheduleAnswerTimeout(session *model.Session, messageID int, questionTitle string) {
	sessionID := session.ID
	chatID := session.ChatID
	move := session.MoveNumber
	delay := secondsToDuration(session.ResponseTime)
	o.timers.Schedule(sessionID, delay, func(tctx context.Context) {
		err := o.locks.WithLock(chatID, func() error {
			return o.answerTimeout(tctx, sessionID, move, messageID, questionTitle)
		})
		if err != nil {
			log.Error().Err(err).Int64("session_id", sessionID).Int("move", move).
				Msg("Answer timeout failed")
		}
	})
}

// answer adjudicates an answer button press from the current responder.
func (o *Orchestrator) answer(ctx context.Context, ev event.Event) error {
	session, err := o.liveSession(ctx, ev.ChatID)
	if err != nil {
		return err
	}
	if session == nil || session.ID != ev.Payload.SessionID || session.MoveNumber != ev.Payload.MoveNumber {
		return o.notify(ctx, ev, noticeStale)
	}
	if session.AnsweringUserID == nil || *session.AnsweringUserID != ev.UserID {
		return o.notify(ctx, ev, noticeNotYourTurn)
	}

	// Freeze the question message so the buttons cannot be pressed again.
	if err := o.msgr.Edit(ctx, ev.ChatID, ev.MessageID,
		fmt.Sprintf("Question: %s", ev.Payload.QuestionTitle), nil); err != nil {
		return err
	}

	player, err := o.players.GetByChatUserID(ctx, ev.UserID)
	if err != nil {
		return err
	}
	status, err := o.players.GetStatus(ctx, player.ID, session.ID)
	if err != nil {
		return err
	}
	difficulty, err := o.difficulties.GetByID(ctx, status.DifficultyID)
	if err != nil {
		return err
	}

	lines := []string{fmt.Sprintf("The player chose answer %q", ev.Payload.AnswerTitle)}
	if ev.Payload.IsCorrect {
		lines = append(lines, "That is the right answer!")
		status.RightAnswers++
		if status.RightAnswers >= difficulty.RightAnswersToWin {
			status.IsWon = true
			lines = append(lines, fmt.Sprintf("Player %s wins the game!", player.DisplayName()))
		}
	} else {
		lines = append(lines, "That is the wrong answer!")
		status.WrongAnswers++
		if status.WrongAnswers >= difficulty.WrongAnswersToLose {
			status.IsLost = true
			lines = append(lines, fmt.Sprintf("Unfortunately, player %s is eliminated!", player.DisplayName()))
		}
	}

	// Persist the triggering mutation before any win/advance checks.
	if err := o.players.UpdateStatus(ctx, status); err != nil {
		return err
	}
	if status.IsLost {
		if err := o.queue.EliminateCurrent(ctx, session.ID); err != nil && !isQueueEmpty(err) {
			return err
		}
	}
	if _, err := o.msgr.Send(ctx, session.ChatID, joinLines(lines), nil); err != nil {
		return err
	}

	return o.concludeTurn(ctx, session, status, player)
}

// answerTimeout counts a missed deadline as a wrong answer for the responder
// of the recorded move. A session that advanced past that move, or left the
// Active state, is left untouched.
func (o *Orchestrator) answerTimeout(ctx context.Context, sessionID int64, move, messageID int, questionTitle string) error {
	session, err := o.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status != model.StatusActive || session.MoveNumber != move {
		log.Debug().
			Int64("session_id", sessionID).
			Int("timer_move", move).
			Int("session_move", session.MoveNumber).
			Msg("Stale answer timer ignored")
		return nil
	}
	if session.AnsweringUserID == nil {
		return nil
	}

	if err := o.msgr.Edit(ctx, session.ChatID, messageID,
		fmt.Sprintf("Question: %s", questionTitle), nil); err != nil {
		return err
	}

	player, err := o.players.GetByChatUserID(ctx, *session.AnsweringUserID)
	if err != nil {
		return err
	}
	status, err := o.players.GetStatus(ctx, player.ID, session.ID)
	if err != nil {
		return err
	}
	difficulty, err := o.difficulties.GetByID(ctx, status.DifficultyID)
	if err != nil {
		return err
	}

	lines := []string{
		"Time for the answer is up!",
		"A wrong answer has been recorded!",
	}
	status.WrongAnswers++
	if status.WrongAnswers >= difficulty.WrongAnswersToLose {
		status.IsLost = true
		lines = append(lines, fmt.Sprintf("Unfortunately, player %s is eliminated!", player.DisplayName()))
	}

	if err := o.players.UpdateStatus(ctx, status); err != nil {
		return err
	}
	if status.IsLost {
		if err := o.queue.EliminateCurrent(ctx, session.ID); err != nil && !isQueueEmpty(err) {
			return err
		}
	}
	if _, err := o.msgr.Send(ctx, session.ChatID, joinLines(lines), nil); err != nil {
		return err
	}

	return o.concludeTurn(ctx, session, status, player)
}

// concludeTurn runs after an adjudicated answer has been persisted: finish on
// a win, auto-win the sole survivor, or advance to the next turn.
func (o *Orchestrator) concludeTurn(ctx context.Context, session *model.Session, status *model.PlayerStatus, player *model.Player) error {
	if status.IsWon {
		return o.finishWithWinner(ctx, session, player)
	}

	length, err := o.queue.Length(ctx, session.ID)
	if err != nil {
		return err
	}
	if length <= 1 {
		return o.autoWin(ctx, session)
	}

	// The eliminated responder is already gone from the front; otherwise
	// rotate the rotation one step.
	return o.nextTurn(ctx, session, !status.IsLost)
}

// nextTurn advances the session to a new move with a fresh responder.
func (o *Orchestrator) nextTurn(ctx context.Context, session *model.Session, rotate bool) error {
	var (
		next int64
		err  error
	)
	if rotate {
		next, err = o.queue.Advance(ctx, session.ID)
	} else {
		next, err = o.queue.Current(ctx, session.ID)
	}
	if err != nil {
		return err
	}

	session.AnsweringUserID = &next
	session.MoveNumber++
	session.QuestionAsked = false
	if err := o.sessions.Update(ctx, session); err != nil {
		return err
	}

	answering, err := o.players.GetByChatUserID(ctx, next)
	if err != nil {
		return err
	}
	msg := block("", []string{
		"The game continues!",
		fmt.Sprintf("Next to answer: %s", answering.DisplayName()),
	}, false)
	if _, err := o.msgr.Send(ctx, session.ChatID, msg, nil); err != nil {
		return err
	}

	return o.offerThemes(ctx, session)
}

func joinLines(lines []string) string {
	return strings.Join(lines, "\n\n")
}
