package game

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"trivia-game-bot/internal/event"
	"trivia-game-bot/internal/model"
)

// finishSession moves the session to a terminal state: persists the final
// status and winner, deletes the turn-queue and answered-questions entries,
// freezes the announcement message and cancels every pending timer.
func (o *Orchestrator) finishSession(ctx context.Context, session *model.Session, status model.SessionStatus, winnerID *int64) error {
	now := time.Now()
	session.Status = status
	session.FinishedAt = &now
	if winnerID != nil {
		session.WinnerID = winnerID
	}
	if err := o.sessions.Update(ctx, session); err != nil {
		return err
	}
	if err := o.queue.Clear(ctx, session.ID); err != nil {
		return err
	}

	if session.StartMessageID != nil {
		over := block("START=", []string{"The game is over!"}, false)
		if err := o.msgr.Edit(ctx, session.ChatID, *session.StartMessageID, over, nil); err != nil {
			return err
		}
	}

	o.timers.CancelAll(session.ID)

	log.Info().
		Int64("chat_id", session.ChatID).
		Int64("session_id", session.ID).
		Str("status", string(status)).
		Msg("Session finished")
	return nil
}

// finishWithWinner ends the game in favor of the player who reached their
// win threshold: every other participant is marked lost and charged a loss,
// the winner is credited a win.
func (o *Orchestrator) finishWithWinner(ctx context.Context, session *model.Session, winner *model.Player) error {
	standings, err := o.players.ListStandings(ctx, session.ID)
	if err != nil {
		return err
	}

	var losers []model.PlayerStanding
	for _, s := range standings {
		if s.Player.ID == winner.ID {
			continue
		}
		if !s.IsLost {
			s.PlayerStatus.IsLost = true
			if err := o.players.UpdateStatus(ctx, &s.PlayerStatus); err != nil {
				return err
			}
		}
		s.Player.LosesCount++
		if err := o.players.Update(ctx, &s.Player); err != nil {
			return err
		}
		losers = append(losers, s)
	}

	winner.WinsCount++
	if err := o.players.Update(ctx, winner); err != nil {
		return err
	}

	sortByRightAnswersDesc(losers)
	lines := []string{fmt.Sprintf("The game is won by %s!", winner.DisplayName())}
	if len(losers) > 0 {
		lines = append(lines, "Eliminated players:")
		lines = append(lines, standingLines(losers)...)
	}
	if _, err := o.msgr.Send(ctx, session.ChatID, block("FINISH", lines, true), nil); err != nil {
		return err
	}

	if err := o.finishSession(ctx, session, model.StatusFinished, &winner.ID); err != nil {
		return err
	}
	return o.sendReadyPrompt(ctx, session.ChatID)
}

// autoWin declares the sole remaining responder the winner after everyone
// else has been eliminated.
func (o *Orchestrator) autoWin(ctx context.Context, session *model.Session) error {
	winnerUserID, err := o.queue.Current(ctx, session.ID)
	if err != nil {
		return err
	}
	winner, err := o.players.GetByChatUserID(ctx, winnerUserID)
	if err != nil {
		return err
	}
	status, err := o.players.GetStatus(ctx, winner.ID, session.ID)
	if err != nil {
		return err
	}
	status.IsWon = true
	if err := o.players.UpdateStatus(ctx, status); err != nil {
		return err
	}

	if _, err := o.msgr.Send(ctx, session.ChatID,
		"Only one player remains!", nil); err != nil {
		return err
	}

	return o.finishWithWinner(ctx, session, winner)
}

// outOfQuestions interrupts the session because no eligible question remains
// for the current responder.
func (o *Orchestrator) outOfQuestions(ctx context.Context, session *model.Session) error {
	lines := []string{"The game was finished because the current player ran out of eligible questions!"}
	if session.AnsweringUserID != nil {
		if player, err := o.players.GetByChatUserID(ctx, *session.AnsweringUserID); err == nil {
			lines = []string{fmt.Sprintf(
				"The game was finished because player %s ran out of eligible questions!",
				player.DisplayName())}
		}
	}

	standings, err := o.players.ListStandings(ctx, session.ID)
	if err != nil {
		return err
	}
	remaining, err := o.queue.Length(ctx, session.ID)
	if err != nil {
		return err
	}
	lines = append(lines, standingsReport(remaining, standings)...)

	if err := o.finishSession(ctx, session, model.StatusInterrupted, nil); err != nil {
		return err
	}
	if _, err := o.msgr.Send(ctx, session.ChatID, block("FINISH", lines, true), nil); err != nil {
		return err
	}
	return o.sendReadyPrompt(ctx, session.ChatID)
}

// finishCommand implements the finish button: any player may interrupt the
// game at any live stage; during active play the final standings are
// broadcast first.
func (o *Orchestrator) finishCommand(ctx context.Context, ev event.Event) error {
	session, err := o.liveSession(ctx, ev.ChatID)
	if err != nil {
		return err
	}
	if session == nil {
		return o.notify(ctx, ev, noticeStale)
	}

	finisher, err := o.players.GetOrCreate(ctx, ev.UserID, ev.FirstName, ev.LastName)
	if err != nil {
		return err
	}

	lines := []string{fmt.Sprintf("The game was finished by %s!", finisher.DisplayName())}
	if session.Status == model.StatusActive {
		remaining, err := o.queue.Length(ctx, session.ID)
		if err != nil {
			return err
		}
		standings, err := o.players.ListStandings(ctx, session.ID)
		if err != nil {
			return err
		}
		lines = append(lines, standingsReport(remaining, standings)...)
	}

	if _, err := o.msgr.Send(ctx, ev.ChatID, block("FINISH", lines, true), nil); err != nil {
		return err
	}
	if err := o.finishSession(ctx, session, model.StatusInterrupted, nil); err != nil {
		return err
	}
	return o.sendReadyPrompt(ctx, ev.ChatID)
}

// showInfo reports the roster or standings to the initiator without mutating
// any state.
func (o *Orchestrator) showInfo(ctx context.Context, ev event.Event) error {
	session, err := o.liveSession(ctx, ev.ChatID)
	if err != nil {
		return err
	}
	if session == nil || session.StartedBy != ev.UserID {
		return nil
	}

	standings, err := o.players.ListStandings(ctx, session.ID)
	if err != nil {
		return err
	}

	var lines []string
	switch session.Status {
	case model.StatusPrepared:
		lines = append(lines, "The game is in its preparation stage")
		lines = append(lines, fmt.Sprintf("Players joined: %d", len(standings)))
		if len(standings) > 0 {
			lines = append(lines, "Players:")
			for _, s := range standings {
				lines = append(lines, fmt.Sprintf(" -> %s\n-----Track: %s",
					s.Player.DisplayName(), s.Difficulty.Title))
			}
		}
	case model.StatusActive:
		remaining, err := o.queue.Length(ctx, session.ID)
		if err != nil {
			return err
		}
		lines = append(lines, "The game is already on!")
		lines = append(lines, standingsReport(remaining, standings)...)
	default:
		return nil
	}

	_, err = o.msgr.Send(ctx, ev.ChatID, block("=INFO=", lines, true), nil)
	return err
}

// sessionTimeout ends an Active session whose overall duration elapsed.
// A session already terminal is left untouched.
func (o *Orchestrator) sessionTimeout(ctx context.Context, sessionID int64) error {
	session, err := o.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status != model.StatusActive {
		log.Debug().Int64("session_id", sessionID).Msg("Stale session timer ignored")
		return nil
	}

	if err := o.finishSession(ctx, session, model.StatusFinished, nil); err != nil {
		return err
	}
	if _, err := o.msgr.Send(ctx, session.ChatID,
		block("FINISH", []string{"The game is over: time is up!"}, true), nil); err != nil {
		return err
	}
	return o.sendReadyPrompt(ctx, session.ChatID)
}

// sendReadyPrompt re-posts the start button after any terminal transition.
func (o *Orchestrator) sendReadyPrompt(ctx context.Context, chatID int64) error {
	buttons := []Button{
		{Label: "Start game", Payload: event.Payload{Command: event.CmdStart}},
	}
	_, err := o.msgr.Send(ctx, chatID,
		"I am ready for a new game! Press the button to start!", buttons)
	return err
}
