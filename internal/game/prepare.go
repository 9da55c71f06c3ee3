package game

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"trivia-game-bot/internal/event"
	"trivia-game-bot/internal/model"
)

// startSession creates a Prepared session for the chat, unless one is
// already live, and arms the preparation timeout.
func (o *Orchestrator) startSession(ctx context.Context, ev event.Event) error {
	existing, err := o.liveSession(ctx, ev.ChatID)
	if err != nil {
		return err
	}
	if existing != nil {
		return o.notify(ctx, ev, noticeGameRunning)
	}

	initiator, err := o.players.GetOrCreate(ctx, ev.UserID, ev.FirstName, ev.LastName)
	if err != nil {
		return err
	}

	session, err := o.sessions.Create(ctx, ev.ChatID, ev.UserID,
		o.cfg.DefaultResponseTime, o.cfg.DefaultSessionDuration)
	if err != nil {
		return err
	}

	log.Info().
		Int64("chat_id", ev.ChatID).
		Int64("session_id", session.ID).
		Int64("user_id", ev.UserID).
		Msg("Session created")

	buttons := []Button{
		{Label: "Join", Payload: event.Payload{Command: event.CmdJoin, SessionID: session.ID}},
		{Label: "Show info", Payload: event.Payload{Command: event.CmdShowInfo}},
		{Label: "Finish game", Payload: event.Payload{Command: event.CmdFinish}},
	}
	messageID, err := o.msgr.Send(ctx, ev.ChatID,
		startAnnouncement(initiator, int(o.cfg.PrepTimeout.Seconds())), buttons)
	if err != nil {
		return err
	}
	session.StartMessageID = &messageID
	if err := o.sessions.Update(ctx, session); err != nil {
		return err
	}

	sessionID := session.ID
	chatID := session.ChatID
	o.timers.Schedule(sessionID, o.cfg.PrepTimeout, func(tctx context.Context) {
		err := o.locks.WithLock(chatID, func() error {
			return o.activate(tctx, sessionID)
		})
		if err != nil {
			log.Error().Err(err).Int64("session_id", sessionID).Msg("Preparation timeout failed")
		}
	})
	return nil
}

// join adds the pressing user to a Prepared session with a random difficulty.
// The join button carries the session id and is only valid while the session
// has not made its first move.
func (o *Orchestrator) join(ctx context.Context, ev event.Event) error {
	session, err := o.liveSession(ctx, ev.ChatID)
	if err != nil {
		return err
	}
	if session == nil || session.MoveNumber != 0 || session.ID != ev.Payload.SessionID {
		return o.notify(ctx, ev, noticeStale)
	}
	if session.Status != model.StatusPrepared {
		return nil
	}

	player, err := o.players.GetOrCreate(ctx, ev.UserID, ev.FirstName, ev.LastName)
	if err != nil {
		return err
	}

	_, err = o.players.GetStatus(ctx, player.ID, session.ID)
	if err == nil {
		return o.notify(ctx, ev, noticeAlreadyJoined)
	}
	if !isStatusNotFound(err) {
		return err
	}

	difficulty, err := o.difficulties.GetRandom(ctx)
	if err != nil {
		return err
	}
	if _, err := o.players.CreateStatus(ctx, player.ID, session.ID, difficulty.ID); err != nil {
		return err
	}
	player.GamesCount++
	if err := o.players.Update(ctx, player); err != nil {
		return err
	}

	log.Info().
		Int64("session_id", session.ID).
		Int64("user_id", ev.UserID).
		Str("difficulty", difficulty.Title).
		Msg("Player joined")

	_, err = o.msgr.Send(ctx, ev.ChatID, fmt.Sprintf(
		"%s joined the game!\nTrack: %s", player.DisplayName(), difficulty.Title), nil)
	return err
}

// activate runs begin-evaluation: fired by the preparation timeout or the
// initiator's /begin. Re-reads the session and no-ops unless still Prepared,
// which makes a stale preparation timer harmless after an early /begin.
func (o *Orchestrator) activate(ctx context.Context, sessionID int64) error {
	session, err := o.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status != model.StatusPrepared {
		return nil
	}

	count, err := o.players.CountBySession(ctx, session.ID)
	if err != nil {
		return err
	}
	if count < 2 {
		reason := "The game was cancelled because nobody joined!"
		if count == 1 {
			reason = "The game was cancelled because only one player joined!"
		}
		if err := o.finishSession(ctx, session, model.StatusInterrupted, nil); err != nil {
			return err
		}
		if _, err := o.msgr.Send(ctx, session.ChatID, block("FINISH", []string{reason}, true), nil); err != nil {
			return err
		}
		return o.sendReadyPrompt(ctx, session.ChatID)
	}

	// Seed the rotation ordered by ascending difficulty id.
	standings, err := o.players.ListStandings(ctx, session.ID)
	if err != nil {
		return err
	}
	order := make([]int64, 0, len(standings))
	for _, s := range standings {
		order = append(order, s.Player.ChatUserID)
	}
	if err := o.queue.Seed(ctx, session.ID, order); err != nil {
		return err
	}

	first, err := o.queue.Current(ctx, session.ID)
	if err != nil {
		return err
	}

	session.Status = model.StatusActive
	session.AnsweringUserID = &first
	session.MoveNumber++
	session.QuestionAsked = false
	if err := o.sessions.Update(ctx, session); err != nil {
		return err
	}

	log.Info().
		Int64("session_id", session.ID).
		Int("players", count).
		Int64("first_responder", first).
		Msg("Session activated")

	if session.StartMessageID != nil {
		started := block("START=", []string{
			"The game has already started!",
			"Press \"Show info\" for the current game state.",
			"You can finish the game at any moment with \"Finish game\".",
		}, false)
		if err := o.msgr.Edit(ctx, session.ChatID, *session.StartMessageID, started, nil); err != nil {
			return err
		}
	}

	answering, err := o.players.GetByChatUserID(ctx, first)
	if err != nil {
		return err
	}
	began := block("=GAME=", []string{
		"The game has begun!",
		fmt.Sprintf("First to answer: %s", answering.DisplayName()),
	}, false)
	if _, err := o.msgr.Send(ctx, session.ChatID, began, nil); err != nil {
		return err
	}

	if err := o.offerThemes(ctx, session); err != nil {
		return err
	}

	o.scheduleSessionTimeout(session)
	return nil
}

func (o *Orchestrator) scheduleSessionTimeout(session *model.Session) {
	sessionID := session.ID
	chatID := session.ChatID
	duration := secondsToDuration(session.SessionDuration)
	o.timers.Schedule(sessionID, duration, func(tctx context.Context) {
		err := o.locks.WithLock(chatID, func() error {
			return o.sessionTimeout(tctx, sessionID)
		})
		if err != nil {
			log.Error().Err(err).Int64("session_id", sessionID).Msg("Session timeout failed")
		}
	})
}
