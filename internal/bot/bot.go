// Package bot adapts the Telegram transport to the game's event model.
// Incoming messages and button presses become events consumed through
// Fetch; outgoing messages go through the Messenger methods.
package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"trivia-game-bot/internal/config"
	"trivia-game-bot/internal/event"
)

const eventBuffer = 256

// Bot wraps the telebot instance and converts its updates into events.
type Bot struct {
	bot      *tele.Bot
	cfg      *config.Config
	payloads *payloadStore
	events   chan event.Event
}

// New creates the bot, registers middleware and update handlers. Polling
// does not start until Start is called.
func New(cfg *config.Config) (*Bot, error) {
	if cfg.Bot.Token == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	pref := tele.Settings{
		Token:  cfg.Bot.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}

	teleBot, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	b := &Bot{
		bot:      teleBot,
		cfg:      cfg,
		payloads: newPayloadStore(),
		events:   make(chan event.Event, eventBuffer),
	}

	b.bot.Use(AllowListMiddleware(cfg))
	b.bot.Use(LoggingMiddleware())
	b.bot.Use(RecoveryMiddleware())

	b.bot.Handle(tele.OnText, b.onText)
	b.bot.Handle(tele.OnCallback, b.onCallback)

	return b, nil
}

// Start begins long polling and the payload janitor. It blocks until Stop
// is called.
func (b *Bot) Start(ctx context.Context) {
	go b.payloads.runJanitor(ctx)
	log.Info().Msg("Starting bot...")
	b.bot.Start()
}

// Stop shuts down polling.
func (b *Bot) Stop() {
	log.Info().Msg("Stopping bot...")
	b.bot.Stop()
}

// Fetch blocks until at least one event arrives, then drains whatever else
// is already buffered.
func (b *Bot) Fetch(ctx context.Context) ([]event.Event, error) {
	var first event.Event
	select {
	case first = <-b.events:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	batch := []event.Event{first}
	for {
		select {
		case ev := <-b.events:
			batch = append(batch, ev)
		default:
			return batch, nil
		}
	}
}

// onText converts plain messages, commands included, into message events.
func (b *Bot) onText(c tele.Context) error {
	msg := c.Message()
	sender := c.Sender()
	if msg == nil || sender == nil {
		return nil
	}

	b.enqueue(event.Event{
		Kind:      event.KindMessage,
		ChatID:    msg.Chat.ID,
		UserID:    sender.ID,
		FirstName: sender.FirstName,
		LastName:  sender.LastName,
		Text:      strings.TrimSpace(msg.Text),
		MessageID: msg.ID,
	})
	return nil
}

// onCallback resolves the payload token embedded in the callback data and
// converts the press into a callback event. Presses of buttons whose
// payload has already been evicted are answered immediately as expired.
func (b *Bot) onCallback(c tele.Context) error {
	callback := c.Callback()
	sender := c.Sender()
	if callback == nil || sender == nil || callback.Message == nil {
		return nil
	}

	// Telebot may prefix raw callback data with \f.
	key := strings.TrimPrefix(callback.Data, "\f")

	payload, ok := b.payloads.Get(key)
	if !ok {
		log.Debug().
			Str("key", key).
			Int64("user_id", sender.ID).
			Msg("Callback with unknown payload token")
		return c.Respond(&tele.CallbackResponse{Text: "This button has expired!"})
	}

	b.enqueue(event.Event{
		Kind:       event.KindCallback,
		ChatID:     callback.Message.Chat.ID,
		UserID:     sender.ID,
		FirstName:  sender.FirstName,
		LastName:   sender.LastName,
		CallbackID: callback.ID,
		MessageID:  callback.Message.ID,
		Payload:    payload,
	})
	return nil
}

func (b *Bot) enqueue(ev event.Event) {
	select {
	case b.events <- ev:
	default:
		log.Warn().
			Int64("chat_id", ev.ChatID).
			Msg("Event buffer full, dropping update")
	}
}
