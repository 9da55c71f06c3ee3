package bot

import (
	"context"
	"fmt"
	"strconv"

	tele "gopkg.in/telebot.v3"

	"trivia-game-bot/internal/game"
)

// Send posts a message to the chat, one button per keyboard row, and
// returns the Telegram message id.
func (b *Bot) Send(ctx context.Context, chatID int64, text string, buttons []game.Button) (int, error) {
	msg, err := b.bot.Send(tele.ChatID(chatID), text, b.markup(buttons))
	if err != nil {
		return 0, fmt.Errorf("failed to send message to chat %d: %w", chatID, err)
	}
	return msg.ID, nil
}

// Edit replaces a previously sent message's text and keyboard.
func (b *Bot) Edit(ctx context.Context, chatID int64, messageID int, text string, buttons []game.Button) error {
	ref := &tele.StoredMessage{
		MessageID: strconv.Itoa(messageID),
		ChatID:    chatID,
	}
	if _, err := b.bot.Edit(ref, text, b.markup(buttons)); err != nil {
		return fmt.Errorf("failed to edit message %d in chat %d: %w", messageID, chatID, err)
	}
	return nil
}

// Notify answers a callback with a notice shown only to the pressing user.
func (b *Bot) Notify(ctx context.Context, callbackID, text string) error {
	err := b.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
	if err != nil {
		return fmt.Errorf("failed to answer callback %s: %w", callbackID, err)
	}
	return nil
}

// markup builds an inline keyboard whose callback data carries payload
// tokens instead of the payloads themselves.
func (b *Bot) markup(buttons []game.Button) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}
	if len(buttons) == 0 {
		return markup
	}

	rows := make([][]tele.InlineButton, 0, len(buttons))
	for _, btn := range buttons {
		rows = append(rows, []tele.InlineButton{{
			Text: btn.Label,
			Data: b.payloads.Put(btn.Payload),
		}})
	}
	markup.InlineKeyboard = rows
	return markup
}
