package provider

import (
	"context"
	"fmt"
	"strconv"
	"time"

	tele "gopkg.in/telebot.v4"
)

// TelegramSender delivers through the Bot API. Recipients are numeric chat
// ids, as stored on telegram_messages rows.
type TelegramSender struct {
	bot *tele.Bot
}

func NewTelegramSender(token string) (*TelegramSender, error) {
	bot, err := tele.NewBot(tele.Settings{Token: token})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &TelegramSender{bot: bot}, nil
}

func (s *TelegramSender) Send(ctx context.Context, recipient, body string) (string, error) {
	chatID, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return "", &Error{Code: "BAD_CHAT_ID", Message: recipient}
	}

	done := make(chan struct{})
	var msg *tele.Message
	var sendErr error
	go func() {
		defer close(done)
		msg, sendErr = s.bot.Send(tele.ChatID(chatID), body)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(30 * time.Second):
		return "", &Error{Code: "TELEGRAM_TIMEOUT", Message: "send timed out"}
	}
	if sendErr != nil {
		return "", sendErr
	}
	return strconv.Itoa(msg.ID), nil
}
