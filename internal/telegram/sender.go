package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/csfx-py/vaccine-tracker/internal/domain"
	"github.com/csfx-py/vaccine-tracker/internal/notify"
)

// BotAPI is the part of *tgbotapi.BotAPI the package uses.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Sender delivers notify messages over Telegram.
type Sender struct {
	bot BotAPI
}

// NewSender wraps bot as a notify.Channel.
func NewSender(bot BotAPI) *Sender {
	return &Sender{bot: bot}
}

// Send delivers msg, with HTML parse mode and an inline keyboard when set.
func (s *Sender) Send(ctx context.Context, msg notify.Message) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", notify.ErrTransient, err)
	}
	m := tgbotapi.NewMessage(msg.ChatID, msg.Text)
	if msg.HTML {
		m.ParseMode = tgbotapi.ModeHTML
	}
	if len(msg.Buttons) > 0 {
		m.ReplyMarkup = inlineKeyboard(msg.Buttons)
	}
	_, err := s.bot.Send(m)
	return classify(err)
}

// SendDocument uploads doc to chatID.
func (s *Sender) SendDocument(ctx context.Context, chatID int64, doc domain.Document) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", notify.ErrTransient, err)
	}
	_, err := s.bot.Send(tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: doc.Name, Bytes: doc.Bytes}))
	return classify(err)
}

// classify maps Telegram API errors onto the delivery outcomes. Bad request
// and forbidden (blocked bot, deleted chat) are permanent; rate limits and
// network failures are transient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusBadRequest, http.StatusForbidden:
			return fmt.Errorf("%w: %v", notify.ErrPermanent, err)
		}
	}
	return fmt.Errorf("%w: %v", notify.ErrTransient, err)
}

func inlineKeyboard(rows [][]notify.Button) tgbotapi.InlineKeyboardMarkup {
	out := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		out = append(out, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(out...)
}
