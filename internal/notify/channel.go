// Package notify formats match alerts and delivers them over a chat channel.
package notify

import (
	"context"
	"errors"

	"github.com/csfx-py/vaccine-tracker/internal/domain"
)

// Delivery outcomes reported by a Channel. Use errors.Is.
var (
	// ErrPermanent means the recipient is unreachable (blocked bot, deleted chat).
	ErrPermanent = errors.New("permanent delivery failure")
	// ErrTransient means a rate limit or network failure; the next cycle retries.
	ErrTransient = errors.New("transient delivery failure")
)

// Button is an inline keyboard button carrying callback data.
type Button struct {
	Text string
	Data string
}

// Message is one outgoing chat message.
type Message struct {
	ChatID  int64
	Text    string
	HTML    bool
	Buttons [][]Button
}

// Channel delivers messages to chat addresses.
type Channel interface {
	Send(ctx context.Context, msg Message) error
	SendDocument(ctx context.Context, chatID int64, doc domain.Document) error
}
