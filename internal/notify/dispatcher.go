package notify

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/csfx-py/vaccine-tracker/internal/domain"
	"github.com/csfx-py/vaccine-tracker/internal/metrics"
)

// Callback data of the follow-up prompt buttons.
const (
	CallbackBooked    = "yes_booked"
	CallbackNotBooked = "not_booked"
)

const followUpText = "Stop alerts? Have you booked the date?\nOr you can also /snooze the messages for a while :)"

// UserDeleter removes unreachable recipients.
type UserDeleter interface {
	DeleteUser(ctx context.Context, chatID int64) error
}

// Dispatcher delivers alerts, user notices and operator reports.
type Dispatcher struct {
	ch       Channel
	users    UserDeleter
	operator int64
	log      *zap.Logger
}

// NewDispatcher returns a Dispatcher sending through ch.
func NewDispatcher(ch Channel, users UserDeleter, operator int64, log *zap.Logger) *Dispatcher {
	return &Dispatcher{ch: ch, users: users, operator: operator, log: log}
}

// Dispatch sends the alerts of one tracking entry to the user, then the
// follow-up prompt if anything was delivered. It returns the number of alert
// messages delivered. A permanent failure deletes the user and is returned;
// a transient failure stops delivery and is swallowed.
func (d *Dispatcher) Dispatch(ctx context.Context, u *domain.User, entry domain.TrackingEntry, centers []domain.Center) (int, error) {
	delivered := 0
	for _, text := range RenderAlerts(centers, entry.AgeGroup) {
		err := d.Deliver(ctx, Message{ChatID: u.ChatID, Text: text, HTML: true})
		if errors.Is(err, ErrTransient) {
			break
		}
		if err != nil {
			return delivered, err
		}
		delivered++
	}
	if delivered == 0 {
		return 0, nil
	}

	prompt := Message{
		ChatID: u.ChatID,
		Text:   followUpText,
		Buttons: [][]Button{{
			{Text: "Yes 👍", Data: CallbackBooked},
			{Text: "No 👎", Data: CallbackNotBooked},
		}},
	}
	if err := d.Deliver(ctx, prompt); err != nil && !errors.Is(err, ErrTransient) {
		return delivered, err
	}
	return delivered, nil
}

// Deliver sends msg to a user. On a permanent failure the user is deleted
// from the store and the operator is told; the error is returned either way.
func (d *Dispatcher) Deliver(ctx context.Context, msg Message) error {
	err := d.ch.Send(ctx, msg)
	switch {
	case err == nil:
		metrics.Notifications.WithLabelValues("sent").Inc()
		return nil
	case errors.Is(err, ErrTransient):
		metrics.Notifications.WithLabelValues("transient").Inc()
		d.log.Warn("delivery deferred", zap.Int64("chat_id", msg.ChatID), zap.Error(err))
		return err
	case errors.Is(err, ErrPermanent):
		metrics.Notifications.WithLabelValues("permanent").Inc()
		d.drop(ctx, msg.ChatID, err)
		return err
	default:
		metrics.Notifications.WithLabelValues("error").Inc()
		d.log.Error("delivery failed", zap.Int64("chat_id", msg.ChatID), zap.Error(err))
		return err
	}
}

func (d *Dispatcher) drop(ctx context.Context, chatID int64, cause error) {
	d.log.Warn("recipient unreachable, deleting user", zap.Int64("chat_id", chatID), zap.Error(cause))
	d.Operator(ctx, fmt.Sprintf("Inform error\n%d: %v", chatID, cause))
	if err := d.users.DeleteUser(ctx, chatID); err != nil {
		d.log.Error("delete unreachable user failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// Text sends a plain text notice to a user.
func (d *Dispatcher) Text(ctx context.Context, chatID int64, text string) error {
	return d.Deliver(ctx, Message{ChatID: chatID, Text: text})
}

// HTML sends an HTML notice to a user.
func (d *Dispatcher) HTML(ctx context.Context, chatID int64, text string) error {
	return d.Deliver(ctx, Message{ChatID: chatID, Text: text, HTML: true})
}

// Document sends a document to a user.
func (d *Dispatcher) Document(ctx context.Context, chatID int64, doc domain.Document) error {
	err := d.ch.SendDocument(ctx, chatID, doc)
	if errors.Is(err, ErrPermanent) {
		d.drop(ctx, chatID, err)
	}
	return err
}

// Operator sends a report to the operator. Failures are only logged.
func (d *Dispatcher) Operator(ctx context.Context, text string) {
	if d.operator == 0 {
		d.log.Warn("operator report dropped, no operator configured", zap.String("text", text))
		return
	}
	if err := d.ch.Send(ctx, Message{ChatID: d.operator, Text: text}); err != nil {
		d.log.Error("operator report failed", zap.Error(err))
	}
}

// OperatorHTML sends an HTML report to the operator.
func (d *Dispatcher) OperatorHTML(ctx context.Context, text string) {
	if d.operator == 0 {
		return
	}
	if err := d.ch.Send(ctx, Message{ChatID: d.operator, Text: text, HTML: true}); err != nil {
		d.log.Error("operator report failed", zap.Error(err))
	}
}

// OperatorDocument sends a document to the operator.
func (d *Dispatcher) OperatorDocument(ctx context.Context, doc domain.Document) error {
	if d.operator == 0 {
		return nil
	}
	return d.ch.SendDocument(ctx, d.operator, doc)
}
