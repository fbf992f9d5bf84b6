package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/csfx-py/vaccine-tracker/internal/domain"
	"github.com/csfx-py/vaccine-tracker/internal/metrics"
)

const (
	firstReminderText = "Token expired! Please /login again.\n" +
		"You will be reminded while autobook is on and you're logged out. " +
		"If you wish to stop these alerts, please consider turning off /autobook"

	reminderText = "Token expired! Please /login again.\n" +
		"I'm reminding you to login in order to book vaccine slots automatically. " +
		"I'll turn off autobook in %d more check(s) if you don't login."

	autoBookOffText = "Since you haven't logged in after %d reminders, I've turned off autobooking for you. " +
		"You can turn it on again anytime you want by sending /autobook"
)

// ExpiryStore is what the credential monitor reads and updates.
type ExpiryStore interface {
	ListAllowed(ctx context.Context) ([]domain.User, error)
	SetSnooze(ctx context.Context, chatID int64, until, at *time.Time) error
	SetToken(ctx context.Context, chatID int64, token string) error
	SetExpireCount(ctx context.Context, chatID int64, n int) error
	ForceDisableAutoBook(ctx context.Context, chatID int64) error
}

// Notifier sends a plain text notice to a user.
type Notifier interface {
	Text(ctx context.Context, chatID int64, text string) error
}

// ExpiryMonitor periodically sweeps subscribers for expired credentials.
type ExpiryMonitor struct {
	store  ExpiryStore
	notify Notifier
	clock  clock.Clock
	every  time.Duration
	limit  int
	log    *zap.Logger
}

// NewExpiryMonitor returns a monitor sweeping every period and disabling
// auto-reservation after limit unacknowledged reminders.
func NewExpiryMonitor(st ExpiryStore, n Notifier, clk clock.Clock, every time.Duration, limit int, log *zap.Logger) *ExpiryMonitor {
	if clk == nil {
		clk = clock.WallClock
	}
	return &ExpiryMonitor{store: st, notify: n, clock: clk, every: every, limit: limit, log: log}
}

// Run sweeps every period until ctx is canceled.
func (m *ExpiryMonitor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.log.Info("expiry monitor stopping")
			return
		case <-m.clock.After(m.every):
			if err := m.Sweep(ctx); err != nil {
				m.log.Error("expiry sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep checks every allowed user once. Per-user failures are logged and skipped.
func (m *ExpiryMonitor) Sweep(ctx context.Context) error {
	users, err := m.store.ListAllowed(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	now := m.clock.Now()
	for i := range users {
		if err := m.check(ctx, &users[i], now); err != nil {
			m.log.Error("expiry check failed", zap.Int64("chat_id", users[i].ChatID), zap.Error(err))
		}
	}
	return nil
}

func (m *ExpiryMonitor) check(ctx context.Context, u *domain.User, now time.Time) error {
	if u.Snoozed(now) {
		return nil
	}
	if u.SnoozeElapsed(now) {
		if err := m.store.SetSnooze(ctx, u.ChatID, nil, nil); err != nil {
			return err
		}
		_ = m.notify.Text(ctx, u.ChatID, unsnoozedText)
	}

	if domain.TokenValid(u.Token, now) {
		return nil
	}

	if !u.AutoBook {
		if u.Token == "" {
			return nil
		}
		metrics.ExpiryReminders.WithLabelValues("cleared").Inc()
		return m.store.SetToken(ctx, u.ChatID, "")
	}

	n := u.ExpireCount + 1
	if n > m.limit {
		if err := m.store.ForceDisableAutoBook(ctx, u.ChatID); err != nil {
			return err
		}
		metrics.ExpiryReminders.WithLabelValues("disabled").Inc()
		m.log.Info("autobook disabled after reminders", zap.Int64("chat_id", u.ChatID))
		_ = m.notify.Text(ctx, u.ChatID, fmt.Sprintf(autoBookOffText, m.limit))
		return nil
	}

	if err := m.store.SetExpireCount(ctx, u.ChatID, n); err != nil {
		return err
	}
	if u.Token != "" {
		if err := m.store.SetToken(ctx, u.ChatID, ""); err != nil {
			return err
		}
	}
	metrics.ExpiryReminders.WithLabelValues("reminded").Inc()
	text := firstReminderText
	if n > 1 {
		text = fmt.Sprintf(reminderText, m.limit-n+1)
	}
	_ = m.notify.Text(ctx, u.ChatID, text)
	return nil
}
