package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/csfx-py/vaccine-tracker/internal/domain"
	"github.com/csfx-py/vaccine-tracker/internal/notify"
	"github.com/csfx-py/vaccine-tracker/internal/store"
)

// ensureUser makes sure a user row exists; if not, creates it with defaults.
func (r *Router) ensureUser(ctx context.Context, chatID int64) (*domain.User, error) {
	u, err := r.repo.GetUser(ctx, chatID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	u = &domain.User{
		ChatID:    chatID,
		Allowed:   true,
		Vaccine:   domain.VaccineAny,
		FeeType:   domain.FeeAny,
		CreatedAt: r.clock.Now().UTC(),
	}
	if err := r.repo.UpsertUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// --- Generic helpers ---

func (r *Router) send(ctx context.Context, chatID int64, text string, buttons [][]notify.Button) {
	if err := r.ch.Send(ctx, notify.Message{ChatID: chatID, Text: text, Buttons: buttons}); err != nil {
		r.log.Warn("reply failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (r *Router) sendText(ctx context.Context, chatID int64, text string) {
	r.send(ctx, chatID, text, nil)
}

func (r *Router) sendHTML(ctx context.Context, chatID int64, text string) {
	if err := r.ch.Send(ctx, notify.Message{ChatID: chatID, Text: text, HTML: true}); err != nil {
		r.log.Warn("reply failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (r *Router) answerCallback(id, text string) error {
	_, err := r.bot.Request(tgbotapi.NewCallback(id, text))
	return err
}

// fail logs err and tells the user. Provider rejections are shown as is.
func (r *Router) fail(ctx context.Context, chatID int64, op string, err error) {
	var upErr *domain.UpstreamError
	if errors.As(err, &upErr) {
		r.log.Info(op+" rejected", zap.Int64("chat_id", chatID), zap.Error(err))
		r.sendText(ctx, chatID, "CoWIN says: "+upErr.Message)
		return
	}
	r.log.Error(op+" failed", zap.Int64("chat_id", chatID), zap.Error(err))
	r.sendText(ctx, chatID, genericErrText)
}

// remaining renders d as "3 hours", "12 minutes".
func (r *Router) remaining(d time.Duration) string {
	now := r.clock.Now()
	return strings.TrimSpace(humanize.RelTime(now, now.Add(d), "", ""))
}

// --- Core commands ---

func (r *Router) handleStart(ctx context.Context, chatID int64) {
	u, err := r.ensureUser(ctx, chatID)
	if err != nil {
		r.fail(ctx, chatID, "ensure user", err)
		return
	}
	msg := tgbotapi.NewMessage(chatID, startText)
	msg.ReplyMarkup = mainMenuKeyboard()
	if _, err := r.bot.Send(msg); err != nil {
		r.log.Warn("start reply failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
	if !u.Walkthrough {
		r.sendText(ctx, chatID, helpText)
		if err := r.repo.SetWalkthrough(ctx, chatID, true); err != nil {
			r.log.Error("set walkthrough failed", zap.Int64("chat_id", chatID), zap.Error(err))
		}
	}
}

func (r *Router) handleStatus(ctx context.Context, chatID int64) {
	u, err := r.ensureUser(ctx, chatID)
	if err != nil {
		r.fail(ctx, chatID, "ensure user", err)
		return
	}
	now := r.clock.Now()

	district := "not set, send /district"
	if u.HasDistrict() {
		district = strconv.Itoa(u.DistrictID)
		if len(u.Centers) > 0 {
			district += fmt.Sprintf(" (autobook centers: %v)", u.Centers)
		}
	}
	autobook := "OFF"
	if u.AutoBook {
		autobook = "ON"
		if u.HasPreferred() {
			autobook += " for " + u.Preferred.Name
		}
	}
	login := "logged out"
	if left := domain.TokenExpiresIn(u.Token, now); left > 0 {
		login = "valid for " + r.remaining(left)
	}
	alerts := "on"
	if u.Snoozed(now) {
		alerts = "snoozed, back in " + r.remaining(u.SnoozeUntil.Sub(now))
	}
	var tracking strings.Builder
	for _, t := range u.Tracking {
		fmt.Fprintf(&tracking, "   - %s, %d+, %s\n", t.Pincode, t.AgeGroup, t.Dose)
	}
	if len(u.Tracking) == 0 {
		tracking.WriteString("   none, send /track\n")
	}

	body := fmt.Sprintf("%s\n\n"+statusFmt,
		statusTitle,
		district,
		u.Vaccine,
		u.FeeType,
		autobook,
		login,
		alerts,
		tracking.String(),
	)
	r.sendText(ctx, chatID, body)
}

// --- Untrack ---

func (r *Router) handleUntrack(ctx context.Context, chatID int64) {
	u, err := r.ensureUser(ctx, chatID)
	if err != nil {
		r.fail(ctx, chatID, "ensure user", err)
		return
	}
	if len(u.Tracking) == 0 {
		r.sendText(ctx, chatID, "You're not tracking anything. Send /track to start.")
		return
	}
	r.send(ctx, chatID, "Tap an entry to stop tracking it:", untrackKeyboard(u.Tracking))
}

func (r *Router) handleUntrackCallback(ctx context.Context, chatID int64, id string) {
	if err := r.repo.RemoveTracking(ctx, chatID, id); err != nil {
		r.fail(ctx, chatID, "remove tracking", err)
		return
	}
	r.sendText(ctx, chatID, "Stopped tracking.")
}

func (r *Router) handleBooked(ctx context.Context, chatID int64) {
	u, err := r.ensureUser(ctx, chatID)
	if err != nil {
		r.fail(ctx, chatID, "ensure user", err)
		return
	}
	for _, t := range u.Tracking {
		if err := r.repo.RemoveTracking(ctx, chatID, t.ID); err != nil {
			r.fail(ctx, chatID, "remove tracking", err)
			return
		}
	}
	r.sendText(ctx, chatID, bookedAckText)
}

// --- Snooze ---

func (r *Router) handleSnoozeCallback(ctx context.Context, chatID int64, value string) {
	secs, err := strconv.Atoi(value)
	if err != nil {
		return
	}
	preset, ok := domain.FindSnoozePreset(secs)
	if !ok {
		return
	}
	if _, err := r.ensureUser(ctx, chatID); err != nil {
		r.fail(ctx, chatID, "ensure user", err)
		return
	}
	now := r.clock.Now().UTC()
	until := now.Add(preset.Duration)
	if err := r.repo.SetSnooze(ctx, chatID, &until, &now); err != nil {
		r.fail(ctx, chatID, "snooze", err)
		return
	}
	r.sendText(ctx, chatID, fmt.Sprintf("Snoozed for %s. Send /unsnooze to resume earlier.", preset.Name))
}

func (r *Router) handleUnsnooze(ctx context.Context, chatID int64) {
	if err := r.repo.SetSnooze(ctx, chatID, nil, nil); err != nil {
		r.fail(ctx, chatID, "unsnooze", err)
		return
	}
	r.sendText(ctx, chatID, "You're now unsnoozed.")
}

// --- Preferences ---

func (r *Router) handleVaccineCallback(ctx context.Context, chatID int64, value string) {
	v, err := domain.ParseVaccine(value)
	if err != nil {
		return
	}
	u, err := r.ensureUser(ctx, chatID)
	if err != nil {
		r.fail(ctx, chatID, "ensure user", err)
		return
	}
	if err := r.repo.SetPreferences(ctx, chatID, v, u.FeeType); err != nil {
		r.fail(ctx, chatID, "set vaccine", err)
		return
	}
	r.sendText(ctx, chatID, "Preferred vaccine: "+string(v))
}

func (r *Router) handleFeeCallback(ctx context.Context, chatID int64, value string) {
	f, err := domain.ParseFeeType(value)
	if err != nil {
		return
	}
	u, err := r.ensureUser(ctx, chatID)
	if err != nil {
		r.fail(ctx, chatID, "ensure user", err)
		return
	}
	if err := r.repo.SetPreferences(ctx, chatID, u.Vaccine, f); err != nil {
		r.fail(ctx, chatID, "set fee", err)
		return
	}
	r.sendText(ctx, chatID, "Preferred fee type: "+string(f))
}

func (r *Router) handleAutobookCallback(ctx context.Context, chatID int64, value string) {
	u, err := r.ensureUser(ctx, chatID)
	if err != nil {
		r.fail(ctx, chatID, "ensure user", err)
		return
	}
	on := value == "on"
	if on && (!domain.TokenValid(u.Token, r.clock.Now()) || !u.HasPreferred()) {
		r.sendText(ctx, chatID, autobookNeedsText)
		return
	}
	if err := r.repo.SetAutoBook(ctx, chatID, on); err != nil {
		r.fail(ctx, chatID, "set autobook", err)
		return
	}
	if on {
		r.sendText(ctx, chatID, "Autobook is ON for "+u.Preferred.Name+". I'll try to book the first matching slot.")
		return
	}
	r.sendText(ctx, chatID, "Autobook is OFF.")
}

// handleCenter lists the district's centers without args, clears the
// preference with "clear", or restricts autobooking to the given ids.
func (r *Router) handleCenter(ctx context.Context, chatID int64, args string) {
	u, err := r.ensureUser(ctx, chatID)
	if err != nil {
		r.fail(ctx, chatID, "ensure user", err)
		return
	}
	if !u.HasDistrict() {
		r.sendText(ctx, chatID, "Set your /district first.")
		return
	}

	switch {
	case args == "":
		centers, err := r.api.Centers(ctx, u.DistrictID)
		if err != nil {
			r.fail(ctx, chatID, "list centers", err)
			return
		}
		lines := []string{"Centers with sessions in your district. Send /center <id> [id...] to autobook only there, /center clear for any:"}
		for _, c := range centers {
			lines = append(lines, fmt.Sprintf("%d - %s, %s", c.ID, c.Name, c.Pincode))
		}
		for _, text := range notify.Pack(lines, notify.MaxMessageLen) {
			r.sendText(ctx, chatID, text)
		}

	case args == "clear":
		if err := r.repo.SetCenters(ctx, chatID, nil); err != nil {
			r.fail(ctx, chatID, "set centers", err)
			return
		}
		r.sendText(ctx, chatID, "Autobook will consider any center.")

	default:
		var ids []int
		for _, f := range strings.Fields(args) {
			id, err := strconv.Atoi(f)
			if err != nil || id <= 0 {
				r.sendText(ctx, chatID, "Center ids are numbers, e.g. /center 123456")
				return
			}
			ids = append(ids, id)
		}
		if err := r.repo.SetCenters(ctx, chatID, ids); err != nil {
			r.fail(ctx, chatID, "set centers", err)
			return
		}
		r.sendText(ctx, chatID, fmt.Sprintf("Autobook restricted to centers %v.", ids))
	}
}

// --- Operator ---

func (r *Router) handleSleeptime(ctx context.Context, chatID int64, args string) {
	if args == "" {
		r.sendText(ctx, chatID, "Sleeptime: "+r.tuner.PollDelay().String())
		return
	}
	d, err := domain.ParseDelay(args)
	if err != nil {
		r.sendText(ctx, chatID, "Invalid sleeptime: "+err.Error())
		return
	}
	r.tuner.SetPollDelay(d)
	r.log.Info("poll delay changed by operator", zap.Duration("poll_delay", d))
	r.sendText(ctx, chatID, "Sleeptime set to "+d.String())
}

func (r *Router) handleBotstat(ctx context.Context, chatID int64) {
	st, err := r.repo.Stats(ctx)
	if err != nil {
		r.fail(ctx, chatID, "stats", err)
		return
	}
	r.sendHTML(ctx, chatID, fmt.Sprintf(
		"<b>Users:</b> %s (%s allowed)\n<b>Tracked pincodes:</b> %s\n<b>Districts:</b> %s\n"+
			"<b>Logged in:</b> %s\n<b>Autobook:</b> %s\n<b>Appointments:</b> %s\n<b>Sleeptime:</b> %s",
		humanize.Comma(int64(st.Users)),
		humanize.Comma(int64(st.AllowedUsers)),
		humanize.Comma(int64(st.TrackedPincodes)),
		humanize.Comma(int64(st.Districts)),
		humanize.Comma(int64(st.LoggedIn)),
		humanize.Comma(int64(st.AutoBook)),
		humanize.Comma(int64(st.Appointments)),
		r.tuner.PollDelay(),
	))
}
