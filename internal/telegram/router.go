// Package telegram is the chat surface: the command router, dialogs and the
// Telegram implementation of notify.Channel.
package telegram

import (
	"context"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/csfx-py/vaccine-tracker/internal/cowin"
	"github.com/csfx-py/vaccine-tracker/internal/domain"
	"github.com/csfx-py/vaccine-tracker/internal/notify"
	"github.com/csfx-py/vaccine-tracker/internal/store"
)

// API is the provider surface the dialogs need.
type API interface {
	SendOTP(ctx context.Context, mobile string) (string, error)
	VerifyOTP(ctx context.Context, otp, txnID string) (string, error)
	States(ctx context.Context) ([]cowin.State, error)
	Districts(ctx context.Context, stateID int) ([]cowin.District, error)
	Centers(ctx context.Context, districtID int) ([]domain.Center, error)
	Beneficiaries(ctx context.Context, token string) ([]domain.Beneficiary, error)
}

// Tuner exposes the tracker's runtime knobs to the operator.
type Tuner interface {
	PollDelay() time.Duration
	SetPollDelay(d time.Duration)
}

// Options are the router limits.
type Options struct {
	Operator     int64
	MaxTracking  int
	MaxOTPPerDay int
	OTPWait      time.Duration
}

// Router wires Telegram updates to handlers.
type Router struct {
	bot     BotAPI
	ch      notify.Channel
	log     *zap.Logger
	repo    store.Repo
	api     API
	tuner   Tuner
	clock   clock.Clock
	opts    Options
	dialogs *Dialogs
}

// NewRouter creates a new Telegram router.
func NewRouter(bot BotAPI, log *zap.Logger, repo store.Repo, api API, tuner Tuner, clk clock.Clock, opts Options) *Router {
	if clk == nil {
		clk = clock.WallClock
	}
	if opts.OTPWait == 0 {
		opts.OTPWait = 180 * time.Second
	}
	return &Router{
		bot:     bot,
		ch:      NewSender(bot),
		log:     log,
		repo:    repo,
		api:     api,
		tuner:   tuner,
		clock:   clk,
		opts:    opts,
		dialogs: NewDialogs(),
	}
}

// HandleUpdate routes a single update to the appropriate handler.
func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message != nil {
		msg := upd.Message
		chatID := msg.Chat.ID
		if !msg.IsCommand() {
			r.handleFreeForm(ctx, chatID, strings.TrimSpace(msg.Text))
			return
		}
		args := strings.TrimSpace(msg.CommandArguments())

		switch msg.Command() {
		case "start":
			r.handleStart(ctx, chatID)
		case "help":
			r.sendText(ctx, chatID, helpText)
		case "status":
			r.handleStatus(ctx, chatID)
		case "track":
			r.handleTrack(ctx, chatID)
		case "untrack":
			r.handleUntrack(ctx, chatID)
		case "snooze":
			r.send(ctx, chatID, "Snooze alerts for:", snoozeKeyboard())
		case "unsnooze":
			r.handleUnsnooze(ctx, chatID)
		case "vaccine":
			r.send(ctx, chatID, "Preferred vaccine:", vaccineKeyboard())
		case "fee":
			r.send(ctx, chatID, "Preferred fee type:", feeKeyboard())
		case "autobook":
			r.send(ctx, chatID, "Autobook:", autobookKeyboard())
		case "login":
			r.handleLogin(ctx, chatID)
		case "logout":
			r.handleLogout(ctx, chatID)
		case "beneficiaries":
			r.handleBeneficiaries(ctx, chatID)
		case "district":
			r.handleDistrict(ctx, chatID)
		case "center":
			r.handleCenter(ctx, chatID, args)
		case "cancel":
			r.dialogs.Reset(chatID)
			r.sendText(ctx, chatID, cancelledText)
		case "sleeptime":
			if r.isOperator(chatID) {
				r.handleSleeptime(ctx, chatID, args)
			}
		case "botstat":
			if r.isOperator(chatID) {
				r.handleBotstat(ctx, chatID)
			}
		default:
			r.sendText(ctx, chatID, helpText)
		}
		return
	}

	if upd.CallbackQuery != nil {
		cb := upd.CallbackQuery
		if cb.Message == nil {
			return
		}
		_ = r.answerCallback(cb.ID, "")
		chatID := cb.Message.Chat.ID
		kind, value, _ := strings.Cut(cb.Data, ":")

		switch kind {
		case "age":
			r.handleAgeCallback(ctx, chatID, value)
		case "dose":
			r.handleDoseCallback(ctx, chatID, value)
		case "confirm":
			r.handleConfirmCallback(ctx, chatID, value)
		case "snooze":
			r.handleSnoozeCallback(ctx, chatID, value)
		case "vaccine":
			r.handleVaccineCallback(ctx, chatID, value)
		case "fee":
			r.handleFeeCallback(ctx, chatID, value)
		case "autobook":
			r.handleAutobookCallback(ctx, chatID, value)
		case "ben":
			r.handleBeneficiaryCallback(ctx, chatID, value)
		case "untrack":
			r.handleUntrackCallback(ctx, chatID, value)
		case "state":
			r.handleStateCallback(ctx, chatID, value)
		case "district":
			r.handleDistrictCallback(ctx, chatID, value)
		case notify.CallbackBooked:
			r.handleBooked(ctx, chatID)
		case notify.CallbackNotBooked:
			r.sendText(ctx, chatID, notBookedAckText)
		default:
			// Unknown callback: ignore silently
		}
	}
}

func (r *Router) isOperator(chatID int64) bool {
	return r.opts.Operator != 0 && chatID == r.opts.Operator
}
