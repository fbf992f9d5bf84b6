package telegram

import (
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/csfx-py/vaccine-tracker/internal/cowin"
	"github.com/csfx-py/vaccine-tracker/internal/domain"
	"github.com/csfx-py/vaccine-tracker/internal/notify"
)

// UI texts
const (
	startText = "👋 Hi! I track CoWIN vaccination slots for the pincodes you choose and alert you " +
		"as soon as something opens up.\n\n" +
		"1. Set your /district\n2. Add a pincode with /track\n\n" +
		"Optionally /login and turn on /autobook to let me book a slot for you."

	helpText = "Commands:\n" +
		"/track - track a pincode\n" +
		"/untrack - stop tracking a pincode\n" +
		"/status - your settings\n" +
		"/district - set your district\n" +
		"/vaccine - preferred vaccine\n" +
		"/fee - preferred fee type\n" +
		"/snooze - pause alerts for a while\n" +
		"/unsnooze - resume alerts\n" +
		"/login - login to CoWIN with your mobile\n" +
		"/logout - forget your CoWIN session\n" +
		"/beneficiaries - choose whom to book for\n" +
		"/center - restrict autobooking to centers\n" +
		"/autobook - book automatically when a slot matches\n" +
		"/cancel - cancel the current dialog"

	statusTitle = "🧾 Your current settings:"
	statusFmt   = "• District: %s\n• Vaccine: %s\n• Fee: %s\n• Autobook: %s\n• Login: %s\n• Alerts: %s\n• Tracking:\n%s"

	askPincodeText     = "Send the 6-digit pincode to track:"
	askAgeText         = "Choose age group:"
	askDoseText        = "Choose dose:"
	askMobileText      = "Send your 10-digit mobile number registered with CoWIN:"
	askOTPText         = "OTP sent to %s. Send it here. /cancel to abort."
	askStateText       = "Choose your state:"
	askDistrictText    = "Choose your district:"
	trackLimitText     = "You can track at most %d pincodes. /untrack one first."
	alreadyTrackedText = "You already track %s for %d+."
	trackedText        = "Tracking %s for %d+ (%s). I'll alert you when slots open."
	noDistrictHint     = "Set your /district too, otherwise I can't check this pincode."
	loginFirstText     = "Please /login first."
	genericErrText     = "Something went wrong. Please try again later."
	otpWaitText        = "Please wait %s before requesting another OTP."
	otpCapText         = "Too many OTP requests today. Please try again tomorrow."
	wrongOTPText       = "Wrong OTP. Send it again or /cancel."
	loggedInText       = "Logged in ✅ Session valid for %s."
	noBeneficiaryText  = "No beneficiaries registered on CoWIN for this number."
	chooseBenText      = "Choose the beneficiary to book for:"
	autobookNeedsText  = "To turn on autobook you need to /login and choose a beneficiary with /beneficiaries."
	bookedAckText      = "Great! I've stopped your alerts. Stay safe!"
	notBookedAckText   = "Okay, I'll keep looking."
	cancelledText      = "Cancelled."
)

func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	return tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("/track"),
			tgbotapi.NewKeyboardButton("/status"),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("/snooze"),
			tgbotapi.NewKeyboardButton("/help"),
		),
	)
}

// rows lays buttons out n per row.
func rows(buttons []notify.Button, n int) [][]notify.Button {
	var out [][]notify.Button
	for len(buttons) > n {
		out = append(out, buttons[:n])
		buttons = buttons[n:]
	}
	if len(buttons) > 0 {
		out = append(out, buttons)
	}
	return out
}

func ageKeyboard() [][]notify.Button {
	return [][]notify.Button{{
		{Text: "18+", Data: "age:18"},
		{Text: "45+", Data: "age:45"},
	}}
}

func doseKeyboard() [][]notify.Button {
	return [][]notify.Button{
		{{Text: domain.DoseAny.String(), Data: "dose:0"}},
		{{Text: domain.DoseFirst.String(), Data: "dose:1"}, {Text: domain.DoseSecond.String(), Data: "dose:2"}},
	}
}

func confirmKeyboard() [][]notify.Button {
	return [][]notify.Button{{
		{Text: "✅ Confirm", Data: "confirm:yes"},
		{Text: "❌ Cancel", Data: "confirm:no"},
	}}
}

func snoozeKeyboard() [][]notify.Button {
	var buttons []notify.Button
	for _, p := range domain.SnoozePresets() {
		buttons = append(buttons, notify.Button{Text: p.Name, Data: "snooze:" + strconv.Itoa(int(p.Duration.Seconds()))})
	}
	return rows(buttons, 4)
}

func vaccineKeyboard() [][]notify.Button {
	var buttons []notify.Button
	for _, v := range domain.Vaccines() {
		buttons = append(buttons, notify.Button{Text: string(v), Data: "vaccine:" + string(v)})
	}
	return rows(buttons, 2)
}

func feeKeyboard() [][]notify.Button {
	var buttons []notify.Button
	for _, f := range domain.FeeTypes() {
		buttons = append(buttons, notify.Button{Text: string(f), Data: "fee:" + string(f)})
	}
	return rows(buttons, 3)
}

func autobookKeyboard() [][]notify.Button {
	return [][]notify.Button{{
		{Text: "Turn ON", Data: "autobook:on"},
		{Text: "Turn OFF", Data: "autobook:off"},
	}}
}

func untrackKeyboard(entries []domain.TrackingEntry) [][]notify.Button {
	var out [][]notify.Button
	for _, t := range entries {
		out = append(out, []notify.Button{{
			Text: fmt.Sprintf("❌ %s %d+ %s", t.Pincode, t.AgeGroup, t.Dose),
			Data: "untrack:" + t.ID,
		}})
	}
	return out
}

func beneficiaryKeyboard(list []domain.Beneficiary) [][]notify.Button {
	var out [][]notify.Button
	for _, b := range list {
		out = append(out, []notify.Button{{
			Text: fmt.Sprintf("%s (%s, doses: %d)", b.Name, b.BirthYear, domain.DoseCount(&b)),
			Data: "ben:" + b.ReferenceID,
		}})
	}
	return out
}

func stateKeyboard(states []cowin.State) [][]notify.Button {
	buttons := make([]notify.Button, 0, len(states))
	for _, s := range states {
		buttons = append(buttons, notify.Button{Text: s.Name, Data: "state:" + strconv.Itoa(s.ID)})
	}
	return rows(buttons, 2)
}

func districtKeyboard(districts []cowin.District) [][]notify.Button {
	buttons := make([]notify.Button, 0, len(districts))
	for _, d := range districts {
		buttons = append(buttons, notify.Button{Text: d.Name, Data: "district:" + strconv.Itoa(d.ID)})
	}
	return rows(buttons, 2)
}
