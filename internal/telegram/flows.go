package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/csfx-py/vaccine-tracker/internal/cowin"
	"github.com/csfx-py/vaccine-tracker/internal/domain"
)

const expiredMenuText = "That menu has expired. Please start again."

// handleFreeForm feeds plain text into the chat's open dialog.
func (r *Router) handleFreeForm(ctx context.Context, chatID int64, text string) {
	switch r.dialogs.Get(chatID).State {
	case StateAwaitPincode:
		r.onPincode(ctx, chatID, text)
	case StateAwaitMobile:
		r.onMobile(ctx, chatID, text)
	case StateAwaitOTP:
		r.onOTP(ctx, chatID, text)
	default:
		// No open dialog: ignore free-form message
	}
}

// --- Track flow: pincode -> age group -> dose -> confirm ---

func (r *Router) handleTrack(ctx context.Context, chatID int64) {
	u, err := r.ensureUser(ctx, chatID)
	if err != nil {
		r.fail(ctx, chatID, "ensure user", err)
		return
	}
	if len(u.Tracking) >= r.opts.MaxTracking {
		r.sendText(ctx, chatID, fmt.Sprintf(trackLimitText, r.opts.MaxTracking))
		return
	}
	r.dialogs.Reset(chatID)
	_ = r.dialogs.Move(chatID, StateAwaitPincode, nil)
	r.sendText(ctx, chatID, askPincodeText)
}

func (r *Router) onPincode(ctx context.Context, chatID int64, text string) {
	pin, err := domain.ParsePincode(text)
	if err != nil {
		r.sendText(ctx, chatID, "Invalid pincode ("+err.Error()+"). Send 6 digits or /cancel.")
		return
	}
	if err := r.dialogs.Move(chatID, StateAwaitAge, func(d *Dialog) { d.Pincode = pin }); err != nil {
		r.sendText(ctx, chatID, expiredMenuText)
		return
	}
	r.send(ctx, chatID, askAgeText, ageKeyboard())
}

func (r *Router) handleAgeCallback(ctx context.Context, chatID int64, value string) {
	age, err := domain.ParseAgeGroup(value)
	if err != nil {
		return
	}
	if err := r.dialogs.Move(chatID, StateAwaitDose, func(d *Dialog) { d.AgeGroup = age }); err != nil {
		r.sendText(ctx, chatID, expiredMenuText)
		return
	}
	r.send(ctx, chatID, askDoseText, doseKeyboard())
}

func (r *Router) handleDoseCallback(ctx context.Context, chatID int64, value string) {
	dose, err := domain.ParseDose(value)
	if err != nil {
		return
	}
	if err := r.dialogs.Move(chatID, StateAwaitConfirm, func(d *Dialog) { d.Dose = dose }); err != nil {
		r.sendText(ctx, chatID, expiredMenuText)
		return
	}
	dl := r.dialogs.Get(chatID)
	r.send(ctx, chatID,
		fmt.Sprintf("Track pincode %s, age %d+, %s?", dl.Pincode, dl.AgeGroup, dl.Dose),
		confirmKeyboard())
}

func (r *Router) handleConfirmCallback(ctx context.Context, chatID int64, value string) {
	dl := r.dialogs.Get(chatID)
	if dl.State != StateAwaitConfirm {
		r.sendText(ctx, chatID, expiredMenuText)
		return
	}
	r.dialogs.Reset(chatID)
	if value != "yes" {
		r.sendText(ctx, chatID, cancelledText)
		return
	}

	u, err := r.ensureUser(ctx, chatID)
	if err != nil {
		r.fail(ctx, chatID, "ensure user", err)
		return
	}
	if u.HasEntry(dl.Pincode, dl.AgeGroup) {
		r.sendText(ctx, chatID, fmt.Sprintf(alreadyTrackedText, dl.Pincode, dl.AgeGroup))
		return
	}
	if len(u.Tracking) >= r.opts.MaxTracking {
		r.sendText(ctx, chatID, fmt.Sprintf(trackLimitText, r.opts.MaxTracking))
		return
	}
	entry, err := domain.NewTrackingEntry(dl.Pincode, dl.AgeGroup, dl.Dose)
	if err != nil {
		r.fail(ctx, chatID, "new tracking entry", err)
		return
	}
	if err := r.repo.AddTracking(ctx, chatID, entry); err != nil {
		r.fail(ctx, chatID, "add tracking", err)
		return
	}
	r.log.Info("tracking added", zap.Int64("chat_id", chatID), zap.String("pincode", entry.Pincode))
	r.sendText(ctx, chatID, fmt.Sprintf(trackedText, entry.Pincode, entry.AgeGroup, entry.Dose))
	if !u.HasDistrict() {
		r.sendText(ctx, chatID, noDistrictHint)
	}
}

// --- Login flow: mobile -> OTP ---

func (r *Router) handleLogin(ctx context.Context, chatID int64) {
	if _, err := r.ensureUser(ctx, chatID); err != nil {
		r.fail(ctx, chatID, "ensure user", err)
		return
	}
	r.dialogs.Reset(chatID)
	_ = r.dialogs.Move(chatID, StateAwaitMobile, nil)
	r.sendText(ctx, chatID, askMobileText)
}

// otpThrottle returns the reply to send instead of a new OTP, if any.
func (r *Router) otpThrottle(u *domain.User) string {
	if u.LastOTPAt == nil {
		return ""
	}
	now := r.clock.Now().UTC()
	if wait := r.opts.OTPWait - now.Sub(*u.LastOTPAt); wait > 0 {
		return fmt.Sprintf(otpWaitText, r.remaining(wait))
	}
	y1, m1, d1 := now.Date()
	y2, m2, d2 := u.LastOTPAt.UTC().Date()
	sameDay := y1 == y2 && m1 == m2 && d1 == d2
	if sameDay && r.opts.MaxOTPPerDay > 0 && u.OTPCount >= r.opts.MaxOTPPerDay {
		return otpCapText
	}
	return ""
}

func (r *Router) onMobile(ctx context.Context, chatID int64, text string) {
	mobile, err := domain.ParseMobile(text)
	if err != nil {
		r.sendText(ctx, chatID, "Invalid mobile number ("+err.Error()+"). Send 10 digits or /cancel.")
		return
	}
	u, err := r.ensureUser(ctx, chatID)
	if err != nil {
		r.fail(ctx, chatID, "ensure user", err)
		return
	}
	if msg := r.otpThrottle(u); msg != "" {
		r.sendText(ctx, chatID, msg)
		return
	}

	txnID, err := r.api.SendOTP(ctx, mobile)
	if err != nil {
		r.fail(ctx, chatID, "send otp", err)
		return
	}
	if err := r.repo.SetLoginTxn(ctx, chatID, mobile, txnID, r.clock.Now()); err != nil {
		r.fail(ctx, chatID, "save otp txn", err)
		return
	}
	if err := r.dialogs.Move(chatID, StateAwaitOTP, func(d *Dialog) {
		d.Mobile = mobile
		d.TxnID = txnID
	}); err != nil {
		r.sendText(ctx, chatID, expiredMenuText)
		return
	}
	r.sendText(ctx, chatID, fmt.Sprintf(askOTPText, mobile))
}

func (r *Router) onOTP(ctx context.Context, chatID int64, text string) {
	otp, err := domain.ParseOTP(text)
	if err != nil {
		r.sendText(ctx, chatID, wrongOTPText)
		return
	}
	dl := r.dialogs.Get(chatID)

	token, err := r.api.VerifyOTP(ctx, otp, dl.TxnID)
	var upErr *domain.UpstreamError
	if errors.As(err, &upErr) {
		r.sendText(ctx, chatID, wrongOTPText)
		return
	}
	if err != nil {
		r.dialogs.Reset(chatID)
		r.fail(ctx, chatID, "verify otp", err)
		return
	}
	r.dialogs.Reset(chatID)

	if err := r.repo.LoginSucceeded(ctx, chatID, dl.Mobile, token); err != nil {
		r.fail(ctx, chatID, "save login", err)
		return
	}
	r.log.Info("user logged in", zap.Int64("chat_id", chatID))
	r.sendText(ctx, chatID, fmt.Sprintf(loggedInText, r.remaining(domain.TokenExpiresIn(token, r.clock.Now()))))
	r.offerBeneficiaries(ctx, chatID, token)
}

func (r *Router) handleLogout(ctx context.Context, chatID int64) {
	r.dialogs.Reset(chatID)
	if err := r.repo.SetToken(ctx, chatID, ""); err != nil {
		r.fail(ctx, chatID, "logout", err)
		return
	}
	if err := r.repo.SetAutoBook(ctx, chatID, false); err != nil {
		r.fail(ctx, chatID, "logout", err)
		return
	}
	r.sendText(ctx, chatID, "Logged out. Autobook is off.")
}

// --- Beneficiaries ---

func (r *Router) handleBeneficiaries(ctx context.Context, chatID int64) {
	u, err := r.ensureUser(ctx, chatID)
	if err != nil {
		r.fail(ctx, chatID, "ensure user", err)
		return
	}
	if !domain.TokenValid(u.Token, r.clock.Now()) {
		r.sendText(ctx, chatID, loginFirstText)
		return
	}
	r.offerBeneficiaries(ctx, chatID, u.Token)
}

// offerBeneficiaries refreshes the stored list and asks for the preferred one.
func (r *Router) offerBeneficiaries(ctx context.Context, chatID int64, token string) {
	list, err := r.api.Beneficiaries(ctx, token)
	if cowin.IsUnauthorized(err) {
		_ = r.repo.SetToken(ctx, chatID, "")
		r.sendText(ctx, chatID, loginFirstText)
		return
	}
	if err != nil {
		r.fail(ctx, chatID, "list beneficiaries", err)
		return
	}
	if err := r.repo.SetBeneficiaries(ctx, chatID, list); err != nil {
		r.fail(ctx, chatID, "save beneficiaries", err)
		return
	}
	if len(list) == 0 {
		r.sendText(ctx, chatID, noBeneficiaryText)
		return
	}
	r.send(ctx, chatID, chooseBenText, beneficiaryKeyboard(list))
}

func (r *Router) handleBeneficiaryCallback(ctx context.Context, chatID int64, refID string) {
	u, err := r.ensureUser(ctx, chatID)
	if err != nil {
		r.fail(ctx, chatID, "ensure user", err)
		return
	}
	b, ok := domain.FindBeneficiary(u.Beneficiaries, refID)
	if !ok {
		r.sendText(ctx, chatID, expiredMenuText)
		return
	}
	if err := r.repo.SetPreferredBeneficiary(ctx, chatID, &b); err != nil {
		r.fail(ctx, chatID, "set beneficiary", err)
		return
	}
	r.sendText(ctx, chatID, "Preferred beneficiary: "+b.Name+". Turn on /autobook to book automatically.")
}

// --- District flow: state -> district ---

func (r *Router) handleDistrict(ctx context.Context, chatID int64) {
	if _, err := r.ensureUser(ctx, chatID); err != nil {
		r.fail(ctx, chatID, "ensure user", err)
		return
	}
	states, err := r.api.States(ctx)
	if err != nil {
		r.fail(ctx, chatID, "list states", err)
		return
	}
	r.dialogs.Reset(chatID)
	_ = r.dialogs.Move(chatID, StateAwaitState, nil)
	r.send(ctx, chatID, askStateText, stateKeyboard(states))
}

func (r *Router) handleStateCallback(ctx context.Context, chatID int64, value string) {
	stateID, err := strconv.Atoi(value)
	if err != nil {
		return
	}
	if r.dialogs.Get(chatID).State != StateAwaitState {
		r.sendText(ctx, chatID, expiredMenuText)
		return
	}
	districts, err := r.api.Districts(ctx, stateID)
	if err != nil {
		r.fail(ctx, chatID, "list districts", err)
		return
	}
	if err := r.dialogs.Move(chatID, StateAwaitDist, func(d *Dialog) { d.StateID = stateID }); err != nil {
		r.sendText(ctx, chatID, expiredMenuText)
		return
	}
	r.send(ctx, chatID, askDistrictText, districtKeyboard(districts))
}

func (r *Router) handleDistrictCallback(ctx context.Context, chatID int64, value string) {
	districtID, err := strconv.Atoi(value)
	if err != nil {
		return
	}
	dl := r.dialogs.Get(chatID)
	if dl.State != StateAwaitDist {
		r.sendText(ctx, chatID, expiredMenuText)
		return
	}
	r.dialogs.Reset(chatID)
	if err := r.repo.SetDistrict(ctx, chatID, dl.StateID, districtID); err != nil {
		r.fail(ctx, chatID, "set district", err)
		return
	}
	r.sendText(ctx, chatID, "District saved. Preferred /center list was cleared.")
}
