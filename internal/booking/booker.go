// Package booking attempts automatic reservations for matched listings.
package booking

import (
	"context"
	"errors"
	"fmt"
	"html"
	"time"

	"github.com/im7mortal/kmutex"
	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/csfx-py/vaccine-tracker/internal/cowin"
	"github.com/csfx-py/vaccine-tracker/internal/domain"
	"github.com/csfx-py/vaccine-tracker/internal/metrics"
	"github.com/csfx-py/vaccine-tracker/internal/notify"
)

// ErrNotArmed is returned when the user no longer qualifies once the
// per-user lock is held, typically because a concurrent attempt already ran.
var ErrNotArmed = errors.New("auto-reservation not armed")

var errNoSession = errors.New("no session with capacity and slots")

const settlePause = 800 * time.Millisecond

// API is the reservation side of the provider.
type API interface {
	Captcha(ctx context.Context, token string, chatID int64) (string, error)
	Reserve(ctx context.Context, token string, req domain.ReservationRequest, mode domain.ReservationMode) (string, error)
	Beneficiaries(ctx context.Context, token string) ([]domain.Beneficiary, error)
	AppointmentSlip(ctx context.Context, token, appointmentID string) (domain.Document, error)
}

// Store is the slice of the subscription store the booker mutates.
type Store interface {
	GetUser(ctx context.Context, chatID int64) (*domain.User, error)
	SetAutoBook(ctx context.Context, chatID int64, on bool) error
	SetToken(ctx context.Context, chatID int64, token string) error
	SetBeneficiaries(ctx context.Context, chatID int64, list []domain.Beneficiary) error
	SetPreferredBeneficiary(ctx context.Context, chatID int64, b *domain.Beneficiary) error
}

// Notifier delivers user notices and operator reports.
type Notifier interface {
	Text(ctx context.Context, chatID int64, text string) error
	HTML(ctx context.Context, chatID int64, text string) error
	Document(ctx context.Context, chatID int64, doc domain.Document) error
	Operator(ctx context.Context, text string)
	OperatorHTML(ctx context.Context, text string)
	OperatorDocument(ctx context.Context, doc domain.Document) error
}

// Booker is the auto-reservation orchestrator.
type Booker struct {
	api    API
	store  Store
	notify Notifier
	clock  clock.Clock
	loc    *time.Location
	locks  *kmutex.Kmutex
	log    *zap.Logger
}

// New returns a Booker. loc is the provider timezone used to decide
// whether an appointment lies in the future.
func New(api API, store Store, n Notifier, clk clock.Clock, loc *time.Location, log *zap.Logger) *Booker {
	if clk == nil {
		clk = clock.WallClock
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Booker{
		api:    api,
		store:  store,
		notify: n,
		clock:  clk,
		loc:    loc,
		locks:  kmutex.New(),
		log:    log,
	}
}

// Eligible reports whether a matched center may be booked for u:
// flag on, live credential, preferred beneficiary, vaccine and center preference.
func (b *Booker) Eligible(u *domain.User, c domain.Center, now time.Time) bool {
	return u.CanAutoBook(now) &&
		domain.VaccineEligible(c, u.Preferred) &&
		domain.CenterPreferred(c, u.Centers)
}

// Attempt tries to reserve a slot at c for the user's preferred beneficiary.
// Attempts of one user are serialized; the flag is re-read under the lock
// and switched off before anything else happens.
func (b *Booker) Attempt(ctx context.Context, chatID int64, c domain.Center) error {
	b.locks.Lock(chatID)
	defer b.locks.Unlock(chatID)

	u, err := b.store.GetUser(ctx, chatID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if !b.Eligible(u, c, b.clock.Now()) {
		return ErrNotArmed
	}

	if err := b.store.SetAutoBook(ctx, chatID, false); err != nil {
		return fmt.Errorf("disarm autobook: %w", err)
	}
	log := b.log.With(zap.Int64("chat_id", chatID), zap.Int("center_id", c.ID))
	log.Info("reservation attempt started")
	_ = b.notify.Text(ctx, chatID, "Attempting to book slot...")

	mode, apptID, err := b.reserve(ctx, u, c)
	if err != nil {
		b.fail(ctx, log, chatID, err)
		return err
	}

	metrics.Reservations.WithLabelValues("booked").Inc()
	log.Info("reservation succeeded", zap.String("appointment_id", apptID), zap.String("mode", string(mode)))
	b.confirm(ctx, log, u, mode, apptID)
	return nil
}

func (b *Booker) reserve(ctx context.Context, u *domain.User, c domain.Center) (domain.ReservationMode, string, error) {
	captcha, err := b.api.Captcha(ctx, u.Token, u.ChatID)
	if err != nil {
		return "", "", err
	}
	session, slot, ok := domain.PickSlot(c)
	if !ok {
		return "", "", errNoSession
	}

	ben := u.Preferred
	mode := domain.ChooseMode(ben, b.clock.Now(), b.loc)
	req := domain.ReservationRequest{
		BeneficiaryID: ben.ReferenceID,
		Captcha:       captcha,
		CenterID:      c.ID,
		Dose:          domain.DoseCount(ben),
		SessionID:     session.ID,
		Slot:          slot,
	}
	if mode == domain.ModeReschedule {
		appt, _ := domain.FutureAppointment(ben, b.clock.Now(), b.loc)
		req.AppointmentID = appt.ID
	}

	id, err := b.api.Reserve(ctx, u.Token, req, mode)
	if err != nil {
		return mode, "", err
	}
	return mode, id, nil
}

func (b *Booker) fail(ctx context.Context, log *zap.Logger, chatID int64, cause error) {
	// A rejected session is dropped; the expiry monitor then asks for a new login.
	if cowin.IsUnauthorized(cause) {
		if err := b.store.SetToken(ctx, chatID, ""); err != nil {
			log.Error("clear rejected token failed", zap.Error(err))
		}
	}
	if err := b.store.SetAutoBook(ctx, chatID, true); err != nil {
		log.Error("re-arm autobook failed", zap.Error(err))
	}
	_ = b.notify.Text(ctx, chatID, "Failed to book appointment. Please try yourself once. Sorry.")

	var ue *domain.UpstreamError
	switch {
	case errors.As(cause, &ue):
		metrics.Reservations.WithLabelValues("rejected").Inc()
		log.Warn("reservation rejected", zap.String("code", ue.Code), zap.String("reason", ue.Message))
		_ = b.notify.Text(ctx, chatID, fmt.Sprintf("Reason: %s: %s", ue.Code, ue.Message))
	case errors.Is(cause, domain.ErrTransient), errors.Is(cause, context.Canceled):
		metrics.Reservations.WithLabelValues("failed").Inc()
		log.Warn("reservation failed", zap.Error(cause))
	default:
		metrics.Reservations.WithLabelValues("failed").Inc()
		log.Error("reservation failed unexpectedly", zap.Error(cause))
		b.notify.Operator(ctx, fmt.Sprintf("Somethings wrong\n%d: %v", chatID, cause))
	}
}

func (b *Booker) confirm(ctx context.Context, log *zap.Logger, u *domain.User, mode domain.ReservationMode, apptID string) {
	select {
	case <-b.clock.After(settlePause):
	case <-ctx.Done():
	}

	details := ""
	name := u.Preferred.Name
	list, err := b.api.Beneficiaries(ctx, u.Token)
	if err != nil {
		log.Error("refresh beneficiaries after booking", zap.Error(err))
	} else {
		if err := b.store.SetBeneficiaries(ctx, u.ChatID, list); err != nil {
			log.Error("store beneficiaries", zap.Error(err))
		}
		if booked, ok := domain.FindBeneficiary(list, u.Preferred.ReferenceID); ok {
			name = booked.Name
			if err := b.store.SetPreferredBeneficiary(ctx, u.ChatID, &booked); err != nil {
				log.Error("store preferred beneficiary", zap.Error(err))
			}
			for _, a := range booked.Appointments {
				if a.ID == apptID {
					details = notify.RenderAppointments([]domain.Appointment{a})
					break
				}
			}
		}
	}

	_ = b.notify.Text(ctx, u.ChatID, fmt.Sprintf("Successfully %s appointment! 🎉\nAutobook is now turned off.", mode.Past()))
	header := fmt.Sprintf("<b>Beneficiary</b>: %s", html.EscapeString(name))
	if details != "" {
		_ = b.notify.HTML(ctx, u.ChatID, header+"\n"+details)
	}
	b.notify.OperatorHTML(ctx, fmt.Sprintf("Successfully %s appointment! 🎉\n%s\n%s\n<b>AppointmentID</b>: %s",
		mode.Past(), header, details, html.EscapeString(apptID)))

	slip, err := b.api.AppointmentSlip(ctx, u.Token, apptID)
	if err == nil {
		if err = b.notify.Document(ctx, u.ChatID, slip); err == nil {
			err = b.notify.OperatorDocument(ctx, slip)
		}
	}
	if err != nil {
		log.Warn("appointment slip not delivered", zap.Error(err))
		b.notify.Operator(ctx, "Error in sending document!\n"+err.Error())
	}
}
