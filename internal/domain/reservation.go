package domain

import (
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// DateLayout is the provider's date format.
const DateLayout = "02-01-2006"

// ErrTransient marks rate-limit, timeout and network failures of the provider.
var ErrTransient = errors.New("transient upstream error")

// UpstreamError is a structured rejection returned by the provider.
type UpstreamError struct {
	Status  int
	Code    string
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %d: %s: %s", e.Status, e.Code, e.Message)
}

// Appointment is a booked appointment of a beneficiary.
type Appointment struct {
	ID         string `json:"appointment_id"`
	CenterID   int    `json:"center_id"`
	CenterName string `json:"name"`
	Date       string `json:"date"`
	Slot       string `json:"slot"`
	Dose       int    `json:"dose"`
	SessionID  string `json:"session_id"`
}

// Beneficiary is a person a reservation can be made for.
type Beneficiary struct {
	ReferenceID       string        `json:"beneficiary_reference_id"`
	Name              string        `json:"name"`
	BirthYear         string        `json:"birth_year"`
	Gender            string        `json:"gender"`
	VaccinationStatus string        `json:"vaccination_status"`
	Vaccine           string        `json:"vaccine"`
	Dose1Date         string        `json:"dose1_date"`
	Dose2Date         string        `json:"dose2_date"`
	Appointments      []Appointment `json:"appointments"`
}

// FindBeneficiary returns the beneficiary with refID, if present.
func FindBeneficiary(list []Beneficiary, refID string) (Beneficiary, bool) {
	for _, b := range list {
		if b.ReferenceID == refID {
			return b, true
		}
	}
	return Beneficiary{}, false
}

// ReservationMode tells whether a reservation creates or moves an appointment.
type ReservationMode string

const (
	ModeSchedule   ReservationMode = "schedule"
	ModeReschedule ReservationMode = "reschedule"
)

// Past returns the user-facing past tense of m.
func (m ReservationMode) Past() string {
	if m == ModeReschedule {
		return "rescheduled"
	}
	return "scheduled"
}

// ReservationRequest is the payload of a reservation submission.
type ReservationRequest struct {
	BeneficiaryID string
	Captcha       string
	CenterID      int
	Dose          int
	SessionID     string
	Slot          string
	AppointmentID string // reschedule only
}

// Document is a binary artifact such as an appointment slip.
type Document struct {
	Name  string
	Bytes []byte
}

// DoseCount is 2 when the beneficiary already has a first dose date, else 1.
func DoseCount(b *Beneficiary) int {
	if b.Dose1Date != "" {
		return 2
	}
	return 1
}

// FutureAppointment returns the first appointment dated today or later in loc.
func FutureAppointment(b *Beneficiary, now time.Time, loc *time.Location) (Appointment, bool) {
	y, m, d := now.In(loc).Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, loc)
	for _, a := range b.Appointments {
		date, err := time.ParseInLocation(DateLayout, a.Date, loc)
		if err != nil {
			continue
		}
		if !date.Before(today) {
			return a, true
		}
	}
	return Appointment{}, false
}

// ChooseMode decides between a fresh schedule and a reschedule of a future appointment.
func ChooseMode(b *Beneficiary, now time.Time, loc *time.Location) ReservationMode {
	if _, ok := FutureAppointment(b, now, loc); ok {
		return ModeReschedule
	}
	return ModeSchedule
}

// VaccineEligible reports whether center offers the beneficiary's vaccine.
// Beneficiaries with no vaccine yet accept any.
func VaccineEligible(c Center, b *Beneficiary) bool {
	if b == nil || b.Vaccine == "" {
		return true
	}
	for _, s := range c.Sessions {
		if s.Vaccine == b.Vaccine {
			return true
		}
	}
	return false
}

// CenterPreferred reports whether c is allowed by the preference set. Empty set allows any.
func CenterPreferred(c Center, preferred []int) bool {
	if len(preferred) == 0 {
		return true
	}
	for _, id := range preferred {
		if id == c.ID {
			return true
		}
	}
	return false
}

// PickSlot selects a session with remaining capacity and a random slot from it.
func PickSlot(c Center) (Session, string, bool) {
	for _, s := range c.Sessions {
		if s.AvailableCapacity > 0 && len(s.Slots) > 0 {
			return s, s.Slots[rand.Intn(len(s.Slots))], true
		}
	}
	return Session{}, "", false
}
