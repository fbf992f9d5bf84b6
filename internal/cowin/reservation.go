package cowin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/csfx-py/vaccine-tracker/internal/domain"
)

// ErrNoSolver is returned by Captcha when no solver is configured.
var ErrNoSolver = errors.New("captcha solver not configured")

// Captcha fetches a reservation CAPTCHA and returns its solution.
func (c *Client) Captcha(ctx context.Context, token string, chatID int64) (string, error) {
	if c.solver == nil {
		return "", ErrNoSolver
	}
	var resp struct {
		Captcha string `json:"captcha"`
	}
	if err := c.post(ctx, "/v2/auth/getRecaptcha", token, struct{}{}, &resp); err != nil {
		return "", fmt.Errorf("get captcha: %w", err)
	}
	text, err := c.solver.Solve(ctx, resp.Captcha)
	if err != nil {
		return "", fmt.Errorf("solve captcha: %w", err)
	}
	c.log.Debug("captcha solved", zap.Int64("chat_id", chatID))
	return text, nil
}

type scheduleBody struct {
	Dose          int      `json:"dose"`
	SessionID     string   `json:"session_id"`
	Slot          string   `json:"slot"`
	Beneficiaries []string `json:"beneficiaries"`
	Captcha       string   `json:"captcha"`
	CenterID      int      `json:"center_id"`
}

type rescheduleBody struct {
	AppointmentID string `json:"appointment_id"`
	SessionID     string `json:"session_id"`
	Slot          string `json:"slot"`
	Captcha       string `json:"captcha"`
}

// Reserve submits a schedule or reschedule request and returns the appointment id.
func (c *Client) Reserve(ctx context.Context, token string, req domain.ReservationRequest, mode domain.ReservationMode) (string, error) {
	var resp struct {
		ConfirmationNo string `json:"appointment_confirmation_no"`
		AppointmentID  string `json:"appointment_id"`
	}

	switch mode {
	case domain.ModeReschedule:
		if req.AppointmentID == "" {
			return "", errors.New("reschedule without appointment id")
		}
		body := rescheduleBody{
			AppointmentID: req.AppointmentID,
			SessionID:     req.SessionID,
			Slot:          req.Slot,
			Captcha:       req.Captcha,
		}
		if err := c.post(ctx, "/v2/appointment/reschedule", token, body, &resp); err != nil {
			return "", err
		}
	default:
		body := scheduleBody{
			Dose:          req.Dose,
			SessionID:     req.SessionID,
			Slot:          req.Slot,
			Beneficiaries: []string{req.BeneficiaryID},
			Captcha:       req.Captcha,
			CenterID:      req.CenterID,
		}
		if err := c.post(ctx, "/v2/appointment/schedule", token, body, &resp); err != nil {
			return "", err
		}
	}

	switch {
	case resp.ConfirmationNo != "":
		return resp.ConfirmationNo, nil
	case resp.AppointmentID != "":
		return resp.AppointmentID, nil
	default:
		// reschedule answers 204 with no body
		return req.AppointmentID, nil
	}
}

// Beneficiaries returns the beneficiaries registered under the token's mobile.
func (c *Client) Beneficiaries(ctx context.Context, token string) ([]domain.Beneficiary, error) {
	var resp struct {
		Beneficiaries []domain.Beneficiary `json:"beneficiaries"`
	}
	if err := c.get(ctx, "/v2/appointment/beneficiaries", token, &resp); err != nil {
		return nil, err
	}
	return resp.Beneficiaries, nil
}

// AppointmentSlip downloads the PDF slip of an appointment.
func (c *Client) AppointmentSlip(ctx context.Context, token, appointmentID string) (domain.Document, error) {
	q := url.Values{}
	q.Set("appointment_id", appointmentID)
	raw, err := c.do(ctx, http.MethodGet, "/v2/appointment/appointmentslip/download?"+q.Encode(), token, nil)
	if err != nil {
		return domain.Document{}, fmt.Errorf("appointment slip: %w", err)
	}
	return domain.Document{Name: "appointment-" + appointmentID + ".pdf", Bytes: raw}, nil
}
