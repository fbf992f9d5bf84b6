package domain

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLoc(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	return loc
}

func TestChooseMode(t *testing.T) {
	loc := mustLoc(t)
	now := time.Date(2021, time.May, 20, 10, 0, 0, 0, loc)

	b := &Beneficiary{ReferenceID: "1"}
	assert.Equal(t, ModeSchedule, ChooseMode(b, now, loc))

	b.Appointments = []Appointment{{ID: "past", Date: "19-05-2021"}}
	assert.Equal(t, ModeSchedule, ChooseMode(b, now, loc))

	b.Appointments = append(b.Appointments, Appointment{ID: "today", Date: "20-05-2021"})
	assert.Equal(t, ModeReschedule, ChooseMode(b, now, loc))

	a, ok := FutureAppointment(b, now, loc)
	require.True(t, ok)
	assert.Equal(t, "today", a.ID)
}

func TestFutureAppointment_UsesProviderTimezone(t *testing.T) {
	loc := mustLoc(t)
	// 20:00 UTC on the 19th is already the 20th in India.
	now := time.Date(2021, time.May, 19, 20, 0, 0, 0, time.UTC)
	b := &Beneficiary{Appointments: []Appointment{{ID: "x", Date: "19-05-2021"}}}
	_, ok := FutureAppointment(b, now, loc)
	assert.False(t, ok)
}

func TestDoseCount(t *testing.T) {
	assert.Equal(t, 1, DoseCount(&Beneficiary{}))
	assert.Equal(t, 2, DoseCount(&Beneficiary{Dose1Date: "01-05-2021"}))
}

func TestVaccineEligibleAndCenterPreferred(t *testing.T) {
	c := Center{ID: 42, Sessions: []Session{{Vaccine: "COVAXIN"}}}
	assert.True(t, VaccineEligible(c, &Beneficiary{}))
	assert.True(t, VaccineEligible(c, &Beneficiary{Vaccine: "COVAXIN"}))
	assert.False(t, VaccineEligible(c, &Beneficiary{Vaccine: "COVISHIELD"}))

	assert.True(t, CenterPreferred(c, nil))
	assert.True(t, CenterPreferred(c, []int{1, 42}))
	assert.False(t, CenterPreferred(c, []int{1, 2}))
}

func TestPickSlot(t *testing.T) {
	c := Center{Sessions: []Session{
		{ID: "empty", AvailableCapacity: 0, Slots: []string{"x"}},
		{ID: "open", AvailableCapacity: 2, Slots: []string{"a", "b"}},
	}}
	s, slot, ok := PickSlot(c)
	require.True(t, ok)
	assert.Equal(t, "open", s.ID)
	assert.Contains(t, []string{"a", "b"}, slot)

	_, _, ok = PickSlot(Center{})
	assert.False(t, ok)
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"beneficiary_reference_id": 1234,
		"exp":                      exp.Unix(),
	}).SignedString([]byte("provider-secret"))
	require.NoError(t, err)
	return tok
}

func TestTokenValid(t *testing.T) {
	now := time.Now()
	assert.False(t, TokenValid("", now))
	assert.False(t, TokenValid("not-a-jwt", now))
	assert.True(t, TokenValid(signedToken(t, now.Add(10*time.Minute)), now))
	assert.False(t, TokenValid(signedToken(t, now.Add(-time.Minute)), now))

	left := TokenExpiresIn(signedToken(t, now.Add(10*time.Minute)), now)
	assert.InDelta(t, (10 * time.Minute).Seconds(), left.Seconds(), 1)
}

func TestUserCanAutoBook(t *testing.T) {
	now := time.Now()
	u := &User{AutoBook: true, Token: signedToken(t, now.Add(time.Hour)), Preferred: &Beneficiary{ReferenceID: "9"}}
	assert.True(t, u.CanAutoBook(now))

	u.Preferred = &Beneficiary{}
	assert.False(t, u.CanAutoBook(now))
}

func TestUserSnooze(t *testing.T) {
	now := time.Now()
	later := now.Add(time.Minute)
	earlier := now.Add(-time.Minute)

	u := &User{}
	assert.False(t, u.Snoozed(now))
	assert.False(t, u.SnoozeElapsed(now))

	u.SnoozeUntil = &later
	assert.True(t, u.Snoozed(now))
	assert.False(t, u.SnoozeElapsed(now))

	u.SnoozeUntil = &earlier
	assert.False(t, u.Snoozed(now))
	assert.True(t, u.SnoozeElapsed(now))
}
