package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/csfx-py/vaccine-tracker/internal/domain"
)

var now = time.Date(2021, 5, 10, 6, 0, 0, 0, time.UTC)

func token(t *testing.T, exp time.Time) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix()}).SignedString([]byte("k"))
	require.NoError(t, err)
	return s
}

type fakeAPI struct {
	mu         sync.Mutex
	reserveErr error
	reserved   []domain.ReservationRequest
	modes      []domain.ReservationMode
	afterBook  []domain.Beneficiary
	slipErr    error
	onReserve  func()
}

func (f *fakeAPI) Captcha(context.Context, string, int64) (string, error) { return "cap", nil }

func (f *fakeAPI) Reserve(_ context.Context, _ string, req domain.ReservationRequest, mode domain.ReservationMode) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.onReserve != nil {
		f.onReserve()
	}
	f.reserved = append(f.reserved, req)
	f.modes = append(f.modes, mode)
	if f.reserveErr != nil {
		return "", f.reserveErr
	}
	return "appt-new", nil
}

func (f *fakeAPI) Beneficiaries(context.Context, string) ([]domain.Beneficiary, error) {
	return f.afterBook, nil
}

func (f *fakeAPI) AppointmentSlip(context.Context, string, string) (domain.Document, error) {
	if f.slipErr != nil {
		return domain.Document{}, f.slipErr
	}
	return domain.Document{Name: "slip.pdf", Bytes: []byte("%PDF")}, nil
}

type fakeStore struct {
	mu       sync.Mutex
	user     domain.User
	autobook []bool // history of SetAutoBook calls
}

func (f *fakeStore) GetUser(context.Context, int64) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.user
	return &u, nil
}

func (f *fakeStore) SetAutoBook(_ context.Context, _ int64, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.user.AutoBook = on
	f.autobook = append(f.autobook, on)
	return nil
}

func (f *fakeStore) SetToken(_ context.Context, _ int64, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.user.Token = token
	return nil
}

func (f *fakeStore) SetBeneficiaries(_ context.Context, _ int64, list []domain.Beneficiary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.user.Beneficiaries = list
	return nil
}

func (f *fakeStore) SetPreferredBeneficiary(_ context.Context, _ int64, b *domain.Beneficiary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.user.Preferred = b
	return nil
}

func (f *fakeStore) flag() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.user.AutoBook
}

type fakeNotifier struct {
	mu       sync.Mutex
	user     []string
	operator []string
	docs     int
}

func (f *fakeNotifier) Text(_ context.Context, _ int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.user = append(f.user, text)
	return nil
}

func (f *fakeNotifier) HTML(ctx context.Context, chatID int64, text string) error {
	return f.Text(ctx, chatID, text)
}

func (f *fakeNotifier) Document(context.Context, int64, domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs++
	return nil
}

func (f *fakeNotifier) Operator(_ context.Context, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.operator = append(f.operator, text)
}

func (f *fakeNotifier) OperatorHTML(ctx context.Context, text string) { f.Operator(ctx, text) }

func (f *fakeNotifier) OperatorDocument(context.Context, domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs++
	return nil
}

func armedUser(t *testing.T) domain.User {
	ben := domain.Beneficiary{ReferenceID: "ben-1", Name: "Asha", Dose1Date: "01-04-2021"}
	return domain.User{
		ChatID:        7,
		Allowed:       true,
		AutoBook:      true,
		Token:         token(t, now.Add(time.Hour)),
		Beneficiaries: []domain.Beneficiary{ben},
		Preferred:     &ben,
	}
}

func listing() domain.Center {
	return domain.Center{
		ID:      55,
		Name:    "PHC",
		Pincode: "110001",
		Sessions: []domain.Session{
			{ID: "empty", AvailableCapacity: 0, Slots: []string{"x"}},
			{ID: "s1", AvailableCapacity: 3, Vaccine: "COVISHIELD", Slots: []string{"09-11", "11-13"}},
		},
	}
}

func newBooker(api API, st Store, n Notifier, clk *testclock.Clock) *Booker {
	return New(api, st, n, clk, time.UTC, zap.NewNop())
}

func TestAttemptSuccessLeavesFlagOff(t *testing.T) {
	clk := testclock.NewClock(now)
	st := &fakeStore{user: armedUser(t)}
	api := &fakeAPI{
		afterBook: []domain.Beneficiary{{
			ReferenceID:  "ben-1",
			Name:         "Asha",
			Appointments: []domain.Appointment{{ID: "appt-new", CenterName: "PHC", Date: "11-05-2021", Slot: "09-11", Dose: 2}},
		}},
	}
	api.onReserve = func() {
		assert.False(t, st.flag(), "flag must be off before the reservation is submitted")
	}
	n := &fakeNotifier{}
	b := newBooker(api, st, n, clk)

	done := make(chan error, 1)
	go func() { done <- b.Attempt(context.Background(), 7, listing()) }()
	require.NoError(t, clk.WaitAdvance(settlePause, time.Second, 1))
	require.NoError(t, <-done)

	assert.False(t, st.flag())
	assert.Equal(t, []bool{false}, st.autobook)
	require.Len(t, api.reserved, 1)
	req := api.reserved[0]
	assert.Equal(t, "s1", req.SessionID)
	assert.Contains(t, []string{"09-11", "11-13"}, req.Slot)
	assert.Equal(t, 2, req.Dose)
	assert.Equal(t, "cap", req.Captcha)
	assert.Equal(t, domain.ModeSchedule, api.modes[0])

	assert.Contains(t, n.user, "Attempting to book slot...")
	assert.Contains(t, n.user, "Successfully scheduled appointment! 🎉\nAutobook is now turned off.")
	assert.Equal(t, 2, n.docs)
	require.NotNil(t, st.user.Preferred)
	assert.Len(t, st.user.Preferred.Appointments, 1)
}

func TestAttemptReschedulesFutureAppointment(t *testing.T) {
	clk := testclock.NewClock(now)
	u := armedUser(t)
	u.Preferred.Appointments = []domain.Appointment{
		{ID: "old", Date: "01-05-2021"},
		{ID: "future", Date: "12-05-2021"},
	}
	st := &fakeStore{user: u}
	api := &fakeAPI{}
	b := newBooker(api, st, &fakeNotifier{}, clk)

	done := make(chan error, 1)
	go func() { done <- b.Attempt(context.Background(), 7, listing()) }()
	require.NoError(t, clk.WaitAdvance(settlePause, time.Second, 1))
	require.NoError(t, <-done)

	assert.Equal(t, domain.ModeReschedule, api.modes[0])
	assert.Equal(t, "future", api.reserved[0].AppointmentID)
}

func TestAttemptRejectedRearmsAndShowsReason(t *testing.T) {
	st := &fakeStore{user: armedUser(t)}
	api := &fakeAPI{reserveErr: &domain.UpstreamError{Status: 409, Code: "APPOIN0040", Message: "This vaccination center is completely booked"}}
	n := &fakeNotifier{}
	b := newBooker(api, st, n, testclock.NewClock(now))

	err := b.Attempt(context.Background(), 7, listing())
	require.Error(t, err)

	assert.True(t, st.flag())
	assert.Equal(t, []bool{false, true}, st.autobook)
	assert.Contains(t, n.user, "Failed to book appointment. Please try yourself once. Sorry.")
	assert.Contains(t, n.user, "Reason: APPOIN0040: This vaccination center is completely booked")
	assert.Empty(t, n.operator)
}

func TestAttemptUnauthorizedClearsToken(t *testing.T) {
	st := &fakeStore{user: armedUser(t)}
	api := &fakeAPI{reserveErr: &domain.UpstreamError{Status: 401, Code: "401", Message: "Unauthenticated access!"}}
	n := &fakeNotifier{}
	b := newBooker(api, st, n, testclock.NewClock(now))

	require.Error(t, b.Attempt(context.Background(), 7, listing()))

	assert.Empty(t, st.user.Token)
	assert.True(t, st.flag())
	assert.Contains(t, n.user, "Failed to book appointment. Please try yourself once. Sorry.")

	u, err := st.GetUser(context.Background(), 7)
	require.NoError(t, err)
	assert.False(t, b.Eligible(u, listing(), now), "no retry without a fresh login")
	assert.ErrorIs(t, b.Attempt(context.Background(), 7, listing()), ErrNotArmed)
	assert.Len(t, api.reserved, 1)
}

func TestAttemptRejectedKeepsToken(t *testing.T) {
	u := armedUser(t)
	st := &fakeStore{user: u}
	api := &fakeAPI{reserveErr: &domain.UpstreamError{Status: 409, Code: "APPOIN0040", Message: "booked out"}}
	b := newBooker(api, st, &fakeNotifier{}, testclock.NewClock(now))

	require.Error(t, b.Attempt(context.Background(), 7, listing()))
	assert.Equal(t, u.Token, st.user.Token)
}

func TestAttemptSlipFailureReportedToOperatorOnly(t *testing.T) {
	clk := testclock.NewClock(now)
	st := &fakeStore{user: armedUser(t)}
	api := &fakeAPI{slipErr: errors.New("slip unavailable")}
	n := &fakeNotifier{}
	b := newBooker(api, st, n, clk)

	done := make(chan error, 1)
	go func() { done <- b.Attempt(context.Background(), 7, listing()) }()
	require.NoError(t, clk.WaitAdvance(settlePause, time.Second, 1))
	require.NoError(t, <-done)

	assert.False(t, st.flag())
	assert.Equal(t, 0, n.docs)
	require.NotEmpty(t, n.operator)
	last := n.operator[len(n.operator)-1]
	assert.Contains(t, last, "Error in sending document!")
	assert.Contains(t, last, "slip unavailable")
	for _, m := range n.user {
		assert.NotContains(t, m, "Error in sending document!")
		assert.NotContains(t, m, "slip unavailable")
	}
}

func TestAttemptUnexpectedFaultGoesToOperator(t *testing.T) {
	st := &fakeStore{user: armedUser(t)}
	api := &fakeAPI{reserveErr: errors.New("boom")}
	n := &fakeNotifier{}
	b := newBooker(api, st, n, testclock.NewClock(now))

	require.Error(t, b.Attempt(context.Background(), 7, listing()))
	assert.True(t, st.flag())
	require.Len(t, n.operator, 1)
	assert.Contains(t, n.operator[0], "boom")
	for _, m := range n.user {
		assert.NotContains(t, m, "boom")
	}
}

func TestSecondAttemptAfterBookingIsNotArmed(t *testing.T) {
	clk := testclock.NewClock(now)
	st := &fakeStore{user: armedUser(t)}
	api := &fakeAPI{}
	b := newBooker(api, st, &fakeNotifier{}, clk)

	first := make(chan error, 1)
	go func() { first <- b.Attempt(context.Background(), 7, listing()) }()
	require.NoError(t, clk.WaitAdvance(settlePause, time.Second, 1))
	require.NoError(t, <-first)

	err := b.Attempt(context.Background(), 7, listing())
	assert.ErrorIs(t, err, ErrNotArmed)
	assert.Len(t, api.reserved, 1)
}

func TestEligible(t *testing.T) {
	b := newBooker(&fakeAPI{}, &fakeStore{}, &fakeNotifier{}, testclock.NewClock(now))
	u := armedUser(t)
	c := listing()
	assert.True(t, b.Eligible(&u, c, now))

	u.Centers = []int{1}
	assert.False(t, b.Eligible(&u, c, now), "center outside preference")
	u.Centers = nil

	u.Preferred.Vaccine = "COVAXIN"
	assert.False(t, b.Eligible(&u, c, now), "vaccine mismatch")
	u.Preferred.Vaccine = ""

	u.Token = token(t, now.Add(-time.Minute))
	assert.False(t, b.Eligible(&u, c, now), "expired credential")
}
