package scheduler

import (
	"context"
	"fmt"
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

type fakeExpiryStore struct {
	mu    sync.Mutex
	users map[int64]*domain.User
}

func newExpiryStore(users ...domain.User) *fakeExpiryStore {
	s := &fakeExpiryStore{users: map[int64]*domain.User{}}
	for i := range users {
		u := users[i]
		s.users[u.ChatID] = &u
	}
	return s
}

func (s *fakeExpiryStore) ListAllowed(context.Context) ([]domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.User
	for _, u := range s.users {
		out = append(out, *u)
	}
	return out, nil
}

func (s *fakeExpiryStore) SetSnooze(_ context.Context, chatID int64, until, at *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[chatID].SnoozeUntil, s.users[chatID].SnoozedAt = until, at
	return nil
}

func (s *fakeExpiryStore) SetToken(_ context.Context, chatID int64, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[chatID].Token = token
	return nil
}

func (s *fakeExpiryStore) SetExpireCount(_ context.Context, chatID int64, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[chatID].ExpireCount = n
	return nil
}

func (s *fakeExpiryStore) ForceDisableAutoBook(_ context.Context, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[chatID].AutoBook = false
	s.users[chatID].ExpireCount = 0
	return nil
}

func (s *fakeExpiryStore) get(chatID int64) domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.users[chatID]
}

type textLog struct {
	mu    sync.Mutex
	texts map[int64][]string
}

func (l *textLog) Text(_ context.Context, chatID int64, text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.texts == nil {
		l.texts = map[int64][]string{}
	}
	l.texts[chatID] = append(l.texts[chatID], text)
	return nil
}

func (l *textLog) of(chatID int64) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.texts[chatID]...)
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix()}).SignedString([]byte("k"))
	require.NoError(t, err)
	return s
}

func TestExpiryRemindsThenDisables(t *testing.T) {
	clk := testclock.NewClock(epoch)
	st := newExpiryStore(domain.User{
		ChatID:   1,
		Allowed:  true,
		AutoBook: true,
		Token:    signedToken(t, epoch.Add(-time.Minute)),
	})
	texts := &textLog{}
	m := NewExpiryMonitor(st, texts, clk, time.Minute, 5, zap.NewNop())
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, m.Sweep(ctx))
		u := st.get(1)
		assert.Equal(t, i, u.ExpireCount)
		assert.Empty(t, u.Token)
		assert.True(t, u.AutoBook)
	}

	got := texts.of(1)
	require.Len(t, got, 5)
	assert.Equal(t, firstReminderText, got[0])
	assert.Equal(t, fmt.Sprintf(reminderText, 4), got[1])
	assert.Equal(t, fmt.Sprintf(reminderText, 1), got[4])

	require.NoError(t, m.Sweep(ctx))
	u := st.get(1)
	assert.False(t, u.AutoBook)
	assert.Zero(t, u.ExpireCount)
	got = texts.of(1)
	require.Len(t, got, 6)
	assert.Equal(t, fmt.Sprintf(autoBookOffText, 5), got[5])

	// Autobook is off and the token already cleared: nothing more to say.
	require.NoError(t, m.Sweep(ctx))
	assert.Len(t, texts.of(1), 6)
}

func TestExpiryClearsStaleTokenSilently(t *testing.T) {
	clk := testclock.NewClock(epoch)
	st := newExpiryStore(domain.User{ChatID: 1, Allowed: true, Token: signedToken(t, epoch.Add(-time.Hour))})
	texts := &textLog{}
	m := NewExpiryMonitor(st, texts, clk, time.Minute, 5, zap.NewNop())

	require.NoError(t, m.Sweep(context.Background()))
	assert.Empty(t, st.get(1).Token)
	assert.Zero(t, st.get(1).ExpireCount)
	assert.Empty(t, texts.of(1))
}

func TestExpiryLeavesValidTokenAlone(t *testing.T) {
	clk := testclock.NewClock(epoch)
	tok := signedToken(t, epoch.Add(10*time.Minute))
	st := newExpiryStore(domain.User{ChatID: 1, Allowed: true, AutoBook: true, Token: tok})
	texts := &textLog{}
	m := NewExpiryMonitor(st, texts, clk, time.Minute, 5, zap.NewNop())

	require.NoError(t, m.Sweep(context.Background()))
	assert.Equal(t, tok, st.get(1).Token)
	assert.Empty(t, texts.of(1))
}

func TestExpirySkipsSnoozedAndClearsElapsed(t *testing.T) {
	clk := testclock.NewClock(epoch)
	later := epoch.Add(time.Hour)
	earlier := epoch.Add(-time.Hour)
	st := newExpiryStore(
		domain.User{ChatID: 1, Allowed: true, AutoBook: true, SnoozeUntil: &later},
		domain.User{ChatID: 2, Allowed: true, AutoBook: true, SnoozeUntil: &earlier},
	)
	texts := &textLog{}
	m := NewExpiryMonitor(st, texts, clk, time.Minute, 5, zap.NewNop())

	require.NoError(t, m.Sweep(context.Background()))
	assert.Empty(t, texts.of(1))
	assert.Zero(t, st.get(1).ExpireCount)

	assert.Nil(t, st.get(2).SnoozeUntil)
	assert.Equal(t, []string{unsnoozedText, firstReminderText}, texts.of(2))
	assert.Equal(t, 1, st.get(2).ExpireCount)
}

func TestExpiryRunSweepsOnSchedule(t *testing.T) {
	clk := testclock.NewClock(epoch)
	st := newExpiryStore(domain.User{ChatID: 1, Allowed: true, AutoBook: true})
	texts := &textLog{}
	m := NewExpiryMonitor(st, texts, clk, time.Minute, 5, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	require.NoError(t, clk.WaitAdvance(time.Minute, time.Second, 1))
	require.NoError(t, clk.WaitAdvance(time.Minute, time.Second, 1))
	// The third timer is registered only after the second sweep finished.
	require.NoError(t, clk.WaitAdvance(0, time.Second, 1))
	cancel()
	<-done

	assert.Len(t, texts.of(1), 2)
}
