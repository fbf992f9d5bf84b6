package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/csfx-py/vaccine-tracker/internal/domain"
)

type fakeChannel struct {
	mu      sync.Mutex
	sent    []Message
	docs    []int64
	failFor map[int64]error
	failAt  int // fail the n-th Send (1-based) with failErr
	failErr error
}

func (f *fakeChannel) Send(_ context.Context, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failFor[msg.ChatID]; ok {
		return err
	}
	if f.failAt > 0 && len(f.sent)+1 == f.failAt {
		f.failAt = 0
		return f.failErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeChannel) SendDocument(_ context.Context, chatID int64, _ domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = append(f.docs, chatID)
	return nil
}

func (f *fakeChannel) to(chatID int64) []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Message
	for _, m := range f.sent {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

type fakeDeleter struct{ deleted []int64 }

func (f *fakeDeleter) DeleteUser(_ context.Context, chatID int64) error {
	f.deleted = append(f.deleted, chatID)
	return nil
}

func center(name string, sessions int) domain.Center {
	c := domain.Center{ID: 1, Name: name, Pincode: "110001", FeeType: "Free"}
	for i := 0; i < sessions; i++ {
		c.Sessions = append(c.Sessions, domain.Session{
			ID: fmt.Sprintf("s%d", i), Date: "10-05-2021", AvailableCapacity: 5,
			Dose1Capacity: 3, Dose2Capacity: 2, MinAgeLimit: 18, Vaccine: "COVISHIELD",
			Slots: []string{"09:00AM-11:00AM"},
		})
	}
	return c
}

func TestRenderAlertContainsDetails(t *testing.T) {
	c := center("PHC <Rohini>", 1)
	c.Sessions[0].AllowAllAge = true
	got := RenderAlert(c, 18)

	assert.Contains(t, got, "<b>Name</b>: PHC &lt;Rohini&gt;")
	assert.Contains(t, got, "<b>Pincode</b>: 110001")
	assert.Contains(t, got, "<b>Age group</b>: 18+")
	assert.Contains(t, got, "<b>Total Available Slots</b>: 5")
	assert.Contains(t, got, "<b>Dose 1 Slots</b>: 3")
	assert.Contains(t, got, "<b>Vaccine</b>: COVISHIELD")
	assert.Contains(t, got, "Walk-in Available for all Age Groups!")
}

func TestPackSplitsAndPreservesOrder(t *testing.T) {
	alerts := []string{
		strings.Repeat("a", 2100),
		strings.Repeat("b", 2100),
	}
	msgs := Pack(alerts, MaxMessageLen)
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		assert.LessOrEqual(t, utf8.RuneCountInString(m), MaxMessageLen)
	}
	assert.Equal(t, alerts, msgs)
}

func TestPackRoundTrip(t *testing.T) {
	var alerts []string
	for i := 0; i < 40; i++ {
		alerts = append(alerts, fmt.Sprintf("alert-%02d %s", i, strings.Repeat("x", 150+i*7)))
	}
	msgs := Pack(alerts, MaxMessageLen)
	require.GreaterOrEqual(t, len(msgs), 2)

	var got []string
	for _, m := range msgs {
		assert.LessOrEqual(t, utf8.RuneCountInString(m), MaxMessageLen)
		got = append(got, strings.Split(m, blockSeparator)...)
	}
	assert.Equal(t, alerts, got)
}

func TestPackCountsRunes(t *testing.T) {
	// 2000 two-byte runes each: fits twice in 4046 runes but not in bytes.
	a := strings.Repeat("é", 2000)
	msgs := Pack([]string{a, a}, MaxMessageLen)
	assert.Len(t, msgs, 1)
}

func TestPackSplitsOversizeBlockAtLineBreaks(t *testing.T) {
	line := strings.Repeat("z", 99)
	var lines []string
	for i := 0; i < 60; i++ {
		lines = append(lines, line)
	}
	big := strings.Join(lines, "\n")
	require.Greater(t, utf8.RuneCountInString(big), MaxMessageLen)

	// 40 lines fill the first chunk, the other 20 share a message with "tail".
	msgs := Pack([]string{"small", big, "tail"}, MaxMessageLen)
	require.Len(t, msgs, 2)
	assert.True(t, strings.HasPrefix(msgs[0], "small"+blockSeparator))
	assert.True(t, strings.HasSuffix(msgs[1], blockSeparator+"tail"))

	var got []string
	for _, m := range msgs {
		assert.LessOrEqual(t, utf8.RuneCountInString(m), MaxMessageLen)
		for _, l := range strings.Split(m, "\n") {
			if l != "" && l != "small" && l != "tail" {
				got = append(got, l)
			}
		}
	}
	assert.Equal(t, lines, got)
}

func TestPackCutsOverlongLine(t *testing.T) {
	msgs := Pack([]string{strings.Repeat("y", 2*MaxMessageLen+5)}, MaxMessageLen)
	require.Len(t, msgs, 3)
	for _, m := range msgs {
		assert.LessOrEqual(t, utf8.RuneCountInString(m), MaxMessageLen)
	}
	assert.Equal(t, 5, utf8.RuneCountInString(msgs[2]))
}

func TestDispatchOversizeAlertKeepsSubscriber(t *testing.T) {
	ch := &fakeChannel{}
	del := &fakeDeleter{}
	d := NewDispatcher(ch, del, 99, zap.NewNop())

	c := center("PHC", 80)
	require.Greater(t, utf8.RuneCountInString(RenderAlert(c, 18)), MaxMessageLen)

	n, err := d.Dispatch(context.Background(), &domain.User{ChatID: 7}, domain.TrackingEntry{AgeGroup: 18}, []domain.Center{c})
	require.NoError(t, err)
	assert.Greater(t, n, 1)
	for _, m := range ch.to(7) {
		assert.LessOrEqual(t, utf8.RuneCountInString(m.Text), MaxMessageLen)
		assert.Equal(t, strings.Count(m.Text, "<b>"), strings.Count(m.Text, "</b>"))
	}
	assert.Empty(t, del.deleted)
}

func TestDispatchSingleMatch(t *testing.T) {
	ch := &fakeChannel{}
	d := NewDispatcher(ch, &fakeDeleter{}, 99, zap.NewNop())
	u := &domain.User{ChatID: 7}
	entry := domain.TrackingEntry{Pincode: "110001", AgeGroup: 18}

	n, err := d.Dispatch(context.Background(), u, entry, []domain.Center{center("PHC", 1)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	msgs := ch.to(7)
	require.Len(t, msgs, 2)
	assert.True(t, msgs[0].HTML)
	assert.Contains(t, msgs[0].Text, "PHC")
	assert.Equal(t, followUpText, msgs[1].Text)
	require.Len(t, msgs[1].Buttons, 1)
	assert.Equal(t, CallbackBooked, msgs[1].Buttons[0][0].Data)
}

func TestDispatchLargeMatchSendsTwoMessages(t *testing.T) {
	ch := &fakeChannel{}
	d := NewDispatcher(ch, &fakeDeleter{}, 99, zap.NewNop())

	// Two centers whose rendered alerts together exceed the bound.
	big := []domain.Center{center("A", 20), center("B", 20)}
	total := utf8.RuneCountInString(RenderAlert(big[0], 18)) + utf8.RuneCountInString(RenderAlert(big[1], 18))
	require.Greater(t, total, MaxMessageLen)

	n, err := d.Dispatch(context.Background(), &domain.User{ChatID: 7}, domain.TrackingEntry{AgeGroup: 18}, big)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	for _, m := range ch.to(7)[:2] {
		assert.LessOrEqual(t, utf8.RuneCountInString(m.Text), MaxMessageLen)
	}
}

func TestDispatchPermanentFailureDeletesUser(t *testing.T) {
	ch := &fakeChannel{failFor: map[int64]error{7: fmt.Errorf("blocked: %w", ErrPermanent)}}
	del := &fakeDeleter{}
	d := NewDispatcher(ch, del, 99, zap.NewNop())

	n, err := d.Dispatch(context.Background(), &domain.User{ChatID: 7}, domain.TrackingEntry{AgeGroup: 18},
		[]domain.Center{center("PHC", 1)})
	assert.ErrorIs(t, err, ErrPermanent)
	assert.Zero(t, n)
	assert.Equal(t, []int64{7}, del.deleted)

	ops := ch.to(99)
	require.Len(t, ops, 1)
	assert.Contains(t, ops[0].Text, "Inform error")
}

func TestDispatchTransientFailureIsSwallowed(t *testing.T) {
	ch := &fakeChannel{failAt: 1, failErr: fmt.Errorf("429: %w", ErrTransient)}
	del := &fakeDeleter{}
	d := NewDispatcher(ch, del, 99, zap.NewNop())

	n, err := d.Dispatch(context.Background(), &domain.User{ChatID: 7}, domain.TrackingEntry{AgeGroup: 18},
		[]domain.Center{center("PHC", 1)})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, del.deleted)
	assert.Empty(t, ch.to(7), "no follow-up without a delivered alert")
}
