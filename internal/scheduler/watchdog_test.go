package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// scriptedLiveness answers Alive from a script, repeating the last value.
type scriptedLiveness struct {
	mu       sync.Mutex
	script   []bool
	resets   int
	restarts int
	restart  chan struct{}
}

func (l *scriptedLiveness) Alive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.script) == 0 {
		return false
	}
	v := l.script[0]
	if len(l.script) > 1 {
		l.script = l.script[1:]
	}
	return v
}

func (l *scriptedLiveness) ResetAlive() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resets++
}

func (l *scriptedLiveness) Restart(context.Context) {
	l.mu.Lock()
	l.restarts++
	l.mu.Unlock()
	if l.restart != nil {
		l.restart <- struct{}{}
	}
}

type operatorLog struct {
	mu   sync.Mutex
	msgs []string
}

func (o *operatorLog) Operator(_ context.Context, text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, text)
}

func (o *operatorLog) all() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.msgs...)
}

var testWatchdogConfig = WatchdogConfig{
	ResetEvery: 6 * time.Minute,
	CheckEvery: 10 * time.Minute,
	ShortGrace: 10 * time.Second,
	LongGrace:  4 * time.Minute,
}

// runCheck runs one check in the background, advancing through both grace waits.
func runCheck(t *testing.T, w *Watchdog, clk *testclock.Clock, waits int) bool {
	t.Helper()
	result := make(chan bool, 1)
	go func() { result <- w.check(context.Background()) }()
	graces := []time.Duration{w.cfg.ShortGrace, w.cfg.LongGrace}
	for i := 0; i < waits; i++ {
		require.NoError(t, clk.WaitAdvance(graces[i], time.Second, 1))
	}
	select {
	case r := <-result:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("check did not return")
		return false
	}
}

func TestWatchdogAliveDoesNothing(t *testing.T) {
	clk := testclock.NewClock(epoch)
	live := &scriptedLiveness{script: []bool{true}}
	op := &operatorLog{}
	w := NewWatchdog(live, op, clk, testWatchdogConfig, zap.NewNop())

	assert.False(t, runCheck(t, w, clk, 0))
	assert.Empty(t, op.all())
}

func TestWatchdogShortGraceRecovery(t *testing.T) {
	clk := testclock.NewClock(epoch)
	live := &scriptedLiveness{script: []bool{false, true}}
	op := &operatorLog{}
	w := NewWatchdog(live, op, clk, testWatchdogConfig, zap.NewNop())

	assert.False(t, runCheck(t, w, clk, 1))
	assert.Empty(t, op.all())
	assert.Zero(t, live.restarts)
}

func TestWatchdogSelfRecovered(t *testing.T) {
	clk := testclock.NewClock(epoch)
	live := &scriptedLiveness{script: []bool{false, false, true}}
	op := &operatorLog{}
	w := NewWatchdog(live, op, clk, testWatchdogConfig, zap.NewNop())

	assert.False(t, runCheck(t, w, clk, 2))
	assert.Equal(t, []string{"ALERT: Tracker dead!", "Tracker got started again by itself..."}, op.all())
	assert.Zero(t, live.restarts)
}

func TestWatchdogRestartsDeadTracker(t *testing.T) {
	clk := testclock.NewClock(epoch)
	live := &scriptedLiveness{script: []bool{false}}
	op := &operatorLog{}
	w := NewWatchdog(live, op, clk, testWatchdogConfig, zap.NewNop())

	assert.True(t, runCheck(t, w, clk, 2))
	assert.Equal(t, []string{"ALERT: Tracker dead!", "Starting tracker again..."}, op.all())
	assert.Equal(t, 1, live.restarts)
}

func TestWatchdogRunRestartsOncePerDeadWindow(t *testing.T) {
	clk := testclock.NewClock(epoch)
	live := &scriptedLiveness{script: []bool{false}, restart: make(chan struct{}, 4)}
	op := &operatorLog{}
	w := NewWatchdog(live, op, clk, testWatchdogConfig, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	// t=6m reset fires; t=10m check starts.
	require.NoError(t, clk.WaitAdvance(6*time.Minute, time.Second, 2))
	require.NoError(t, clk.WaitAdvance(4*time.Minute, time.Second, 2))
	// Check and reset timers plus the short grace.
	require.NoError(t, clk.WaitAdvance(10*time.Second, time.Second, 2))
	require.NoError(t, clk.WaitAdvance(4*time.Minute, time.Second, 2))

	select {
	case <-live.restart:
	case <-time.After(5 * time.Second):
		t.Fatal("tracker was not restarted")
	}
	cancel()
	<-done

	assert.Equal(t, 1, live.restarts)
	assert.Equal(t, []string{"ALERT: Tracker dead!", "Starting tracker again..."}, op.all())
}
