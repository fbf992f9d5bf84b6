package scheduler

import (
	"context"
	"time"

	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/csfx-py/vaccine-tracker/internal/metrics"
)

// Liveness is the tracker side the watchdog observes and restarts.
type Liveness interface {
	Alive() bool
	ResetAlive()
	Restart(ctx context.Context)
}

// Operator receives watchdog alerts.
type Operator interface {
	Operator(ctx context.Context, text string)
}

// WatchdogConfig holds the watchdog timings.
type WatchdogConfig struct {
	ResetEvery time.Duration
	CheckEvery time.Duration
	ShortGrace time.Duration
	LongGrace  time.Duration
}

// Watchdog restarts a stalled tracker.
type Watchdog struct {
	target Liveness
	op     Operator
	clock  clock.Clock
	cfg    WatchdogConfig
	log    *zap.Logger
}

// NewWatchdog returns a watchdog for target.
func NewWatchdog(target Liveness, op Operator, clk clock.Clock, cfg WatchdogConfig, log *zap.Logger) *Watchdog {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Watchdog{target: target, op: op, clock: clk, cfg: cfg, log: log}
}

// Run clears the liveness flag every reset window and checks it every check
// period until ctx is canceled. Resets pause while a check is waiting out
// its grace periods.
func (w *Watchdog) Run(ctx context.Context) {
	reset := w.clock.After(w.cfg.ResetEvery)
	check := w.clock.After(w.cfg.CheckEvery)
	for {
		select {
		case <-ctx.Done():
			w.log.Info("watchdog stopping")
			return
		case <-reset:
			w.target.ResetAlive()
			reset = w.clock.After(w.cfg.ResetEvery)
		case <-check:
			w.check(ctx)
			check = w.clock.After(w.cfg.CheckEvery)
		}
	}
}

// check returns true if it restarted the tracker.
func (w *Watchdog) check(ctx context.Context) bool {
	if w.target.Alive() {
		return false
	}
	if !w.wait(ctx, w.cfg.ShortGrace) || w.target.Alive() {
		return false
	}

	w.log.Warn("tracker not alive")
	w.op.Operator(ctx, "ALERT: Tracker dead!")

	if !w.wait(ctx, w.cfg.LongGrace) {
		return false
	}
	if w.target.Alive() {
		w.log.Info("tracker recovered by itself")
		w.op.Operator(ctx, "Tracker got started again by itself...")
		return false
	}

	w.op.Operator(ctx, "Starting tracker again...")
	w.target.Restart(ctx)
	metrics.WatchdogRestarts.Inc()
	w.log.Warn("tracker restarted by watchdog")
	return true
}

func (w *Watchdog) wait(ctx context.Context, d time.Duration) bool {
	select {
	case <-w.clock.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
