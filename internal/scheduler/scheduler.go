// Package scheduler runs the tracker loop, the credential expiry monitor and
// the liveness watchdog.
package scheduler

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/csfx-py/vaccine-tracker/internal/domain"
	"github.com/csfx-py/vaccine-tracker/internal/metrics"
	"github.com/csfx-py/vaccine-tracker/internal/notify"
)

const (
	noDistrictText  = "No district id! Please send /district to set your prefered district."
	noPreferredText = "No preferred beneficiary set. Please set by sending /beneficiaries"
	unsnoozedText   = "You're now unsnoozed."
)

// Store is what the tracker reads and updates.
type Store interface {
	ListAllowed(ctx context.Context) ([]domain.User, error)
	SetSnooze(ctx context.Context, chatID int64, until, at *time.Time) error
}

// Listings fetches the current listings of a district.
type Listings interface {
	FetchListings(ctx context.Context, districtID int) ([]domain.Center, error)
}

// Dispatcher delivers alerts and notices.
type Dispatcher interface {
	Dispatch(ctx context.Context, u *domain.User, entry domain.TrackingEntry, centers []domain.Center) (int, error)
	Text(ctx context.Context, chatID int64, text string) error
}

// Booker attempts auto-reservations.
type Booker interface {
	Eligible(u *domain.User, c domain.Center, now time.Time) bool
	Attempt(ctx context.Context, chatID int64, c domain.Center) error
}

// Tracker polls districts, matches listings against subscriptions and hands
// matches to the dispatcher and booker.
type Tracker struct {
	store    Store
	listings Listings
	dispatch Dispatcher
	booker   Booker
	pool     *Pool
	clock    clock.Clock
	log      *zap.Logger

	delay atomic.Int64 // pollDelay in ns
	alive atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTracker builds a tracker. pollDelay is the pause after each district fetch.
func NewTracker(st Store, l Listings, d Dispatcher, b Booker, pool *Pool, clk clock.Clock, pollDelay time.Duration, log *zap.Logger) *Tracker {
	if clk == nil {
		clk = clock.WallClock
	}
	t := &Tracker{
		store:    st,
		listings: l,
		dispatch: d,
		booker:   b,
		pool:     pool,
		clock:    clk,
		log:      log,
	}
	t.delay.Store(int64(pollDelay))
	return t
}

// PollDelay returns the inter-district delay.
func (t *Tracker) PollDelay() time.Duration { return time.Duration(t.delay.Load()) }

// SetPollDelay changes the inter-district delay; the running loop picks it up
// at the next district.
func (t *Tracker) SetPollDelay(d time.Duration) { t.delay.Store(int64(d)) }

// MarkAlive sets the liveness flag.
func (t *Tracker) MarkAlive() {
	t.alive.Store(true)
	metrics.Alive.Set(1)
}

// Alive reports the liveness flag.
func (t *Tracker) Alive() bool { return t.alive.Load() }

// ResetAlive clears the liveness flag.
func (t *Tracker) ResetAlive() {
	t.alive.Store(false)
	metrics.Alive.Set(0)
}

// Run starts the loop and blocks until ctx is canceled, then waits for the
// loop and in-flight tasks to finish.
func (t *Tracker) Run(ctx context.Context) {
	t.Restart(ctx)
	<-ctx.Done()

	t.mu.Lock()
	done := t.done
	t.mu.Unlock()
	<-done
	t.pool.Wait()
	t.log.Info("tracker stopped")
}

// Restart abandons the running loop, if any, and starts a fresh one.
// Background tasks run under ctx and survive the restart.
func (t *Tracker) Restart(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	t.cancel = cancel
	t.done = done
	go func() {
		defer close(done)
		t.loop(loopCtx, ctx)
	}()
	t.log.Info("tracker started", zap.Duration("poll_delay", t.PollDelay()))
}

func (t *Tracker) loop(ctx, taskCtx context.Context) {
	for ctx.Err() == nil {
		if t.Cycle(ctx, taskCtx) {
			metrics.Cycles.WithLabelValues("scanned").Inc()
			continue
		}
		metrics.Cycles.WithLabelValues("idle").Inc()
		t.sleep(ctx, t.PollDelay())
	}
}

// sleep waits d on the tracker clock; false if ctx ended first.
func (t *Tracker) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-t.clock.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

type candidate struct {
	user    domain.User
	entries []domain.TrackingEntry
}

// Cycle runs one pass over all districts with subscribers. It returns false
// when there was nothing to scan.
func (t *Tracker) Cycle(ctx, taskCtx context.Context) bool {
	users, err := t.store.ListAllowed(ctx)
	if err != nil {
		t.log.Error("list users failed", zap.Error(err))
		return false
	}
	rand.Shuffle(len(users), func(i, j int) { users[i], users[j] = users[j], users[i] })

	districts := domain.DistinctDistricts(users)
	if len(districts) == 0 {
		return false
	}
	for _, id := range districts {
		if ctx.Err() != nil {
			return true
		}
		t.district(ctx, taskCtx, id, users)
	}
	return true
}

func (t *Tracker) district(ctx, taskCtx context.Context, districtID int, users []domain.User) {
	log := t.log.With(zap.Int("district_id", districtID))

	centers, err := t.listings.FetchListings(ctx, districtID)
	if !t.sleep(ctx, t.PollDelay()) {
		return
	}
	if err != nil {
		if errors.Is(err, domain.ErrTransient) {
			metrics.DistrictFetches.WithLabelValues("transient").Inc()
			log.Warn("fetch listings deferred", zap.Error(err))
		} else {
			metrics.DistrictFetches.WithLabelValues("error").Inc()
			log.Error("fetch listings failed", zap.Error(err))
		}
		return
	}
	metrics.DistrictFetches.WithLabelValues("ok").Inc()
	t.MarkAlive()

	available := domain.Available(centers)
	log.Debug("listings fetched", zap.Int("centers", len(centers)), zap.Int("available", len(available)))
	if len(available) == 0 {
		return
	}

	var matched []candidate
	for _, u := range users {
		if entries := domain.MatchingEntries(&u, available); len(entries) > 0 {
			matched = append(matched, candidate{user: u, entries: entries})
		}
	}
	rand.Shuffle(len(matched), func(i, j int) { matched[i], matched[j] = matched[j], matched[i] })
	t.MarkAlive()

	now := t.clock.Now()
	for _, c := range matched {
		u := c.user
		if u.Snoozed(now) {
			continue
		}
		if !u.HasDistrict() {
			t.pool.Go(taskCtx, "district-hint", func(ctx context.Context) {
				_ = t.dispatch.Text(ctx, u.ChatID, noDistrictText)
			})
			continue
		}
		if u.SnoozeElapsed(now) {
			if err := t.store.SetSnooze(ctx, u.ChatID, nil, nil); err != nil {
				log.Error("clear snooze failed", zap.Int64("chat_id", u.ChatID), zap.Error(err))
			} else {
				t.pool.Go(taskCtx, "unsnooze", func(ctx context.Context) {
					_ = t.dispatch.Text(ctx, u.ChatID, unsnoozedText)
				})
			}
		}

		for _, entry := range c.entries {
			entry := entry // per-iteration copy (go 1.21 loop semantics)
			t.MarkAlive()
			centers := domain.Match(available, domain.CriteriaFor(&u, entry))
			if len(centers) == 0 {
				continue
			}
			metrics.Matches.Inc()
			if !t.pool.Go(taskCtx, "inform", func(ctx context.Context) { t.inform(ctx, u, entry, centers) }) {
				return
			}
		}
	}
}

// inform delivers one entry's alerts, then tries the first center the user
// may auto-book.
func (t *Tracker) inform(ctx context.Context, u domain.User, entry domain.TrackingEntry, centers []domain.Center) {
	log := t.log.With(zap.Int64("chat_id", u.ChatID), zap.String("pincode", entry.Pincode))

	if _, err := t.dispatch.Dispatch(ctx, &u, entry, centers); errors.Is(err, notify.ErrPermanent) {
		return
	}
	if !u.AutoBook {
		return
	}
	if !u.HasPreferred() {
		_ = t.dispatch.Text(ctx, u.ChatID, noPreferredText)
		return
	}

	now := t.clock.Now()
	for _, c := range centers {
		if !t.booker.Eligible(&u, c, now) {
			continue
		}
		if err := t.booker.Attempt(ctx, u.ChatID, c); err != nil {
			log.Debug("reservation attempt ended", zap.Int("center_id", c.ID), zap.Error(err))
		}
		return
	}
}
