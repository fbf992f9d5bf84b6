package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/csfx-py/vaccine-tracker/internal/booking"
	"github.com/csfx-py/vaccine-tracker/internal/config"
	"github.com/csfx-py/vaccine-tracker/internal/cowin"
	"github.com/csfx-py/vaccine-tracker/internal/notify"
	"github.com/csfx-py/vaccine-tracker/internal/scheduler"
	"github.com/csfx-py/vaccine-tracker/internal/store"
	"github.com/csfx-py/vaccine-tracker/internal/telegram"
)

type App struct {
	cfg     config.Config
	log     *zap.Logger
	bot     *tgbotapi.BotAPI
	httpSrv *http.Server
	repo    store.Repo
	router  *telegram.Router
}

func New(cfg config.Config, log *zap.Logger) (*App, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, err
	}
	bot.Debug = false

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}

	return &App{cfg: cfg, log: log, bot: bot, httpSrv: srv}, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc, err := a.cfg.Location()
	if err != nil {
		return err
	}
	pollDelay, err := a.cfg.ResolvePollDelay()
	if err != nil {
		return err
	}
	a.log.Info("starting vaccine-tracker",
		zap.String("http", a.cfg.HTTPAddr),
		zap.Duration("poll_delay", pollDelay),
		zap.String("tz", loc.String()),
	)

	// Open SQLite and run migrations.
	repo, err := store.OpenSQLite(ctx, a.cfg.DBPath)
	if err != nil {
		a.log.Error("open sqlite failed", zap.Error(err))
		return err
	}
	a.repo = repo
	a.log.Info("sqlite ready")

	client := cowin.New(cowin.Config{
		BaseURL:   a.cfg.CowinBaseURL,
		OTPSecret: a.cfg.CowinOTPSecret,
		Limiter:   rate.NewLimiter(rate.Limit(a.cfg.UpstreamRPS), 1),
		Solver:    cowin.NewHTTPSolver(a.cfg.CaptchaSolverURL),
		Location:  loc,
		Logger:    a.log.Named("cowin"),
	})
	dispatcher := notify.NewDispatcher(telegram.NewSender(a.bot), repo, a.cfg.OperatorChat, a.log.Named("notify"))
	booker := booking.New(client, repo, dispatcher, clock.WallClock, loc, a.log.Named("booking"))
	pool := scheduler.NewPool(a.cfg.DispatchWorkers, a.log)
	tracker := scheduler.NewTracker(repo, client, dispatcher, booker, pool, clock.WallClock, pollDelay, a.log.Named("tracker"))
	expiry := scheduler.NewExpiryMonitor(repo, dispatcher, clock.WallClock, a.cfg.SweepEvery, a.cfg.ReminderLimit, a.log.Named("expiry"))
	watchdog := scheduler.NewWatchdog(tracker, dispatcher, clock.WallClock, scheduler.WatchdogConfig{
		ResetEvery: a.cfg.LivenessResetEvery,
		CheckEvery: a.cfg.LivenessCheckEvery,
		ShortGrace: a.cfg.LivenessShortGrace,
		LongGrace:  a.cfg.LivenessLongGrace,
	}, a.log.Named("watchdog"))

	a.router = telegram.NewRouter(a.bot, a.log.Named("telegram"), repo, client, tracker, clock.WallClock, telegram.Options{
		Operator:     a.cfg.OperatorChat,
		MaxTracking:  a.cfg.MaxTracking,
		MaxOTPPerDay: a.cfg.MaxOTPPerDay,
	})

	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("http server error", zap.Error(err))
		}
	}()

	var wg sync.WaitGroup
	for _, run := range []func(context.Context){tracker.Run, expiry.Run, watchdog.Run} {
		run := run // per-iteration copy (go 1.21 loop semantics)
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(ctx)
		}()
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updCh := a.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			a.log.Info("shutdown signal received")
			a.bot.StopReceivingUpdates()

			shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := a.httpSrv.Shutdown(shCtx)
			cancel()
			if err != nil {
				a.log.Warn("http server shutdown error", zap.Error(err))
			}

			wg.Wait()
			if a.repo != nil {
				_ = a.repo.Close()
			}
			return nil

		case upd := <-updCh:
			a.router.HandleUpdate(ctx, upd)
		}
	}
}
