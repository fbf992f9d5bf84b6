// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Cycles counts completed tracker cycles by outcome (scanned, idle).
	Cycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_cycles_total",
		Help: "Completed tracker cycles",
	}, []string{"outcome"})

	// DistrictFetches counts listing fetches by status (ok, transient, error).
	DistrictFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_district_fetches_total",
		Help: "District listing fetches",
	}, []string{"status"})

	// Matches counts (user, tracking entry) pairs with a non-empty match.
	Matches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracker_matches_total",
		Help: "Tracking entries matched against listings",
	})

	// Notifications counts chat deliveries by status (sent, transient, permanent, error).
	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_notifications_total",
		Help: "Chat message deliveries",
	}, []string{"status"})

	// Reservations counts auto-reservation attempts by outcome (booked, rejected, failed).
	Reservations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_reservations_total",
		Help: "Auto-reservation attempts",
	}, []string{"outcome"})

	// ExpiryReminders counts credential monitor actions (reminded, disabled, cleared).
	ExpiryReminders = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_expiry_actions_total",
		Help: "Credential expiry monitor actions",
	}, []string{"action"})

	// WatchdogRestarts counts tracker restarts issued by the watchdog.
	WatchdogRestarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracker_watchdog_restarts_total",
		Help: "Tracker loop restarts by the watchdog",
	})

	// Alive mirrors the liveness flag.
	Alive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tracker_alive",
		Help: "1 when the tracker marked itself alive in the current window",
	})

	// PendingTasks is the number of in-flight notification/booking tasks.
	PendingTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tracker_pending_tasks",
		Help: "In-flight background notification and booking tasks",
	})
)
