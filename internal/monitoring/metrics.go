package monitoring

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	registrationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registrations_created_total",
			Help: "Pending registrations created per event",
		},
		[]string{"event_id"},
	)

	confirmations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registration_confirmations_total",
			Help: "Confirmation attempts by outcome",
		},
		[]string{"outcome"},
	)

	adminDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admin_gate_decisions_total",
			Help: "Admin gate decisions by outcome",
		},
		[]string{"outcome"},
	)

	ledgerFailOpen = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_fail_open_total",
			Help: "Spot counts served from the configured total because the count query failed",
		},
		[]string{"event_id"},
	)

	notificationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_publish_failures_total",
			Help: "Notifications that could not be handed to the broker",
		},
		[]string{"kind"},
	)

	rateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limited_requests_total",
			Help: "Requests rejected by the server-side rate limiter",
		},
		[]string{"rule"},
	)

	storeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "action_duration_seconds",
			Help:    "Duration of public and admin actions",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)
)

const (
	ConfirmFirst      = "confirmed"
	ConfirmIdempotent = "already_confirmed"
	ConfirmRejected   = "rejected"

	GateAllowed         = "allowed"
	GateUnauthenticated = "unauthenticated"
	GateForbidden       = "forbidden"
	GateError           = "error"
)

func RecordRegistrationCreated(eventID int64) {
	registrationsCreated.WithLabelValues(strconv.FormatInt(eventID, 10)).Inc()
}

func RecordConfirmation(outcome string) {
	confirmations.WithLabelValues(outcome).Inc()
}

func RecordAdminDecision(outcome string) {
	adminDecisions.WithLabelValues(outcome).Inc()
}

func RecordLedgerFailOpen(eventID int64) {
	ledgerFailOpen.WithLabelValues(strconv.FormatInt(eventID, 10)).Inc()
}

func RecordNotificationFailure(kind string) {
	notificationFailures.WithLabelValues(kind).Inc()
}

func RecordRateLimited(rule string) {
	rateLimited.WithLabelValues(rule).Inc()
}

func ObserveAction(action string, seconds float64) {
	storeLatency.WithLabelValues(action).Observe(seconds)
}
