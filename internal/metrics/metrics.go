// Package metrics provides Prometheus instrumentation for the relay:
// webhook intake, dispatch outcomes, identity-cache effectiveness, and the
// size of the active client fleet.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Webhook intake.
var (
	WebhooksReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hermes_webhooks_received_total",
		Help: "Total number of webhook payloads accepted from ADO.",
	}, []string{"event_type"})

	WebhooksUnhandledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hermes_webhooks_unhandled_total",
		Help: "Total number of webhook payloads the formatter did not recognize.",
	}, []string{"event_type"})
)

// Dispatch outcomes.
var (
	NotificationsDispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hermes_notifications_dispatched_total",
		Help: "Total number of notifications run through the dispatcher.",
	}, []string{"event_type"})

	DeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hermes_deliveries_total",
		Help: "Total number of per-client delivery attempts, by outcome.",
	}, []string{"event_type", "outcome"})
)

// Identity cache.
var (
	IdentityCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hermes_identity_cache_total",
		Help: "Total number of identity cache lookups, by kind and outcome.",
	}, []string{"kind", "outcome"})
)

// Fleet.
var (
	ClientsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hermes_clients_active",
		Help: "Number of currently active (non soft-deleted) registered clients.",
	})
)

// CacheObserver adapts the package-level IdentityCacheTotal counter to the
// identity.CacheObserver interface, so internal/identity does not need to
// import this package directly.
type CacheObserver struct{}

// ObserveCache records one identity cache lookup.
func (CacheObserver) ObserveCache(kind string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	IdentityCacheTotal.WithLabelValues(kind, outcome).Inc()
}
