// Package metrics exposes Prometheus instrumentation for the live match
// follow service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "liveview"

var (
	// UpdatesApplied counts change-feed updates merged into a snapshot.
	UpdatesApplied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "updates_applied_total",
		Help:      "Change feed updates merged into the materialized snapshot.",
	})

	// StaleUpdatesDiscarded counts updates rejected by the revision check.
	// Routine traffic on an eventually consistent feed, never surfaced.
	StaleUpdatesDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stale_updates_discarded_total",
		Help:      "Updates dropped because their revision predates the current snapshot.",
	})

	// DuplicateTimelineEvents counts timeline inserts collapsed by id.
	DuplicateTimelineEvents = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "duplicate_timeline_events_total",
		Help:      "Timeline events dropped because their id was already present.",
	})

	// NewEventAlerts counts new-event notifications pushed to viewers.
	NewEventAlerts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "new_event_alerts_total",
		Help:      "Distinct latest-event alerts emitted to the presentation layer.",
	})

	// FeedDisconnects counts change feed connection losses.
	FeedDisconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feed_disconnects_total",
		Help:      "Change feed subscriptions that terminated unexpectedly.",
	})

	// FeedResubscribes counts successful resubscriptions after a disconnect.
	FeedResubscribes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feed_resubscribes_total",
		Help:      "Successful change feed resubscriptions.",
	})

	// ActiveFollowers tracks matches currently being followed.
	ActiveFollowers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_followers",
		Help:      "Match keys with an active follower.",
	})

	// ConnectedViewers tracks open WebSocket connections.
	ConnectedViewers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connected_viewers",
		Help:      "Open viewer WebSocket connections.",
	})
)

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
