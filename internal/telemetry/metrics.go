package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ─── Matching ────────────────────────────────────────────────────────────────

	MatchRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketplace",
		Subsystem: "matching",
		Name:      "runs_total",
		Help:      "Matching pipeline runs, labelled by outcome.",
	}, []string{"outcome"})

	MatchCandidates = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "marketplace",
		Subsystem: "matching",
		Name:      "candidates",
		Help:      "Eligible candidates found per matching run.",
		Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
	})

	// ─── Fanout ──────────────────────────────────────────────────────────────────

	OffersDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "marketplace",
		Subsystem: "fanout",
		Name:      "offers_dispatched_total",
		Help:      "Offers created or re-armed by the fanout.",
	})

	OffersExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "marketplace",
		Subsystem: "fanout",
		Name:      "offers_expired_total",
		Help:      "Offers moved to expired by the sweeper.",
	})

	NotificationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketplace",
		Subsystem: "fanout",
		Name:      "notification_failures_total",
		Help:      "Notifications that could not be handed to a sink, labelled by kind.",
	}, []string{"kind"})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "marketplace",
		Subsystem: "sweeper",
		Name:      "duration_seconds",
		Help:      "Time spent per expiry sweep.",
		Buckets:   prometheus.DefBuckets,
	})

	// ─── Ledger ──────────────────────────────────────────────────────────────────

	OfferResponses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketplace",
		Subsystem: "ledger",
		Name:      "offer_responses_total",
		Help:      "Provider responses, labelled by decision and result.",
	}, []string{"decision", "result"})

	Selections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketplace",
		Subsystem: "ledger",
		Name:      "selections_total",
		Help:      "Customer provider selections, labelled by result.",
	}, []string{"result"})

	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketplace",
		Subsystem: "lifecycle",
		Name:      "transitions_total",
		Help:      "Applied request lifecycle events.",
	}, []string{"event"})
)

// Result collapses an operation error into a metric label.
func Result(err error, domain func(error) bool) string {
	switch {
	case err == nil:
		return "ok"
	case domain(err):
		return "rejected"
	default:
		return "error"
	}
}
