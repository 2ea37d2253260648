package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	slotQueries = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "salonbook",
			Name:      "slot_query_duration_seconds",
			Help:      "Latency of availability queries by outcome.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	slotsReturned = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "salonbook",
			Name:      "slots_returned",
			Help:      "Number of slots returned per successful availability query.",
			Buckets:   []float64{0, 1, 5, 10, 20, 40, 80},
		},
	)

	bookingAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "salonbook",
			Name:      "booking_attempts_total",
			Help:      "Booking confirmations by outcome (confirmed, rejected, replayed, invalid, error).",
		},
		[]string{"outcome"},
	)

	cancellations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "salonbook",
			Name:      "appointments_cancelled_total",
			Help:      "Appointments moved to cancelled.",
		},
	)

	ruleCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "salonbook",
			Name:      "rule_cache_lookups_total",
			Help:      "Blocked-time rule cache lookups by result.",
		},
		[]string{"result"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(slotQueries, slotsReturned, bookingAttempts, cancellations, ruleCache)
	})
}

func ObserveSlotQuery(outcome string, d time.Duration, slots int) {
	slotQueries.WithLabelValues(outcome).Observe(d.Seconds())
	if outcome == "ok" {
		slotsReturned.Observe(float64(slots))
	}
}

func IncBookingAttempt(outcome string) {
	bookingAttempts.WithLabelValues(outcome).Inc()
}

func IncCancellation() {
	cancellations.Inc()
}

func IncRuleCache(hit bool) {
	if hit {
		ruleCache.WithLabelValues("hit").Inc()
		return
	}
	ruleCache.WithLabelValues("miss").Inc()
}
