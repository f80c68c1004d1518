package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Conversation metrics
	TurnsProcessed *prometheus.CounterVec
	TurnLatency    prometheus.Histogram
	NLUFallbacks   prometheus.Counter
	TurnFailures   prometheus.Counter

	// Booking metrics
	BookingsCreated     prometheus.Counter
	BookingsRejected    *prometheus.CounterVec
	BookingsCancelled   prometheus.Counter
	BookingsRescheduled prometheus.Counter
	SlotConflicts       prometheus.Counter
}

// NewMetrics creates and registers all application metrics. Register once
// per process; construction is side-effecting via promauto.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		TurnsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_processed_total",
			Help:      "Total number of conversation turns processed",
		}, []string{"state"}),
		TurnLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Time spent processing a conversation turn",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		NLUFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nlu_fallbacks_total",
			Help:      "Turns served by the rule-based recognizer after an NLU failure",
		}),
		TurnFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_failures_total",
			Help:      "Turns that degraded to the generic apology response",
		}),
		BookingsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_created_total",
			Help:      "Appointments successfully booked",
		}),
		BookingsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_rejected_total",
			Help:      "Bookings rejected by a scheduling policy rule",
		}, []string{"rule"}),
		BookingsCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_cancelled_total",
			Help:      "Appointments cancelled",
		}),
		BookingsRescheduled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_rescheduled_total",
			Help:      "Appointments rescheduled",
		}),
		SlotConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_conflicts_total",
			Help:      "Bookings lost to a concurrent reservation at commit time",
		}),
	}
}

// ObserveTurn records one processed turn. Nil-safe so tests can run
// without a registry.
func (m *Metrics) ObserveTurn(state string, d time.Duration) {
	if m == nil {
		return
	}
	m.TurnsProcessed.WithLabelValues(state).Inc()
	m.TurnLatency.Observe(d.Seconds())
}

func (m *Metrics) IncNLUFallback() {
	if m == nil {
		return
	}
	m.NLUFallbacks.Inc()
}

func (m *Metrics) IncTurnFailure() {
	if m == nil {
		return
	}
	m.TurnFailures.Inc()
}

func (m *Metrics) IncBookingCreated() {
	if m == nil {
		return
	}
	m.BookingsCreated.Inc()
}

func (m *Metrics) IncBookingRejected(rule string) {
	if m == nil {
		return
	}
	m.BookingsRejected.WithLabelValues(rule).Inc()
}

func (m *Metrics) IncBookingCancelled() {
	if m == nil {
		return
	}
	m.BookingsCancelled.Inc()
}

func (m *Metrics) IncBookingRescheduled() {
	if m == nil {
		return
	}
	m.BookingsRescheduled.Inc()
}

func (m *Metrics) IncSlotConflict() {
	if m == nil {
		return
	}
	m.SlotConflicts.Inc()
}
