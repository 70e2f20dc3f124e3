package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SchedulerMetrics exposes counters/histograms for booking, OTP and background flows.
type SchedulerMetrics struct {
	bookingsTotal      *prometheus.CounterVec
	bookingLatency     *prometheus.HistogramVec
	cancellationsTotal *prometheus.CounterVec
	crowdChecksTotal   *prometheus.CounterVec
	slotLoadFailures   prometheus.Counter
	otpTotal           *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec
	sweepsTotal        *prometheus.CounterVec
	sweptItemsTotal    *prometheus.CounterVec
}

func NewSchedulerMetrics(reg prometheus.Registerer) *SchedulerMetrics {
	m := &SchedulerMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "polyclinic",
			Subsystem: "bookings",
			Name:      "requests_total",
			Help:      "Booking requests by outcome and requester kind",
		}, []string{"outcome", "requester"}),
		bookingLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "polyclinic",
			Subsystem: "bookings",
			Name:      "latency_seconds",
			Help:      "Latency of booking requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		cancellationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "polyclinic",
			Subsystem: "bookings",
			Name:      "cancellations_total",
			Help:      "Cancellation requests by outcome",
		}, []string{"outcome"}),
		crowdChecksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "polyclinic",
			Subsystem: "crowd",
			Name:      "checks_total",
			Help:      "Crowd evaluations by verdict",
		}, []string{"crowded"}),
		slotLoadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "polyclinic",
			Subsystem: "slotload",
			Name:      "increment_failures_total",
			Help:      "Visits persisted whose demand counter could not be incremented",
		}),
		otpTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "polyclinic",
			Subsystem: "otp",
			Name:      "operations_total",
			Help:      "OTP issue/verify operations by outcome",
		}, []string{"operation", "outcome"}),
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "polyclinic",
			Subsystem: "notify",
			Name:      "notifications_total",
			Help:      "Notifications by kind and delivery outcome",
		}, []string{"kind", "outcome"}),
		sweepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "polyclinic",
			Subsystem: "worker",
			Name:      "sweeps_total",
			Help:      "Periodic sweep runs by job and outcome",
		}, []string{"job", "outcome"}),
		sweptItemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "polyclinic",
			Subsystem: "worker",
			Name:      "swept_items_total",
			Help:      "Items handled by periodic sweeps",
		}, []string{"job"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.bookingsTotal, m.bookingLatency, m.cancellationsTotal, m.crowdChecksTotal,
		m.slotLoadFailures, m.otpTotal, m.notificationsTotal, m.sweepsTotal, m.sweptItemsTotal,
	)
	return m
}

func (m *SchedulerMetrics) ObserveBooking(outcome, requester string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome, requester).Inc()
	m.bookingLatency.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (m *SchedulerMetrics) ObserveCancellation(outcome string) {
	if m == nil {
		return
	}
	m.cancellationsTotal.WithLabelValues(outcome).Inc()
}

func (m *SchedulerMetrics) ObserveCrowdCheck(crowded bool) {
	if m == nil {
		return
	}
	label := "false"
	if crowded {
		label = "true"
	}
	m.crowdChecksTotal.WithLabelValues(label).Inc()
}

func (m *SchedulerMetrics) SlotLoadFailure() {
	if m == nil {
		return
	}
	m.slotLoadFailures.Inc()
}

func (m *SchedulerMetrics) ObserveOTP(operation, outcome string) {
	if m == nil {
		return
	}
	m.otpTotal.WithLabelValues(operation, outcome).Inc()
}

func (m *SchedulerMetrics) ObserveNotification(kind, outcome string) {
	if m == nil {
		return
	}
	m.notificationsTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *SchedulerMetrics) ObserveSweep(job, outcome string, items int) {
	if m == nil {
		return
	}
	m.sweepsTotal.WithLabelValues(job, outcome).Inc()
	if items > 0 {
		m.sweptItemsTotal.WithLabelValues(job).Add(float64(items))
	}
}
