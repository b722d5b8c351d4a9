package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	bookingEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clinicbook",
			Name:      "booking_events_total",
			Help:      "Booking lifecycle events by type.",
		},
		[]string{"event"},
	)

	bookingRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clinicbook",
			Name:      "booking_rejections_total",
			Help:      "Booking requests refused, by reason.",
		},
		[]string{"reason"},
	)

	reminders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clinicbook",
			Name:      "reminders_total",
			Help:      "Reminder dispatch outcomes.",
		},
		[]string{"outcome"},
	)

	sweepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clinicbook",
			Name:      "reminder_sweep_duration_seconds",
			Help:      "Duration of reminder sweeps.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"sweep"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clinicbook",
			Name:      "http_requests_total",
			Help:      "Booking API requests by route and status code.",
		},
		[]string{"route", "method", "code"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(bookingEvents, bookingRejections, reminders, sweepDuration, httpRequests)
	})
}

// IncBookingEvent counts a booking lifecycle event.
func IncBookingEvent(event string) {
	bookingEvents.WithLabelValues(event).Inc()
}

// IncBookingRejected counts a refused booking request.
func IncBookingRejected(reason string) {
	bookingRejections.WithLabelValues(reason).Inc()
}

// IncReminder counts a reminder outcome: sent, failed, skipped or cancelled.
func IncReminder(outcome string) {
	reminders.WithLabelValues(outcome).Inc()
}

// ObserveSweep records how long a due or retry sweep took.
func ObserveSweep(sweep string, d time.Duration) {
	sweepDuration.WithLabelValues(sweep).Observe(d.Seconds())
}

// IncHTTPRequest counts an API request. route is the matched path template.
func IncHTTPRequest(route, method string, code int) {
	httpRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
}
