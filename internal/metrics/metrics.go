package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the booking engine's prometheus series. A nil *Collector
// is valid and records nothing.
type Collector struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	bookingsTotal      *prometheus.CounterVec
	transitionsTotal   *prometheus.CounterVec
	slotConflictsTotal prometheus.Counter

	dispatchFailures *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	dispatchInline   prometheus.Counter

	remindersDelivered *prometheus.CounterVec
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route, and status code.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "booking",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}, []string{"method", "route"}),
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "appointments",
			Name:      "booked_total",
			Help:      "Booking attempts by kind and outcome.",
		}, []string{"kind", "outcome"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "appointments",
			Name:      "transitions_total",
			Help:      "Appointment operations by name and outcome.",
		}, []string{"operation", "outcome"}),
		slotConflictsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "slots",
			Name:      "conflicts_total",
			Help:      "Claims that lost the race for a slot or hit an unpublished slot.",
		}),
		dispatchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "dispatch",
			Name:      "failures_total",
			Help:      "Dispatcher errors and panics. Bookings are unaffected.",
		}, []string{"dispatcher", "event"}),
		dispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "booking",
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Time spent in each dispatcher.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"dispatcher"}),
		dispatchInline: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "dispatch",
			Name:      "queue_full_total",
			Help:      "Events dispatched inline because the async queue was full.",
		}),
		remindersDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "reminders",
			Name:      "processed_total",
			Help:      "Due reminders processed by the worker, by outcome.",
		}, []string{"outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		c.requestsTotal, c.requestDuration,
		c.bookingsTotal, c.transitionsTotal, c.slotConflictsTotal,
		c.dispatchFailures, c.dispatchDuration, c.dispatchInline,
		c.remindersDelivered,
	)
	return c
}

func (c *Collector) ObserveRequest(method, route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.requestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (c *Collector) ObserveBooking(kind, outcome string) {
	if c == nil {
		return
	}
	c.bookingsTotal.WithLabelValues(kind, outcome).Inc()
}

func (c *Collector) ObserveTransition(operation, outcome string) {
	if c == nil {
		return
	}
	c.transitionsTotal.WithLabelValues(operation, outcome).Inc()
}

func (c *Collector) SlotConflict() {
	if c == nil {
		return
	}
	c.slotConflictsTotal.Inc()
}

func (c *Collector) ObserveDispatch(dispatcher, event string, d time.Duration, failed bool) {
	if c == nil {
		return
	}
	c.dispatchDuration.WithLabelValues(dispatcher).Observe(d.Seconds())
	if failed {
		c.dispatchFailures.WithLabelValues(dispatcher, event).Inc()
	}
}

func (c *Collector) DispatchQueueFull() {
	if c == nil {
		return
	}
	c.dispatchInline.Inc()
}

func (c *Collector) ObserveReminder(outcome string) {
	if c == nil {
		return
	}
	c.remindersDelivered.WithLabelValues(outcome).Inc()
}

func Handler() http.Handler {
	return promhttp.Handler()
}
