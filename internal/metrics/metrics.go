package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels shared by the counters below.
const (
	OutcomeSuccess      = "success"
	OutcomeNotFound     = "not_found"
	OutcomeConflict     = "conflict"
	OutcomeInvalidState = "invalid_state"
	OutcomeDependency   = "dependency_error"
	OutcomeInvalid      = "invalid_argument"
	OutcomeError        = "error"
)

// Metrics groups every collector the scheduling service exports.
type Metrics struct {
	registry *prometheus.Registry

	AppointmentOps        *prometheus.CounterVec
	SlotsGenerated        prometheus.Counter
	ShiftsRejected        prometheus.Counter
	DirectoryLookups      *prometheus.CounterVec
	NotificationDelivery  *prometheus.CounterVec
	NotificationsDropped  prometheus.Counter
	NotificationQueueSize prometheus.Gauge
	HTTPRequests          *prometheus.CounterVec
	HTTPDuration          *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry. Tests create one per case so
// counters never leak between them.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		AppointmentOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scheduling_appointment_operations_total",
				Help: "Booking engine operations by name and outcome",
			},
			[]string{"operation", "outcome"},
		),
		SlotsGenerated: factory.NewCounter(prometheus.CounterOpts{
			Name: "scheduling_slots_generated_total",
			Help: "Slots inserted by the slot generator",
		}),
		ShiftsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "scheduling_shifts_rejected_total",
			Help: "Shifts rejected because they overlap existing slots",
		}),
		DirectoryLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scheduling_directory_lookups_total",
				Help: "Directory lookups by kind, source and outcome",
			},
			[]string{"kind", "source", "outcome"},
		),
		NotificationDelivery: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scheduling_notification_deliveries_total",
				Help: "Notification deliveries per sink and outcome",
			},
			[]string{"sink", "outcome"},
		),
		NotificationsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "scheduling_notifications_dropped_total",
			Help: "Notifications dropped because the dispatch queue was full or closed",
		}),
		NotificationQueueSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "scheduling_notification_queue_depth",
			Help: "Events waiting in the dispatch queue",
		}),
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status_code"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// The recording methods below are no-ops on a nil *Metrics, so components
// built without metrics need no guards of their own.

func (m *Metrics) ObserveOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.AppointmentOps.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) ObserveLookup(kind, source, outcome string) {
	if m == nil {
		return
	}
	m.DirectoryLookups.WithLabelValues(kind, source, outcome).Inc()
}

func (m *Metrics) ObserveDelivery(sink, outcome string) {
	if m == nil {
		return
	}
	m.NotificationDelivery.WithLabelValues(sink, outcome).Inc()
}

func (m *Metrics) ObserveHTTP(method, route string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(seconds)
}

func (m *Metrics) SlotsInserted(n int) {
	if m == nil {
		return
	}
	m.SlotsGenerated.Add(float64(n))
}

func (m *Metrics) ShiftRejected() {
	if m == nil {
		return
	}
	m.ShiftsRejected.Inc()
}

// QueueMoved adjusts the dispatch queue depth by delta.
func (m *Metrics) QueueMoved(delta int) {
	if m == nil {
		return
	}
	m.NotificationQueueSize.Add(float64(delta))
}

func (m *Metrics) NotificationDropped() {
	if m == nil {
		return
	}
	m.NotificationsDropped.Inc()
}
