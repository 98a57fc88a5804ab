package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Rejection reasons for MutationsRejected.
const (
	ReasonUnauthorized = "unauthorized"
	ReasonConflict     = "conflict"
	ReasonNotFound     = "not_found"
)

// Metrics holds all Prometheus metrics for the application.
// Each instance owns its registry so tests can build as many as they need.
type Metrics struct {
	registry *prometheus.Registry

	UsersAdded        prometheus.Counter
	UsersDeleted      prometheus.Counter
	MutationsRejected *prometheus.CounterVec
	PersistFailures   prometheus.Counter
	RegistrySize      prometheus.Gauge
	RequestDuration   *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		UsersAdded: factory.NewCounter(prometheus.CounterOpts{
			Name: "civverify_users_added_total",
			Help: "Total number of verification records added",
		}),
		UsersDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "civverify_users_deleted_total",
			Help: "Total number of verification records deleted",
		}),
		MutationsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "civverify_mutations_rejected_total",
			Help: "Write requests rejected, by reason",
		}, []string{"reason"}),
		PersistFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "civverify_persist_failures_total",
			Help: "Registry file rewrites that failed",
		}),
		RegistrySize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "civverify_registry_records",
			Help: "Number of records currently held in the registry",
		}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "civverify_http_request_duration_seconds",
			Help:    "Duration of HTTP requests by route and method",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"route", "method"}),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// IncrementUsersAdded increments the added counter by 1.
func (m *Metrics) IncrementUsersAdded() {
	m.UsersAdded.Inc()
}

// IncrementUsersDeleted increments the deleted counter by 1.
func (m *Metrics) IncrementUsersDeleted() {
	m.UsersDeleted.Inc()
}

// IncrementRejected records a rejected write for reason.
func (m *Metrics) IncrementRejected(reason string) {
	m.MutationsRejected.WithLabelValues(reason).Inc()
}

// IncrementPersistFailures records a failed registry rewrite.
func (m *Metrics) IncrementPersistFailures() {
	m.PersistFailures.Inc()
}

// SetRegistrySize records the current record count.
func (m *Metrics) SetRegistrySize(n int) {
	m.RegistrySize.Set(float64(n))
}

// ObserveRequest records the duration of a request.
// Call with time.Now() at the start of the request.
func (m *Metrics) ObserveRequest(route, method string, start time.Time) {
	m.RequestDuration.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
}
