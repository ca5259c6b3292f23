// Package telemetry exposes Prometheus metrics for schema migrations, the
// connection manager and the ops HTTP surface.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/fishbowl/internal/persistence/sqlite/migration"
)

const namespace = "fishbowl"

// ConnectionCounter reports the number of open database connections.
// *sqlite.Manager satisfies it.
type ConnectionCounter interface {
	OpenConnections() int
}

// Metrics owns a private Prometheus registry. It implements
// migration.Observer.
type Metrics struct {
	registry *prometheus.Registry

	MigrationSteps        *prometheus.CounterVec
	MigrationStepDuration *prometheus.HistogramVec
	SchemaVersion         prometheus.Gauge
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
}

var _ migration.Observer = (*Metrics)(nil)

// New registers every fishbowl metric. When conns is non-nil the number of
// open connections is exported as a gauge.
func New(conns ConnectionCounter) *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		MigrationSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migration_steps_total",
			Help:      "Total number of attempted migration steps",
		}, []string{"direction", "result"}),
		MigrationStepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "migration_step_duration_seconds",
			Help:      "Duration of migration steps in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"direction"}),
		SchemaVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "migration_schema_version",
			Help:      "Last observed schema version",
		}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status_code"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		m.MigrationSteps,
		m.MigrationStepDuration,
		m.SchemaVersion,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if conns != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_open_connections",
			Help:      "Number of open database connections",
		}, func() float64 {
			return float64(conns.OpenConnections())
		}))
	}

	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveStep records a migration step result.
func (m *Metrics) ObserveStep(result migration.Result) {
	outcome := "success"
	if !result.Success {
		outcome = "failure"
	}
	m.MigrationSteps.WithLabelValues(string(result.Direction), outcome).Inc()
	m.MigrationStepDuration.WithLabelValues(string(result.Direction)).Observe(result.ExecutionTime.Seconds())
}

// ObserveVersion records the current schema version.
func (m *Metrics) ObserveVersion(version int) {
	m.SchemaVersion.Set(float64(version))
}

// ObserveRequest records a served HTTP request. route must come from a
// bounded set (the router's patterns), never from the raw URL.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
