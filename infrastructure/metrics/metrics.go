// Package metrics provides Prometheus metrics collection
package metrics

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Error metrics
	ErrorsTotal *prometheus.CounterVec

	// Ingestion pipeline metrics (C9)
	PipelineStagesTotal    *prometheus.CounterVec
	PipelineStageDuration  *prometheus.HistogramVec
	PipelineItemsQuarantined *prometheus.CounterVec

	// Capability framework metrics (C8)
	CapabilityInvocationsTotal *prometheus.CounterVec
	CapabilityInvocationDuration *prometheus.HistogramVec

	// Sync engine metrics (C7)
	SyncMergesTotal     *prometheus.CounterVec
	SyncConflictsTotal  *prometheus.CounterVec
	SyncSessionsActive  prometheus.Gauge

	// Database metrics
	DatabaseQueriesTotal    *prometheus.CounterVec
	DatabaseQueryDuration   *prometheus.HistogramVec
	DatabaseConnectionsOpen prometheus.Gauge

	// Service health
	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec
}

// New creates a new Metrics instance with all collectors registered
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP metrics
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"service", "method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service", "method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),

		// Error metrics
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errors_total",
				Help: "Total number of errors",
			},
			[]string{"service", "type", "operation"},
		),

		// Ingestion pipeline metrics
		PipelineStagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_stages_total",
				Help: "Total number of ingestion pipeline stage completions",
			},
			[]string{"stage", "status"},
		),
		PipelineStageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_stage_duration_seconds",
				Help:    "Ingestion pipeline stage duration in seconds",
				Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60},
			},
			[]string{"stage"},
		),
		PipelineItemsQuarantined: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_items_quarantined_total",
				Help: "Total number of items routed to the dead-letter store",
			},
			[]string{"reason"},
		),

		// Capability framework metrics
		CapabilityInvocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capability_invocations_total",
				Help: "Total number of capability invocations",
			},
			[]string{"capability", "status"},
		),
		CapabilityInvocationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "capability_invocation_duration_seconds",
				Help:    "Capability invocation duration in seconds",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
			},
			[]string{"capability"},
		),

		// Sync engine metrics
		SyncMergesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_merges_total",
				Help: "Total number of vector-clock merges performed",
			},
			[]string{"result"},
		),
		SyncConflictsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_conflicts_total",
				Help: "Total number of merge conflicts surfaced for manual resolution",
			},
			[]string{"entity_type"},
		),
		SyncSessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sync_sessions_active",
				Help: "Current number of connected sync sessions",
			},
		),

		// Database metrics
		DatabaseQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "database_queries_total",
				Help: "Total number of database queries",
			},
			[]string{"service", "operation", "status"},
		),
		DatabaseQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "database_query_duration_seconds",
				Help:    "Database query duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"service", "operation"},
		),
		DatabaseConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "database_connections_open",
				Help: "Current number of open database connections",
			},
		),

		// Service health
		ServiceUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "service_uptime_seconds",
				Help: "Service uptime in seconds",
			},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "service_info",
				Help: "Service information",
			},
			[]string{"service", "version", "environment"},
		),
	}

	// Register all collectors
	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal,
			m.RequestDuration,
			m.RequestsInFlight,
			m.ErrorsTotal,
			m.PipelineStagesTotal,
			m.PipelineStageDuration,
			m.PipelineItemsQuarantined,
			m.CapabilityInvocationsTotal,
			m.CapabilityInvocationDuration,
			m.SyncMergesTotal,
			m.SyncConflictsTotal,
			m.SyncSessionsActive,
			m.DatabaseQueriesTotal,
			m.DatabaseQueryDuration,
			m.DatabaseConnectionsOpen,
			m.ServiceUptime,
			m.ServiceInfo,
		)
	}

	// Set service info
	m.ServiceInfo.WithLabelValues(serviceName, "1.0.0", getEnvironment()).Set(1)

	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(service, method, path, status).Inc()
	m.RequestDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// RecordError records an error
func (m *Metrics) RecordError(service, errorType, operation string) {
	m.ErrorsTotal.WithLabelValues(service, errorType, operation).Inc()
}

// RecordPipelineStage records completion of an ingestion pipeline stage.
func (m *Metrics) RecordPipelineStage(stage, status string, duration time.Duration) {
	m.PipelineStagesTotal.WithLabelValues(stage, status).Inc()
	m.PipelineStageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordPipelineQuarantine records an item routed to the dead-letter store.
func (m *Metrics) RecordPipelineQuarantine(reason string) {
	m.PipelineItemsQuarantined.WithLabelValues(reason).Inc()
}

// RecordCapabilityInvocation records a capability invocation outcome.
func (m *Metrics) RecordCapabilityInvocation(capability, status string, duration time.Duration) {
	m.CapabilityInvocationsTotal.WithLabelValues(capability, status).Inc()
	m.CapabilityInvocationDuration.WithLabelValues(capability).Observe(duration.Seconds())
}

// RecordSyncMerge records a vector-clock merge outcome.
func (m *Metrics) RecordSyncMerge(result string) {
	m.SyncMergesTotal.WithLabelValues(result).Inc()
}

// RecordSyncConflict records a merge conflict surfaced for manual resolution.
func (m *Metrics) RecordSyncConflict(entityType string) {
	m.SyncConflictsTotal.WithLabelValues(entityType).Inc()
}

// SetActiveSyncSessions sets the current count of connected sync sessions.
func (m *Metrics) SetActiveSyncSessions(count int) {
	m.SyncSessionsActive.Set(float64(count))
}

// RecordDatabaseQuery records a database query
func (m *Metrics) RecordDatabaseQuery(service, operation, status string, duration time.Duration) {
	m.DatabaseQueriesTotal.WithLabelValues(service, operation, status).Inc()
	m.DatabaseQueryDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

// SetDatabaseConnections sets the number of open database connections
func (m *Metrics) SetDatabaseConnections(count int) {
	m.DatabaseConnectionsOpen.Set(float64(count))
}

// UpdateUptime updates the service uptime
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.ServiceUptime.Set(time.Since(startTime).Seconds())
}

// IncrementInFlight increments the in-flight requests counter
func (m *Metrics) IncrementInFlight() {
	m.RequestsInFlight.Inc()
}

// DecrementInFlight decrements the in-flight requests counter
func (m *Metrics) DecrementInFlight() {
	m.RequestsInFlight.Dec()
}

// Helper functions

func getEnvironment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv("APP_ENV")))
	if env == "" {
		return "development"
	}
	return env
}

// Enabled returns whether Prometheus metrics should be exposed.
//
// Defaults:
// - production: disabled unless explicitly enabled via METRICS_ENABLED
// - non-production: enabled unless explicitly disabled via METRICS_ENABLED
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return getEnvironment() != "production"
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Global metrics instance
var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes the global metrics instance
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New("unknown")
	}
	return globalMetrics
}
