// Package metrics exposes the Prometheus collectors shared across the catalog service.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all the application metrics
type Metrics struct {
	// HTTP request metrics
	HTTPRequestTotal    *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Cache orchestration metrics
	CacheLookupTotal *prometheus.CounterVec // result: hit, miss, stale, stub
	ListingTotal     *prometheus.CounterVec // listing, source: origin or cache

	// Origin API metrics
	OriginRequestTotal    *prometheus.CounterVec
	OriginRequestDuration *prometheus.HistogramVec
	OriginBreakerState    *prometheus.GaugeVec

	// Storage operation metrics
	StorageOperationTotal    *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec

	// Event publishing metrics
	EventPublishTotal *prometheus.CounterVec

	// Presence and mirror metrics
	OnlineSessions prometheus.Gauge
	SitesOnline    prometheus.Gauge
}

// Global metrics instance with mutex for thread safety
var (
	globalMetrics *Metrics
	metricsMutex  sync.Mutex
)

// NewMetrics creates a new Metrics instance with all required metrics
func NewMetrics() *Metrics {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()

	// Return existing instance if already created
	if globalMetrics != nil {
		return globalMetrics
	}

	m := &Metrics{
		HTTPRequestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),

		CacheLookupTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_cache_lookups_total",
			Help: "Movie lookups by outcome",
		}, []string{"result"}),

		ListingTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_listings_total",
			Help: "Listing requests by listing and serving source",
		}, []string{"listing", "source"}),

		OriginRequestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "origin_requests_total",
			Help: "Total number of origin API requests",
		}, []string{"endpoint", "status"}),

		OriginRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "origin_request_duration_seconds",
			Help:    "Origin API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),

		OriginBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "origin_circuit_breaker_state",
			Help: "Origin circuit breaker state (0=closed, 1=half-open, 2=open)",
		}, []string{"name"}),

		StorageOperationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storage_operations_total",
			Help: "Total number of storage operations",
		}, []string{"operation", "status"}),

		StorageOperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storage_operation_duration_seconds",
			Help:    "Storage operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "status"}),

		EventPublishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "event_publish_total",
			Help: "Total number of event publish operations",
		}, []string{"event_type", "status"}),

		OnlineSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "presence_online_sessions",
			Help: "Visitor sessions currently tracked as online",
		}),

		SitesOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "registry_sites_online",
			Help: "Mirror sites currently reporting as online",
		}),
	}

	registerMetrics(m)
	globalMetrics = m

	return m
}

// registerMetrics registers all metrics with the default registry
func registerMetrics(m *Metrics) {
	registerOrGet(m.HTTPRequestTotal)
	registerOrGet(m.HTTPRequestDuration)
	registerOrGet(m.CacheLookupTotal)
	registerOrGet(m.ListingTotal)
	registerOrGet(m.OriginRequestTotal)
	registerOrGet(m.OriginRequestDuration)
	registerOrGet(m.OriginBreakerState)
	registerOrGet(m.StorageOperationTotal)
	registerOrGet(m.StorageOperationDuration)
	registerOrGet(m.EventPublishTotal)
	registerOrGet(m.OnlineSessions)
	registerOrGet(m.SitesOnline)
}

// registerOrGet tries to register a metric, returns the existing one if already registered
func registerOrGet(c prometheus.Collector) prometheus.Collector {
	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
	}
	return c
}
