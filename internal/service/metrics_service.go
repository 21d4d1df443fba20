package service

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP
// surface and the audit pipeline. It satisfies audit.Recorder.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	auditPersisted prometheus.Counter
	auditFailed    prometheus.Counter
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	auditPersisted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_events_persisted_total",
		Help: "Audit events successfully written to the store",
	})

	auditFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_events_persist_failures_total",
		Help: "Audit events dropped because the store write failed",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_query_cache_hits_total",
		Help: "Audit viewer listings served from cache",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_query_cache_misses_total",
		Help: "Audit viewer listings that required a store query",
	})

	registry.MustRegister(requestDuration, requestTotal, auditPersisted, auditFailed, cacheHits, cacheMisses)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		auditPersisted:  auditPersisted,
		auditFailed:     auditFailed,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
	}
}

// Handler exposes the Prometheus scrape endpoint.
func (s *MetricsService) Handler() http.Handler {
	return s.handler
}

// ObserveHTTPRequest records one served request.
func (s *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	labels := []string{method, path, fmt.Sprintf("%d", status)}
	s.requestDuration.WithLabelValues(labels...).Observe(duration.Seconds())
	s.requestTotal.WithLabelValues(labels...).Inc()
}

// AuditEventPersisted implements audit.Recorder.
func (s *MetricsService) AuditEventPersisted() {
	s.auditPersisted.Inc()
}

// AuditPersistFailed implements audit.Recorder.
func (s *MetricsService) AuditPersistFailed() {
	s.auditFailed.Inc()
}

// AuditCacheHit counts a viewer listing served from Redis.
func (s *MetricsService) AuditCacheHit() {
	s.cacheHits.Inc()
}

// AuditCacheMiss counts a viewer listing that hit the store.
func (s *MetricsService) AuditCacheMiss() {
	s.cacheMisses.Inc()
}
