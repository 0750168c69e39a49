package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sigae-edu/sigae-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation.
type MetricsService struct {
	registry           *prometheus.Registry
	handler            http.Handler
	requestDuration    *prometheus.HistogramVec
	requestTotal       *prometheus.CounterVec
	cacheHits          prometheus.Counter
	cacheMisses        prometheus.Counter
	enrollmentEvents   *prometheus.CounterVec
	promotionsCreated  prometheus.Counter
	promotionsFailed   prometheus.Counter
	yearTransitions    *prometheus.CounterVec
}

// NewMetricsService registers the service's Prometheus collectors.
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

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stats_cache_hits_total",
		Help: "Total enrollment stats cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stats_cache_misses_total",
		Help: "Total enrollment stats cache misses",
	})

	enrollmentEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrollment_events_total",
		Help: "Audit events appended, by event type",
	}, []string{"type"})

	promotionsCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "promotions_created_total",
		Help: "Enrollments created by cross-year promotion",
	})

	promotionsFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "promotions_failed_total",
		Help: "Per-student failures collected during cross-year promotion",
	})

	yearTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "academic_year_transitions_total",
		Help: "Academic year status transitions, by target status",
	}, []string{"status"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheHits, cacheMisses,
		enrollmentEvents, promotionsCreated, promotionsFailed, yearTransitions, goroutines)

	return &MetricsService{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:   requestDuration,
		requestTotal:      requestTotal,
		cacheHits:         cacheHits,
		cacheMisses:       cacheMisses,
		enrollmentEvents:  enrollmentEvents,
		promotionsCreated: promotionsCreated,
		promotionsFailed:  promotionsFailed,
		yearTransitions:   yearTransitions,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheLookup counts a stats cache hit or miss.
func (m *MetricsService) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}

// RecordEnrollmentEvent counts an appended audit event.
func (m *MetricsService) RecordEnrollmentEvent(eventType models.EventType) {
	if m == nil {
		return
	}
	m.enrollmentEvents.WithLabelValues(string(eventType)).Inc()
}

// RecordPromotionOutcome counts created enrollments and collected
// failures of one promotion batch.
func (m *MetricsService) RecordPromotionOutcome(created, failed int) {
	if m == nil {
		return
	}
	m.promotionsCreated.Add(float64(created))
	m.promotionsFailed.Add(float64(failed))
}

// RecordYearTransition counts an academic year status change.
func (m *MetricsService) RecordYearTransition(status models.YearStatus) {
	if m == nil {
		return
	}
	m.yearTransitions.WithLabelValues(string(status)).Inc()
}
