package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	casesStartedTotal *prometheus.CounterVec
	turnsTotal        *prometheus.CounterVec
	finalizeTotal     *prometheus.CounterVec
	retrievedCards    *prometheus.HistogramVec
	cacheServedTotal  *prometheus.CounterVec
	levelTotal        *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edtriage",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "edtriage",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "edtriage",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	casesStartedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edtriage",
			Subsystem: "interview",
			Name:      "cases_started_total",
			Help:      "Total triage cases opened.",
		},
		[]string{"service"},
	)
	turnsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edtriage",
			Subsystem: "interview",
			Name:      "turns_total",
			Help:      "Total interview turns by outcome.",
		},
		[]string{"service", "outcome"},
	)
	finalizeTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edtriage",
			Subsystem: "interview",
			Name:      "finalize_total",
			Help:      "Total finalized cases by finish reason.",
		},
		[]string{"service", "reason"},
	)
	retrievedCards := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "edtriage",
			Subsystem: "retrieval",
			Name:      "cards_per_case",
			Help:      "Distribution of reference cards retrieved per case.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8},
		},
		[]string{"service"},
	)
	cacheServedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edtriage",
			Subsystem: "interview",
			Name:      "cached_turns_total",
			Help:      "Total intermediate turns answered from the cached first assessment.",
		},
		[]string{"service"},
	)
	levelTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edtriage",
			Subsystem: "interview",
			Name:      "final_level_total",
			Help:      "Total finalized cases by assigned acuity level.",
		},
		[]string{"service", "level"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		casesStartedTotal,
		turnsTotal,
		finalizeTotal,
		retrievedCards,
		cacheServedTotal,
		levelTotal,
	)

	return &HTTPServerMetrics{
		registry:          registry,
		requestTotal:      requestTotal,
		requestDuration:   requestDuration,
		requestInFlight:   requestInFlight,
		casesStartedTotal: casesStartedTotal,
		turnsTotal:        turnsTotal,
		finalizeTotal:     finalizeTotal,
		retrievedCards:    retrievedCards,
		cacheServedTotal:  cacheServedTotal,
		levelTotal:        levelTotal,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &metricsRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/triage/") && strings.HasSuffix(path, "/answers"):
		return "/v1/triage/{case_id}/answers"
	case strings.HasPrefix(path, "/v1/records/"):
		return "/v1/records/{case_id}"
	default:
		return path
	}
}

func (m *HTTPServerMetrics) RecordCaseStarted(service string, cardCount int) {
	m.casesStartedTotal.WithLabelValues(service).Inc()
	m.retrievedCards.WithLabelValues(service).Observe(float64(cardCount))
}

func (m *HTTPServerMetrics) RecordTurn(service string, finished bool) {
	outcome := "continued"
	if finished {
		outcome = "finalized"
	}
	m.turnsTotal.WithLabelValues(service, outcome).Inc()
	if !finished {
		m.cacheServedTotal.WithLabelValues(service).Inc()
	}
}

func (m *HTTPServerMetrics) RecordFinalize(service, reason, level string) {
	if reason == "" {
		reason = "unknown"
	}
	m.finalizeTotal.WithLabelValues(service, reason).Inc()
	if level != "" {
		m.levelTotal.WithLabelValues(service, level).Inc()
	}
}

type metricsRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *metricsRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *metricsRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *metricsRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *metricsRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
