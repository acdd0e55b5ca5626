package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry          *prometheus.Registry
	requestTotal      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	rateLimitRejected *prometheus.CounterVec
	transcodesTotal   *prometheus.CounterVec
	transcodeDuration *prometheus.HistogramVec
	activeTranscodes  prometheus.Gauge
	bytesInTotal      prometheus.Counter
	bytesOutTotal     prometheus.Counter
	bytesSavedTotal   prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelthrift_requests_total",
			Help: "Total HTTP requests handled by the proxy.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelthrift_request_duration_seconds",
			Help:    "Request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelthrift_rate_limit_rejections_total",
			Help: "Total requests rejected by rate limiting.",
		}, []string{"route"}),
		transcodesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelthrift_transcodes_total",
			Help: "Transcode attempts by final format and outcome.",
		}, []string{"format", "outcome"}),
		transcodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelthrift_transcode_duration_seconds",
			Help:    "End-to-end transcode duration by final format and outcome.",
			Buckets: prometheus.DefBuckets,
		}, []string{"format", "outcome"}),
		activeTranscodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pixelthrift_active_transcodes",
			Help: "Transcodes currently holding a codec slot.",
		}),
		bytesInTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelthrift_origin_bytes_total",
			Help: "Total decoded bytes fetched from origins.",
		}),
		bytesOutTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelthrift_delivered_bytes_total",
			Help: "Total body bytes delivered to clients after transcoding.",
		}),
		bytesSavedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelthrift_bytes_saved_total",
			Help: "Total bytes saved across successful transcodes.",
		}),
	}
	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.rateLimitRejected,
		m.transcodesTotal,
		m.transcodeDuration,
		m.activeTranscodes,
		m.bytesInTotal,
		m.bytesOutTotal,
		m.bytesSavedTotal,
	)
	return m
}

func (m *metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := routeLabel(r.URL.Path)
		status := strconv.Itoa(recorder.status)

		m.requestTotal.WithLabelValues(r.Method, route, status).Inc()
		m.requestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

func routeLabel(path string) string {
	switch {
	case path == "/" || path == "":
		return "/"
	case strings.HasPrefix(path, "/healthz"):
		return "/healthz"
	case strings.HasPrefix(path, "/metrics"):
		return "/metrics"
	case strings.HasPrefix(path, "/favicon.ico"):
		return "/favicon.ico"
	default:
		return "other"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
