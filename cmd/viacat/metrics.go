package main

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "viacat_http_requests_total",
		Help: "Number of HTTP requests, by path and status code",
	}, []string{"path", "code"})

	resolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "viacat_resolve_duration_seconds",
		Help:    "Duration of stream resolutions, including manifest expansion and subtitle download",
		Buckets: prometheus.DefBuckets,
	})
)

func createMetricsHandler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		requestCount.WithLabelValues(r.URL.Path, strconv.Itoa(recorder.status)).Inc()
	})
}
