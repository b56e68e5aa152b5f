package rest

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spoorzoeker",
			Name:      "http_requests_total",
			Help:      "total http requests by path, method and status code",
		}, []string{"path", "method", "code"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "spoorzoeker",
			Name:      "http_request_duration_seconds",
			Help:      "http request latency by path and method",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path", "method"}),
	}
	reg.MustRegister(m.HTTPRequestsTotal, m.HTTPRequestDuration)
	return m
}

// PromHTTPMiddleware records request counts and latencies per route.
func PromHTTPMiddleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			path := r.URL.Path
			m.HTTPRequestsTotal.WithLabelValues(path, r.Method, strconv.Itoa(ww.Status())).Inc()
			m.HTTPRequestDuration.WithLabelValues(path, r.Method).Observe(time.Since(start).Seconds())
		})
	}
}
