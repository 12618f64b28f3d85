package gateway

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics holds the Prometheus collectors the gateway exposes at
// /actuator/metrics (spec §6), grounded on the client_golang usage pattern
// shared by mbd888-alancoin's and raflibima25's go.mod trees (the pack
// consistently reaches for client_golang over stdlib expvar).
type metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	slowCalls       *prometheus.CounterVec
}

// slowCallThreshold marks a proxied call as "slow" for the dedicated counter
// spec §4.5 item 9 asks for, independent of the latency histogram.
const slowCallThreshold = 1 * time.Second

func newMetrics() *metrics {
	m := &metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total requests proxied by the gateway, by method, route and status class.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Upstream round-trip latency observed by the gateway.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		slowCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_slow_calls_total",
			Help: "Proxied requests whose upstream round trip exceeded the slow-call threshold.",
		}, []string{"route"}),
	}
	prometheus.MustRegister(m.requestsTotal, m.requestDuration, m.slowCalls)
	return m
}

// Middleware records request count and latency per method/route, plus a
// slow-call counter for anything over slowCallThreshold.
func (m *metrics) Middleware(routeName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		method := c.Request.Method
		m.requestDuration.WithLabelValues(method, routeName).Observe(elapsed.Seconds())
		m.requestsTotal.WithLabelValues(method, routeName, statusClass(c.Writer.Status())).Inc()
		if elapsed >= slowCallThreshold {
			m.slowCalls.WithLabelValues(routeName).Inc()
		}
	}
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// Handler exposes the Prometheus scrape endpoint.
func (m *metrics) Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
