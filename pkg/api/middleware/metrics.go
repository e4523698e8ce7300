package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sjscal",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "API requests by route and status code",
	}, []string{"method", "route", "code"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sjscal",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "API request latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	httpInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sjscal",
		Subsystem: "http",
		Name:      "requests_in_flight",
		Help:      "API requests being served",
	})

	// httpRejected counts requests turned away before reaching a handler.
	httpRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sjscal",
		Subsystem: "http",
		Name:      "rejected_total",
		Help:      "API requests refused by authentication or rate limiting",
	}, []string{"reason"})
)

// MetricsMiddleware records per-route request counts and latency. The
// /metrics scrape itself is not counted.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		httpInFlight.Inc()
		began := time.Now()
		c.Next()
		httpInFlight.Dec()

		route := routeLabel(c)
		code := c.Writer.Status()
		httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(code)).Inc()
		httpLatency.WithLabelValues(c.Request.Method, route).Observe(time.Since(began).Seconds())

		if reason := rejection(code); reason != "" {
			httpRejected.WithLabelValues(reason).Inc()
		}
	}
}

// routeLabel is the matched route template (/api/runs/:id), never the raw
// path, so run IDs stay out of the label set.
func routeLabel(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unmatched"
}

func rejection(code int) string {
	switch code {
	case http.StatusUnauthorized:
		return "unauthenticated"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusTooManyRequests:
		return "rate_limited"
	}
	return ""
}
