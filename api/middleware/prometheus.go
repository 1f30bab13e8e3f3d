package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status", "service"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "service"},
	)

	wsConnectionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ui_ws_connections_active",
			Help: "Number of UI websocket connections currently open",
		},
		[]string{"service"},
	)
)

func PrometheusMiddleware(serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		upgrade := c.GetHeader("Upgrade") == "websocket"
		if upgrade {
			wsConnectionsActive.WithLabelValues(serviceName).Inc()
			defer wsConnectionsActive.WithLabelValues(serviceName).Dec()
		}

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		httpRequestsTotal.WithLabelValues(
			c.Request.Method,
			path,
			status,
			serviceName,
		).Inc()

		if !upgrade {
			httpRequestDuration.WithLabelValues(
				c.Request.Method,
				path,
				serviceName,
			).Observe(duration)
		}
	}
}
