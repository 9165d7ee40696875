// Package telemetry exposes prometheus metrics for the service.
package telemetry

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service's prometheus collectors.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	TasksClaimed   prometheus.Counter
	TasksCreated   prometheus.Counter
	TasksFinalized prometheus.Counter
}

// NewMetrics registers the service collectors on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "objectdb_http_requests_total",
			Help: "HTTP requests by method, path and status code.",
		}, []string{"method", "path", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "objectdb_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		TasksClaimed: factory.NewCounter(prometheus.CounterOpts{
			Name: "objectdb_labeling_tasks_claimed_total",
			Help: "Labeling tasks claimed via the similarity endpoint.",
		}),
		TasksCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "objectdb_labeling_tasks_created_total",
			Help: "Labeling tasks created on first claim.",
		}),
		TasksFinalized: factory.NewCounter(prometheus.CounterOpts{
			Name: "objectdb_labeling_tasks_finalized_total",
			Help: "Labeling tasks moved to the labeled shard.",
		}),
	}
}

// Middleware records request counts and latency per route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.requestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.requestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
