package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storage_emulator"

var (
	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests served, by method, route and status code.",
	}, []string{"method", "route", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	objectOperations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "object_operations_total",
		Help:      "Storage operations handled, by operation and outcome.",
	}, []string{"operation", "outcome"})

	eventDispatches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "event_dispatches_total",
		Help:      "Event notifications dispatched, by kind and outcome.",
	}, []string{"kind", "outcome"})

	uploadSessions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upload_sessions_total",
		Help:      "Upload sessions opened, by protocol.",
	}, []string{"type"})

	initOnce sync.Once
)

// InitMetrics registers the collectors with the default registry. Safe to call
// more than once.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, objectOperations, eventDispatches, uploadSessions)
	})
}

// Middleware records request counts and latency per matched route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		httpRequests.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

// ObserveOperation counts one storage operation.
func ObserveOperation(operation string, err error) {
	objectOperations.WithLabelValues(operation, outcome(err)).Inc()
}

// ObserveEvent counts one event dispatch.
func ObserveEvent(kind string, err error) {
	eventDispatches.WithLabelValues(kind, outcome(err)).Inc()
}

// ObserveUploadSession counts an opened upload session.
func ObserveUploadSession(typ string) {
	uploadSessions.WithLabelValues(typ).Inc()
}

// Register attaches the Prometheus metrics endpoint to the router.
func Register(router *gin.Engine, path string) {
	router.GET(path, gin.WrapH(promhttp.Handler()))
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
