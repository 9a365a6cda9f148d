package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// ImageOperations counts domain operations by outcome.
	ImageOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "image_operations_total",
			Help: "Total image operations",
		},
		[]string{"operation", "status"},
	)

	// ImageProcessingDuration tracks how long uploads and transforms take.
	ImageProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "image_processing_duration_seconds",
			Help:    "Image processing duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

// Metrics records a counter and latency histogram per matched route.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = c.Request.URL.Path
		}
		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		requestsTotal.WithLabelValues(method, endpoint, status).Inc()
		requestDuration.WithLabelValues(method, endpoint).Observe(time.Since(start).Seconds())
	}
}
