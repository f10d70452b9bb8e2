package monitoring

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	PipelineRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gradeglide_pipeline_runs_total",
			Help: "Grading pipeline runs by terminal status",
		},
		[]string{"status"},
	)

	PipelineDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gradeglide_pipeline_duration_seconds",
			Help:    "Wall time of a grading pipeline run",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		},
	)

	GradingFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gradeglide_grading_fallbacks_total",
			Help: "Grading calls that fell back to manual review",
		},
		[]string{"reason"},
	)

	RegionsDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gradeglide_regions_detected_total",
			Help: "Question regions produced by the detector",
		},
		[]string{"mode"},
	)
)

var initOnce sync.Once

func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(RequestCounter)
		prometheus.MustRegister(RequestDuration)
		prometheus.MustRegister(PipelineRuns)
		prometheus.MustRegister(PipelineDuration)
		prometheus.MustRegister(GradingFallbacks)
		prometheus.MustRegister(RegionsDetected)
	})
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()

		RequestCounter.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(status),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
