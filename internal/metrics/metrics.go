package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AttendanceMarked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollcall_attendance_marked_total",
			Help: "Attendance records created",
		},
		[]string{"method", "suspicious"},
	)

	AttendanceRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollcall_attendance_rejected_total",
			Help: "Attendance submissions rejected by a verification check",
		},
		[]string{"check"},
	)

	AttendanceFlags = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollcall_attendance_flags_total",
			Help: "Grace flags raised on accepted submissions",
		},
		[]string{"type"},
	)

	SessionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollcall_session_transitions_total",
			Help: "Session status transitions",
		},
		[]string{"to"},
	)

	LiveSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rollcall_live_subscribers",
			Help: "Currently connected live view subscribers",
		},
	)

	LiveEventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollcall_live_events_dropped_total",
			Help: "Live events not delivered to a subscriber",
		},
		[]string{"reason"},
	)

	PublishQueueDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rollcall_publish_queue_dropped_total",
			Help: "Background publish tasks dropped because the queue was full",
		},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method", "status"},
	)
)

// GinMiddleware records request durations by route template.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		APIRequestDuration.WithLabelValues(path, c.Request.Method, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
