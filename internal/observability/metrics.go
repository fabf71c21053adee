package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric names keep the teacher's "fd" namespace and promauto construction
// style (internal/observability/metrics.go in the reference stack), relabeled
// to the attendance/presence domain this module actually exposes at
// GET /metrics.
var (
	FramesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fd",
		Name:      "frames_processed_total",
		Help:      "Total number of frames processed per camera",
	}, []string{"camera_id"})

	FacesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fd",
		Name:      "faces_detected_total",
		Help:      "Total number of faces detected per camera",
	}, []string{"camera_id"})

	FacesRecognized = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fd",
		Name:      "faces_recognized_total",
		Help:      "Total number of faces recognized against the embedding store",
	}, []string{"camera_id"})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fd",
		Name:      "inference_duration_seconds",
		Help:      "Duration of ML inference stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	CaptureReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fd",
		Name:      "capture_reconnects_total",
		Help:      "Number of times a camera's capture loop had to reopen its source",
	}, []string{"camera_id"})

	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fd",
		Name:      "active_streams",
		Help:      "Number of currently active camera capture loops",
	})

	AttendanceMarked = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fd",
		Name:      "attendance_marked_total",
		Help:      "Attendance rows written, by entry_type",
	}, []string{"entry_type"})

	PresenceTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fd",
		Name:      "presence_transitions_total",
		Help:      "Presence state machine transitions, by direction",
	}, []string{"direction"})

	AlertsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fd",
		Name:      "alerts_emitted_total",
		Help:      "Alert log rows appended, by alert_type",
	}, []string{"alert_type"})

	WriterQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fd",
		Name:      "writer_queue_depth",
		Help:      "Number of intents currently queued for the async DB writer",
	})

	WriterSpoolDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fd",
		Name:      "writer_spool_depth",
		Help:      "Number of intents currently sitting in the overflow disk spool",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fd",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fd",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
