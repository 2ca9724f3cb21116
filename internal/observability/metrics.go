package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Side labels which end of the transport recorded a sample.
const (
	SideServer = "server"
	SideClient = "client"

	DirectionIn  = "in"
	DirectionOut = "out"
)

var (
	registerOnce sync.Once

	connectionsAccepted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "knet",
			Subsystem: "transport",
			Name:      "connections_accepted_total",
			Help:      "Total connections accepted by the server.",
		},
	)
	connectionsRefused = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "knet",
			Subsystem: "transport",
			Name:      "connections_refused_total",
			Help:      "Connections closed because the connection table was full.",
		},
	)
	connectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "knet",
			Subsystem: "transport",
			Name:      "connections_active",
			Help:      "Connections currently holding a slot.",
		},
	)
	frames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "knet",
			Subsystem: "transport",
			Name:      "frames_total",
			Help:      "Frames read or written.",
		},
		[]string{"side", "direction"},
	)
	events = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "knet",
			Subsystem: "transport",
			Name:      "events_total",
			Help:      "Events published to the application.",
		},
		[]string{"kind"},
	)
	droppedFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "knet",
			Subsystem: "transport",
			Name:      "dropped_frames_total",
			Help:      "Queued outbound frames discarded because the writer exited.",
		},
		[]string{"side"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "knet",
			Subsystem: "admin_http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "knet",
			Subsystem: "admin_http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			connectionsAccepted,
			connectionsRefused,
			connectionsActive,
			frames,
			events,
			droppedFrames,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordAccept() {
	connectionsAccepted.Inc()
}

func RecordRefused() {
	connectionsRefused.Inc()
}

func RecordActive(n int) {
	connectionsActive.Set(float64(n))
}

func RecordFrameIn(side string) {
	frames.WithLabelValues(side, DirectionIn).Inc()
}

func RecordFrameOut(side string) {
	frames.WithLabelValues(side, DirectionOut).Inc()
}

func RecordEvent(kind string) {
	events.WithLabelValues(kind).Inc()
}

func RecordDropped(side string, n int) {
	if n <= 0 {
		return
	}
	droppedFrames.WithLabelValues(side).Add(float64(n))
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}
