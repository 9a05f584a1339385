package metric

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request handling time in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	wsActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_active_connections",
			Help: "Active WebSocket connections",
		},
	)

	activeRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "collab_active_rooms",
			Help: "Rooms with a live in-memory document",
		},
	)

	updatesApplied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collab_updates_applied_total",
			Help: "Document updates merged from connections",
		},
	)

	persistFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collab_persist_failures_total",
			Help: "Failed writes to the document update log",
		},
	)
)

// RecordHTTPMetrics records the outcome of one HTTP request.
func RecordHTTPMetrics(method, endpoint string, status int, duration time.Duration) {
	strStatus := strconv.Itoa(status)

	httpRequestsTotal.WithLabelValues(method, endpoint, strStatus).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint, strStatus).Observe(duration.Seconds())
}

func IncrementWSActiveConnections() { wsActiveConnections.Inc() }
func DecrementWSActiveConnections() { wsActiveConnections.Dec() }

func IncrementActiveRooms() { activeRooms.Inc() }
func DecrementActiveRooms() { activeRooms.Dec() }

func IncUpdatesApplied()  { updatesApplied.Inc() }
func IncPersistFailures() { persistFailures.Inc() }
