package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Transfer outcomes recorded by the kiosk listener.
const (
	OutcomeOK       = "ok"
	OutcomeErr      = "err"
	OutcomeTimeout  = "timeout"
	OutcomeClosed   = "closed"
	OutcomeRejected = "rejected"
	OutcomeNoAck    = "no_ack"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kioskpush",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kioskpush",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	transfers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kioskpush",
			Subsystem: "listener",
			Name:      "transfers_total",
			Help:      "Inbound connections by command keyword and outcome.",
		},
		[]string{"command", "outcome"},
	)
	payloadBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kioskpush",
			Subsystem: "listener",
			Name:      "payload_bytes_total",
			Help:      "Payload bytes consumed by successful decodes.",
		},
	)
	decodeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kioskpush",
			Subsystem: "decoder",
			Name:      "duration_seconds",
			Help:      "Payload read+decode duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"spilled", "success"},
	)
	activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "kioskpush",
			Subsystem: "listener",
			Name:      "active_connections",
			Help:      "Connections currently being handled.",
		},
	)
	displayTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kioskpush",
			Subsystem: "display",
			Name:      "transitions_total",
			Help:      "Committed display states by kind.",
		},
		[]string{"kind"},
	)
	sends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kioskpush",
			Subsystem: "sender",
			Name:      "sends_total",
			Help:      "Outbound sends by outcome.",
		},
		[]string{"outcome"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			transfers,
			payloadBytes,
			decodeDuration,
			activeConnections,
			displayTransitions,
			sends,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordTransfer(command, outcome string) {
	RegisterMetrics()
	transfers.WithLabelValues(command, outcome).Inc()
}

func RecordDecode(bytes int64, spilled, success bool, duration time.Duration) {
	RegisterMetrics()
	if success {
		payloadBytes.Add(float64(bytes))
	}
	decodeDuration.WithLabelValues(strconv.FormatBool(spilled), strconv.FormatBool(success)).
		Observe(duration.Seconds())
}

// TrackConnection increments the active gauge and returns its release.
func TrackConnection() func() {
	RegisterMetrics()
	activeConnections.Inc()
	return activeConnections.Dec
}

func RecordDisplayTransition(kind string) {
	RegisterMetrics()
	displayTransitions.WithLabelValues(kind).Inc()
}

func RecordSend(outcome string) {
	RegisterMetrics()
	sends.WithLabelValues(outcome).Inc()
}
