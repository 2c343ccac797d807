// Package prometheus provides the concrete Prometheus-backed MetricSink
// implementation used by the router, adapters, and WebSocket channel engine.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "raffel"

var (
	// callDuration is a histogram of router-handled call duration in seconds,
	// labeled by procedure name and handler kind (procedure/stream/event).
	callDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Duration of router-handled calls in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"procedure", "kind"},
	)

	// callsTotal is a counter of router-handled calls by outcome.
	callsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Total number of router-handled calls",
		},
		[]string{"procedure", "kind", "status"}, // status: ok, error code
	)

	// streamsActive is a gauge of currently open stream invocations.
	streamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_active",
			Help:      "Number of currently open stream invocations",
		},
	)

	// wsConnectionsActive is a gauge of currently open WebSocket connections.
	wsConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections_active",
			Help:      "Number of currently open WebSocket connections",
		},
	)

	// wsSubscriptionsActive is a gauge of currently active channel subscriptions.
	wsSubscriptionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_subscriptions_active",
			Help:      "Number of currently active channel subscriptions",
		},
		[]string{"channel"},
	)

	// wsFrameDrops is a counter of fan-out frames dropped at a connection's high-water mark.
	wsFrameDrops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_frame_drops_total",
			Help:      "Total number of WebSocket fan-out frames dropped at the high-water mark",
		},
		[]string{"channel"},
	)

	// tcpConnectionsActive is a gauge of currently open TCP connections.
	tcpConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tcp_connections_active",
			Help:      "Number of currently open TCP connections",
		},
	)

	// tcpBytesTotal is a counter of bytes read/written on TCP connections.
	tcpBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tcp_bytes_total",
			Help:      "Total bytes transferred over TCP connections",
		},
		[]string{"direction"}, // read, write
	)

	// udpDatagramsTotal is a counter of UDP datagrams processed.
	udpDatagramsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "udp_datagrams_total",
			Help:      "Total UDP datagrams processed",
		},
		[]string{"direction", "status"},
	)

	// allMetrics is the list of all metrics for registration.
	allMetrics = []prometheus.Collector{
		callDuration,
		callsTotal,
		streamsActive,
		wsConnectionsActive,
		wsSubscriptionsActive,
		wsFrameDrops,
		tcpConnectionsActive,
		tcpBytesTotal,
		udpDatagramsTotal,
	}
)

// RecordCall records the outcome and duration of a single router-handled call.
func RecordCall(procedure, kind, status string, durationSeconds float64) {
	callDuration.WithLabelValues(procedure, kind).Observe(durationSeconds)
	callsTotal.WithLabelValues(procedure, kind, status).Inc()
}

// RecordStreamStart/RecordStreamEnd bracket a stream invocation's lifetime.
func RecordStreamStart() { streamsActive.Inc() }
func RecordStreamEnd()   { streamsActive.Dec() }

// RecordWSConnect/RecordWSDisconnect bracket a WebSocket connection's lifetime.
func RecordWSConnect()    { wsConnectionsActive.Inc() }
func RecordWSDisconnect() { wsConnectionsActive.Dec() }

// RecordWSSubscribe/RecordWSUnsubscribe track per-channel subscriber counts.
func RecordWSSubscribe(channel string)   { wsSubscriptionsActive.WithLabelValues(channel).Inc() }
func RecordWSUnsubscribe(channel string) { wsSubscriptionsActive.WithLabelValues(channel).Dec() }

// RecordWSFrameDrop counts a fan-out frame dropped at a connection's high-water mark.
func RecordWSFrameDrop(channel string) { wsFrameDrops.WithLabelValues(channel).Inc() }

// RecordTCPConnect/RecordTCPDisconnect bracket a TCP connection's lifetime.
func RecordTCPConnect()    { tcpConnectionsActive.Inc() }
func RecordTCPDisconnect() { tcpConnectionsActive.Dec() }

// RecordTCPBytes records bytes transferred in the given direction ("read"/"write").
func RecordTCPBytes(direction string, n int) {
	tcpBytesTotal.WithLabelValues(direction).Add(float64(n))
}

// RecordUDPDatagram records one processed UDP datagram.
func RecordUDPDatagram(direction, status string) {
	udpDatagramsTotal.WithLabelValues(direction, status).Inc()
}
