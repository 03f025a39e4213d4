// Package metrics exposes Prometheus collectors for the streaming protocol.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "botstream"

var (
	registerOnce sync.Once

	framesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "sent_total",
			Help:      "Frames written to the transport, by payload type.",
		},
		[]string{"type"},
	)
	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "received_total",
			Help:      "Frames read from the transport, by payload type.",
		},
		[]string{"type"},
	)
	bytesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "frames",
		Name:      "sent_bytes_total",
		Help:      "Frame body bytes written to the transport.",
	})
	bytesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "frames",
		Name:      "received_bytes_total",
		Help:      "Frame body bytes read from the transport.",
	})
	activeStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "streams",
		Name:      "active",
		Help:      "Content streams currently being assembled.",
	})

	// PendingRequests counts outgoing requests awaiting a response.
	PendingRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "requests",
		Name:      "pending",
		Help:      "Outgoing requests awaiting a response.",
	})

	requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "requests",
			Name:      "total",
			Help:      "Requests by direction and outcome.",
		},
		[]string{"direction", "outcome"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "requests",
			Name:      "duration_seconds",
			Help:      "Time from sending a request to receiving its response envelope.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
	connections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "active",
			Help:      "Open protocol sessions by transport.",
		},
		[]string{"transport"},
	)
)

// Register adds every collector to the default Prometheus registry. Safe to
// call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			framesSent, framesReceived, bytesSent, bytesReceived,
			activeStreams, PendingRequests, requests, requestDuration, connections,
		)
	})
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}

// FrameSent records one outgoing frame.
func FrameSent(payloadType string, length int) {
	framesSent.WithLabelValues(payloadType).Inc()
	bytesSent.Add(float64(length))
}

// FrameReceived records one incoming frame.
func FrameReceived(payloadType string, length int) {
	framesReceived.WithLabelValues(payloadType).Inc()
	bytesReceived.Add(float64(length))
}

func StreamOpened() { activeStreams.Inc() }
func StreamClosed() { activeStreams.Dec() }

// RecordOutgoing records the outcome of a request this side sent.
func RecordOutgoing(outcome string, d time.Duration) {
	requests.WithLabelValues("outgoing", outcome).Inc()
	requestDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordIncoming records the outcome of a request this side handled.
func RecordIncoming(outcome string) {
	requests.WithLabelValues("incoming", outcome).Inc()
}

// ConnectionOpened and ConnectionClosed track live sessions per transport.
func ConnectionOpened(transport string) { connections.WithLabelValues(transport).Inc() }
func ConnectionClosed(transport string) { connections.WithLabelValues(transport).Dec() }
