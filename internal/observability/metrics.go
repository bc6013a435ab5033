package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

var (
	registerOnce sync.Once

	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stompws",
			Subsystem: "frames",
			Name:      "total",
			Help:      "STOMP frames by direction and command.",
		},
		[]string{"direction", "command"},
	)
	malformedFrames = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "stompws",
			Subsystem: "frames",
			Name:      "malformed_total",
			Help:      "Inbound messages dropped because they did not decode.",
		},
	)
	transportErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stompws",
			Subsystem: "session",
			Name:      "transport_errors_total",
			Help:      "Transport failures by operation.",
		},
		[]string{"op"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stompws",
			Subsystem: "session",
			Name:      "state_transitions_total",
			Help:      "Session state transitions by target state.",
		},
		[]string{"state"},
	)
	writeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "stompws",
			Subsystem: "session",
			Name:      "write_duration_seconds",
			Help:      "Time from handing a frame to the writer until the write completed.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(framesTotal, malformedFrames, transportErrors, stateTransitions, writeDuration)
	})
}

func RecordFrame(direction, command string) {
	RegisterMetrics()
	framesTotal.WithLabelValues(direction, command).Inc()
}

func RecordMalformedFrame() {
	RegisterMetrics()
	malformedFrames.Inc()
}

func RecordTransportError(op string) {
	RegisterMetrics()
	transportErrors.WithLabelValues(op).Inc()
}

func RecordStateTransition(state string) {
	RegisterMetrics()
	stateTransitions.WithLabelValues(state).Inc()
}

func RecordWrite(duration time.Duration) {
	RegisterMetrics()
	writeDuration.Observe(duration.Seconds())
}
