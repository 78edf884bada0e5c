package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
)

var (
	// SignalsEmitted counts signals written by the poller, labeled by action
	SignalsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whalecopy_signals_emitted_total",
			Help: "Signals emitted by the polling scheduler",
		},
		[]string{"action", "is_close"},
	)

	// SignalsProcessed counts dispatcher outcomes, labeled by terminal status
	SignalsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whalecopy_signals_processed_total",
			Help: "Signals moved to a terminal status by the dispatcher",
		},
		[]string{"status"},
	)

	// TradesTotal counts trade outcomes per venue
	TradesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whalecopy_trades_total",
			Help: "Copy trades by venue and terminal status",
		},
		[]string{"venue", "status"},
	)

	// PollDuration observes per-whale poll latency by tier
	PollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "whalecopy_poll_duration_seconds",
			Help:    "Duration of a single whale poll",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tier"},
	)

	// SignalQueueDepth tracks pending signals awaiting dispatch
	SignalQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "whalecopy_signal_queue_depth",
			Help: "Signals in PENDING status",
		},
	)

	// DeadLetters counts background jobs written to the dead letter sink
	DeadLetters = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whalecopy_dead_letters_total",
			Help: "Background jobs that exhausted their retry budget",
		},
		[]string{"task"},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "whalecopy_circuit_breaker_state",
			Help: "Circuit breaker state per venue scope (0=closed, 1=open, 2=half_open)",
		},
		[]string{"venue", "scope"},
	)
)

// SetBreakerState records a circuit breaker state change
func SetBreakerState(venue, scope string, state gobreaker.State) {
	var v float64
	switch state {
	case gobreaker.StateClosed:
		v = 0
	case gobreaker.StateOpen:
		v = 1
	case gobreaker.StateHalfOpen:
		v = 2
	}
	breakerState.WithLabelValues(venue, scope).Set(v)
}
