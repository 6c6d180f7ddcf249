package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	BridgeTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "yield_bridge",
			Name:      "transitions_total",
			Help:      "Total number of bridge status transitions.",
		},
		[]string{"from", "to"},
	)

	BridgeStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "yield_bridge",
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each pipeline stage.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"stage", "result"},
	)

	ConsensusRoundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "yield_bridge",
			Name:      "consensus_rounds_total",
			Help:      "Total number of validator consensus rounds by result.",
		},
		[]string{"result"}, // reached/not_reached/cancelled
	)

	PoolUtilization = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "yield_bridge",
			Name:      "pool_utilization_ratio",
			Help:      "Liquidity pool utilization (0..1).",
		},
		[]string{"pool"},
	)

	RebalanceTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "yield_bridge",
			Name:      "rebalance_total",
			Help:      "Total number of pool rebalances.",
		},
		[]string{"pool"},
	)

	CBState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "yield_bridge",
			Name:      "circuitbreaker_state",
			Help:      "Circuit breaker state (0/1).",
		},
		[]string{"service", "state"}, // state: closed/open/half_open
	)

	CacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "yield_bridge",
			Name:      "cache_requests_total",
			Help:      "Transaction cache lookups by result.",
		},
		[]string{"result"}, // hit/miss/error
	)
)

var registerOnce sync.Once

// MustRegister registers all collectors with the default registry. Safe to call more than once.
func MustRegister() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			BridgeTransitionsTotal,
			BridgeStageDuration,
			ConsensusRoundsTotal,
			PoolUtilization,
			RebalanceTotal,
			CBState,
			CacheRequestsTotal,
		)
	})
}

// SetBreakerState flips the one-hot state gauge for a named circuit breaker
func SetBreakerState(service, state string) {
	for _, s := range []string{"closed", "open", "half-open"} {
		v := 0.0
		if s == state {
			v = 1
		}
		CBState.WithLabelValues(service, s).Set(v)
	}
}
