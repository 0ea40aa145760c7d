// services/metrics.go
package services

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the escrow service collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	queueLength     prometheus.Gauge
	liveMatches     prometheus.Gauge
	matchesPaired   prometheus.Counter
	lockFailures    prometheus.Counter
	settlements     *prometheus.CounterVec
	platformCut     prometheus.Counter
	holdsReleased   prometheus.Counter
	ledgerDurations *prometheus.HistogramVec
}

var (
	metricsOnce     sync.Once
	metricsRegistry *Metrics
)

// DefaultMetrics returns the process-wide collectors registered on the default registry.
func DefaultMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsRegistry = NewMetrics(prometheus.DefaultRegisterer)
	})
	return metricsRegistry
}

// NewMetrics creates the collectors and registers them on reg when reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "escrow",
			Subsystem: "matchmaking",
			Name:      "queue_length",
			Help:      "Participants currently waiting in the matchmaking queue.",
		}),
		liveMatches: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "escrow",
			Subsystem: "matchmaking",
			Name:      "live_matches",
			Help:      "Matches that have been paired and not yet torn down.",
		}),
		matchesPaired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "escrow",
			Subsystem: "matchmaking",
			Name:      "matches_paired_total",
			Help:      "Total matches created by the matchmaking queue.",
		}),
		lockFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "escrow",
			Subsystem: "ledger",
			Name:      "lock_failures_total",
			Help:      "Total entry fee locks that were rejected or failed.",
		}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrow",
			Subsystem: "ledger",
			Name:      "settlements_total",
			Help:      "Settlement attempts partitioned by outcome.",
		}, []string{"outcome"}),
		platformCut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "escrow",
			Subsystem: "ledger",
			Name:      "platform_cut_total",
			Help:      "Sum of platform cuts distributed to the hierarchy, in currency units.",
		}),
		holdsReleased: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "escrow",
			Subsystem: "ledger",
			Name:      "holds_released_total",
			Help:      "Escrow holds returned to available balance.",
		}),
		ledgerDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "escrow",
			Subsystem: "ledger",
			Name:      "operation_duration_seconds",
			Help:      "Latency of ledger units by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.queueLength,
			m.liveMatches,
			m.matchesPaired,
			m.lockFailures,
			m.settlements,
			m.platformCut,
			m.holdsReleased,
			m.ledgerDurations,
		)
	}
	return m
}

func (m *Metrics) SetQueueLength(n int) {
	if m == nil {
		return
	}
	m.queueLength.Set(float64(n))
}

func (m *Metrics) SetLiveMatches(n int) {
	if m == nil {
		return
	}
	m.liveMatches.Set(float64(n))
}

func (m *Metrics) MatchPaired() {
	if m == nil {
		return
	}
	m.matchesPaired.Inc()
}

func (m *Metrics) LockFailed() {
	if m == nil {
		return
	}
	m.lockFailures.Inc()
}

func (m *Metrics) Settled(outcome string, cut float64) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(outcome).Inc()
	if cut > 0 {
		m.platformCut.Add(cut)
	}
}

func (m *Metrics) HoldsReleased(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.holdsReleased.Add(float64(n))
}

func (m *Metrics) ObserveLedger(operation string, seconds float64) {
	if m == nil {
		return
	}
	m.ledgerDurations.WithLabelValues(operation).Observe(seconds)
}
