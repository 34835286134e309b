package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics records engine activity.
type LedgerMetrics struct {
	operations       *prometheus.CounterVec
	latency          *prometheus.HistogramVec
	transferFailures *prometheus.CounterVec
	loans            prometheus.Gauge
	feeBps           prometheus.Gauge
}

var (
	ledgerOnce     sync.Once
	ledgerRegistry *LedgerMetrics
)

// Ledger returns the process-wide ledger metrics, registering them on first use.
func Ledger() *LedgerMetrics {
	ledgerOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "peerlend",
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Ledger operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "peerlend",
				Subsystem: "ledger",
				Name:      "operation_duration_seconds",
				Help:      "Wall time spent inside ledger operations including gateway calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			transferFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "peerlend",
				Subsystem: "ledger",
				Name:      "transfer_failures_total",
				Help:      "Operations aborted because the token gateway rejected a transfer.",
			}, []string{"operation"}),
			loans: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "peerlend",
				Subsystem: "ledger",
				Name:      "loan_slots",
				Help:      "Number of loan indexes allocated, including tombstoned slots.",
			}),
			feeBps: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "peerlend",
				Subsystem: "ledger",
				Name:      "protocol_fee_bps",
				Help:      "Current protocol fee in basis points.",
			}),
		}
		prometheus.MustRegister(
			ledgerRegistry.operations,
			ledgerRegistry.latency,
			ledgerRegistry.transferFailures,
			ledgerRegistry.loans,
			ledgerRegistry.feeBps,
		)
	})
	return ledgerRegistry
}

func (m *LedgerMetrics) ObserveOperation(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	if outcome == "" {
		outcome = "ok"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (m *LedgerMetrics) IncTransferFailure(operation string) {
	if m == nil {
		return
	}
	m.transferFailures.WithLabelValues(operation).Inc()
}

func (m *LedgerMetrics) SetLoanSlots(n uint64) {
	if m == nil {
		return
	}
	m.loans.Set(float64(n))
}

func (m *LedgerMetrics) SetFeeBps(bps uint64) {
	if m == nil {
		return
	}
	m.feeBps.Set(float64(bps))
}
