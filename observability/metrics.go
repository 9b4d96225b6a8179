package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ledgerMetricsOnce sync.Once
	ledgerRegistry    *LedgerMetrics
)

// LedgerMetrics wraps collectors tracking token ledger health.
type LedgerMetrics struct {
	Spends               *prometheus.CounterVec
	SpendLatency         *prometheus.HistogramVec
	TokensExpired        prometheus.Counter
	BatchesCredited      prometheus.Counter
	Settlements          prometheus.Counter
	WithdrawalsCompleted prometheus.Counter
	FrozenWallets        prometheus.Gauge
}

// Ledger returns the lazily-initialised metrics registry shared by the
// ledger, campaign, and withdrawal services.
func Ledger() *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			Spends: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pasarloka",
				Subsystem: "tokenledger",
				Name:      "spends_total",
				Help:      "Total spend attempts segmented by transaction type and outcome.",
			}, []string{"type", "outcome"}),
			SpendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "pasarloka",
				Subsystem: "tokenledger",
				Name:      "spend_duration_seconds",
				Help:      "Latency distribution for spend transactions.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"type"}),
			TokensExpired: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "pasarloka",
				Subsystem: "tokenledger",
				Name:      "tokens_expired_total",
				Help:      "Total token amount zeroed by expiry sweeps.",
			}),
			BatchesCredited: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "pasarloka",
				Subsystem: "tokenledger",
				Name:      "batches_credited_total",
				Help:      "Total token batches credited to wallets.",
			}),
			Settlements: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "pasarloka",
				Subsystem: "tokenledger",
				Name:      "job_settlements_total",
				Help:      "Total campaign job settlements paid out to creators.",
			}),
			WithdrawalsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "pasarloka",
				Subsystem: "tokenledger",
				Name:      "withdrawals_completed_total",
				Help:      "Total withdrawal requests completed.",
			}),
			FrozenWallets: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "pasarloka",
				Subsystem: "tokenledger",
				Name:      "frozen_wallets",
				Help:      "Wallets currently blocked after a detected ledger inconsistency.",
			}),
		}
		prometheus.MustRegister(
			ledgerRegistry.Spends,
			ledgerRegistry.SpendLatency,
			ledgerRegistry.TokensExpired,
			ledgerRegistry.BatchesCredited,
			ledgerRegistry.Settlements,
			ledgerRegistry.WithdrawalsCompleted,
			ledgerRegistry.FrozenWallets,
		)
	})
	return ledgerRegistry
}
