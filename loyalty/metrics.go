package loyalty

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AccrualDuration tracks the latency of sale accrual processing.
	AccrualDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "loyalty_accrual_duration_seconds",
			Help:    "Duration of sale accrual processing in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"status"},
	)

	// RedemptionDuration tracks the latency of redemption processing.
	RedemptionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "loyalty_redemption_duration_seconds",
			Help:    "Duration of redemption processing in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"status"},
	)

	// BalanceConflictRetries counts optimistic-lock losses on balance writes.
	BalanceConflictRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "loyalty_balance_conflict_retries_total",
			Help: "Number of balance writes retried after a version conflict",
		},
	)

	// ExpirationsTotal counts expiration transactions emitted by the sweep.
	ExpirationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loyalty_expirations_total",
			Help: "Number of expiration transactions emitted, by unit",
		},
		[]string{"unit"},
	)

	// TierPromotionsTotal counts tier promotions.
	TierPromotionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "loyalty_tier_promotions_total",
			Help: "Number of tier promotions recorded",
		},
	)
)
