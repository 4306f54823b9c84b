package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics updated by the tick loops and served at /metrics.
//
//	mm_ticks_total{market_ref}            – ticks completed per instance
//	mm_orders_routed_total{route}         – orders by route (real|simulated|dropped|skipped)
//	mm_auto_pauses_total{market_ref}      – volatility-triggered pauses
//	mm_phase_changes_total{market_ref}    – phase transitions
//	mm_last_price{market_ref}             – last synthesized mid price (gauge)
//	mm_pool_value{market_ref}             – total value locked (gauge)
//	mm_feed_degraded_total{market_ref}    – ticks served on a degraded feed
var (
	mtxTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mm_ticks_total",
			Help: "Ticks completed",
		},
		[]string{"market_ref"},
	)

	mtxOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mm_orders_routed_total",
			Help: "Candidate orders by routing outcome",
		},
		[]string{"route"},
	)

	mtxAutoPauses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mm_auto_pauses_total",
			Help: "Volatility-triggered automatic pauses",
		},
		[]string{"market_ref"},
	)

	mtxPhaseChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mm_phase_changes_total",
			Help: "Phase machine transitions",
		},
		[]string{"market_ref"},
	)

	mtxLastPrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mm_last_price",
			Help: "Last synthesized mid price",
		},
		[]string{"market_ref"},
	)

	mtxPoolValue = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mm_pool_value",
			Help: "Total value locked in the liquidity pool",
		},
		[]string{"market_ref"},
	)

	mtxFeedDegraded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mm_feed_degraded_total",
			Help: "Ticks priced on a degraded external feed",
		},
		[]string{"market_ref"},
	)
)

func init() {
	prometheus.MustRegister(
		mtxTicks,
		mtxOrders,
		mtxAutoPauses,
		mtxPhaseChanges,
		mtxLastPrice,
		mtxPoolValue,
		mtxFeedDegraded,
	)
}
