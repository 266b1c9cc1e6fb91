package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	TicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adaptrade_ticks_total",
			Help: "Total number of decision-loop ticks.",
		},
	)

	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adaptrade_signals_total",
			Help: "Signals produced by the classifier (by kind).",
		},
		[]string{"kind"},
	)

	OrdersSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adaptrade_orders_submitted_total",
			Help: "Total number of orders submitted (by context).",
		},
		[]string{"ctx"},
	)

	ExitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adaptrade_exits_total",
			Help: "Position exits (by trigger reason).",
		},
		[]string{"reason"},
	)

	RiskRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adaptrade_risk_rejections_total",
			Help: "Entries rejected by the risk gate (by rule).",
		},
		[]string{"rule"},
	)

	NotifyFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adaptrade_notify_failures_total",
			Help: "Outward notifications that exhausted all retry attempts.",
		},
	)

	PositionsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "adaptrade_positions_open",
			Help: "Current number of open positions.",
		},
	)

	EquityGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "adaptrade_equity",
			Help: "Current equity of the executor (paper or live).",
		},
	)

	DrawdownGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "adaptrade_drawdown",
			Help: "Current drawdown from peak equity (fraction).",
		},
	)

	BreakerActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "adaptrade_daily_breaker_active",
			Help: "1 while the daily-loss circuit breaker is tripped.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		TicksTotal, SignalsTotal, OrdersSubmitted, ExitsTotal,
		RiskRejections, NotifyFailures,
		PositionsOpen, EquityGauge, DrawdownGauge, BreakerActive,
	)
}
