// Package metrics Prometheus 指标，由控制面 /metrics 暴露。
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	EntryIntents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updown_entry_intents_total",
			Help: "Entry intents produced by the detector",
		},
		[]string{"style"},
	)

	Orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updown_orders_total",
			Help: "Orders sent to the exchange gateway",
		},
		[]string{"side", "style", "result"}, // result: ok|rejected|transient
	)

	Cancels = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updown_cancels_total",
			Help: "Cancel requests sent to the exchange gateway",
		},
		[]string{"result"},
	)

	Transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updown_state_transitions_total",
			Help: "Trade record state transitions by target state",
		},
		[]string{"to"},
	)

	Anomalies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updown_anomalies_total",
			Help: "State inconsistencies that froze a tracking key",
		},
		[]string{"kind"},
	)

	LiveRecords = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "updown_live_records",
			Help: "Non-terminal trade records",
		},
	)

	PeriodPnL = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "updown_period_pnl_usd",
			Help: "P&L of the last resolved period per asset",
		},
		[]string{"asset"},
	)

	Periods = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updown_periods_total",
			Help: "Resolved periods by result",
		},
		[]string{"result"}, // win|loss|flat|undetermined
	)

	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "updown_tick_duration_seconds",
			Help:    "Duration of one detector + state machine pass",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		},
	)

	TickErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "updown_tick_errors_total",
			Help: "Poll ticks that ended with an error",
		},
	)
)

func init() {
	prometheus.MustRegister(
		EntryIntents,
		Orders,
		Cancels,
		Transitions,
		Anomalies,
		LiveRecords,
		PeriodPnL,
		Periods,
		TickDuration,
		TickErrors,
	)
}

// ResultUndetermined 赢方未知且仍有持仓的周期
const ResultUndetermined = "undetermined"

// PeriodResult 把 P&L 符号映射为结果标签
func PeriodResult(sign int) string {
	switch {
	case sign > 0:
		return "win"
	case sign < 0:
		return "loss"
	}
	return "flat"
}
