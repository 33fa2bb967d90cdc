// Package metrics defines the Prometheus instruments of the kline pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the pipeline.
type Metrics struct {
	MessagesTotal   *prometheus.CounterVec // labels: pair
	SkippedMessages *prometheus.CounterVec // labels: reason
	CandlesTotal    *prometheus.CounterVec // labels: pair
	RecordsTotal    *prometheus.CounterVec // labels: pair
	Reconnects      *prometheus.CounterVec // labels: pair
	ConnectionState *prometheus.GaugeVec   // labels: pair; 0=disconnected, 1=connecting, 2=connected

	SinkFailures *prometheus.CounterVec // labels: sink
	SinkWriteDur *prometheus.HistogramVec

	SignalsTotal  *prometheus.CounterVec // labels: pair, side
	OrderFailures *prometheus.CounterVec // labels: pair

	LiveClients prometheus.Gauge
}

// New creates the metrics and registers them on reg. A nil reg leaves them
// unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "klinewatch_messages_total",
			Help: "Raw messages received from the exchange stream",
		}, []string{"pair"}),
		SkippedMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "klinewatch_skipped_messages_total",
			Help: "Messages skipped by the normalizer, by reason",
		}, []string{"reason"}),
		CandlesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "klinewatch_closed_candles_total",
			Help: "Closed candles appended to the window",
		}, []string{"pair"}),
		RecordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "klinewatch_records_total",
			Help: "Records dispatched to sinks",
		}, []string{"pair"}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "klinewatch_reconnects_total",
			Help: "Connection losses or failed connects followed by a backoff",
		}, []string{"pair"}),
		ConnectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "klinewatch_connection_state",
			Help: "Subscription state (0=disconnected, 1=connecting, 2=connected)",
		}, []string{"pair"}),
		SinkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "klinewatch_sink_failures_total",
			Help: "Failed sink writes after retries",
		}, []string{"sink"}),
		SinkWriteDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "klinewatch_sink_write_duration_seconds",
			Help:    "Sink write latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"sink"}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "klinewatch_signals_total",
			Help: "Position transitions emitted by the signal evaluator",
		}, []string{"pair", "side"}),
		OrderFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "klinewatch_order_failures_total",
			Help: "Order placements that returned an error",
		}, []string{"pair"}),
		LiveClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "klinewatch_live_clients",
			Help: "Connected live websocket clients",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.MessagesTotal,
			m.SkippedMessages,
			m.CandlesTotal,
			m.RecordsTotal,
			m.Reconnects,
			m.ConnectionState,
			m.SinkFailures,
			m.SinkWriteDur,
			m.SignalsTotal,
			m.OrderFailures,
			m.LiveClients,
		)
	}
	return m
}
