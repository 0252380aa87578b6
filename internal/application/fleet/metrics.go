package fleet

// metrics.go: Prometheus series updated by workers and the registry.
//
//   botfleet_cycles_total{result}            ok | failed | aborted | skipped
//   botfleet_bot_error_count{bot}            consecutive failures per bot
//   botfleet_escalations_total               threshold crossings
//   botfleet_order_transitions_total{status} orders moved into status
//   botfleet_offers_cancelled_total          incoming offers cancelled
//   botfleet_workers                         live worker goroutines
//   botfleet_cycle_seconds                   executed cycle duration

import "github.com/prometheus/client_golang/prometheus"

var (
	mtxCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botfleet_cycles_total",
			Help: "Worker cycles by result",
		},
		[]string{"result"},
	)

	mtxErrorCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "botfleet_bot_error_count",
			Help: "Consecutive failing cycles per bot",
		},
		[]string{"bot"},
	)

	mtxEscalations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "botfleet_escalations_total",
			Help: "Bots paused after exhausting their error budget",
		},
	)

	mtxOrderTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botfleet_order_transitions_total",
			Help: "Orders moved into a status",
		},
		[]string{"status"},
	)

	mtxOffersCancelled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "botfleet_offers_cancelled_total",
			Help: "Incoming offers cancelled",
		},
	)

	mtxWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "botfleet_workers",
			Help: "Running bot workers",
		},
	)

	mtxCycleSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "botfleet_cycle_seconds",
			Help:    "Duration of executed worker cycles",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
	)
)

func init() {
	prometheus.MustRegister(
		mtxCycles,
		mtxErrorCount,
		mtxEscalations,
		mtxOrderTransitions,
		mtxOffersCancelled,
		mtxWorkers,
		mtxCycleSeconds,
	)
}
