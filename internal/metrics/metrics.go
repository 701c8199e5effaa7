// Package metrics holds the process-wide Prometheus collectors shared
// across the engine's packages. A single global registration per metric
// keeps the packages cmd/server wires together from fighting over
// duplicate names.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tradeengine"

// ============ Orchestrator tick metrics ============

var TickDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "orchestrator",
		Name:      "tick_duration_seconds",
		Help:      "Duration of one orchestrator tick cycle",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	},
	[]string{"tick"}, // main, peak
)

var EntriesEvaluated = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "orchestrator",
		Name:      "entries_evaluated_total",
		Help:      "Entry candidates evaluated, by outcome",
	},
	[]string{"pair", "outcome"}, // executed, rejected_risk, rejected_signal, rejected_confidence, cooldown
)

var ExitsTriggered = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "orchestrator",
		Name:      "exits_triggered_total",
		Help:      "Trade exits triggered, by reason",
	},
	[]string{"pair", "reason"},
)

var BotsAutoPaused = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "orchestrator",
		Name:      "bots_auto_paused_total",
		Help:      "Bots auto-paused for a lapsed subscription",
	},
	[]string{"reason"},
)

var CapitalPreservationMultiplier = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "orchestrator",
		Name:      "capital_preservation_multiplier",
		Help:      "Last computed capital-preservation sizing multiplier per bot",
	},
	[]string{"bot_id"},
)

// ============ Execution metrics ============

var PlansGenerated = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "execution",
		Name:      "plans_generated_total",
		Help:      "Per-bot execution plans produced by a fan-out",
	},
	[]string{"pair"},
)

var PlansRejected = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "execution",
		Name:      "plans_rejected_total",
		Help:      "Per-bot execution plans rejected, by stage",
	},
	[]string{"pair", "stage"}, // fan_out, execute
)

var OrderLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "execution",
		Name:      "order_latency_seconds",
		Help:      "Time to place and confirm an order on the exchange",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	},
	[]string{"exchange", "side"},
)

var OrdersTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "execution",
		Name:      "orders_total",
		Help:      "Orders placed, by result",
	},
	[]string{"exchange", "result"}, // filled, rejected, error
)

// ============ Risk metrics ============

var RiskRejections = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "risk",
		Name:      "rejections_total",
		Help:      "Entry candidates rejected by the risk filter, by stage",
	},
	[]string{"pair", "stage"},
)

// ============ Position/tracker metrics ============

var UnderwaterExits = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "position",
		Name:      "underwater_exits_total",
		Help:      "Underwater-table exits, by reason",
	},
	[]string{"reason"},
)

var PyramidLevelsAdded = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "position",
		Name:      "pyramid_levels_added_total",
		Help:      "Pyramid add-on levels filled",
	},
	[]string{"pair", "level"},
)

var OpenTrades = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "position",
		Name:      "open_trades",
		Help:      "Current number of open trades",
	},
	[]string{"pair"},
)

// ============ Momentum/regime metrics ============

var MomentumExitsTriggered = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "momentum",
		Name:      "exits_triggered_total",
		Help:      "Vote-based momentum-failure exits triggered",
	},
	[]string{"pair"},
)

var RegimeClassifications = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "regime",
		Name:      "classifications_total",
		Help:      "Regime detections, by resulting classification",
	},
	[]string{"pair", "regime"},
)

// ============ Market data / streaming metrics ============

var MarketDataFetchLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "marketdata",
		Name:      "fetch_latency_seconds",
		Help:      "Time to fetch or aggregate market data for a pair",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
	},
	[]string{"pair"},
)

var PriceUpdatesPublished = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "streaming",
		Name:      "price_updates_published_total",
		Help:      "Price updates published on the stream",
	},
	[]string{"pair"},
)

var StreamSubscribers = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "streaming",
		Name:      "subscribers",
		Help:      "Current number of active price stream subscribers",
	},
)

var StreamBufferDrops = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "streaming",
		Name:      "buffer_drops_total",
		Help:      "Price updates dropped because a subscriber's buffer was full",
	},
	[]string{"pair"},
)

var LeaderElected = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "streaming",
		Name:      "leader_elected",
		Help:      "Whether this process currently holds the streaming leader lock (1) or not (0)",
	},
)

// ============ Exchange connectivity metrics ============

var ExchangeConnectionStatus = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "exchange",
		Name:      "connection_status",
		Help:      "Exchange connection status (1=connected, 0=disconnected)",
	},
	[]string{"exchange"},
)

// ============ Helpers ============

func RecordTickDuration(tick string, seconds float64) {
	TickDuration.WithLabelValues(tick).Observe(seconds)
}

func RecordEntryOutcome(pair, outcome string) {
	EntriesEvaluated.WithLabelValues(pair, outcome).Inc()
}

func RecordExit(pair, reason string) {
	ExitsTriggered.WithLabelValues(pair, reason).Inc()
}

func SetCapitalPreservationMultiplier(botID string, multiplier float64) {
	CapitalPreservationMultiplier.WithLabelValues(botID).Set(multiplier)
}

func RecordOrder(exchange, result string) {
	OrdersTotal.WithLabelValues(exchange, result).Inc()
}

func SetExchangeConnected(exchange string, connected bool) {
	if connected {
		ExchangeConnectionStatus.WithLabelValues(exchange).Set(1)
		return
	}
	ExchangeConnectionStatus.WithLabelValues(exchange).Set(0)
}
