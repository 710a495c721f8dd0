package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики движка исполнения
// ============================================================
//
// - латентность вызовов брокеров и обработки тиков
// - исходы вызовов и состояние предохранителей по брокерам
// - счётчики ордеров по стратегиям и срабатываний триггеров
// - потери событий при переполнении буферов

// ============ Метрики латентности ============

// BrokerCallLatency - время вызова брокера
var BrokerCallLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "orderexec",
		Subsystem: "gateway",
		Name:      "broker_call_latency_ms",
		Help:      "Latency of broker calls in milliseconds",
		Buckets:   []float64{5, 10, 25, 50, 100, 200, 500, 1000, 2000, 5000},
	},
	[]string{"broker", "op"},
)

// PriceUpdateLatency - время обработки тика реактором
var PriceUpdateLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "orderexec",
		Subsystem: "reactor",
		Name:      "price_update_latency_ms",
		Help:      "Time to process a price tick in milliseconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	},
	[]string{"symbol"},
)

// ============ Счётчики событий ============

// BrokerCalls - исходы вызовов брокеров
var BrokerCalls = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "orderexec",
		Subsystem: "gateway",
		Name:      "broker_calls_total",
		Help:      "Broker calls by outcome",
	},
	[]string{"broker", "op", "result"}, // result: success, error, breaker_open, degraded
)

// OrdersPlaced - принятые ордера
var OrdersPlaced = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "orderexec",
		Subsystem: "engine",
		Name:      "orders_placed_total",
		Help:      "Orders accepted by strategy and routing",
	},
	[]string{"strategy", "routing"},
)

// OrdersRejected - отклонённые ордера
var OrdersRejected = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "orderexec",
		Subsystem: "engine",
		Name:      "orders_rejected_total",
		Help:      "Rejected orders by error kind",
	},
	[]string{"kind"},
)

// StrategyTriggers - срабатывания триггеров стратегий
var StrategyTriggers = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "orderexec",
		Subsystem: "strategy",
		Name:      "triggers_total",
		Help:      "Strategy trigger conditions met",
	},
	[]string{"strategy"},
)

// ChildExecutions - дочерние исполнения по способу маршрутизации
var ChildExecutions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "orderexec",
		Subsystem: "router",
		Name:      "child_executions_total",
		Help:      "Child executions by routing strategy and result",
	},
	[]string{"routing", "result"},
)

// Dropped - потерянные события при переполнении буферов
var Dropped = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "orderexec",
		Subsystem: "engine",
		Name:      "dropped_total",
		Help:      "Events dropped because a buffer was full",
	},
	[]string{"buffer"}, // price_shard, events
)

// CancelReconciliation - отмены, не подтверждённые брокером
var CancelReconciliation = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "orderexec",
		Subsystem: "gateway",
		Name:      "cancel_reconciliation_total",
		Help:      "Cancellations applied locally without broker confirmation",
	},
	[]string{"broker"},
)

// ============ Метрики состояния ============

// ActiveOrders - ордера в реестре
var ActiveOrders = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "orderexec",
		Subsystem: "registry",
		Name:      "active_orders",
		Help:      "Orders currently held in the active registry",
	},
)

// BreakerState - состояние предохранителя (0=closed, 1=half-open, 2=open)
var BreakerState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "orderexec",
		Subsystem: "gateway",
		Name:      "breaker_state",
		Help:      "Circuit breaker state per broker (0=closed, 1=half-open, 2=open)",
	},
	[]string{"broker"},
)

// BrokerScore - последний рассчитанный балл брокера
var BrokerScore = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "orderexec",
		Subsystem: "router",
		Name:      "broker_score",
		Help:      "Latest performance score per broker",
	},
	[]string{"broker"},
)

// ============ Вспомогательные функции ============

// RecordBrokerCall записывает исход и латентность вызова брокера
func RecordBrokerCall(broker, op, result string, latencyMs float64) {
	BrokerCalls.WithLabelValues(broker, op, result).Inc()
	if latencyMs > 0 {
		BrokerCallLatency.WithLabelValues(broker, op).Observe(latencyMs)
	}
}

// RecordPriceUpdate записывает латентность обработки тика
func RecordPriceUpdate(symbol string, latencyMs float64) {
	PriceUpdateLatency.WithLabelValues(symbol).Observe(latencyMs)
}

// RecordOrderPlaced учитывает принятый ордер
func RecordOrderPlaced(strategy, routing string) {
	if strategy == "" {
		strategy = "DIRECT"
	}
	OrdersPlaced.WithLabelValues(strategy, routing).Inc()
}

// RecordRejected учитывает отклонённый ордер
func RecordRejected(kind string) {
	OrdersRejected.WithLabelValues(kind).Inc()
}

// RecordTrigger учитывает срабатывание стратегии
func RecordTrigger(strategy string) {
	StrategyTriggers.WithLabelValues(strategy).Inc()
}

// RecordChildExecution учитывает дочернее исполнение
func RecordChildExecution(routing string, ok bool) {
	result := "success"
	if !ok {
		result = "failed"
	}
	ChildExecutions.WithLabelValues(routing, result).Inc()
}

// RecordDropped учитывает потерянное событие
func RecordDropped(buffer string) {
	Dropped.WithLabelValues(buffer).Inc()
}

// RecordCancelReconciliation учитывает отмену без подтверждения брокера
func RecordCancelReconciliation(broker string) {
	CancelReconciliation.WithLabelValues(broker).Inc()
}

// SetActiveOrders обновляет размер реестра
func SetActiveOrders(n int64) {
	ActiveOrders.Set(float64(n))
}

// SetBreakerState обновляет состояние предохранителя брокера
func SetBreakerState(broker string, state int) {
	BreakerState.WithLabelValues(broker).Set(float64(state))
}

// SetBrokerScore обновляет балл брокера
func SetBrokerScore(broker string, score float64) {
	BrokerScore.WithLabelValues(broker).Set(score)
}
