package models

import "time"

// ExecutionStrategy - способ маршрутизации на уровне брокеров
type ExecutionStrategy string

const (
	ExecSingleBroker     ExecutionStrategy = "SINGLE_BROKER"
	ExecMultiBrokerSplit ExecutionStrategy = "MULTI_BROKER_SPLIT"
	ExecDynamicRouting   ExecutionStrategy = "DYNAMIC_ROUTING"
	ExecIceberg          ExecutionStrategy = "ICEBERG"
	ExecLiquiditySeeking ExecutionStrategy = "LIQUIDITY_SEEKING"
)

// BrokerPerformance - метрики качества брокера
//
// Обновляется коллаборатором мониторинга (и счётчиками шлюза),
// для алгоритмов маршрутизации доступна только на чтение.
type BrokerPerformance struct {
	Name string `json:"name" yaml:"name"`

	PriceImprovementPct float64 `json:"price_improvement_pct" yaml:"price_improvement_pct"`
	ExecutionTimeMs     float64 `json:"execution_time_ms" yaml:"execution_time_ms"`
	SuccessRatePct      float64 `json:"success_rate_pct" yaml:"success_rate_pct"`
	UptimePct           float64 `json:"uptime_pct" yaml:"uptime_pct"`
	FeePct              float64 `json:"fee_pct" yaml:"fee_pct"`

	Health              float64 `json:"health" yaml:"health"` // 0..1
	OverallScore        float64 `json:"overall_score" yaml:"-"`
	ConsecutiveFailures int     `json:"consecutive_failures" yaml:"-"`
	LoadFraction        float64 `json:"load_fraction" yaml:"-"`
	AvailableCapacity   int64   `json:"available_capacity" yaml:"available_capacity"`

	// Доступная ликвидность по символам
	Liquidity map[string]int64 `json:"liquidity,omitempty" yaml:"liquidity"`

	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// LiquidityFor возвращает доступную ликвидность по символу
func (p BrokerPerformance) LiquidityFor(symbol string) int64 {
	if p.Liquidity == nil {
		return 0
	}
	return p.Liquidity[symbol]
}

// Clone возвращает копию с собственной картой ликвидности
func (p BrokerPerformance) Clone() BrokerPerformance {
	c := p
	if p.Liquidity != nil {
		c.Liquidity = make(map[string]int64, len(p.Liquidity))
		for k, v := range p.Liquidity {
			c.Liquidity[k] = v
		}
	}
	return c
}

// ScoredBroker - брокер с рассчитанным баллом
type ScoredBroker struct {
	Name        string            `json:"name"`
	Score       float64           `json:"score"`
	Performance BrokerPerformance `json:"performance"`
}

// RoutingDecision - решение маршрутизации, создаётся один раз на размещение
type RoutingDecision struct {
	Brokers        []string          `json:"brokers"`
	Strategy       ExecutionStrategy `json:"strategy"`
	Score          float64           `json:"score"`
	EstimatedPrice float64           `json:"estimated_price"`
	EstimatedCost  float64           `json:"estimated_cost"`
	EstimatedTime  time.Duration     `json:"estimated_time"`
	Reason         string            `json:"reason"`
	Alternatives   []ScoredBroker    `json:"alternatives,omitempty"`
}

// ChildOrder - одна аллокация плана разбиения
type ChildOrder struct {
	Broker        string  `json:"broker"`
	Quantity      int64   `json:"quantity"`
	AllocationPct float64 `json:"allocation_pct"`
	Priority      int     `json:"priority"` // 1 = лучший брокер
}

// OrderSplitPlan - план разбиения родительского ордера
type OrderSplitPlan struct {
	ParentOrderID string       `json:"parent_order_id"`
	Children      []ChildOrder `json:"children"`
}

// Total возвращает сумму дочерних объёмов
func (p OrderSplitPlan) Total() int64 {
	var sum int64
	for _, c := range p.Children {
		sum += c.Quantity
	}
	return sum
}
