package routing

import (
	"fmt"
	"strings"
	"time"

	"orderexec/internal/models"
	"orderexec/pkg/utils"
)

// Config - пороги выбора способа исполнения и параметры алгоритмов
type Config struct {
	IcebergQuantityThreshold int64   // qty > порога ⇒ ICEBERG (50000)
	SplitQuantityThreshold   int64   // qty > порога ⇒ MULTI_BROKER_SPLIT (10000)
	SplitValueThreshold      float64 // стоимость > порога ⇒ MULTI_BROKER_SPLIT (1e6)

	MaxSplits    int   // не более N дочерних ордеров в плане (5)
	MinSplitSize int64 // аллокации меньше отбрасываются (100)

	IcebergDivisor  int64 // срез = total / divisor (10)
	IcebergMinSlice int64 // 100
	IcebergMaxSlice int64 // 2000

	DynamicMaxChunk int64 // 1000
	Bonus           DynamicBonus

	IcebergPacing   time.Duration
	DynamicPacing   time.Duration
	LiquidityPacing time.Duration

	// Символы с высокой волатильностью: MARKET по ним идёт через DYNAMIC_ROUTING
	VolatileSymbols []string
}

// DefaultConfig возвращает параметры по умолчанию
func DefaultConfig() Config {
	return Config{
		IcebergQuantityThreshold: 50_000,
		SplitQuantityThreshold:   10_000,
		SplitValueThreshold:      1_000_000,
		MaxSplits:                5,
		MinSplitSize:             100,
		IcebergDivisor:           10,
		IcebergMinSlice:          100,
		IcebergMaxSlice:          2000,
		DynamicMaxChunk:          1000,
		Bonus: DynamicBonus{
			LiquidityThreshold: 10_000,
			Liquidity:          10,
			CapacityMaxLoad:    0.8,
			Capacity:           5,
		},
		IcebergPacing:   100 * time.Millisecond,
		DynamicPacing:   50 * time.Millisecond,
		LiquidityPacing: 50 * time.Millisecond,
	}
}

// BrokerBook - источник метрик брокеров (только чтение)
type BrokerBook interface {
	Snapshot() []models.BrokerPerformance
}

// PriceSource - последняя известная цена символа
type PriceSource interface {
	LastPrice(symbol string) (float64, bool)
}

// Request - параметры одной маршрутизируемой отправки
type Request struct {
	OrderID    string
	Symbol     string
	Side       models.Side
	Type       models.OrderType
	Quantity   int64
	LimitPrice float64
	StopPrice  float64
	Routing    models.ExecutionStrategy // явный выбор (пусто = автоматически)
	Broker     string                   // предпочтительный брокер для SINGLE_BROKER
}

// Router строит решение маршрутизации и последовательность шагов
type Router struct {
	cfg      Config
	scorer   *Scorer
	book     BrokerBook
	prices   PriceSource
	volatile map[string]struct{}
	logger   *utils.Logger
}

// NewRouter создаёт роутер. prices может быть nil.
func NewRouter(cfg Config, scorer *Scorer, book BrokerBook, prices PriceSource, logger *utils.Logger) *Router {
	volatile := make(map[string]struct{}, len(cfg.VolatileSymbols))
	for _, s := range cfg.VolatileSymbols {
		volatile[strings.ToUpper(s)] = struct{}{}
	}
	return &Router{
		cfg:      cfg,
		scorer:   scorer,
		book:     book,
		prices:   prices,
		volatile: volatile,
		logger:   logger.WithComponent("router"),
	}
}

// IsVolatile - символ помечен как волатильный
func (r *Router) IsVolatile(symbol string) bool {
	_, ok := r.volatile[strings.ToUpper(symbol)]
	return ok
}

// ReferencePrice - лимитная цена, иначе стоп-цена, иначе последняя цена рынка
func (r *Router) ReferencePrice(req Request) float64 {
	if req.LimitPrice > 0 {
		return req.LimitPrice
	}
	if req.StopPrice > 0 {
		return req.StopPrice
	}
	if r.prices != nil {
		if p, ok := r.prices.LastPrice(req.Symbol); ok {
			return p
		}
	}
	return 0
}

// SelectStrategy выбирает способ исполнения (детерминированно, в порядке приоритета)
func (r *Router) SelectStrategy(req Request, estimatedValue float64) models.ExecutionStrategy {
	if req.Routing != "" {
		return req.Routing
	}
	switch {
	case req.Quantity > r.cfg.IcebergQuantityThreshold:
		return models.ExecIceberg
	case estimatedValue > r.cfg.SplitValueThreshold || req.Quantity > r.cfg.SplitQuantityThreshold:
		return models.ExecMultiBrokerSplit
	case req.Type == models.OrderTypeMarket && r.IsVolatile(req.Symbol):
		return models.ExecDynamicRouting
	default:
		return models.ExecSingleBroker
	}
}

// rank ранжирует текущий снимок книги брокеров
func (r *Router) rank(exclude map[string]bool) ([]models.ScoredBroker, error) {
	snap := r.book.Snapshot()
	if len(exclude) > 0 {
		filtered := make([]models.BrokerPerformance, 0, len(snap))
		for _, p := range snap {
			if !exclude[p.Name] {
				filtered = append(filtered, p)
			}
		}
		snap = filtered
	}
	return r.scorer.Rank(snap)
}

// Route принимает решение маршрутизации и строит последовательность шагов.
// Сеть не вызывается; исполнение - задача execution.Runner.
func (r *Router) Route(req Request) (models.RoutingDecision, Sequence, error) {
	if req.Quantity <= 0 {
		return models.RoutingDecision{}, nil, models.NewValidationError("quantity must be positive")
	}

	ranked, err := r.rank(nil)
	if err != nil {
		return models.RoutingDecision{}, nil, err
	}

	price := r.ReferencePrice(req)
	value := utils.NotionalValue(req.Quantity, price)
	strategy := r.SelectStrategy(req, value)

	var (
		seq    Sequence
		reason string
		steps  int64 = 1
	)

	switch strategy {
	case models.ExecSingleBroker:
		target := ranked[0]
		if req.Broker != "" {
			for _, sb := range ranked {
				if sb.Name == req.Broker {
					target = sb
					break
				}
			}
		}
		plan := models.OrderSplitPlan{
			ParentOrderID: req.OrderID,
			Children:      []models.ChildOrder{{Broker: target.Name, Quantity: req.Quantity, AllocationPct: 100, Priority: 1}},
		}
		seq = newPlanSequence(strategy, plan)
		ranked = promote(ranked, target.Name)
		reason = fmt.Sprintf("single broker %s (score %.2f)", target.Name, target.Score)

	case models.ExecMultiBrokerSplit:
		plan := BuildSplitPlan(req.OrderID, req.Quantity, ranked, r.cfg.MaxSplits, r.cfg.MinSplitSize)
		seq = newPlanSequence(strategy, plan)
		reason = fmt.Sprintf("split across %d brokers: qty %d, value %.2f", len(plan.Children), req.Quantity, value)

	case models.ExecIceberg:
		slice := IcebergSliceSize(req.Quantity, r.cfg.IcebergDivisor, r.cfg.IcebergMinSlice, r.cfg.IcebergMaxSlice)
		seq = &icebergSequence{
			cursor:  cursor{remaining: req.Quantity, pacing: r.cfg.IcebergPacing},
			slice:   slice,
			rank:    r.rank,
			exclude: make(map[string]bool),
		}
		steps = (req.Quantity + slice - 1) / slice
		reason = fmt.Sprintf("iceberg: %d slices of %d", steps, slice)

	case models.ExecDynamicRouting:
		seq = &dynamicSequence{
			cursor:   cursor{remaining: req.Quantity, pacing: r.cfg.DynamicPacing},
			symbol:   req.Symbol,
			maxChunk: r.cfg.DynamicMaxChunk,
			bonus:    r.cfg.Bonus,
			rank:     r.rank,
			exclude:  make(map[string]bool),
		}
		reason = "dynamic routing for volatile symbol " + req.Symbol

	case models.ExecLiquiditySeeking:
		ls := newLiquiditySequence(req.Symbol, req.Quantity, ranked, r.cfg.LiquidityPacing)
		if len(ls.brokers) == 0 {
			return models.RoutingDecision{}, nil, models.OrderRejected("no broker reports liquidity for %s", req.Symbol)
		}
		seq = ls
		steps = int64(len(ls.brokers))
		reason = fmt.Sprintf("liquidity seeking across %d brokers", len(ls.brokers))

	default:
		return models.RoutingDecision{}, nil, models.NewValidationError("unknown routing strategy " + string(strategy))
	}

	top := ranked[0]
	decision := models.RoutingDecision{
		Brokers:        brokerNames(seq, ranked),
		Strategy:       strategy,
		Score:          top.Score,
		EstimatedPrice: price,
		EstimatedCost:  utils.RoundHalfUp(value*top.Performance.FeePct/100, 2),
		EstimatedTime:  time.Duration(top.Performance.ExecutionTimeMs*float64(steps)) * time.Millisecond,
		Reason:         reason,
		Alternatives:   ranked,
	}

	r.logger.Debug("routing decision",
		utils.OrderID(req.OrderID),
		utils.Symbol(req.Symbol),
		utils.Routing(string(strategy)),
		utils.Quantity(req.Quantity),
		utils.String("reason", reason),
	)
	return decision, seq, nil
}

// promote переносит брокера name в начало ранжированного списка
func promote(ranked []models.ScoredBroker, name string) []models.ScoredBroker {
	if len(ranked) == 0 || ranked[0].Name == name {
		return ranked
	}
	out := make([]models.ScoredBroker, 0, len(ranked))
	for _, sb := range ranked {
		if sb.Name == name {
			out = append(out, sb)
		}
	}
	for _, sb := range ranked {
		if sb.Name != name {
			out = append(out, sb)
		}
	}
	return out
}

// brokerNames - брокеры плана; для пошаговых алгоритмов - весь ранжированный список
func brokerNames(seq Sequence, ranked []models.ScoredBroker) []string {
	if ps, ok := seq.(*planSequence); ok {
		names := make([]string, 0, len(ps.plan.Children))
		for _, c := range ps.plan.Children {
			names = append(names, c.Broker)
		}
		return names
	}
	if ls, ok := seq.(*liquiditySequence); ok {
		ranked = ls.brokers
	}
	names := make([]string, 0, len(ranked))
	for _, sb := range ranked {
		names = append(names, sb.Name)
	}
	return names
}

// SplitPlan возвращает план разбиения, если последовательность исполняет готовый план
func SplitPlan(seq Sequence) (models.OrderSplitPlan, bool) {
	ps, ok := seq.(*planSequence)
	if !ok {
		return models.OrderSplitPlan{}, false
	}
	return ps.Plan(), true
}
