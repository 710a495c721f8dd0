package routing

import (
	"sort"
	"sync/atomic"
	"time"

	"orderexec/internal/models"
	"orderexec/pkg/utils"
)

// Step - один шаг исполнения: набор дочерних аллокаций.
// Дети одного шага отправляются параллельно, шаги - строго последовательно.
type Step struct {
	Index    int
	Delay    time.Duration // пауза перед шагом (0 для первого)
	Children []models.ChildOrder
}

// Outcome - результат одной дочерней отправки
type Outcome struct {
	Broker   string
	Accepted int64 // объём, принятый брокером
	Failed   bool
}

// Sequence - конечная, неперезапускаемая последовательность шагов.
//
// Вызывающий чередует Next и Ack. После того как Next вернул false,
// последовательность исчерпана навсегда.
type Sequence interface {
	Strategy() models.ExecutionStrategy
	Next() (Step, bool)
	Ack(outcomes []Outcome)
	Remaining() int64
	// Halt останавливает последовательность (отмена родительского ордера).
	// Безопасен для вызова из другой горутины.
	Halt()
}

// rankFunc ранжирует допущенных брокеров, исключая перечисленных
type rankFunc func(exclude map[string]bool) ([]models.ScoredBroker, error)

// cursor - общее состояние последовательностей
type cursor struct {
	remaining int64
	steps     int
	done      bool
	halted    atomic.Bool
	pacing    time.Duration
}

func (c *cursor) Remaining() int64 { return c.remaining }

func (c *cursor) Halt() { c.halted.Store(true) }

// exhausted - последовательность завершена или остановлена
func (c *cursor) exhausted() bool {
	return c.done || c.halted.Load() || c.remaining <= 0
}

func (c *cursor) delay() time.Duration {
	if c.steps == 0 {
		return 0
	}
	return c.pacing
}

func (c *cursor) finish() (Step, bool) {
	c.done = true
	return Step{}, false
}

func (c *cursor) step(children ...models.ChildOrder) (Step, bool) {
	st := Step{Index: c.steps, Delay: c.delay(), Children: children}
	c.steps++
	return st, true
}

func (c *cursor) ack(outcomes []Outcome, exclude map[string]bool) {
	for _, o := range outcomes {
		if o.Failed && exclude != nil {
			exclude[o.Broker] = true
		}
		c.remaining -= o.Accepted
	}
	if c.remaining < 0 {
		c.remaining = 0
	}
}

// ============================================================
// План разбиения
// ============================================================

// BuildSplitPlan распределяет total между брокерами пропорционально баллам.
//
// Берутся не более maxSplits лучших брокеров; вес = score/Σscore
// (поровну, если Σ = 0); аллокация = floor(total × вес), не больше остатка.
// Аллокации меньше minSize отбрасываются, остаток уходит лучшему брокеру.
// Сумма дочерних объёмов всегда равна total.
func BuildSplitPlan(parentID string, total int64, ranked []models.ScoredBroker, maxSplits int, minSize int64) models.OrderSplitPlan {
	plan := models.OrderSplitPlan{ParentOrderID: parentID}
	if total <= 0 || len(ranked) == 0 {
		return plan
	}
	if maxSplits <= 0 {
		maxSplits = 1
	}
	top := ranked
	if len(top) > maxSplits {
		top = top[:maxSplits]
	}

	var sum float64
	for _, b := range top {
		sum += b.Score
	}

	remaining := total
	for i, b := range top {
		weight := 1 / float64(len(top))
		if sum > 0 {
			weight = b.Score / sum
		}
		alloc := utils.MinInt64(utils.FloorShare(total, weight), remaining)
		if alloc <= 0 || alloc < minSize {
			continue
		}
		plan.Children = append(plan.Children, models.ChildOrder{
			Broker:   b.Name,
			Quantity: alloc,
			Priority: i + 1,
		})
		remaining -= alloc
	}

	if remaining > 0 {
		if len(plan.Children) > 0 && plan.Children[0].Broker == top[0].Name {
			plan.Children[0].Quantity += remaining
		} else {
			plan.Children = append([]models.ChildOrder{{Broker: top[0].Name, Quantity: remaining, Priority: 1}}, plan.Children...)
		}
	}

	for i := range plan.Children {
		plan.Children[i].AllocationPct = utils.RoundHalfUp(float64(plan.Children[i].Quantity)/float64(total)*100, 2)
	}
	return plan
}

// ============================================================
// SINGLE_BROKER / MULTI_BROKER_SPLIT
// ============================================================

// planSequence исполняет готовый план одним шагом
type planSequence struct {
	cursor
	strategy models.ExecutionStrategy
	plan     models.OrderSplitPlan
}

func newPlanSequence(strategy models.ExecutionStrategy, plan models.OrderSplitPlan) *planSequence {
	return &planSequence{
		cursor:   cursor{remaining: plan.Total()},
		strategy: strategy,
		plan:     plan,
	}
}

func (s *planSequence) Strategy() models.ExecutionStrategy { return s.strategy }

func (s *planSequence) Next() (Step, bool) {
	if s.exhausted() || s.steps > 0 || len(s.plan.Children) == 0 {
		return s.finish()
	}
	children := make([]models.ChildOrder, len(s.plan.Children))
	copy(children, s.plan.Children)
	return s.step(children...)
}

func (s *planSequence) Ack(outcomes []Outcome) {
	s.ack(outcomes, nil)
	s.done = true
}

// Plan возвращает план разбиения
func (s *planSequence) Plan() models.OrderSplitPlan { return s.plan }

// ============================================================
// ICEBERG
// ============================================================

// IcebergSliceSize - размер среза: clamp(total/10, minSlice, maxSlice)
func IcebergSliceSize(total int64, divisor, minSlice, maxSlice int64) int64 {
	if divisor <= 0 {
		divisor = 10
	}
	return utils.ClampInt64(total/divisor, minSlice, maxSlice)
}

// icebergSequence выпускает по одному срезу лучшему на момент шага брокеру
type icebergSequence struct {
	cursor
	slice   int64
	rank    rankFunc
	exclude map[string]bool
}

func (s *icebergSequence) Strategy() models.ExecutionStrategy { return models.ExecIceberg }

func (s *icebergSequence) Next() (Step, bool) {
	if s.exhausted() {
		return s.finish()
	}
	ranked, err := s.rank(s.exclude)
	if err != nil {
		return s.finish()
	}
	qty := utils.MinInt64(s.slice, s.remaining)
	return s.step(models.ChildOrder{Broker: ranked[0].Name, Quantity: qty, Priority: 1})
}

func (s *icebergSequence) Ack(outcomes []Outcome) { s.ack(outcomes, s.exclude) }

// ============================================================
// DYNAMIC_ROUTING
// ============================================================

// DynamicBonus - надбавки к баллу при динамической маршрутизации
type DynamicBonus struct {
	LiquidityThreshold int64   // ликвидность, дающая надбавку (строго больше)
	Liquidity          float64 // надбавка за ликвидность
	CapacityMaxLoad    float64 // загрузка, ниже которой даётся надбавка
	Capacity           float64 // надбавка за свободную ёмкость
}

// AdjustedScore - базовый балл плюс надбавки за ликвидность и ёмкость
func (b DynamicBonus) AdjustedScore(sb models.ScoredBroker, symbol string) float64 {
	score := sb.Score
	if sb.Performance.LiquidityFor(symbol) > b.LiquidityThreshold {
		score += b.Liquidity
	}
	if sb.Performance.LoadFraction < b.CapacityMaxLoad {
		score += b.Capacity
	}
	return score
}

// DynamicChunkSize - floor(min(maxChunk, remaining/4) × score/100) в пределах [1, remaining]
func DynamicChunkSize(remaining, maxChunk int64, score float64) int64 {
	if remaining <= 0 {
		return 0
	}
	base := utils.MinInt64(maxChunk, remaining/4)
	if base <= 0 {
		base = remaining
	}
	chunk := utils.FloorShare(base, score/100)
	return utils.ClampInt64(chunk, 1, remaining)
}

// dynamicSequence на каждом шаге заново выбирает брокера по текущим условиям
type dynamicSequence struct {
	cursor
	symbol   string
	maxChunk int64
	bonus    DynamicBonus
	rank     rankFunc
	exclude  map[string]bool
}

func (s *dynamicSequence) Strategy() models.ExecutionStrategy { return models.ExecDynamicRouting }

func (s *dynamicSequence) Next() (Step, bool) {
	if s.exhausted() {
		return s.finish()
	}
	ranked, err := s.rank(s.exclude)
	if err != nil {
		return s.finish()
	}

	best := ranked[0]
	bestAdj := s.bonus.AdjustedScore(best, s.symbol)
	for _, sb := range ranked[1:] {
		adj := s.bonus.AdjustedScore(sb, s.symbol)
		if adj > bestAdj || (adj == bestAdj && sb.Name < best.Name) {
			best, bestAdj = sb, adj
		}
	}

	qty := DynamicChunkSize(s.remaining, s.maxChunk, best.Score)
	return s.step(models.ChildOrder{Broker: best.Name, Quantity: qty, Priority: 1})
}

func (s *dynamicSequence) Ack(outcomes []Outcome) { s.ack(outcomes, s.exclude) }

// ============================================================
// LIQUIDITY_SEEKING
// ============================================================

// liquiditySequence обходит брокеров по убыванию ликвидности символа
type liquiditySequence struct {
	cursor
	symbol  string
	brokers []models.ScoredBroker
	idx     int
}

func newLiquiditySequence(symbol string, total int64, ranked []models.ScoredBroker, pacing time.Duration) *liquiditySequence {
	brokers := make([]models.ScoredBroker, 0, len(ranked))
	for _, sb := range ranked {
		if sb.Performance.LiquidityFor(symbol) > 0 {
			brokers = append(brokers, sb)
		}
	}
	sort.SliceStable(brokers, func(i, j int) bool {
		li, lj := brokers[i].Performance.LiquidityFor(symbol), brokers[j].Performance.LiquidityFor(symbol)
		if li != lj {
			return li > lj
		}
		return brokers[i].Score > brokers[j].Score
	})
	return &liquiditySequence{
		cursor:  cursor{remaining: total, pacing: pacing},
		symbol:  symbol,
		brokers: brokers,
	}
}

func (s *liquiditySequence) Strategy() models.ExecutionStrategy { return models.ExecLiquiditySeeking }

func (s *liquiditySequence) Next() (Step, bool) {
	if s.exhausted() || s.idx >= len(s.brokers) {
		return s.finish()
	}
	sb := s.brokers[s.idx]
	s.idx++
	qty := utils.MinInt64(s.remaining, sb.Performance.LiquidityFor(s.symbol))
	return s.step(models.ChildOrder{Broker: sb.Name, Quantity: qty, Priority: s.idx})
}

func (s *liquiditySequence) Ack(outcomes []Outcome) { s.ack(outcomes, nil) }
