package registry

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"orderexec/internal/models"
)

var errNilEntry = errors.New("registry: nil entry")

// latencyAlpha - вес нового замера в скользящем среднем времени исполнения
const latencyAlpha = 0.2

// brokerSlot - состояние одного брокера
type brokerSlot struct {
	perf     atomic.Pointer[models.BrokerPerformance]
	inFlight atomic.Int64
	// maxInFlight - лимит одновременных вызовов шлюза (0 = не учитывать нагрузку)
	maxInFlight atomic.Int64
}

// Brokers - книга качества и загрузки брокеров
//
// Метрики пишет коллаборатор мониторинга (Update) и счётчики шлюза
// (RecordSuccess/RecordFailure, Acquire/Release). Алгоритмы маршрутизации
// получают только копии через Snapshot/Get.
type Brokers struct {
	slots sync.Map // map[name]*brokerSlot
	now   func() time.Time
}

// NewBrokers создаёт пустую книгу
func NewBrokers() *Brokers {
	return &Brokers{now: time.Now}
}

func (b *Brokers) slot(name string) *brokerSlot {
	if v, ok := b.slots.Load(name); ok {
		return v.(*brokerSlot)
	}
	s := &brokerSlot{}
	s.perf.Store(&models.BrokerPerformance{Name: name, Health: 1, SuccessRatePct: 100, UptimePct: 100})
	v, _ := b.slots.LoadOrStore(name, s)
	return v.(*brokerSlot)
}

// Register добавляет брокера с начальными метриками и лимитом конкурентности
func (b *Brokers) Register(perf models.BrokerPerformance, maxInFlight int64) {
	s := b.slot(perf.Name)
	s.maxInFlight.Store(maxInFlight)
	b.Update(perf)
}

// Update заменяет метрики брокера целиком (коллаборатор мониторинга),
// включая счётчик подряд идущих ошибок: мониторинг может вернуть
// исключённого брокера в маршрутизацию.
func (b *Brokers) Update(perf models.BrokerPerformance) {
	next := perf.Clone()
	next.UpdatedAt = b.now()
	b.slot(perf.Name).perf.Store(&next)
}

// mutate атомарно меняет копию метрик брокера
func (b *Brokers) mutate(name string, fn func(p *models.BrokerPerformance)) {
	s := b.slot(name)
	for {
		old := s.perf.Load()
		next := old.Clone()
		fn(&next)
		next.UpdatedAt = b.now()
		if s.perf.CompareAndSwap(old, &next) {
			return
		}
	}
}

// RecordSuccess - успешный вызов: сбрасывает счётчик ошибок и обновляет латентность
func (b *Brokers) RecordSuccess(name string, latency time.Duration) {
	ms := float64(latency) / float64(time.Millisecond)
	b.mutate(name, func(p *models.BrokerPerformance) {
		p.ConsecutiveFailures = 0
		if ms > 0 {
			if p.ExecutionTimeMs <= 0 {
				p.ExecutionTimeMs = ms
			} else {
				p.ExecutionTimeMs = p.ExecutionTimeMs*(1-latencyAlpha) + ms*latencyAlpha
			}
		}
	})
}

// RecordFailure - неудачный вызов: увеличивает счётчик подряд идущих ошибок
func (b *Brokers) RecordFailure(name string) {
	b.mutate(name, func(p *models.BrokerPerformance) {
		p.ConsecutiveFailures++
	})
}

// Acquire учитывает начало вызова брокера
func (b *Brokers) Acquire(name string) {
	b.slot(name).inFlight.Add(1)
}

// Release учитывает завершение вызова брокера
func (b *Brokers) Release(name string) {
	b.slot(name).inFlight.Add(-1)
}

// InFlight возвращает число выполняющихся вызовов брокера
func (b *Brokers) InFlight(name string) int64 {
	return b.slot(name).inFlight.Load()
}

func (b *Brokers) view(s *brokerSlot) models.BrokerPerformance {
	p := s.perf.Load().Clone()
	if limit := s.maxInFlight.Load(); limit > 0 {
		load := float64(s.inFlight.Load()) / float64(limit)
		if load > p.LoadFraction {
			p.LoadFraction = load
		}
	}
	return p
}

// Get возвращает копию метрик брокера
func (b *Brokers) Get(name string) (models.BrokerPerformance, bool) {
	v, ok := b.slots.Load(name)
	if !ok {
		return models.BrokerPerformance{}, false
	}
	return b.view(v.(*brokerSlot)), true
}

// Snapshot возвращает копии метрик всех брокеров, отсортированные по имени
func (b *Brokers) Snapshot() []models.BrokerPerformance {
	var out []models.BrokerPerformance
	b.slots.Range(func(_, v any) bool {
		out = append(out, b.view(v.(*brokerSlot)))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names возвращает имена брокеров в алфавитном порядке
func (b *Brokers) Names() []string {
	snap := b.Snapshot()
	names := make([]string, len(snap))
	for i, p := range snap {
		names[i] = p.Name
	}
	return names
}
