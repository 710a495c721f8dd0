package engine

import (
	"context"
	"sync"
	"time"

	"orderexec/internal/metrics"
	"orderexec/internal/models"
	"orderexec/pkg/utils"
)

// FNV-1a 32-bit
const (
	fnvOffset32 = 2166136261
	fnvPrime32  = 16777619
)

// fnvHash - inline FNV-1a без аллокаций
func fnvHash(s string) uint32 {
	h := uint32(fnvOffset32)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime32
	}
	return h
}

// ============================================================
// PriceCache
// ============================================================

// PriceCache - последние цены по символам.
// Шардирована по символу: запись одного символа не блокирует другие.
type PriceCache struct {
	shards []*priceShard
	n      uint32
}

type priceShard struct {
	mu   sync.RWMutex
	last map[string]models.Tick
}

// NewPriceCache создаёт кэш цен
func NewPriceCache(shards int) *PriceCache {
	if shards <= 0 {
		shards = 16
	}
	c := &PriceCache{
		shards: make([]*priceShard, shards),
		n:      uint32(shards),
	}
	for i := range c.shards {
		c.shards[i] = &priceShard{last: make(map[string]models.Tick)}
	}
	return c
}

func (c *PriceCache) shard(symbol string) *priceShard {
	return c.shards[fnvHash(symbol)%c.n]
}

// Update запоминает тик; более старый тик не перезаписывает новый
func (c *PriceCache) Update(t models.Tick) {
	if t.Price <= 0 {
		return
	}
	s := c.shard(t.Symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.last[t.Symbol]; ok && t.Timestamp.Before(prev.Timestamp) {
		return
	}
	s.last[t.Symbol] = t
}

// Last возвращает последний тик символа
func (c *PriceCache) Last(symbol string) (models.Tick, bool) {
	s := c.shard(symbol)
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.last[symbol]
	return t, ok
}

// LastPrice реализует routing.PriceSource и broker.PriceSource
func (c *PriceCache) LastPrice(symbol string) (float64, bool) {
	t, ok := c.Last(symbol)
	return t.Price, ok
}

// ============================================================
// Reactor
// ============================================================

// TickHandler обрабатывает тик в воркере шарда
type TickHandler func(ctx context.Context, tick models.Tick)

// Reactor раскладывает тики по шардам по хэшу символа.
//
// У каждого шарда один воркер: тики одного символа обрабатываются
// строго по порядку, занятый символ не задерживает другие шарды.
// При полном буфере тик отбрасывается.
type Reactor struct {
	queues []chan models.Tick
	prices *PriceCache
	handle TickHandler
	logger *utils.Logger
}

// NewReactor создаёт реактор с shards шардами по buffer тиков
func NewReactor(shards, buffer int, prices *PriceCache, handle TickHandler, logger *utils.Logger) *Reactor {
	if shards <= 0 {
		shards = 1
	}
	if buffer <= 0 {
		buffer = 1
	}
	r := &Reactor{
		queues: make([]chan models.Tick, shards),
		prices: prices,
		handle: handle,
		logger: logger.WithComponent("reactor"),
	}
	for i := range r.queues {
		r.queues[i] = make(chan models.Tick, buffer)
	}
	return r
}

// ShardOf возвращает шард символа (детерминированно)
func (r *Reactor) ShardOf(symbol string) int {
	return int(fnvHash(symbol) % uint32(len(r.queues)))
}

// Submit ставит тик в очередь шарда без блокировки.
// false - буфер полон, тик отброшен.
func (r *Reactor) Submit(t models.Tick) bool {
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}
	select {
	case r.queues[r.ShardOf(t.Symbol)] <- t:
		return true
	default:
		metrics.RecordDropped("ticks")
		r.logger.Debug("shard buffer full, dropping tick", utils.Symbol(t.Symbol))
		return false
	}
}

// Run запускает воркеры шардов и ждёт их завершения после отмены ctx
func (r *Reactor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := range r.queues {
		wg.Add(1)
		go func(q <-chan models.Tick) {
			defer wg.Done()
			r.worker(ctx, q)
		}(r.queues[i])
	}
	wg.Wait()
}

func (r *Reactor) worker(ctx context.Context, q <-chan models.Tick) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-q:
			start := time.Now()
			if r.prices != nil {
				r.prices.Update(t)
			}
			r.handle(ctx, t)
			metrics.RecordPriceUpdate(t.Symbol, float64(time.Since(start).Microseconds())/1000)
		}
	}
}
