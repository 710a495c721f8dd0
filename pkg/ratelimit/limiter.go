package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter - token bucket для ограничения частоты вызовов брокера
//
// Ведро пополняется со скоростью rate токенов/сек до ёмкости burst.
// Каждый вызов забирает один токен; при пустом ведре Wait ждёт,
// Allow сразу отказывает.
type Limiter struct {
	mu         sync.Mutex
	rate       float64
	burst      float64
	tokens     float64
	lastRefill time.Time
	now        func() time.Time
}

// New создаёт limiter. rate <= 0 отключает ограничение.
func New(rate, burst float64) *Limiter {
	return newWithClock(rate, burst, time.Now)
}

func newWithClock(rate, burst float64, now func() time.Time) *Limiter {
	if burst < 1 {
		burst = rate
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		rate:       rate,
		burst:      burst,
		tokens:     burst,
		lastRefill: now(),
		now:        now,
	}
}

// Unlimited - limiter не ограничивает вызовы
func (l *Limiter) Unlimited() bool {
	return l == nil || l.rate <= 0
}

// вызывается под l.mu
func (l *Limiter) refill() {
	now := l.now()
	l.tokens += now.Sub(l.lastRefill).Seconds() * l.rate
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
	l.lastRefill = now
}

// take пытается забрать токен; иначе возвращает время до следующего
func (l *Limiter) take() (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()
	if l.tokens >= 1 {
		l.tokens--
		return true, 0
	}
	return false, time.Duration((1 - l.tokens) / l.rate * float64(time.Second))
}

// Allow забирает токен без ожидания
func (l *Limiter) Allow() bool {
	if l.Unlimited() {
		return true
	}
	ok, _ := l.take()
	return ok
}

// Wait блокирует до получения токена или отмены контекста
func (l *Limiter) Wait(ctx context.Context) error {
	if l.Unlimited() {
		return ctx.Err()
	}
	for {
		ok, wait := l.take()
		if ok {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Tokens возвращает текущее число токенов
func (l *Limiter) Tokens() float64 {
	if l.Unlimited() {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	return l.tokens
}

// ============================================================
// Set - лимиты по брокерам
// ============================================================

// Set хранит отдельный limiter на каждого брокера
type Set struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
}

// NewSet создаёт пустой набор
func NewSet() *Set {
	return &Set{limiters: make(map[string]*Limiter)}
}

// Configure задаёт лимит брокера (rate <= 0 снимает ограничение)
func (s *Set) Configure(broker string, rate, burst float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rate <= 0 {
		delete(s.limiters, broker)
		return
	}
	s.limiters[broker] = New(rate, burst)
}

// Get возвращает limiter брокера или nil
func (s *Set) Get(broker string) *Limiter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.limiters[broker]
}

// Wait ждёт токен брокера; брокеры без лимита проходят сразу
func (s *Set) Wait(ctx context.Context, broker string) error {
	return s.Get(broker).Wait(ctx)
}
