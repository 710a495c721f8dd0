// Package registry хранит общее изменяемое состояние движка:
// активные ордера (с индексом по символу) и книгу качества брокеров.
//
// Глобальной блокировки нет: чтение горячего пути идёт через sync.Map
// и атомарные указатели, запись - через CAS-циклы.
package registry

import (
	"sync"
	"sync/atomic"

	"orderexec/internal/metrics"
	"orderexec/internal/models"
)

// Entry - активный ордер и стратегия-владелец
type Entry struct {
	Order    *models.Order
	Strategy models.StrategyType
}

// symbolEntries - неизменяемый снимок ордеров символа.
// Храним указатель: sync.Map.CompareAndSwap требует сравнимых значений.
type symbolEntries struct {
	items []*Entry
}

// Orders - реестр активных ордеров
type Orders struct {
	// map[orderID]*Entry
	byID sync.Map
	// map[symbol]*symbolEntries - copy-on-write индекс для реактора
	bySymbol sync.Map

	count atomic.Int64
}

// NewOrders создаёт пустой реестр
func NewOrders() *Orders {
	return &Orders{}
}

// Register добавляет ордер. Повторная регистрация id запрещена:
// у ордера может быть только одна стратегия-владелец.
func (r *Orders) Register(e *Entry) error {
	if e == nil || e.Order == nil {
		return models.Unexpected(errNilEntry)
	}
	if _, loaded := r.byID.LoadOrStore(e.Order.ID, e); loaded {
		return &models.ExecError{
			Kind:    models.KindOrderRejected,
			Code:    models.CodeDuplicate,
			Message: "order " + e.Order.ID + " is already registered",
		}
	}

	for {
		existing, ok := r.bySymbol.Load(e.Order.Symbol)
		if !ok {
			next := &symbolEntries{items: []*Entry{e}}
			if _, loaded := r.bySymbol.LoadOrStore(e.Order.Symbol, next); !loaded {
				break
			}
			continue
		}
		old := existing.(*symbolEntries)
		items := make([]*Entry, len(old.items), len(old.items)+1)
		copy(items, old.items)
		next := &symbolEntries{items: append(items, e)}
		if r.bySymbol.CompareAndSwap(e.Order.Symbol, old, next) {
			break
		}
	}

	metrics.SetActiveOrders(r.count.Add(1))
	return nil
}

// Get возвращает запись по id
func (r *Orders) Get(orderID string) (*Entry, bool) {
	v, ok := r.byID.Load(orderID)
	if !ok {
		return nil, false
	}
	return v.(*Entry), true
}

// Remove удаляет ордер из реестра и индекса символа.
// Возвращает false, если ордер уже удалён (например, конкурентной отменой).
func (r *Orders) Remove(orderID string) (*Entry, bool) {
	v, ok := r.byID.LoadAndDelete(orderID)
	if !ok {
		return nil, false
	}
	e := v.(*Entry)

	for {
		existing, ok := r.bySymbol.Load(e.Order.Symbol)
		if !ok {
			break
		}
		old := existing.(*symbolEntries)
		items := make([]*Entry, 0, len(old.items))
		for _, it := range old.items {
			if it.Order.ID != orderID {
				items = append(items, it)
			}
		}
		if len(items) == 0 {
			if r.bySymbol.CompareAndDelete(e.Order.Symbol, old) {
				break
			}
			continue
		}
		if r.bySymbol.CompareAndSwap(e.Order.Symbol, old, &symbolEntries{items: items}) {
			break
		}
	}

	metrics.SetActiveOrders(r.count.Add(-1))
	return e, true
}

// BySymbol возвращает снимок ордеров символа (без блокировок)
func (r *Orders) BySymbol(symbol string) []*Entry {
	v, ok := r.bySymbol.Load(symbol)
	if !ok {
		return nil
	}
	return v.(*symbolEntries).items
}

// All возвращает все активные записи
func (r *Orders) All() []*Entry {
	out := make([]*Entry, 0, r.count.Load())
	r.byID.Range(func(_, v any) bool {
		out = append(out, v.(*Entry))
		return true
	})
	return out
}

// Len возвращает число активных ордеров
func (r *Orders) Len() int64 {
	return r.count.Load()
}

// Contains - ордер присутствует в реестре
func (r *Orders) Contains(orderID string) bool {
	_, ok := r.byID.Load(orderID)
	return ok
}
