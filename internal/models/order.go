package models

import (
	"sync"
	"time"
)

// Side - направление ордера
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite возвращает противоположную сторону (для выходных ордеров)
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType - тип ордера
type OrderType string

const (
	OrderTypeMarket    OrderType = "MARKET"
	OrderTypeLimit     OrderType = "LIMIT"
	OrderTypeStop      OrderType = "STOP"
	OrderTypeStopLimit OrderType = "STOP_LIMIT"
	OrderTypeStopLoss  OrderType = "STOP_LOSS"
)

// TimeInForce - срок действия ордера
type TimeInForce string

const (
	TIFDay TimeInForce = "DAY"
	TIFGTC TimeInForce = "GTC"
	TIFIOC TimeInForce = "IOC"
	TIFFOK TimeInForce = "FOK"
	TIFGTD TimeInForce = "GTD"
)

// OrderStatus - статус ордера в жизненном цикле
type OrderStatus string

const (
	StatusPending         OrderStatus = "PENDING"
	StatusAcknowledged    OrderStatus = "ACKNOWLEDGED"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCancelled       OrderStatus = "CANCELLED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusExpired         OrderStatus = "EXPIRED"
)

// IsTerminal возвращает true для финальных статусов
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusExpired:
		return true
	default:
		return false
	}
}

// StrategyType - стратегия исполнения, владеющая ордером
type StrategyType string

const (
	StrategyNone         StrategyType = ""
	StrategyStopLoss     StrategyType = "STOP_LOSS"
	StrategyTrailingStop StrategyType = "TRAILING_STOP"
	StrategyBracket      StrategyType = "BRACKET"
	StrategyIceberg      StrategyType = "ICEBERG"
	StrategyTWAP         StrategyType = "TWAP"
	StrategyVWAP         StrategyType = "VWAP"
)

// AllStrategies - все поддерживаемые стратегии
var AllStrategies = []StrategyType{
	StrategyStopLoss,
	StrategyTrailingStop,
	StrategyBracket,
	StrategyIceberg,
	StrategyTWAP,
	StrategyVWAP,
}

// Order - ордер, которым владеет движок до перехода в финальный статус
//
// Поля идентификации и намерения неизменны после создания.
// Изменяемое состояние (OrderState) защищено мьютексом ордера и меняется
// только через пакет lifecycle.
type Order struct {
	ID            string
	ParentID      string // пусто для родительских ордеров
	CorrelationID string
	UserID        string

	Symbol   string
	Exchange string
	Side     Side
	Type     OrderType

	TimeInForce TimeInForce
	ExpiryDate  *time.Time

	Strategy StrategyType

	CreatedAt time.Time

	mu    sync.RWMutex
	state OrderState
}

// OrderState - изменяемая часть ордера
type OrderState struct {
	Status          OrderStatus
	Quantity        int64
	LimitPrice      float64
	StopPrice       float64
	FilledQuantity  int64
	AvgFillPrice    float64
	BrokerName      string
	BrokerOrderID   string
	RejectionReason string

	// ExecutionStrategy - способ маршрутизации, выбранный роутером
	ExecutionStrategy ExecutionStrategy
	UpdatedAt         time.Time
}

// NewOrder создаёт ордер в статусе PENDING из запроса
func NewOrder(id, correlationID, userID string, req OrderRequest, now time.Time) *Order {
	o := &Order{
		ID:            id,
		CorrelationID: correlationID,
		UserID:        userID,
		Symbol:        req.Symbol,
		Exchange:      req.Exchange,
		Side:          req.Side,
		Type:          req.OrderType,
		TimeInForce:   req.TimeInForce,
		ExpiryDate:    req.ExpiryDate,
		CreatedAt:     now,
	}
	o.state = OrderState{
		Status:     StatusPending,
		Quantity:   req.Quantity,
		LimitPrice: req.LimitPrice,
		StopPrice:  req.StopPrice,
		BrokerName: req.BrokerName,
		UpdatedAt:  now,
	}
	return o
}

// NewChildOrder создаёт дочерний ордер для части родительского
func NewChildOrder(id string, parent *Order, orderType OrderType, side Side, qty int64, limitPrice float64, now time.Time) *Order {
	child := &Order{
		ID:            id,
		ParentID:      parent.ID,
		CorrelationID: parent.CorrelationID,
		UserID:        parent.UserID,
		Symbol:        parent.Symbol,
		Exchange:      parent.Exchange,
		Side:          side,
		Type:          orderType,
		TimeInForce:   parent.TimeInForce,
		ExpiryDate:    parent.ExpiryDate,
		Strategy:      parent.Strategy,
		CreatedAt:     now,
	}
	child.state = OrderState{
		Status:            StatusPending,
		Quantity:          qty,
		LimitPrice:        limitPrice,
		ExecutionStrategy: parent.State().ExecutionStrategy,
		UpdatedAt:         now,
	}
	return child
}

// State возвращает копию изменяемого состояния
func (o *Order) State() OrderState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Status возвращает текущий статус
func (o *Order) Status() OrderStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state.Status
}

// Mutate применяет изменение к состоянию под эксклюзивной блокировкой.
// Вызывается только из lifecycle; если fn вернул ошибку, состояние не меняется.
func (o *Order) Mutate(fn func(s *OrderState) error) (OrderState, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	next := o.state
	if err := fn(&next); err != nil {
		return o.state, err
	}
	o.state = next
	return o.state, nil
}

// Remaining возвращает неисполненный объём
func (s OrderState) Remaining() int64 {
	r := s.Quantity - s.FilledQuantity
	if r < 0 {
		return 0
	}
	return r
}

// Response формирует внешний ответ по ордеру
func (o *Order) Response() *OrderResponse {
	s := o.State()
	return &OrderResponse{
		OrderID:           o.ID,
		CorrelationID:     o.CorrelationID,
		Symbol:            o.Symbol,
		Side:              o.Side,
		Strategy:          o.Strategy,
		ExecutionStrategy: s.ExecutionStrategy,
		BrokerName:        s.BrokerName,
		BrokerOrderID:     s.BrokerOrderID,
		Status:            s.Status,
		Quantity:          s.Quantity,
		FilledQuantity:    s.FilledQuantity,
		AvgFillPrice:      s.AvgFillPrice,
		RejectionReason:   s.RejectionReason,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
}

// Fill - исполнение (полное или частичное) от брокера
type Fill struct {
	Quantity int64
	Price    float64
	Time     time.Time
}

// ExecutionReport - асинхронный отчёт брокера об исполнении
type ExecutionReport struct {
	Broker        string
	BrokerOrderID string
	OrderID       string // может быть пустым, тогда ищем по BrokerOrderID
	Fill          Fill
}

// Tick - обновление рыночной цены
type Tick struct {
	Symbol    string
	Price     float64
	Volume    int64
	Timestamp time.Time
}
