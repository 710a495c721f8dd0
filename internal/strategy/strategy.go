// Package strategy содержит стратегии исполнения ордеров и диспетчер,
// выбирающий стратегию по намерению ордера.
package strategy

import (
	"context"
	"time"

	"orderexec/internal/execution"
	"orderexec/internal/lifecycle"
	"orderexec/internal/models"
	"orderexec/pkg/utils"
)

// Strategy - поведение исполнения, владеющее ордером до его завершения
type Strategy interface {
	// Type возвращает тип стратегии (StrategyNone для прямых ордеров)
	Type() models.StrategyType

	// Validate проверяет параметры, специфичные для стратегии
	Validate(req models.OrderRequest) models.ValidationResult

	// Execute принимает ордер под управление стратегии
	Execute(ctx context.Context, o *models.Order, req models.OrderRequest) (*models.OrderResponse, error)

	// OnPriceUpdate обрабатывает тик; true - ордер сработал и больше не ждёт тиков
	OnPriceUpdate(ctx context.Context, orderID string, tick models.Tick) bool

	// OnFill - асинхронное исполнение, уже засчитанное ордеру
	OnFill(ctx context.Context, orderID string, fill models.Fill)

	Modify(ctx context.Context, orderID string, req models.ModifyRequest) (*models.OrderResponse, error)
	Cancel(ctx context.Context, orderID string) (*models.OrderResponse, error)

	// Tracks - стратегия всё ещё ведёт ордер
	Tracks(orderID string) bool

	// Release забывает состояние ордера (истечение срока, очистка)
	Release(orderID string)
}

// Disarmer - стратегия, которая ведёт исполненный ордер ради ног выхода.
// Disarm снимает ещё не сработавшие ноги; статус ордера не меняется.
type Disarmer interface {
	Disarm(ctx context.Context, orderID, reason string) (*models.OrderResponse, error)
}

// Executor - маршрутизация и исполнение ноги ордера (execution.Executor)
type Executor interface {
	Plan(orderID, symbol string, leg execution.Leg) (execution.Plan, error)
	Run(ctx context.Context, parent *models.Order, plan execution.Plan, leg execution.Leg) execution.Result
}

// Gateway - операции с уже отправленными ордерами (gateway.Gateway)
type Gateway interface {
	Modify(ctx context.Context, o *models.Order, req models.ModifyRequest) (models.OrderState, error)
	Cancel(ctx context.Context, o *models.Order, reason string) (models.OrderState, error)
}

// Host - услуги движка для стратегий
type Host interface {
	// Go запускает фоновую задачу ордера. Контекст задачи отменяется через Stop.
	Go(orderID string, fn func(ctx context.Context))
	// Stop отменяет все фоновые задачи ордера
	Stop(orderID string)
	// Release убирает ордер из реестра активных
	Release(orderID string)
	// Children возвращает неисполненные дочерние ордера
	Children(parentID string) []*models.Order
	// Lookup ищет ордер среди известных движку
	Lookup(orderID string) (*models.Order, bool)
}

// Config - параметры алгоритмов по умолчанию
type Config struct {
	TWAPSlices  int
	TWAPHorizon time.Duration
	MaxSlices   int

	VWAPParticipation float64
	VWAPMinChild      int64

	// TriggerEpsilon - допуск сравнения цены с уровнем срабатывания
	TriggerEpsilon float64
}

// DefaultConfig возвращает параметры по умолчанию
func DefaultConfig() Config {
	return Config{
		TWAPSlices:        10,
		TWAPHorizon:       10 * time.Minute,
		MaxSlices:         1000,
		VWAPParticipation: 0.1,
		VWAPMinChild:      100,
		TriggerEpsilon:    1e-9,
	}
}

// Env - зависимости стратегий
type Env struct {
	Machine  *lifecycle.Machine
	Executor Executor
	Gateway  Gateway
	Host     Host
	Config   Config
	Logger   *utils.Logger
	Now      func() time.Time
}

// ============ Dispatcher ============

// Dispatcher хранит по одному экземпляру каждой стратегии
type Dispatcher struct {
	direct     Strategy
	strategies map[models.StrategyType]Strategy
}

// NewDispatcher создаёт все стратегии над общим окружением
func NewDispatcher(env Env) *Dispatcher {
	if env.Now == nil {
		env.Now = time.Now
	}
	if env.Logger == nil {
		env.Logger = utils.NewNop()
	}
	list := []Strategy{
		NewStopLoss(env),
		NewTrailingStop(env),
		NewBracket(env),
		NewIceberg(env),
		NewTWAP(env),
		NewVWAP(env),
	}
	d := &Dispatcher{
		direct:     NewDirect(env),
		strategies: make(map[models.StrategyType]Strategy, len(list)),
	}
	for _, s := range list {
		d.strategies[s.Type()] = s
	}
	return d
}

// For возвращает стратегию для намерения
func (d *Dispatcher) For(intent models.OrderIntent) (Strategy, error) {
	if intent.Direct {
		return d.direct, nil
	}
	return d.Get(intent.Strategy)
}

// Get возвращает стратегию по типу; StrategyNone - прямое исполнение
func (d *Dispatcher) Get(t models.StrategyType) (Strategy, error) {
	if t == models.StrategyNone {
		return d.direct, nil
	}
	s, ok := d.strategies[t]
	if !ok {
		return nil, models.CannotDetermineStrategy()
	}
	return s, nil
}
