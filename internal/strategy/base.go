package strategy

import (
	"context"
	"math"
	"sync"
	"sync/atomic"

	"orderexec/internal/execution"
	"orderexec/internal/lifecycle"
	"orderexec/internal/metrics"
	"orderexec/internal/models"
	"orderexec/pkg/utils"
)

// tracked - ордер под управлением стратегии и её состояние.
// data защищено mu, fired переключается ровно один раз.
type tracked[T any] struct {
	order *models.Order
	mu    sync.Mutex
	fired atomic.Bool
	data  T
}

// base - общая часть стратегий: учёт ордеров, отмена, изменение, маршрутизация ног
type base[T any] struct {
	kind   models.StrategyType
	env    Env
	logger *utils.Logger
	// map[orderID]*tracked[T]
	orders sync.Map
}

func newBase[T any](kind models.StrategyType, env Env) base[T] {
	name := string(kind)
	if kind == models.StrategyNone {
		name = "direct"
	}
	logger := env.Logger
	if logger == nil {
		logger = utils.NewNop()
	}
	return base[T]{
		kind:   kind,
		env:    env,
		logger: logger.WithComponent("strategy").With(utils.Strategy(name)),
	}
}

func (b *base[T]) Type() models.StrategyType { return b.kind }

func (b *base[T]) track(o *models.Order, data T) *tracked[T] {
	e := &tracked[T]{order: o, data: data}
	b.orders.Store(o.ID, e)
	return e
}

func (b *base[T]) get(orderID string) (*tracked[T], bool) {
	v, ok := b.orders.Load(orderID)
	if !ok {
		return nil, false
	}
	return v.(*tracked[T]), true
}

// lookup ищет ордер: сначала среди ведомых, затем у движка
// (ведение могло завершиться раньше, чем ордер стал финальным)
func (b *base[T]) lookup(orderID string) (*models.Order, bool) {
	if e, ok := b.get(orderID); ok {
		return e.order, true
	}
	return b.env.Host.Lookup(orderID)
}

func (b *base[T]) Tracks(orderID string) bool {
	_, ok := b.orders.Load(orderID)
	return ok
}

func (b *base[T]) Release(orderID string) {
	b.orders.Delete(orderID)
}

// OnFill по умолчанию ничего не делает: исполнение уже засчитано ордеру
func (b *base[T]) OnFill(context.Context, string, models.Fill) {}

// finish завершает ведение ордера; финальный ордер уходит из реестра.
// Повторный вызов ничего не делает: нефинальный ордер после finish
// убирает из реестра сам движок при переходе в финальный статус.
func (b *base[T]) finish(o *models.Order) {
	if _, ok := b.orders.LoadAndDelete(o.ID); ok && o.Status().IsTerminal() {
		b.env.Host.Release(o.ID)
	}
}

// closed - ордер завершён извне (отмена, отказ, истечение)
func (b *base[T]) closed(e *tracked[T]) bool {
	return e.order.Status().IsTerminal()
}

// Cancel отменяет ордер стратегии: фоновые задачи, рабочие дети, затем сам ордер
func (b *base[T]) Cancel(ctx context.Context, orderID string) (*models.OrderResponse, error) {
	o, ok := b.lookup(orderID)
	if !ok {
		return nil, models.OrderNotFound(orderID)
	}
	return b.cancel(ctx, o, "cancelled by user")
}

func (b *base[T]) cancel(ctx context.Context, o *models.Order, reason string) (*models.OrderResponse, error) {
	st := o.State()
	if !lifecycle.IsCancellable(st.Status) {
		return o.Response(), models.OrderRejected("order %s cannot be cancelled in status %s", o.ID, st.Status)
	}

	b.env.Host.Stop(o.ID)
	for _, child := range b.env.Host.Children(o.ID) {
		if _, err := b.env.Gateway.Cancel(ctx, child, reason); err != nil {
			b.logger.Debug("child cancel skipped", utils.OrderID(child.ID), utils.ParentID(o.ID), utils.Err(err))
		}
	}
	if _, err := b.env.Machine.Cancel(o, reason); err != nil {
		return o.Response(), err
	}
	b.finish(o)
	return o.Response(), nil
}

// Modify меняет объём и цены ордера; параметры стратегии меняют сами стратегии
func (b *base[T]) Modify(ctx context.Context, orderID string, req models.ModifyRequest) (*models.OrderResponse, error) {
	o, ok := b.lookup(orderID)
	if !ok {
		return nil, models.OrderNotFound(orderID)
	}
	if _, err := b.modifyOrder(o, req); err != nil {
		return o.Response(), err
	}
	return o.Response(), nil
}

// modifyOrder применяет к ордеру только поля, которые хранит сам ордер
func (b *base[T]) modifyOrder(o *models.Order, req models.ModifyRequest) (models.OrderState, error) {
	st := o.State()
	if !lifecycle.IsModifiable(st.Status) {
		return st, models.OrderRejected("order %s cannot be modified in status %s", o.ID, st.Status)
	}
	if req.Quantity == 0 && req.LimitPrice == 0 && req.StopPrice == 0 {
		return st, nil
	}
	return b.env.Machine.Modify(o, models.ModifyRequest{
		Quantity:   req.Quantity,
		LimitPrice: req.LimitPrice,
		StopPrice:  req.StopPrice,
	})
}

// route исполняет ногу через роутер. Разовые способы выполняются сразу,
// пошаговые - в фоновой задаче ордера; done вызывается по завершении.
func (b *base[T]) route(ctx context.Context, o *models.Order, leg execution.Leg, done func(ctx context.Context, res execution.Result)) error {
	plan, err := b.env.Executor.Plan(o.ID, o.Symbol, leg)
	if err != nil {
		return err
	}
	if !plan.Background() {
		res := b.env.Executor.Run(ctx, o, plan, leg)
		if done != nil {
			done(ctx, res)
		}
		return submitError(o, res)
	}
	b.env.Host.Go(o.ID, func(ctx context.Context) {
		res := b.env.Executor.Run(ctx, o, plan, leg)
		if done != nil {
			done(ctx, res)
		}
	})
	return nil
}

// submitError возвращает ошибку отправки, если ни один брокер не принял ногу
// и родитель отклонён
func submitError(o *models.Order, res execution.Result) error {
	if res.Accepted > 0 || res.Halted || o.Status() != models.StatusRejected {
		return nil
	}
	if res.LastErr != nil {
		return res.LastErr
	}
	return models.OrderRejected("order %s: no child order was accepted", o.ID)
}

// runLeg исполняет ногу в текущей горутине (уже внутри задачи ордера)
func (b *base[T]) runLeg(ctx context.Context, o *models.Order, leg execution.Leg) (execution.Result, error) {
	plan, err := b.env.Executor.Plan(o.ID, o.Symbol, leg)
	if err != nil {
		return execution.Result{}, err
	}
	return b.env.Executor.Run(ctx, o, plan, leg), nil
}

// rejectOnError отклоняет ещё не подтверждённый ордер после ошибки маршрутизации
func (b *base[T]) rejectOnError(o *models.Order, err error) {
	if err == nil || o.Status() != models.StatusPending {
		return
	}
	if _, rejErr := b.env.Machine.Reject(o, err.Error()); rejErr != nil {
		b.logger.Debug("reject skipped", utils.OrderID(o.ID), utils.Err(rejErr))
	}
}

// fire запускает выход из сработавшего ордера в фоновой задаче
func (b *base[T]) fire(e *tracked[T], tick models.Tick, leg execution.Leg, after func(ctx context.Context, res execution.Result)) {
	o := e.order
	metrics.RecordTrigger(string(b.kind))
	b.logger.Info("trigger fired",
		utils.OrderID(o.ID),
		utils.Symbol(o.Symbol),
		utils.Price(tick.Price),
		utils.Side(string(leg.Side)),
		utils.Quantity(leg.Quantity),
	)

	b.env.Host.Go(o.ID, func(ctx context.Context) {
		res, err := b.runLeg(ctx, o, leg)
		if err != nil {
			b.logger.Warn("exit routing failed", utils.OrderID(o.ID), utils.Err(err))
			b.rejectOnError(o, err)
		}
		if after != nil {
			after(ctx, res)
		}
		b.finish(o)
	})
}

// exitLeg - выход по рынку, либо лимитный, если задана цена
func exitLeg(side models.Side, qty int64, limitPrice float64) execution.Leg {
	leg := execution.Leg{Side: side, Type: models.OrderTypeMarket, Quantity: qty, RollUp: true}
	if limitPrice > 0 {
		leg.Type = models.OrderTypeLimit
		leg.LimitPrice = limitPrice
	}
	return leg
}

// crossedDown - цена опустилась до уровня (с допуском)
func crossedDown(price, level, eps float64) bool {
	return price <= level+eps
}

// crossedUp - цена поднялась до уровня (с допуском)
func crossedUp(price, level, eps float64) bool {
	return price >= level-eps
}

// validPrice - конечное положительное число
func validPrice(p float64) bool {
	return p > 0 && !math.IsInf(p, 0) && !math.IsNaN(p)
}
