package strategy

import (
	"context"
	"sync"

	"orderexec/internal/execution"
	"orderexec/internal/models"
	"orderexec/pkg/utils"
)

// Compile-time interface check
var (
	_ Strategy = (*Bracket)(nil)
	_ Disarmer = (*Bracket)(nil)
)

// Ноги выхода брекета
const (
	LegTarget = "target"
	LegStop   = "stop"
)

// legs - уровни выхода брекета и нога, которая сработала
type legs struct {
	entry  float64
	target float64
	stop   float64
	exit   string
}

// hit возвращает сработавшую ногу для позиции стороны side (или "")
func (l legs) hit(side models.Side, price, eps float64) string {
	if side == models.SideBuy {
		switch {
		case crossedUp(price, l.target, eps):
			return LegTarget
		case crossedDown(price, l.stop, eps):
			return LegStop
		}
		return ""
	}
	switch {
	case crossedDown(price, l.target, eps):
		return LegTarget
	case crossedUp(price, l.stop, eps):
		return LegStop
	}
	return ""
}

// Bracket - вход лимитным ордером по цене входа и две ноги выхода (OCO).
//
// Ноги взводятся, как только у входа есть исполнение. Первая сработавшая нога
// закрывает исполненный объём, вторая снимается. Исполнения выхода
// родителю не засчитываются: родитель отражает только вход.
type Bracket struct {
	base[legs]
	// map[orderID]string - сработавшая нога, живёт до Release
	exits sync.Map
}

// NewBracket создаёт стратегию брекет
func NewBracket(env Env) *Bracket {
	return &Bracket{base: newBase[legs](models.StrategyBracket, env)}
}

func (s *Bracket) Validate(req models.OrderRequest) models.ValidationResult {
	if !validPrice(req.EntryPrice) || !validPrice(req.ProfitTarget) || !validPrice(req.StopPrice) {
		return models.Invalid("bracket orders require positive entry_price, profit_target and stop_price")
	}
	return validateLegs(req.Side, req.EntryPrice, req.ProfitTarget, req.StopPrice)
}

// validateLegs проверяет взаимное расположение уровней
func validateLegs(side models.Side, entry, target, stop float64) models.ValidationResult {
	if side == models.SideBuy && !(stop < entry && entry < target) {
		return models.Invalid("buy bracket requires stop_price < entry_price < profit_target")
	}
	if side == models.SideSell && !(target < entry && entry < stop) {
		return models.Invalid("sell bracket requires profit_target < entry_price < stop_price")
	}
	return models.Valid()
}

// Execute отправляет вход через роутер
func (s *Bracket) Execute(ctx context.Context, o *models.Order, req models.OrderRequest) (*models.OrderResponse, error) {
	s.track(o, legs{entry: req.EntryPrice, target: req.ProfitTarget, stop: req.StopPrice})

	entry := execution.Leg{
		Side:       o.Side,
		Type:       models.OrderTypeLimit,
		Quantity:   req.Quantity,
		LimitPrice: req.EntryPrice,
		RollUp:     true,
		Routing:    req.Routing,
		Broker:     req.BrokerName,
	}
	err := s.route(ctx, o, entry, func(_ context.Context, res execution.Result) {
		if s.entryClosed(o) {
			s.finish(o)
			return
		}
		s.logger.Info("bracket entry routed",
			utils.OrderID(o.ID),
			utils.Int64("filled", o.State().FilledQuantity),
			utils.Bool("armed", s.armed(o)),
		)
	})
	if err != nil {
		s.rejectOnError(o, err)
		s.finish(o)
		return o.Response(), err
	}
	return o.Response(), nil
}

// entryClosed - вход отменён, отклонён или истёк; исполненный вход брекет не закрывает
func (s *Bracket) entryClosed(o *models.Order) bool {
	st := o.Status()
	return st.IsTerminal() && st != models.StatusFilled
}

func (s *Bracket) armed(o *models.Order) bool {
	return o.State().FilledQuantity > 0
}

func (s *Bracket) OnPriceUpdate(_ context.Context, orderID string, tick models.Tick) bool {
	e, ok := s.get(orderID)
	if !ok {
		return true
	}
	o := e.order
	if s.entryClosed(o) {
		s.finish(o)
		return true
	}
	if !s.armed(o) {
		return false
	}

	e.mu.Lock()
	leg := e.data.hit(o.Side, tick.Price, s.env.Config.TriggerEpsilon)
	if leg == "" || !e.fired.CompareAndSwap(false, true) {
		e.mu.Unlock()
		return leg != ""
	}
	e.data.exit = leg
	l := e.data
	e.mu.Unlock()
	s.exits.Store(o.ID, leg)

	// Недоисполненный вход больше не нужен
	s.env.Host.Stop(o.ID)
	filled := o.State().FilledQuantity

	exit := exitLeg(o.Side.Opposite(), filled, 0)
	if leg == LegTarget {
		exit = exitLeg(o.Side.Opposite(), filled, l.target)
	}
	exit.RollUp = false

	s.logger.Info("bracket leg triggered, other leg cancelled",
		utils.OrderID(o.ID),
		utils.String("leg", leg),
		utils.Float64("target", l.target),
		utils.Float64("stop", l.stop),
	)
	s.fire(e, tick, exit, func(ctx context.Context, _ execution.Result) {
		if o.Status() == models.StatusPartiallyFilled {
			for _, child := range s.env.Host.Children(o.ID) {
				if child.Side == o.Side {
					_, _ = s.env.Gateway.Cancel(ctx, child, "bracket exit")
				}
			}
			_, _ = s.env.Machine.Cancel(o, "bracket exit: remaining entry cancelled")
		}
	})
	return true
}

// Exit возвращает сработавшую ногу ордера
func (s *Bracket) Exit(orderID string) (string, bool) {
	v, ok := s.exits.Load(orderID)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// Disarm снимает ноги выхода исполненного брекета, пока ни одна не сработала
func (s *Bracket) Disarm(_ context.Context, orderID, reason string) (*models.OrderResponse, error) {
	e, ok := s.get(orderID)
	if !ok {
		o, known := s.lookup(orderID)
		if !known {
			return nil, models.OrderNotFound(orderID)
		}
		return o.Response(), models.OrderRejected("bracket %s has no armed exits", o.ID)
	}
	o := e.order
	if st := o.Status(); st != models.StatusFilled {
		return o.Response(), models.OrderRejected("bracket %s exits can be disarmed only when FILLED, status %s", o.ID, st)
	}
	if !e.fired.CompareAndSwap(false, true) {
		return o.Response(), models.OrderRejected("bracket %s has already exited", o.ID)
	}

	s.env.Host.Stop(o.ID)
	s.Release(o.ID)
	s.env.Host.Release(o.ID)
	s.logger.Info("bracket exits disarmed", utils.OrderID(o.ID), utils.String("reason", reason))
	return o.Response(), nil
}

func (s *Bracket) Release(orderID string) {
	s.base.Release(orderID)
	s.exits.Delete(orderID)
}

// Modify переставляет уровни выхода до срабатывания
func (s *Bracket) Modify(ctx context.Context, orderID string, req models.ModifyRequest) (*models.OrderResponse, error) {
	e, ok := s.get(orderID)
	if !ok {
		return s.base.Modify(ctx, orderID, req)
	}
	o := e.order
	if e.fired.Load() {
		return o.Response(), models.OrderRejected("bracket %s has already exited", o.ID)
	}
	if req.ProfitTarget < 0 || req.StopPrice < 0 {
		return o.Response(), models.NewValidationError("modify values must not be negative")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	next := e.data
	if req.ProfitTarget > 0 {
		next.target = req.ProfitTarget
	}
	if req.StopPrice > 0 {
		next.stop = req.StopPrice
	}
	if v := validateLegs(o.Side, next.entry, next.target, next.stop); !v.IsValid {
		return o.Response(), v.Err()
	}

	// У исполненного входа меняются только ноги выхода
	if req.Quantity > 0 {
		if _, err := s.modifyOrder(o, models.ModifyRequest{Quantity: req.Quantity}); err != nil {
			return o.Response(), err
		}
	}
	e.data = next
	return o.Response(), nil
}
