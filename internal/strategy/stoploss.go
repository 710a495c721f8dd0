package strategy

import (
	"context"

	"orderexec/internal/models"
	"orderexec/pkg/utils"
)

// Compile-time interface check
var _ Strategy = (*StopLoss)(nil)

// StopLoss держит ордер в движке до пересечения стоп-цены.
// SELL срабатывает при цене ≤ стопа, BUY - при цене ≥ стопа.
// Выход рыночный, либо лимитный при заданной лимитной цене (стоп-лимит).
type StopLoss struct {
	base[struct{}]
}

// NewStopLoss создаёт стратегию стоп-лосс
func NewStopLoss(env Env) *StopLoss {
	return &StopLoss{base: newBase[struct{}](models.StrategyStopLoss, env)}
}

func (s *StopLoss) Validate(req models.OrderRequest) models.ValidationResult {
	var errs []string
	if !validPrice(req.StopPrice) {
		errs = append(errs, "stop_price must be positive for stop-loss orders")
	}
	if req.LimitPrice < 0 {
		errs = append(errs, "limit_price must not be negative")
	}
	if len(errs) > 0 {
		return models.Invalid(errs...)
	}
	return models.Valid()
}

// Execute ставит ордер на ожидание: брокер получит его только при срабатывании
func (s *StopLoss) Execute(_ context.Context, o *models.Order, _ models.OrderRequest) (*models.OrderResponse, error) {
	s.track(o, struct{}{})
	st := o.State()
	s.logger.Info("stop-loss armed",
		utils.OrderID(o.ID),
		utils.Symbol(o.Symbol),
		utils.Side(string(o.Side)),
		utils.Float64("stop_price", st.StopPrice),
	)
	return o.Response(), nil
}

// Triggered - условие срабатывания стопа для стороны ордера
func Triggered(side models.Side, price, stop, eps float64) bool {
	if side == models.SideSell {
		return crossedDown(price, stop, eps)
	}
	return crossedUp(price, stop, eps)
}

func (s *StopLoss) OnPriceUpdate(_ context.Context, orderID string, tick models.Tick) bool {
	e, ok := s.get(orderID)
	if !ok {
		return true
	}
	if s.closed(e) {
		s.finish(e.order)
		return true
	}

	st := e.order.State()
	if !Triggered(e.order.Side, tick.Price, st.StopPrice, s.env.Config.TriggerEpsilon) {
		return false
	}
	if !e.fired.CompareAndSwap(false, true) {
		return true
	}
	s.fire(e, tick, exitLeg(e.order.Side, st.Remaining(), st.LimitPrice), nil)
	return true
}
