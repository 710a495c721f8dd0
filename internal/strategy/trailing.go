package strategy

import (
	"context"

	"orderexec/internal/models"
	"orderexec/pkg/utils"
)

// Compile-time interface check
var _ Strategy = (*TrailingStop)(nil)

// trail - подвижный уровень стопа.
// Для SELL extreme - максимум цены, для BUY - минимум.
type trail struct {
	amount  float64
	percent float64
	extreme float64
}

// Stop возвращает текущий уровень стопа для стороны
func (t trail) Stop(side models.Side) float64 {
	if side == models.SideSell {
		if t.amount > 0 {
			return t.extreme - t.amount
		}
		return t.extreme * (1 - t.percent/100)
	}
	if t.amount > 0 {
		return t.extreme + t.amount
	}
	return t.extreme * (1 + t.percent/100)
}

// observe сдвигает экстремум в сторону выгоды; первый тик задаёт его, если нет цены входа
func (t *trail) observe(side models.Side, price float64) {
	switch {
	case t.extreme == 0:
		t.extreme = price
	case side == models.SideSell && price > t.extreme:
		t.extreme = price
	case side == models.SideBuy && price < t.extreme:
		t.extreme = price
	}
}

// TrailingStop сопровождает цену: SELL следит за максимумом, BUY - за минимумом,
// и выходит по рынку при откате на заданную величину или процент
type TrailingStop struct {
	base[trail]
}

// NewTrailingStop создаёт стратегию трейлинг-стоп
func NewTrailingStop(env Env) *TrailingStop {
	return &TrailingStop{base: newBase[trail](models.StrategyTrailingStop, env)}
}

func (s *TrailingStop) Validate(req models.OrderRequest) models.ValidationResult {
	var errs []string
	switch {
	case req.TrailAmount > 0 && req.TrailPercent > 0:
		errs = append(errs, "specify trail_amount or trail_percent, not both")
	case req.TrailAmount < 0 || req.TrailPercent < 0:
		errs = append(errs, "trail values must not be negative")
	case req.TrailPercent >= 100:
		errs = append(errs, "trail_percent must be below 100")
	}
	if req.EntryPrice < 0 {
		errs = append(errs, "entry_price must not be negative")
	}
	if len(errs) > 0 {
		return models.Invalid(errs...)
	}
	return models.Valid()
}

func (s *TrailingStop) Execute(_ context.Context, o *models.Order, req models.OrderRequest) (*models.OrderResponse, error) {
	t := trail{amount: req.TrailAmount, percent: req.TrailPercent, extreme: req.EntryPrice}
	s.track(o, t)
	s.logger.Info("trailing stop armed",
		utils.OrderID(o.ID),
		utils.Symbol(o.Symbol),
		utils.Side(string(o.Side)),
		utils.Float64("trail_amount", t.amount),
		utils.Float64("trail_percent", t.percent),
		utils.Float64("seed", t.extreme),
	)
	return o.Response(), nil
}

func (s *TrailingStop) OnPriceUpdate(_ context.Context, orderID string, tick models.Tick) bool {
	e, ok := s.get(orderID)
	if !ok {
		return true
	}
	if s.closed(e) {
		s.finish(e.order)
		return true
	}

	side := e.order.Side
	e.mu.Lock()
	e.data.observe(side, tick.Price)
	stop := e.data.Stop(side)
	e.mu.Unlock()

	if !Triggered(side, tick.Price, stop, s.env.Config.TriggerEpsilon) {
		return false
	}
	if !e.fired.CompareAndSwap(false, true) {
		return true
	}
	st := e.order.State()
	s.fire(e, tick, exitLeg(side, st.Remaining(), 0), nil)
	return true
}

// StopLevel возвращает текущий уровень стопа ордера
func (s *TrailingStop) StopLevel(orderID string) (float64, bool) {
	e, ok := s.get(orderID)
	if !ok {
		return 0, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.data.extreme == 0 {
		return 0, false
	}
	return e.data.Stop(e.order.Side), true
}

// Modify меняет величину отката; объём меняется у самого ордера
func (s *TrailingStop) Modify(ctx context.Context, orderID string, req models.ModifyRequest) (*models.OrderResponse, error) {
	e, ok := s.get(orderID)
	if !ok {
		return s.base.Modify(ctx, orderID, req)
	}
	if req.TrailAmount < 0 || req.TrailPercent < 0 || req.TrailPercent >= 100 {
		return e.order.Response(), models.NewValidationError("invalid trail values")
	}
	if req.TrailAmount > 0 && req.TrailPercent > 0 {
		return e.order.Response(), models.NewValidationError("specify trail_amount or trail_percent, not both")
	}
	if _, err := s.modifyOrder(e.order, req); err != nil {
		return e.order.Response(), err
	}

	e.mu.Lock()
	switch {
	case req.TrailAmount > 0:
		e.data.amount, e.data.percent = req.TrailAmount, 0
	case req.TrailPercent > 0:
		e.data.amount, e.data.percent = 0, req.TrailPercent
	}
	e.mu.Unlock()
	return e.order.Response(), nil
}
