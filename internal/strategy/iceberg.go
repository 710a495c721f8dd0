package strategy

import (
	"context"

	"orderexec/internal/execution"
	"orderexec/internal/models"
	"orderexec/pkg/utils"
)

// Compile-time interface check
var _ Strategy = (*Iceberg)(nil)

// slice - видимая часть айсберга
type slice struct {
	broker   string // предпочтительный брокер из запроса
	display  int64
	released int64 // объём, уже выпущенный срезами
	size     int64 // объём текущего среза
	filled   int64 // исполнено в текущем срезе
	done     chan struct{}
}

// add засчитывает исполнение текущему срезу; вызывается под мьютексом
func (s *slice) add(qty int64) {
	if s.done == nil || qty <= 0 {
		return
	}
	s.filled += qty
	if s.filled >= s.size {
		close(s.done)
		s.done = nil
	}
}

// Iceberg показывает рынку только DisplayQuantity: следующий срез
// выпускается, когда видимый исполнен полностью
type Iceberg struct {
	base[slice]
}

// NewIceberg создаёт стратегию айсберг
func NewIceberg(env Env) *Iceberg {
	return &Iceberg{base: newBase[slice](models.StrategyIceberg, env)}
}

func (s *Iceberg) Validate(req models.OrderRequest) models.ValidationResult {
	var errs []string
	if req.DisplayQuantity <= 0 {
		errs = append(errs, "display_quantity must be positive")
	}
	if req.DisplayQuantity > req.Quantity {
		errs = append(errs, "display_quantity must not exceed quantity")
	}
	if req.OrderType != models.OrderTypeMarket && req.OrderType != models.OrderTypeLimit {
		errs = append(errs, "iceberg orders must be MARKET or LIMIT")
	}
	if len(errs) > 0 {
		return models.Invalid(errs...)
	}
	return models.Valid()
}

func (s *Iceberg) Execute(_ context.Context, o *models.Order, req models.OrderRequest) (*models.OrderResponse, error) {
	e := s.track(o, slice{broker: req.BrokerName, display: req.DisplayQuantity})
	s.env.Host.Go(o.ID, func(ctx context.Context) {
		s.work(ctx, e)
		s.finish(o)
	})
	return o.Response(), nil
}

// nextSlice открывает новый срез; 0 - выпускать больше нечего
func (s *Iceberg) nextSlice(e *tracked[slice]) (int64, <-chan struct{}, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	qty := utils.MinInt64(e.data.display, e.order.State().Quantity-e.data.released)
	if qty <= 0 {
		return 0, nil, ""
	}
	e.data.size = qty
	e.data.filled = 0
	e.data.done = make(chan struct{})
	return qty, e.data.done, e.data.broker
}

func (s *Iceberg) work(ctx context.Context, e *tracked[slice]) {
	o := e.order
	for i := 0; ; i++ {
		if s.closed(e) || ctx.Err() != nil {
			return
		}
		qty, done, broker := s.nextSlice(e)
		if qty == 0 {
			return
		}

		st := o.State()
		leg := execution.Leg{
			Side:       o.Side,
			Type:       o.Type,
			Quantity:   qty,
			LimitPrice: st.LimitPrice,
			RollUp:     true,
			Routing:    models.ExecSingleBroker,
			Broker:     broker,
		}
		res, err := s.runLeg(ctx, o, leg)
		if err != nil {
			s.logger.Warn("iceberg slice routing failed", utils.OrderID(o.ID), utils.Int("slice", i), utils.Err(err))
			s.rejectOnError(o, err)
			return
		}
		if res.Accepted == 0 {
			s.logger.Warn("iceberg slice not accepted, stopping", utils.OrderID(o.ID), utils.Int("slice", i), utils.Err(res.LastErr))
			return
		}

		e.mu.Lock()
		e.data.released += qty
		e.data.add(res.Filled)
		e.mu.Unlock()

		s.logger.Debug("iceberg slice released",
			utils.OrderID(o.ID),
			utils.Int("slice", i),
			utils.Quantity(qty),
			utils.Int64("filled", res.Filled),
		)

		select {
		case <-done:
		case <-ctx.Done():
			return
		}
	}
}

// OnFill засчитывает асинхронное исполнение видимому срезу
func (s *Iceberg) OnFill(_ context.Context, orderID string, fill models.Fill) {
	e, ok := s.get(orderID)
	if !ok {
		return
	}
	e.mu.Lock()
	e.data.add(fill.Quantity)
	e.mu.Unlock()
}

func (s *Iceberg) OnPriceUpdate(_ context.Context, orderID string, _ models.Tick) bool {
	e, ok := s.get(orderID)
	return !ok || s.closed(e)
}

// Modify меняет видимый объём следующих срезов
func (s *Iceberg) Modify(ctx context.Context, orderID string, req models.ModifyRequest) (*models.OrderResponse, error) {
	e, ok := s.get(orderID)
	if !ok {
		return s.base.Modify(ctx, orderID, req)
	}
	if req.DisplayQuantity < 0 {
		return e.order.Response(), models.NewValidationError("display_quantity must not be negative")
	}
	if _, err := s.modifyOrder(e.order, req); err != nil {
		return e.order.Response(), err
	}
	if req.DisplayQuantity > 0 {
		e.mu.Lock()
		e.data.display = req.DisplayQuantity
		e.mu.Unlock()
	}
	return e.order.Response(), nil
}
