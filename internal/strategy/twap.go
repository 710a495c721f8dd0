package strategy

import (
	"context"
	"time"

	"orderexec/internal/execution"
	"orderexec/internal/models"
	"orderexec/pkg/utils"
)

// Compile-time interface check
var _ Strategy = (*TWAP)(nil)

// schedule - расписание TWAP
type schedule struct {
	slices   []int64
	interval time.Duration
	broker   string
}

// TWAPSlices делит объём на n равных частей, остаток - последней части.
// Частей не больше, чем единиц объёма.
func TWAPSlices(qty int64, n int) []int64 {
	if qty <= 0 {
		return nil
	}
	if n <= 0 {
		n = 1
	}
	if int64(n) > qty {
		n = int(qty)
	}
	size := qty / int64(n)
	out := make([]int64, n)
	for i := range out {
		out[i] = size
	}
	out[n-1] += qty - size*int64(n)
	return out
}

// TWAP исполняет ордер равными частями через равные интервалы
// внутри собственной задачи ордера
type TWAP struct {
	base[schedule]
}

// NewTWAP создаёт стратегию TWAP
func NewTWAP(env Env) *TWAP {
	return &TWAP{base: newBase[schedule](models.StrategyTWAP, env)}
}

func (s *TWAP) Validate(req models.OrderRequest) models.ValidationResult {
	var errs []string
	if req.Slices < 0 {
		errs = append(errs, "slices must not be negative")
	}
	if limit := s.env.Config.MaxSlices; limit > 0 && req.Slices > limit {
		errs = append(errs, "slices exceed the configured maximum")
	}
	if req.Horizon < 0 {
		errs = append(errs, "horizon must not be negative")
	}
	if req.OrderType != models.OrderTypeMarket && req.OrderType != models.OrderTypeLimit {
		errs = append(errs, "twap orders must be MARKET or LIMIT")
	}
	if len(errs) > 0 {
		return models.Invalid(errs...)
	}
	return models.Valid()
}

func (s *TWAP) Execute(_ context.Context, o *models.Order, req models.OrderRequest) (*models.OrderResponse, error) {
	n := req.Slices
	if n == 0 {
		n = s.env.Config.TWAPSlices
	}
	horizon := req.Horizon
	if horizon == 0 {
		horizon = s.env.Config.TWAPHorizon
	}
	slices := TWAPSlices(req.Quantity, n)
	sch := schedule{
		slices:   slices,
		interval: horizon / time.Duration(len(slices)),
		broker:   req.BrokerName,
	}
	e := s.track(o, sch)

	s.logger.Info("twap scheduled",
		utils.OrderID(o.ID),
		utils.Int("slices", len(slices)),
		utils.Duration("interval", sch.interval),
	)
	s.env.Host.Go(o.ID, func(ctx context.Context) {
		s.work(ctx, e)
		s.finish(o)
	})
	return o.Response(), nil
}

func (s *TWAP) work(ctx context.Context, e *tracked[schedule]) {
	o := e.order
	sch := e.data

	for i, qty := range sch.slices {
		if i > 0 {
			timer := time.NewTimer(sch.interval)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return
			}
		}
		if s.closed(e) || ctx.Err() != nil {
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
			Broker:     sch.broker,
		}
		res, err := s.runLeg(ctx, o, leg)
		if err != nil {
			// Отказ маршрутизации одной части не останавливает расписание,
			// пока родитель не стал финальным
			s.logger.Warn("twap slice routing failed", utils.OrderID(o.ID), utils.Int("slice", i), utils.Err(err))
			s.rejectOnError(o, err)
			continue
		}
		s.logger.Debug("twap slice executed",
			utils.OrderID(o.ID),
			utils.Int("slice", i),
			utils.Quantity(qty),
			utils.Int64("accepted", res.Accepted),
		)
	}
}

func (s *TWAP) OnPriceUpdate(_ context.Context, orderID string, _ models.Tick) bool {
	e, ok := s.get(orderID)
	return !ok || s.closed(e)
}
