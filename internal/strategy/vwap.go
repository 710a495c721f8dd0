package strategy

import (
	"context"
	"math"

	"orderexec/internal/execution"
	"orderexec/internal/models"
	"orderexec/pkg/utils"
)

// Compile-time interface check
var _ Strategy = (*VWAP)(nil)

// participation - участие в объёме рынка
type participation struct {
	rate      float64
	volume    int64 // накопленный объём рынка
	submitted int64 // объём, уже отправленный детьми
	broker    string
}

// VWAPChild возвращает объём следующего ребёнка: цель floor(rate × V) минус
// уже отправленное. Ребёнок меньше minChild ждёт, если не завершает ордер.
func VWAPChild(rate float64, volume, submitted, total, minChild int64) int64 {
	target := int64(math.Floor(rate * float64(volume)))
	target = utils.MinInt64(target, total)
	child := target - submitted
	if child <= 0 {
		return 0
	}
	if child < minChild && submitted+child < total {
		return 0
	}
	return child
}

// VWAP следует за объёмом рынка: по каждому тику отправляет долю
// накопленного объёма, пока ордер не будет отправлен целиком
type VWAP struct {
	base[participation]
}

// NewVWAP создаёт стратегию VWAP
func NewVWAP(env Env) *VWAP {
	return &VWAP{base: newBase[participation](models.StrategyVWAP, env)}
}

func (s *VWAP) Validate(req models.OrderRequest) models.ValidationResult {
	var errs []string
	if req.ParticipationRate < 0 || req.ParticipationRate > 1 {
		errs = append(errs, "participation_rate must be within (0, 1]")
	}
	if req.OrderType != models.OrderTypeMarket && req.OrderType != models.OrderTypeLimit {
		errs = append(errs, "vwap orders must be MARKET or LIMIT")
	}
	if len(errs) > 0 {
		return models.Invalid(errs...)
	}
	return models.Valid()
}

func (s *VWAP) Execute(_ context.Context, o *models.Order, req models.OrderRequest) (*models.OrderResponse, error) {
	rate := req.ParticipationRate
	if rate == 0 {
		rate = s.env.Config.VWAPParticipation
	}
	s.track(o, participation{rate: rate, broker: req.BrokerName})
	s.logger.Info("vwap armed", utils.OrderID(o.ID), utils.Float64("participation_rate", rate))
	return o.Response(), nil
}

func (s *VWAP) OnPriceUpdate(_ context.Context, orderID string, tick models.Tick) bool {
	e, ok := s.get(orderID)
	if !ok {
		// Объём отправлен целиком: ордер остаётся активным, пока дети не завершатся
		o, known := s.env.Host.Lookup(orderID)
		return !known || o.Status().IsTerminal()
	}
	if s.closed(e) {
		s.finish(e.order)
		return true
	}
	if tick.Volume <= 0 {
		return false
	}

	o := e.order
	st := o.State()

	e.mu.Lock()
	e.data.volume += tick.Volume
	child := VWAPChild(e.data.rate, e.data.volume, e.data.submitted, st.Quantity, s.env.Config.VWAPMinChild)
	e.data.submitted += child
	complete := e.data.submitted >= st.Quantity
	broker := e.data.broker
	e.mu.Unlock()

	if child == 0 {
		return false
	}

	leg := execution.Leg{
		Side:       o.Side,
		Type:       o.Type,
		Quantity:   child,
		LimitPrice: st.LimitPrice,
		RollUp:     true,
		Routing:    models.ExecSingleBroker,
		Broker:     broker,
	}
	s.logger.Debug("vwap child",
		utils.OrderID(o.ID),
		utils.Quantity(child),
		utils.Int64("market_volume", tick.Volume),
	)
	s.env.Host.Go(o.ID, func(ctx context.Context) {
		if _, err := s.runLeg(ctx, o, leg); err != nil {
			s.logger.Warn("vwap child routing failed", utils.OrderID(o.ID), utils.Err(err))
			s.rejectOnError(o, err)
		}
		if complete {
			s.finish(o)
		}
	})
	return false
}

// Submitted возвращает объём, уже отправленный детьми
func (s *VWAP) Submitted(orderID string) int64 {
	e, ok := s.get(orderID)
	if !ok {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.data.submitted
}
