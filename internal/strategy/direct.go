package strategy

import (
	"context"

	"orderexec/internal/execution"
	"orderexec/internal/lifecycle"
	"orderexec/internal/models"
	"orderexec/pkg/utils"
)

// Compile-time interface check
var _ Strategy = (*Direct)(nil)

// Direct исполняет MARKET/LIMIT ордер без стратегии: сразу через роутер
type Direct struct {
	base[struct{}]
}

// NewDirect создаёт прямое исполнение
func NewDirect(env Env) *Direct {
	return &Direct{base: newBase[struct{}](models.StrategyNone, env)}
}

func (d *Direct) Validate(req models.OrderRequest) models.ValidationResult {
	if req.OrderType != models.OrderTypeMarket && req.OrderType != models.OrderTypeLimit {
		return models.Invalid("direct orders must be MARKET or LIMIT")
	}
	return models.Valid()
}

func (d *Direct) Execute(ctx context.Context, o *models.Order, req models.OrderRequest) (*models.OrderResponse, error) {
	d.track(o, struct{}{})
	leg := execution.Leg{
		Side:       o.Side,
		Type:       o.Type,
		Quantity:   req.Quantity,
		LimitPrice: req.LimitPrice,
		RollUp:     true,
		Routing:    req.Routing,
		Broker:     req.BrokerName,
	}
	err := d.route(ctx, o, leg, func(_ context.Context, res execution.Result) {
		d.logger.Debug("direct order routed",
			utils.OrderID(o.ID),
			utils.Routing(string(res.Decision.Strategy)),
			utils.Int64("accepted", res.Accepted),
			utils.Int64("filled", res.Filled),
		)
		d.finish(o)
	})
	if err != nil {
		d.rejectOnError(o, err)
		d.finish(o)
		return o.Response(), err
	}
	return o.Response(), nil
}

// OnPriceUpdate - прямые ордера от тиков не зависят
func (d *Direct) OnPriceUpdate(context.Context, string, models.Tick) bool {
	return false
}

// Modify меняет единственный рабочий дочерний ордер у брокера, затем родителя.
// Ордер, разбитый на несколько детей, по объёму не меняется.
func (d *Direct) Modify(ctx context.Context, orderID string, req models.ModifyRequest) (*models.OrderResponse, error) {
	o, ok := d.lookup(orderID)
	if !ok {
		return nil, models.OrderNotFound(orderID)
	}
	st := o.State()
	if !lifecycle.IsModifiable(st.Status) {
		return o.Response(), models.OrderRejected("order %s cannot be modified in status %s", o.ID, st.Status)
	}

	children := d.env.Host.Children(o.ID)
	if len(children) > 1 && req.Quantity > 0 {
		return o.Response(), models.OrderRejected("order %s is split across %d child orders, quantity cannot be modified", o.ID, len(children))
	}
	for _, child := range children {
		childReq := models.ModifyRequest{LimitPrice: req.LimitPrice, StopPrice: req.StopPrice}
		if req.Quantity > 0 {
			// Исполненное другими детьми остаётся за родителем
			done := st.FilledQuantity - child.State().FilledQuantity
			childReq.Quantity = req.Quantity - done
		}
		if childReq.IsEmpty() {
			continue
		}
		if _, err := d.env.Gateway.Modify(ctx, child, childReq); err != nil {
			return o.Response(), err
		}
	}

	if _, err := d.modifyOrder(o, req); err != nil {
		return o.Response(), err
	}
	return o.Response(), nil
}
