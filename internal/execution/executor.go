package execution

import (
	"context"

	"orderexec/internal/models"
	"orderexec/internal/routing"
)

// Router - построение решения маршрутизации (routing.Router)
type Router interface {
	Route(req routing.Request) (models.RoutingDecision, routing.Sequence, error)
}

// Plan - принятое решение и последовательность для его исполнения
type Plan struct {
	Decision models.RoutingDecision
	Sequence routing.Sequence
}

// Background - способ исполнения идёт шагами с паузами
// и должен выполняться в собственной задаче ордера
func (p Plan) Background() bool {
	switch p.Decision.Strategy {
	case models.ExecSingleBroker, models.ExecMultiBrokerSplit:
		return false
	default:
		return true
	}
}

// Executor связывает роутер и исполнителя последовательностей
type Executor struct {
	router Router
	runner *Runner
}

// NewExecutor создаёт исполнителя
func NewExecutor(router Router, runner *Runner) *Executor {
	return &Executor{router: router, runner: runner}
}

// Plan принимает решение маршрутизации для ноги ордера
func (e *Executor) Plan(orderID, symbol string, leg Leg) (Plan, error) {
	decision, seq, err := e.router.Route(routing.Request{
		OrderID:    orderID,
		Symbol:     symbol,
		Side:       leg.Side,
		Type:       leg.Type,
		Quantity:   leg.Quantity,
		LimitPrice: leg.LimitPrice,
		Routing:    leg.Routing,
		Broker:     leg.Broker,
	})
	if err != nil {
		return Plan{}, err
	}
	return Plan{Decision: decision, Sequence: seq}, nil
}

// Run исполняет ранее построенный план от имени parent
func (e *Executor) Run(ctx context.Context, parent *models.Order, plan Plan, leg Leg) Result {
	res := e.runner.Run(ctx, parent, plan.Sequence, leg)
	res.Decision = plan.Decision
	return res
}

// Execute - Plan и Run одним вызовом
func (e *Executor) Execute(ctx context.Context, parent *models.Order, leg Leg) (Result, error) {
	plan, err := e.Plan(parent.ID, parent.Symbol, leg)
	if err != nil {
		return Result{}, err
	}
	return e.Run(ctx, parent, plan, leg), nil
}
