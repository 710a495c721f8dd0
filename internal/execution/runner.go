// Package execution исполняет решения маршрутизации: создаёт дочерние ордера,
// отправляет их через шлюз и сворачивает исполнения в родительский ордер.
package execution

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"orderexec/internal/broker"
	"orderexec/internal/lifecycle"
	"orderexec/internal/metrics"
	"orderexec/internal/models"
	"orderexec/internal/routing"
	"orderexec/pkg/utils"
)

// Submitter отправляет ордер конкретному брокеру (gateway.Gateway)
type Submitter interface {
	Submit(ctx context.Context, brokerName string, o *models.Order) (broker.Ack, error)
}

// Tracker получает каждый созданный дочерний ордер до его отправки.
// Нужен, чтобы асинхронные отчёты об исполнении находили ордер.
type Tracker interface {
	Track(child *models.Order, rollUp bool)
}

// Leg - что именно исполняется от имени родительского ордера
type Leg struct {
	Side       models.Side
	Type       models.OrderType
	Quantity   int64
	LimitPrice float64
	// RollUp - исполнения детей засчитываются родителю
	RollUp  bool
	Routing models.ExecutionStrategy // явный способ маршрутизации
	Broker  string                   // предпочтительный брокер
}

// Result - итог прогона последовательности
type Result struct {
	Decision models.RoutingDecision
	Children []*models.Order
	Accepted int64 // объём, принятый брокерами
	Filled   int64 // объём, исполненный сразу
	Failed   int   // отклонённые дочерние отправки
	Halted   bool  // прогон прерван отменой контекста
	LastErr  error
}

// Runner исполняет шаги последовательности.
// Шаги идут строго друг за другом, дети одного шага - параллельно
// на ограниченном пуле горутин.
type Runner struct {
	gateway  Submitter
	machine  *lifecycle.Machine
	tracker  Tracker
	poolSize int
	newID    func() string
	now      func() time.Time
	logger   *utils.Logger
}

// NewRunner создаёт исполнителя. tracker может быть nil.
func NewRunner(gateway Submitter, machine *lifecycle.Machine, tracker Tracker, poolSize int, logger *utils.Logger) *Runner {
	if poolSize <= 0 {
		poolSize = 1
	}
	return &Runner{
		gateway:  gateway,
		machine:  machine,
		tracker:  tracker,
		poolSize: poolSize,
		newID:    uuid.NewString,
		now:      time.Now,
		logger:   logger.WithComponent("runner"),
	}
}

// Run прогоняет последовательность до исчерпания или отмены ctx.
//
// Отмена останавливает последовательность между шагами: уже отправленные
// дети остаются как есть, повторов и отката нет. Если ни один ребёнок не был
// принят, а родитель всё ещё PENDING, родитель отклоняется.
func (r *Runner) Run(ctx context.Context, parent *models.Order, seq routing.Sequence, leg Leg) Result {
	var res Result
	r.machine.Route(parent, seq.Strategy())
	log := r.logger.With(utils.OrderID(parent.ID), utils.Routing(string(seq.Strategy())))

	for {
		if ctx.Err() != nil {
			seq.Halt()
			res.Halted = true
			break
		}
		step, ok := seq.Next()
		if !ok {
			break
		}
		if step.Delay > 0 {
			timer := time.NewTimer(step.Delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				seq.Halt()
				res.Halted = true
			}
			if res.Halted {
				break
			}
		}

		outcomes := r.runStep(ctx, parent, step, seq.Strategy(), leg, &res)
		seq.Ack(outcomes)
	}

	if res.Accepted == 0 && parent.Status() == models.StatusPending && !res.Halted {
		reason := "no child order was accepted"
		if res.LastErr != nil {
			reason = res.LastErr.Error()
		}
		if _, err := r.machine.Reject(parent, reason); err != nil {
			log.Debug("parent reject skipped", utils.Err(err))
		}
	}

	log.Debug("sequence finished",
		utils.Int64("accepted", res.Accepted),
		utils.Int64("filled", res.Filled),
		utils.Int("failed", res.Failed),
		utils.Bool("halted", res.Halted),
	)
	return res
}

// runStep отправляет детей одного шага параллельно
func (r *Runner) runStep(ctx context.Context, parent *models.Order, step routing.Step, strategy models.ExecutionStrategy, leg Leg, res *Result) []routing.Outcome {
	outcomes := make([]routing.Outcome, len(step.Children))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.poolSize)

	for i, alloc := range step.Children {
		child := models.NewChildOrder(r.newID(), parent, leg.Type, leg.Side, alloc.Quantity, leg.LimitPrice, r.now())
		if r.tracker != nil {
			r.tracker.Track(child, leg.RollUp)
		}

		g.Go(func() error {
			ack, err := r.gateway.Submit(gctx, alloc.Broker, child)
			outcome := routing.Outcome{Broker: alloc.Broker}

			mu.Lock()
			res.Children = append(res.Children, child)
			if err != nil {
				outcome.Failed = true
				res.Failed++
				res.LastErr = err
			} else {
				outcome.Accepted = alloc.Quantity
				res.Accepted += alloc.Quantity
				res.Filled += utils.MinInt64(ack.FilledQty, alloc.Quantity)
			}
			mu.Unlock()

			outcomes[i] = outcome
			metrics.RecordChildExecution(string(strategy), err == nil)

			if err == nil {
				r.rollUp(parent, alloc.Broker, ack, leg.RollUp)
			}
			// Отказ одного ребёнка не отменяет остальных
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// rollUp подтверждает родителя при первом принятом ребёнке и переносит исполнение
func (r *Runner) rollUp(parent *models.Order, brokerName string, ack broker.Ack, fill bool) {
	if parent.Status() == models.StatusPending {
		// Параллельный ребёнок мог подтвердить родителя раньше
		_, _ = r.machine.Acknowledge(parent, brokerName, "", models.Fill{})
	}
	if !fill || ack.FilledQty <= 0 {
		return
	}
	if _, err := r.machine.ApplyFill(parent, models.Fill{Quantity: ack.FilledQty, Price: ack.AvgPrice, Time: r.now()}); err != nil {
		r.logger.Debug("parent fill skipped", utils.OrderID(parent.ID), utils.Err(err))
	}
}
