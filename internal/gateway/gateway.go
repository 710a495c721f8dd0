// Package gateway - единая точка вызовов брокеров.
//
// Каждый вызов проходит лимитер частоты, семафор конкурентности,
// таймаут и предохранитель (gobreaker) своего брокера. Результаты вызовов
// возвращаются в книгу брокеров и применяются к ордеру через lifecycle.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"orderexec/internal/broker"
	"orderexec/internal/lifecycle"
	"orderexec/internal/metrics"
	"orderexec/internal/models"
	"orderexec/pkg/ratelimit"
	"orderexec/pkg/retry"
	"orderexec/pkg/utils"
)

// Операции брокера (метки метрик)
const (
	opSubmit = "submit"
	opModify = "modify"
	opCancel = "cancel"
)

var errEmptyBrokerOrderID = errors.New("broker returned empty order id")

// Config - параметры шлюза
type Config struct {
	CallTimeout   time.Duration // таймаут одного вызова (default: 2s)
	MaxConcurrent int           // одновременных вызовов на брокера (default: 8)

	BreakerFailures  uint32        // ошибок подряд до размыкания (default: 5)
	BreakerTimeout   time.Duration // время в OPEN до HALF_OPEN (default: 30s)
	BreakerInterval  time.Duration // сброс счётчиков в CLOSED (default: 60s)
	HalfOpenRequests uint32        // пробных вызовов в HALF_OPEN (default: 1)

	CancelRetry retry.Config
}

// DefaultConfig возвращает параметры по умолчанию
func DefaultConfig() Config {
	return Config{
		CallTimeout:      2 * time.Second,
		MaxConcurrent:    8,
		BreakerFailures:  5,
		BreakerTimeout:   30 * time.Second,
		BreakerInterval:  60 * time.Second,
		HalfOpenRequests: 1,
		CancelRetry:      retry.CancelConfig(),
	}
}

// Book - счётчики качества брокеров, которые обновляет шлюз
type Book interface {
	RecordSuccess(name string, latency time.Duration)
	RecordFailure(name string)
	Acquire(name string)
	Release(name string)
}

// conn - брокер с собственным предохранителем и семафором
type conn struct {
	client  broker.Client
	breaker *gobreaker.CircuitBreaker
	sem     chan struct{}
}

// Gateway вызывает брокеров
type Gateway struct {
	cfg     Config
	machine *lifecycle.Machine
	book    Book
	limits  *ratelimit.Set
	logger  *utils.Logger

	mu    sync.RWMutex
	conns map[string]*conn
}

// New создаёт шлюз. limits может быть nil (без ограничения частоты).
func New(cfg Config, machine *lifecycle.Machine, book Book, limits *ratelimit.Set, logger *utils.Logger) *Gateway {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultConfig().CallTimeout
	}
	if limits == nil {
		limits = ratelimit.NewSet()
	}
	return &Gateway{
		cfg:     cfg,
		machine: machine,
		book:    book,
		limits:  limits,
		logger:  logger.WithComponent("gateway"),
		conns:   make(map[string]*conn),
	}
}

// Register подключает брокера
func (g *Gateway) Register(client broker.Client) {
	name := client.Name()
	failures := g.cfg.BreakerFailures
	if failures == 0 {
		failures = 1
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: g.cfg.HalfOpenRequests,
		Interval:    g.cfg.BreakerInterval,
		Timeout:     g.cfg.BreakerTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.SetBreakerState(name, int(to))
			g.logger.Warn("circuit breaker state changed",
				utils.Broker(name),
				utils.String("from", from.String()),
				utils.String("to", to.String()),
			)
		},
		IsSuccessful: isBreakerSuccess,
	}

	g.mu.Lock()
	g.conns[name] = &conn{
		client:  client,
		breaker: gobreaker.NewCircuitBreaker(settings),
		sem:     make(chan struct{}, g.cfg.MaxConcurrent),
	}
	g.mu.Unlock()

	metrics.SetBreakerState(name, int(gobreaker.StateClosed))
	g.logger.Info("broker registered", utils.Broker(name))
}

// isBrokerRejection - брокер получил запрос и отказал по существу
func isBrokerRejection(err error) bool {
	var be *broker.Error
	return errors.As(err, &be) && be.Code == broker.CodeRejected
}

// isBreakerSuccess - бизнес-отказ брокера и отмена вызывающим не размыкают предохранитель
func isBreakerSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var be *broker.Error
	if errors.As(err, &be) {
		return be.Code == broker.CodeRejected || be.Code == broker.CodeUnknownOrder
	}
	return false
}

func (g *Gateway) conn(name string) (*conn, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.conns[name]
	return c, ok
}

// Names возвращает имена подключённых брокеров
func (g *Gateway) Names() []string {
	g.mu.RLock()
	names := make([]string, 0, len(g.conns))
	for name := range g.conns {
		names = append(names, name)
	}
	g.mu.RUnlock()
	sort.Strings(names)
	return names
}

// BreakerStates возвращает состояние предохранителей по брокерам
func (g *Gateway) BreakerStates() map[string]string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]string, len(g.conns))
	for name, c := range g.conns {
		out[name] = c.breaker.State().String()
	}
	return out
}

// call выполняет один вызов брокера со всеми ограничениями.
// Ошибка всегда *models.ExecError класса ServiceUnavailable.
func (g *Gateway) call(ctx context.Context, name, op string, fn func(ctx context.Context, c broker.Client) (broker.Ack, error)) (broker.Ack, error) {
	c, ok := g.conn(name)
	if !ok {
		return broker.Ack{}, models.ServiceUnavailable(models.CodeNotConfigured, "broker "+name+" is not configured", nil)
	}

	if err := g.limits.Wait(ctx, name); err != nil {
		return broker.Ack{}, g.classify(name, op, err)
	}

	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return broker.Ack{}, g.classify(name, op, ctx.Err())
	}

	g.book.Acquire(name)
	defer g.book.Release(name)

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	res, err := c.breaker.Execute(func() (interface{}, error) {
		ack, err := fn(callCtx, c.client)
		if err != nil {
			return nil, err
		}
		return ack, nil
	})
	latency := time.Since(start)
	latencyMs := float64(latency) / float64(time.Millisecond)

	if err != nil {
		execErr := g.classify(name, op, err)
		metrics.RecordBrokerCall(name, op, resultLabel(execErr), latencyMs)
		if execErr.Code != models.CodeCircuitBreakerOpen && !isBreakerSuccess(err) {
			g.book.RecordFailure(name)
		}
		g.logger.Warn("broker call failed",
			utils.Broker(name),
			utils.String("op", op),
			utils.Latency(latencyMs),
			utils.Err(err),
		)
		return broker.Ack{}, execErr
	}

	metrics.RecordBrokerCall(name, op, "ok", latencyMs)
	g.book.RecordSuccess(name, latency)
	return res.(broker.Ack), nil
}

// classify приводит ошибку вызова к ExecError
func (g *Gateway) classify(name, op string, err error) *models.ExecError {
	var execErr *models.ExecError
	if errors.As(err, &execErr) {
		return execErr
	}
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return models.ServiceUnavailable(models.CodeCircuitBreakerOpen, "circuit breaker open for broker "+name, err)
	case errors.Is(err, context.DeadlineExceeded):
		return models.ServiceUnavailable(models.CodeTimeout, fmt.Sprintf("broker %s %s timed out", name, op), err)
	case errors.Is(err, errEmptyBrokerOrderID):
		return models.ServiceUnavailable(models.CodeInvalidResponse, "broker "+name+" returned invalid response", err)
	case isBrokerRejection(err):
		return &models.ExecError{
			Kind:    models.KindOrderRejected,
			Message: fmt.Sprintf("broker %s rejected %s", name, op),
			Err:     err,
		}
	default:
		return models.ServiceUnavailable(models.CodeCallFailed, fmt.Sprintf("broker %s %s failed", name, op), err)
	}
}

func resultLabel(err *models.ExecError) string {
	switch {
	case err.Code == models.CodeCircuitBreakerOpen:
		return "breaker_open"
	case err.Code == models.CodeTimeout:
		return "timeout"
	case err.Kind == models.KindOrderRejected:
		return "rejected"
	default:
		return "error"
	}
}

// Submit отправляет PENDING ордер брокеру.
//
// При отказе ордер переводится в REJECTED с причиной. Вызывающему
// возвращается OrderRejected, если брокер отказал по существу, иначе
// ServiceUnavailable. При успехе ордер подтверждается,
// немедленное исполнение применяется сразу.
func (g *Gateway) Submit(ctx context.Context, brokerName string, o *models.Order) (broker.Ack, error) {
	req := broker.RequestFromOrder(o)

	ack, err := g.call(ctx, brokerName, opSubmit, func(ctx context.Context, c broker.Client) (broker.Ack, error) {
		ack, err := c.SubmitOrder(ctx, req)
		if err != nil {
			return broker.Ack{}, err
		}
		if ack.BrokerOrderID == "" {
			return broker.Ack{}, errEmptyBrokerOrderID
		}
		return ack, nil
	})
	if err != nil {
		if _, rejErr := g.machine.Reject(o, err.Error()); rejErr != nil {
			g.logger.Debug("reject after failed submit skipped", utils.OrderID(o.ID), utils.Err(rejErr))
		}
		return broker.Ack{}, err
	}

	fill := models.Fill{Quantity: ack.FilledQty, Price: ack.AvgPrice, Time: time.Now()}
	if _, err := g.machine.Acknowledge(o, brokerName, ack.BrokerOrderID, fill); err != nil {
		// Ордер отменили, пока шёл вызов: брокерский ордер остаётся на сверку
		g.logger.Warn("acknowledge after submit failed",
			utils.OrderID(o.ID),
			utils.Broker(brokerName),
			utils.String("broker_order_id", ack.BrokerOrderID),
			utils.Err(err),
		)
		return ack, err
	}
	return ack, nil
}

// Modify меняет ордер у брокера (если он уже отправлен) и затем локально
func (g *Gateway) Modify(ctx context.Context, o *models.Order, req models.ModifyRequest) (models.OrderState, error) {
	st := o.State()
	if !lifecycle.IsModifiable(st.Status) {
		return st, models.OrderRejected("order %s cannot be modified in status %s", o.ID, st.Status)
	}

	if st.BrokerOrderID != "" {
		sub := broker.SubmitRequest{
			ClientOrderID: o.ID,
			Symbol:        o.Symbol,
			Side:          o.Side,
			Type:          o.Type,
			Quantity:      req.Quantity,
			LimitPrice:    req.LimitPrice,
			StopPrice:     req.StopPrice,
			TimeInForce:   o.TimeInForce,
		}
		_, err := g.call(ctx, st.BrokerName, opModify, func(ctx context.Context, c broker.Client) (broker.Ack, error) {
			return c.ModifyOrder(ctx, st.BrokerOrderID, sub)
		})
		if err != nil {
			return st, err
		}
	}
	return g.machine.Modify(o, req)
}

// Cancel отменяет ордер у брокера с повторами, затем локально.
//
// Если брокер так и не подтвердил отмену, ордер всё равно становится
// CANCELLED; расхождение логируется и учитывается для сверки.
func (g *Gateway) Cancel(ctx context.Context, o *models.Order, reason string) (models.OrderState, error) {
	st := o.State()
	if !lifecycle.IsCancellable(st.Status) {
		return st, models.OrderRejected("order %s cannot be cancelled in status %s", o.ID, st.Status)
	}

	if st.BrokerOrderID != "" && st.BrokerName != "" {
		cfg := g.cfg.CancelRetry
		cfg.RetryIf = cancelRetryable
		err := retry.Do(ctx, cfg, func(ctx context.Context) error {
			_, err := g.call(ctx, st.BrokerName, opCancel, func(ctx context.Context, c broker.Client) (broker.Ack, error) {
				return broker.Ack{}, c.CancelOrder(ctx, st.BrokerOrderID)
			})
			return err
		})
		if err != nil {
			metrics.RecordCancelReconciliation(st.BrokerName)
			g.logger.Error("broker cancel failed, cancelling locally",
				utils.OrderID(o.ID),
				utils.Broker(st.BrokerName),
				utils.String("broker_order_id", st.BrokerOrderID),
				utils.Err(err),
			)
		}
	}

	return g.machine.Cancel(o, reason)
}

// cancelRetryable - повторяем таймауты и сетевые сбои, но не отказы брокера
// и не разомкнутый предохранитель
func cancelRetryable(err error) bool {
	var be *broker.Error
	if errors.As(err, &be) {
		return be.Retryable()
	}
	var execErr *models.ExecError
	if errors.As(err, &execErr) {
		return execErr.Recoverable()
	}
	return retry.IsRetryable(err)
}
