package broker

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"orderexec/internal/models"
)

// Compile-time interface check
var _ Client = (*Paper)(nil)

// PriceSource - последняя цена символа для бумажных исполнений
type PriceSource interface {
	LastPrice(symbol string) (float64, bool)
}

// PaperConfig - параметры бумажного брокера
type PaperConfig struct {
	// FillRatio - доля объёма, исполняемая сразу (0 = только подтверждение, 1 = полностью)
	FillRatio float64 `yaml:"fill_ratio"`
	// DefaultPrice используется, если цена неизвестна
	DefaultPrice float64 `yaml:"default_price"`
}

type paperOrder struct {
	req       SubmitRequest
	filled    int64
	cancelled bool
}

// Paper - брокер в памяти: подтверждает и исполняет ордера без сети.
// Поддерживает внедрение ошибок для проверки деградации.
type Paper struct {
	name   string
	cfg    PaperConfig
	prices PriceSource

	mu      sync.Mutex
	orders  map[string]*paperOrder
	failErr error
	failN   int
	calls   int
}

// NewPaper создаёт бумажного брокера. prices может быть nil.
func NewPaper(name string, cfg PaperConfig, prices PriceSource) *Paper {
	return &Paper{
		name:   name,
		cfg:    cfg,
		prices: prices,
		orders: make(map[string]*paperOrder),
	}
}

func (p *Paper) Name() string { return p.name }

// FailNext заставляет следующие n вызовов вернуть err (n < 0 - до сброса)
func (p *Paper) FailNext(n int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failN = n
	p.failErr = err
}

// Calls возвращает число обращений к брокеру
func (p *Paper) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// injected возвращает внедрённую ошибку; вызывается под мьютексом
func (p *Paper) injected() error {
	p.calls++
	if p.failN == 0 || p.failErr == nil {
		return nil
	}
	if p.failN > 0 {
		p.failN--
	}
	return &Error{Broker: p.name, Code: CodeInjected, Message: p.failErr.Error(), Original: p.failErr}
}

func (p *Paper) price(req SubmitRequest) float64 {
	if req.Type == models.OrderTypeLimit && req.LimitPrice > 0 {
		return req.LimitPrice
	}
	if p.prices != nil {
		if px, ok := p.prices.LastPrice(req.Symbol); ok {
			return px
		}
	}
	if req.LimitPrice > 0 {
		return req.LimitPrice
	}
	return p.cfg.DefaultPrice
}

func (p *Paper) fill(o *paperOrder) Ack {
	ack := Ack{Status: AckAccepted}
	qty := int64(float64(o.req.Quantity) * p.cfg.FillRatio)
	if qty > o.req.Quantity {
		qty = o.req.Quantity
	}
	if qty > o.filled {
		o.filled = qty
	}
	if o.filled > 0 {
		ack.FilledQty = o.filled
		ack.AvgPrice = p.price(o.req)
		ack.Status = AckPartial
		if o.filled == o.req.Quantity {
			ack.Status = AckFilled
		}
	}
	return ack
}

// SubmitOrder подтверждает ордер и исполняет долю FillRatio
func (p *Paper) SubmitOrder(ctx context.Context, req SubmitRequest) (Ack, error) {
	if err := ctx.Err(); err != nil {
		return Ack{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.injected(); err != nil {
		return Ack{}, err
	}
	if req.Quantity <= 0 {
		return Ack{}, &Error{Broker: p.name, Code: CodeRejected, Message: "quantity must be positive"}
	}

	id := "paper-" + uuid.NewString()
	o := &paperOrder{req: req}
	p.orders[id] = o

	ack := p.fill(o)
	ack.BrokerOrderID = id
	return ack, nil
}

// ModifyOrder меняет параметры неисполненного ордера
func (p *Paper) ModifyOrder(ctx context.Context, brokerOrderID string, req SubmitRequest) (Ack, error) {
	if err := ctx.Err(); err != nil {
		return Ack{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.injected(); err != nil {
		return Ack{}, err
	}
	o, ok := p.orders[brokerOrderID]
	if !ok || o.cancelled {
		return Ack{}, &Error{Broker: p.name, Code: CodeUnknownOrder, Message: "order " + brokerOrderID + " not found"}
	}
	if req.Quantity > 0 {
		o.req.Quantity = req.Quantity
	}
	if req.LimitPrice > 0 {
		o.req.LimitPrice = req.LimitPrice
	}
	if req.StopPrice > 0 {
		o.req.StopPrice = req.StopPrice
	}

	ack := p.fill(o)
	ack.BrokerOrderID = brokerOrderID
	return ack, nil
}

// CancelOrder помечает ордер отменённым
func (p *Paper) CancelOrder(ctx context.Context, brokerOrderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.injected(); err != nil {
		return err
	}
	o, ok := p.orders[brokerOrderID]
	if !ok {
		return &Error{Broker: p.name, Code: CodeUnknownOrder, Message: "order " + brokerOrderID + " not found"}
	}
	o.cancelled = true
	return nil
}
