package broker

import (
	"context"
	"errors"
	"strconv"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"orderexec/internal/models"
)

// Compile-time interface check
var _ Client = (*Alpaca)(nil)

// alpacaAPI - используемая часть клиента alpaca (подменяется в тестах)
type alpacaAPI interface {
	PlaceOrder(req alpaca.PlaceOrderRequest) (*alpaca.Order, error)
	ReplaceOrder(orderID string, req alpaca.ReplaceOrderRequest) (*alpaca.Order, error)
	CancelOrder(orderID string) error
}

// AlpacaConfig - учётные данные и адрес API
type AlpacaConfig struct {
	APIKey    string
	APISecret string
	BaseURL   string // https://paper-api.alpaca.markets для песочницы
}

// Alpaca реализует Client поверх alpaca-trade-api-go
type Alpaca struct {
	name   string
	client alpacaAPI
}

// NewAlpaca создаёт адаптер Alpaca
func NewAlpaca(name string, cfg AlpacaConfig) *Alpaca {
	return &Alpaca{
		name: name,
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
			BaseURL:   cfg.BaseURL,
		}),
	}
}

func (a *Alpaca) Name() string { return a.name }

// call выполняет синхронный вызов SDK с учётом отмены контекста.
// SDK не принимает context, поэтому вызов идёт в отдельной горутине.
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func decimalPtr(v float64) *decimal.Decimal {
	if v <= 0 {
		return nil
	}
	d := decimal.NewFromFloat(v)
	return &d
}

func alpacaSide(s models.Side) alpaca.Side {
	if s == models.SideSell {
		return alpaca.Sell
	}
	return alpaca.Buy
}

func alpacaType(t models.OrderType) alpaca.OrderType {
	switch t {
	case models.OrderTypeLimit:
		return alpaca.Limit
	case models.OrderTypeStop, models.OrderTypeStopLoss:
		return alpaca.Stop
	case models.OrderTypeStopLimit:
		return alpaca.StopLimit
	default:
		return alpaca.Market
	}
}

func alpacaTIF(tif models.TimeInForce) alpaca.TimeInForce {
	switch tif {
	case models.TIFGTC, models.TIFGTD:
		return alpaca.GTC
	case models.TIFIOC:
		return alpaca.IOC
	case models.TIFFOK:
		return alpaca.FOK
	default:
		return alpaca.Day
	}
}

func (a *Alpaca) ack(o *alpaca.Order) (Ack, error) {
	if o == nil {
		return Ack{}, &Error{Broker: a.name, Code: CodeDecode, Message: "empty order in response"}
	}
	ack := Ack{
		BrokerOrderID: o.ID,
		FilledQty:     o.FilledQty.IntPart(),
		Status:        AckAccepted,
	}
	if o.FilledAvgPrice != nil {
		ack.AvgPrice, _ = o.FilledAvgPrice.Float64()
	}
	switch {
	case o.Status == "filled":
		ack.Status = AckFilled
	case ack.FilledQty > 0:
		ack.Status = AckPartial
	}
	return ack, nil
}

func (a *Alpaca) wrap(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		code := CodeRejected
		if apiErr.StatusCode == 404 {
			code = CodeUnknownOrder
		}
		return &Error{Broker: a.name, Code: code, Message: strconv.Itoa(apiErr.StatusCode) + " " + apiErr.Message, Original: err}
	}
	return &Error{Broker: a.name, Code: CodeTransport, Message: err.Error(), Original: err}
}

func (a *Alpaca) SubmitOrder(ctx context.Context, req SubmitRequest) (Ack, error) {
	qty := decimal.NewFromInt(req.Quantity)
	o, err := call(ctx, func() (*alpaca.Order, error) {
		return a.client.PlaceOrder(alpaca.PlaceOrderRequest{
			Symbol:        req.Symbol,
			Qty:           &qty,
			Side:          alpacaSide(req.Side),
			Type:          alpacaType(req.Type),
			TimeInForce:   alpacaTIF(req.TimeInForce),
			LimitPrice:    decimalPtr(req.LimitPrice),
			StopPrice:     decimalPtr(req.StopPrice),
			ClientOrderID: req.ClientOrderID,
		})
	})
	if err != nil {
		return Ack{}, a.wrap(err)
	}
	return a.ack(o)
}

func (a *Alpaca) ModifyOrder(ctx context.Context, brokerOrderID string, req SubmitRequest) (Ack, error) {
	var qty *decimal.Decimal
	if req.Quantity > 0 {
		q := decimal.NewFromInt(req.Quantity)
		qty = &q
	}
	o, err := call(ctx, func() (*alpaca.Order, error) {
		return a.client.ReplaceOrder(brokerOrderID, alpaca.ReplaceOrderRequest{
			Qty:        qty,
			LimitPrice: decimalPtr(req.LimitPrice),
			StopPrice:  decimalPtr(req.StopPrice),
		})
	})
	if err != nil {
		return Ack{}, a.wrap(err)
	}
	return a.ack(o)
}

func (a *Alpaca) CancelOrder(ctx context.Context, brokerOrderID string) error {
	_, err := call(ctx, func() (struct{}, error) {
		return struct{}{}, a.client.CancelOrder(brokerOrderID)
	})
	return a.wrap(err)
}
