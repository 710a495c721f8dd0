// Package broker описывает единый интерфейс брокера и его адаптеры.
package broker

import (
	"context"

	"orderexec/internal/models"
)

// Client определяет унифицированный интерфейс любого брокера
//
// Вызовы не содержат собственных таймаутов и повторов:
// таймаут, предохранитель и лимиты накладывает gateway.
type Client interface {
	// Name возвращает имя брокера
	Name() string

	// SubmitOrder отправляет ордер брокеру
	SubmitOrder(ctx context.Context, req SubmitRequest) (Ack, error)

	// ModifyOrder меняет параметры выставленного ордера
	ModifyOrder(ctx context.Context, brokerOrderID string, req SubmitRequest) (Ack, error)

	// CancelOrder отменяет ордер у брокера
	CancelOrder(ctx context.Context, brokerOrderID string) error
}

// SubmitRequest - параметры ордера для брокера
type SubmitRequest struct {
	ClientOrderID string             `json:"client_order_id"`
	Symbol        string             `json:"symbol"`
	Side          models.Side        `json:"side"`
	Type          models.OrderType   `json:"type"`
	Quantity      int64              `json:"quantity"`
	LimitPrice    float64            `json:"limit_price,omitempty"`
	StopPrice     float64            `json:"stop_price,omitempty"`
	TimeInForce   models.TimeInForce `json:"time_in_force,omitempty"`
}

// RequestFromOrder собирает запрос к брокеру из ордера
func RequestFromOrder(o *models.Order) SubmitRequest {
	s := o.State()
	return SubmitRequest{
		ClientOrderID: o.ID,
		Symbol:        o.Symbol,
		Side:          o.Side,
		Type:          o.Type,
		Quantity:      s.Remaining(),
		LimitPrice:    s.LimitPrice,
		StopPrice:     s.StopPrice,
		TimeInForce:   o.TimeInForce,
	}
}

// Ack - подтверждение брокера, возможно с немедленным исполнением
type Ack struct {
	BrokerOrderID string  `json:"order_id"`
	FilledQty     int64   `json:"filled_qty"`
	AvgPrice      float64 `json:"avg_price"`
	Status        string  `json:"status"`
}

// Статусы подтверждения
const (
	AckAccepted = "accepted"
	AckPartial  = "partial"
	AckFilled   = "filled"
)

// Error представляет ошибку от брокера
type Error struct {
	Broker   string
	Code     string
	Message  string
	Original error
}

func (e *Error) Error() string {
	return e.Broker + ": " + e.Message
}

// Unwrap возвращает оригинальную ошибку для поддержки errors.Is() и errors.As()
func (e *Error) Unwrap() error {
	return e.Original
}

// Retryable - повторять имеет смысл только сетевые сбои
func (e *Error) Retryable() bool {
	return e.Code == CodeTransport
}

// Коды ошибок адаптеров
const (
	CodeRejected     = "rejected"
	CodeUnknownOrder = "unknown_order"
	CodeTransport    = "transport"
	CodeDecode       = "decode"
	CodeInjected     = "injected"
)
