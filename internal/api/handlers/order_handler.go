package handlers

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"orderexec/internal/events"
	"orderexec/internal/models"
)

// OrderService - операции движка над ордерами (engine.Engine)
type OrderService interface {
	PlaceOrder(ctx context.Context, userID string, req models.OrderRequest) (*models.OrderResponse, error)
	CancelOrder(ctx context.Context, orderID string) (*models.OrderResponse, error)
	DisarmExits(ctx context.Context, orderID string) (*models.OrderResponse, error)
	ModifyOrder(ctx context.Context, orderID string, req models.ModifyRequest) (*models.OrderResponse, error)
	GetOrder(orderID string) (*models.OrderResponse, error)
	ActiveOrders() []*models.OrderResponse
	OnExecutionReport(ctx context.Context, rep models.ExecutionReport) error
}

// EventReader - история событий ордера (repository.EventRepository)
type EventReader interface {
	ByOrder(ctx context.Context, orderID string, limit int) ([]events.Event, error)
}

// userHeader - идентификатор пользователя, проставляемый шлюзом перед сервисом
const userHeader = "X-User-ID"

// maxBodySize - ограничение тела запроса
const maxBodySize = 64 << 10

// OrderHandler обрабатывает HTTP запросы по ордерам.
//
// Endpoints:
// - GET /api/v1/orders - активные ордера
// - POST /api/v1/orders - разместить ордер
// - GET /api/v1/orders/{id} - ордер по ID
// - PATCH /api/v1/orders/{id} - изменить активный ордер
// - DELETE /api/v1/orders/{id} - отменить ордер
// - GET /api/v1/orders/{id}/events?limit=N - история событий (при включенном журнале)
// - POST /api/v1/executions - отчёт брокера об исполнении
//
// Проверка полей запроса выполняется движком, ошибки движка
// отображаются в HTTP статус через StatusFor.
type OrderHandler struct {
	orders  OrderService
	journal EventReader
}

// NewOrderHandler создает OrderHandler. journal может быть nil.
func NewOrderHandler(orders OrderService, journal EventReader) *OrderHandler {
	return &OrderHandler{orders: orders, journal: journal}
}

// GetOrders возвращает активные (нефинальные) родительские ордера.
//
// GET /api/v1/orders
//
// Response 200 OK:
//
//	{
//	  "count": 1,
//	  "data": [
//	    {
//	      "order_id": "4f0c...",
//	      "symbol": "AAPL",
//	      "side": "BUY",
//	      "strategy": "ICEBERG",
//	      "status": "PARTIALLY_FILLED",
//	      "quantity": 60000,
//	      "filled_quantity": 20000
//	    }
//	  ]
//	}
func (h *OrderHandler) GetOrders(w http.ResponseWriter, r *http.Request) {
	if h.orders == nil {
		writeError(w, http.StatusInternalServerError, "order service not initialized", "")
		return
	}

	orders := h.orders.ActiveOrders()
	if orders == nil {
		orders = []*models.OrderResponse{}
	}
	writeJSON(w, http.StatusOK, ListResponse{Count: len(orders), Data: orders})
}

// GetOrder возвращает ордер по ID.
//
// GET /api/v1/orders/{id}
//
// Response 404 Not Found:
//
//	{"error": "order rejected: order abc not found", "code": "NOT_FOUND"}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	if h.orders == nil {
		writeError(w, http.StatusInternalServerError, "order service not initialized", "")
		return
	}

	resp, err := h.orders.GetOrder(mux.Vars(r)["id"])
	if err != nil {
		writeExecError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// PlaceOrder размещает ордер.
//
// POST /api/v1/orders
//
// Request body:
//
//	{
//	  "symbol": "AAPL",
//	  "side": "BUY",
//	  "order_type": "LIMIT",
//	  "quantity": 500,
//	  "limit_price": 189.5,
//	  "time_in_force": "DAY"
//	}
//
// Response 201 Created: ордер после размещения.
// Response 503 Service Unavailable: ордер отклонён, тело содержит ошибку,
// ордер доступен через GET /api/v1/orders/{id} в статусе REJECTED.
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	if h.orders == nil {
		writeError(w, http.StatusInternalServerError, "order service not initialized", "")
		return
	}

	var req models.OrderRequest
	if !decodeBody(w, r, &req) {
		return
	}

	userID := r.Header.Get(userHeader)
	if userID == "" {
		userID = "ops"
	}

	resp, err := h.orders.PlaceOrder(r.Context(), userID, req)
	if err != nil {
		writeExecError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// ModifyOrder изменяет параметры активного ордера.
//
// PATCH /api/v1/orders/{id}
//
// Request body: {"quantity": 800, "limit_price": 190.1}
func (h *OrderHandler) ModifyOrder(w http.ResponseWriter, r *http.Request) {
	if h.orders == nil {
		writeError(w, http.StatusInternalServerError, "order service not initialized", "")
		return
	}

	var req models.ModifyRequest
	if !decodeBody(w, r, &req) {
		return
	}

	resp, err := h.orders.ModifyOrder(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		writeExecError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// CancelOrder отменяет ордер.
//
// DELETE /api/v1/orders/{id}
//
// Response 409 Conflict: ордер уже в финальном статусе.
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	if h.orders == nil {
		writeError(w, http.StatusInternalServerError, "order service not initialized", "")
		return
	}

	resp, err := h.orders.CancelOrder(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeExecError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// DisarmExits снимает взведённые ноги выхода исполненного брекета.
//
// DELETE /api/v1/orders/{id}/exits
//
// Response 409 Conflict: выходов нет или одна из ног уже сработала.
func (h *OrderHandler) DisarmExits(w http.ResponseWriter, r *http.Request) {
	if h.orders == nil {
		writeError(w, http.StatusInternalServerError, "order service not initialized", "")
		return
	}

	resp, err := h.orders.DisarmExits(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeExecError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetOrderEvents возвращает историю событий ордера и его дочерних ордеров.
//
// GET /api/v1/orders/{id}/events?limit=100
//
// Response 501 Not Implemented: журнал событий выключен (DB_ENABLED=false).
func (h *OrderHandler) GetOrderEvents(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeError(w, http.StatusNotImplemented, "event journal disabled", "")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 5000 {
			writeError(w, http.StatusBadRequest, "invalid limit", "limit must be between 1 and 5000")
			return
		}
		limit = n
	}

	list, err := h.journal.ByOrder(r.Context(), mux.Vars(r)["id"], limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read events", err.Error())
		return
	}
	if list == nil {
		list = []events.Event{}
	}
	writeJSON(w, http.StatusOK, ListResponse{Count: len(list), Data: list})
}

// executionReportRequest - отчёт брокера в формате HTTP
type executionReportRequest struct {
	Broker        string    `json:"broker"`
	BrokerOrderID string    `json:"broker_order_id"`
	OrderID       string    `json:"order_id"`
	Quantity      int64     `json:"quantity"`
	Price         float64   `json:"price"`
	FilledAt      time.Time `json:"filled_at"`
}

// ReportExecution принимает асинхронный отчёт брокера об исполнении.
//
// POST /api/v1/executions
//
// Request body:
//
//	{"broker": "alpaca", "broker_order_id": "b-17", "quantity": 40, "price": 10.01}
//
// Response 202 Accepted: исполнение применено к ордеру.
func (h *OrderHandler) ReportExecution(w http.ResponseWriter, r *http.Request) {
	if h.orders == nil {
		writeError(w, http.StatusInternalServerError, "order service not initialized", "")
		return
	}

	var req executionReportRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.OrderID == "" && (req.Broker == "" || req.BrokerOrderID == "") {
		writeError(w, http.StatusBadRequest, "order_id or broker with broker_order_id is required", "")
		return
	}

	err := h.orders.OnExecutionReport(r.Context(), models.ExecutionReport{
		Broker:        req.Broker,
		BrokerOrderID: req.BrokerOrderID,
		OrderID:       req.OrderID,
		Fill:          models.Fill{Quantity: req.Quantity, Price: req.Price, Time: req.FilledAt},
	})
	if err != nil {
		writeExecError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// decodeBody читает JSON тело запроса; при ошибке отвечает 400 и возвращает false
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body", err.Error())
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return false
	}
	return true
}
