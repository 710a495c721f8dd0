package handlers

import (
	"context"
	"errors"
	"sync"
	"time"

	"orderexec/internal/engine"
	"orderexec/internal/events"
	"orderexec/internal/feed"
	"orderexec/internal/models"
)

var ErrMockDatabase = errors.New("mock database error")

// MockOrderService - потокобезопасная заглушка движка
type MockOrderService struct {
	mu      sync.Mutex
	orders  map[string]*models.OrderResponse
	errors  map[string]error
	reports []models.ExecutionReport
	placed  []models.OrderRequest
	users   []string
}

func NewMockOrderService() *MockOrderService {
	return &MockOrderService{
		orders: make(map[string]*models.OrderResponse),
		errors: make(map[string]error),
	}
}

func (m *MockOrderService) SetOrder(o *models.OrderResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.OrderID] = o
}

func (m *MockOrderService) SetError(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[op] = err
}

func (m *MockOrderService) PlaceOrder(_ context.Context, userID string, req models.OrderRequest) (*models.OrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.placed = append(m.placed, req)
	m.users = append(m.users, userID)
	if err := m.errors["place"]; err != nil {
		return nil, err
	}
	resp := &models.OrderResponse{
		OrderID:  "ord-new",
		Symbol:   req.Symbol,
		Side:     req.Side,
		Status:   models.StatusAcknowledged,
		Quantity: req.Quantity,
	}
	m.orders[resp.OrderID] = resp
	return resp, nil
}

func (m *MockOrderService) CancelOrder(_ context.Context, orderID string) (*models.OrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errors["cancel"]; err != nil {
		return nil, err
	}
	o, ok := m.orders[orderID]
	if !ok {
		return nil, models.OrderNotFound(orderID)
	}
	o.Status = models.StatusCancelled
	return o, nil
}

func (m *MockOrderService) DisarmExits(_ context.Context, orderID string) (*models.OrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errors["disarm"]; err != nil {
		return nil, err
	}
	o, ok := m.orders[orderID]
	if !ok {
		return nil, models.OrderNotFound(orderID)
	}
	return o, nil
}

func (m *MockOrderService) ModifyOrder(_ context.Context, orderID string, req models.ModifyRequest) (*models.OrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if req.IsEmpty() {
		return nil, models.NewValidationError("modify request changes nothing")
	}
	o, ok := m.orders[orderID]
	if !ok {
		return nil, models.OrderNotFound(orderID)
	}
	if req.Quantity > 0 {
		o.Quantity = req.Quantity
	}
	return o, nil
}

func (m *MockOrderService) GetOrder(orderID string) (*models.OrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, models.OrderNotFound(orderID)
	}
	return o, nil
}

func (m *MockOrderService) ActiveOrders() []*models.OrderResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.OrderResponse
	for _, o := range m.orders {
		if !o.Status.IsTerminal() {
			out = append(out, o)
		}
	}
	return out
}

func (m *MockOrderService) OnExecutionReport(_ context.Context, rep models.ExecutionReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errors["report"]; err != nil {
		return err
	}
	m.reports = append(m.reports, rep)
	return nil
}

// MockJournal - заглушка журнала событий
type MockJournal struct {
	events    []events.Event
	err       error
	lastLimit int
}

func (m *MockJournal) ByOrder(_ context.Context, orderID string, limit int) ([]events.Event, error) {
	m.lastLimit = limit
	if m.err != nil {
		return nil, m.err
	}
	var out []events.Event
	for _, ev := range m.events {
		if ev.OrderID == orderID || ev.ParentID == orderID {
			out = append(out, ev)
		}
	}
	return out, nil
}

// MockEngineStatus - заглушка состояния движка и брокеров
type MockEngineStatus struct {
	uptime  time.Duration
	active  int64
	brokers []engine.BrokerStatus
}

func (m *MockEngineStatus) Uptime() time.Duration { return m.uptime }

func (m *MockEngineStatus) ActiveCount() int64 { return m.active }

func (m *MockEngineStatus) Brokers() []engine.BrokerStatus { return m.brokers }

type mockFeed struct{ stats feed.Stats }

func (m mockFeed) Stats() feed.Stats { return m.stats }

type mockStream struct{ clients int }

func (m mockStream) ClientCount() int { return m.clients }
