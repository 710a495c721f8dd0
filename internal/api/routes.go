package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"orderexec/internal/api/handlers"
	"orderexec/internal/api/middleware"
	"orderexec/internal/engine"
	"orderexec/pkg/utils"
)

// Engine - операции движка, доступные через HTTP (engine.Engine)
type Engine interface {
	handlers.OrderService
	handlers.BrokerReader
	handlers.EngineStatus
}

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	Engine  Engine
	Journal handlers.EventReader  // nil - журнал выключен
	Feed    handlers.FeedStatus   // nil - поток котировок не настроен
	Stream  handlers.StreamStatus // nil - поток событий выключен

	// StreamHandler - WebSocket поток событий ордеров (websocket.Hub.ServeWS)
	StreamHandler http.HandlerFunc

	AllowedOrigins []string
	APIToken       string
}

var _ Engine = (*engine.Engine)(nil)

// SetupRoutes настраивает все HTTP маршруты сервиса
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── /orders/
//	│   ├── GET / - активные ордера
//	│   ├── POST / - разместить ордер
//	│   ├── GET /{id} - ордер по ID
//	│   ├── PATCH /{id} - изменить ордер
//	│   ├── DELETE /{id} - отменить ордер
//	│   ├── GET /{id}/events - история событий
//	│   └── DELETE /{id}/exits - снять выходы исполненного брекета
//	├── POST /executions - отчёт брокера об исполнении
//	└── GET /brokers - качество брокеров
//
// /ws/events - WebSocket поток событий ордеров
// /health - состояние сервиса
// /metrics - Prometheus
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. Token (только /api/v1, изменяющие запросы)
func SetupRoutes(deps *Dependencies, logger *utils.Logger) *mux.Router {
	router := mux.NewRouter()
	router.MethodNotAllowedHandler = http.HandlerFunc(handlers.MethodNotAllowed)
	router.NotFoundHandler = http.HandlerFunc(handlers.NotFound)

	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logging(logger))

	var origins []string
	var token string
	if deps != nil {
		origins = deps.AllowedOrigins
		token = deps.APIToken
	}
	router.Use(middleware.CORS(origins))

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	if deps == nil || deps.Engine == nil {
		router.HandleFunc("/health", handlers.NewHealthHandler(nil, nil, nil).GetHealth).Methods("GET")
		return router
	}

	orderHandler := handlers.NewOrderHandler(deps.Engine, deps.Journal)
	brokerHandler := handlers.NewBrokerHandler(deps.Engine)
	healthHandler := handlers.NewHealthHandler(deps.Engine, deps.Feed, deps.Stream)

	api := router.PathPrefix("/api/v1").Subrouter()
	// Подроутер сам отвечает 405, иначе несовпадение метода теряется
	api.MethodNotAllowedHandler = http.HandlerFunc(handlers.MethodNotAllowed)
	api.Use(middleware.Token(token))

	// Order routes
	api.HandleFunc("/orders", orderHandler.GetOrders).Methods("GET")
	api.HandleFunc("/orders", orderHandler.PlaceOrder).Methods("POST")
	api.HandleFunc("/orders/{id}", orderHandler.GetOrder).Methods("GET")
	api.HandleFunc("/orders/{id}", orderHandler.ModifyOrder).Methods("PATCH")
	api.HandleFunc("/orders/{id}", orderHandler.CancelOrder).Methods("DELETE")
	api.HandleFunc("/orders/{id}/events", orderHandler.GetOrderEvents).Methods("GET")
	api.HandleFunc("/orders/{id}/exits", orderHandler.DisarmExits).Methods("DELETE")

	// Execution reports
	api.HandleFunc("/executions", orderHandler.ReportExecution).Methods("POST")

	// Broker routes
	api.HandleFunc("/brokers", brokerHandler.GetBrokers).Methods("GET")

	if deps.StreamHandler != nil {
		router.HandleFunc("/ws/events", deps.StreamHandler).Methods("GET")
	}

	router.HandleFunc("/health", healthHandler.GetHealth).Methods("GET")

	return router
}
