package handlers

import (
	"net/http"

	"orderexec/internal/engine"
)

// BrokerReader - состояние брокеров (engine.Engine)
type BrokerReader interface {
	Brokers() []engine.BrokerStatus
}

// BrokerHandler отдаёт качество брокеров для мониторинга маршрутизации.
//
// Endpoints:
// - GET /api/v1/brokers - метрики качества, состояние предохранителя, нагрузка
type BrokerHandler struct {
	brokers BrokerReader
}

// NewBrokerHandler создает BrokerHandler
func NewBrokerHandler(brokers BrokerReader) *BrokerHandler {
	return &BrokerHandler{brokers: brokers}
}

// GetBrokers возвращает брокеров в порядке имени.
//
// GET /api/v1/brokers
//
// Response 200 OK:
//
//	{
//	  "count": 1,
//	  "data": [
//	    {
//	      "name": "alpaca",
//	      "overall_score": 87.35,
//	      "health": 1,
//	      "consecutive_failures": 0,
//	      "load_fraction": 0.12,
//	      "breaker": "closed",
//	      "in_flight": 3
//	    }
//	  ]
//	}
func (h *BrokerHandler) GetBrokers(w http.ResponseWriter, r *http.Request) {
	if h.brokers == nil {
		writeError(w, http.StatusInternalServerError, "broker registry not initialized", "")
		return
	}

	list := h.brokers.Brokers()
	if list == nil {
		list = []engine.BrokerStatus{}
	}
	writeJSON(w, http.StatusOK, ListResponse{Count: len(list), Data: list})
}
