package handlers

import (
	"net/http"
	"time"

	"orderexec/internal/feed"
	"orderexec/pkg/utils"
)

// EngineStatus - сводное состояние движка
type EngineStatus interface {
	Uptime() time.Duration
	ActiveCount() int64
}

// FeedStatus - состояние потока котировок
type FeedStatus interface {
	Stats() feed.Stats
}

// StreamStatus - поток событий для операторов
type StreamStatus interface {
	ClientCount() int
}

// HealthResponse - ответ /health
type HealthResponse struct {
	Status        string      `json:"status"` // ok | degraded
	Uptime        string      `json:"uptime"`
	UptimeSeconds int64       `json:"uptime_seconds"`
	ActiveOrders  int64       `json:"active_orders"`
	Feed          *feed.Stats `json:"feed,omitempty"`
	StreamClients *int        `json:"stream_clients,omitempty"`
}

// HealthHandler - проверка живости сервиса.
//
// Поток котировок без соединения даёт статус degraded,
// но ответ остаётся 200: ордера без триггеров продолжают исполняться.
type HealthHandler struct {
	engine EngineStatus
	feed   FeedStatus
	stream StreamStatus
}

// NewHealthHandler создает HealthHandler; feed и stream могут быть nil
func NewHealthHandler(engine EngineStatus, feed FeedStatus, stream StreamStatus) *HealthHandler {
	return &HealthHandler{engine: engine, feed: feed, stream: stream}
}

// GetHealth - GET /health
func (h *HealthHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "engine not initialized", "")
		return
	}

	uptime := h.engine.Uptime()
	resp := HealthResponse{
		Status:        "ok",
		Uptime:        utils.FormatDuration(uptime),
		UptimeSeconds: int64(uptime.Seconds()),
		ActiveOrders:  h.engine.ActiveCount(),
	}
	if h.feed != nil {
		stats := h.feed.Stats()
		resp.Feed = &stats
		if stats.State != feed.StateConnected.String() {
			resp.Status = "degraded"
		}
	}
	if h.stream != nil {
		n := h.stream.ClientCount()
		resp.StreamClients = &n
	}
	writeJSON(w, http.StatusOK, resp)
}
