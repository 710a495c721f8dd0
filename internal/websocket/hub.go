package websocket

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"

	"orderexec/internal/events"
	"orderexec/internal/metrics"
	"orderexec/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Буферы для сериализации событий, Write вызывается на каждое событие ордера
var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

// EventMessage - сообщение клиенту
type EventMessage struct {
	Type  string       `json:"type"`
	Event events.Event `json:"event"`
}

// frame - сериализованное сообщение и символ ордера для фильтра подписки
type frame struct {
	symbol string
	data   []byte
}

// Config - параметры потока событий
type Config struct {
	Buffer         int      // очередь рассылки
	AllowedOrigins []string // пусто или "*" - любые
}

// Hub рассылает события ордеров подключённым клиентам (операторы, мониторинг).
//
// Hub подключается к events.AsyncPublisher как получатель (Name/Write).
// Клиент, не успевающий читать, отключается, рассылка остальным не ждёт.
//
// Использование:
//
//	hub := NewHub(cfg, logger)
//	go hub.Run(ctx)
//	publisher := events.NewAsyncPublisher(buf, timeout, logger, hub)
//	router.HandleFunc("/ws/events", hub.ServeWS)
type Hub struct {
	clients map[*Client]struct{}
	mu      sync.RWMutex

	broadcast  chan frame
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	origins *OriginChecker
	logger  *utils.Logger
	dropped atomic.Int64
}

// NewHub создает Hub
func NewHub(cfg Config, logger *utils.Logger) *Hub {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan frame, cfg.Buffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		origins:    NewOriginChecker(cfg.AllowedOrigins),
		logger:     logger.WithComponent("event_stream"),
	}
}

// Run - главный цикл Hub, до отмены ctx. При остановке все клиенты отключаются.
//
// Список клиентов копируется под RLock, отправка идёт без блокировки,
// медленные клиенты удаляются под Lock.
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("stream client connected", utils.Int("clients", total))

		case client := <-h.unregister:
			h.remove(client)

		case f := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			var slow []*Client
			for _, client := range clients {
				if !client.wants(f.symbol) {
					continue
				}
				select {
				case client.send <- f.data:
				default:
					slow = append(slow, client)
				}
			}

			if len(slow) > 0 {
				for _, client := range slow {
					h.remove(client)
				}
				h.logger.Warn("removed slow stream clients", utils.Int("count", len(slow)))
			}
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
	close(h.done)
}

// Name реализует events.Sink
func (h *Hub) Name() string { return "stream" }

// Write реализует events.Sink: ставит событие в очередь рассылки.
// Очередь полна - событие отбрасывается, публикатор не ждёт.
func (h *Hub) Write(_ context.Context, ev events.Event) error {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer jsonBufferPool.Put(buf)

	if err := json.NewEncoder(buf).Encode(EventMessage{Type: string(ev.Type), Event: ev}); err != nil {
		return err
	}

	data := bytes.TrimRight(buf.Bytes(), "\n")
	msg := make([]byte, len(data))
	copy(msg, data)

	select {
	case h.broadcast <- frame{symbol: ev.Order.Symbol, data: msg}:
	default:
		h.dropped.Add(1)
		metrics.RecordDropped("stream")
	}
	return nil
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedMessages - сколько событий отброшено из-за полной очереди
func (h *Hub) DroppedMessages() int64 {
	return h.dropped.Load()
}
