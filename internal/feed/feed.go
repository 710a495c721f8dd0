// Package feed - поток котировок по WebSocket.
//
// Клиент подписывается на символы, декодирует тики и передаёт их движку.
// При разрыве переподключается с экспоненциальной задержкой и заново
// отправляет подписку.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"orderexec/internal/models"
	"orderexec/pkg/retry"
	"orderexec/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Sink принимает тики (engine.Engine); false - тик отброшен
type Sink interface {
	OnTick(t models.Tick) bool
}

// Config - параметры подключения
type Config struct {
	URL            string
	Symbols        []string
	Reconnect      retry.Config
	ConnectTimeout time.Duration
	PingInterval   time.Duration
	// ReadTimeout - нет ни данных, ни pong дольше - соединение считается мёртвым
	ReadTimeout time.Duration
}

// DefaultConfig возвращает параметры по умолчанию
func DefaultConfig() Config {
	return Config{
		Reconnect:      retry.ReconnectConfig(),
		ConnectTimeout: 10 * time.Second,
		PingInterval:   15 * time.Second,
		ReadTimeout:    30 * time.Second,
	}
}

// State - состояние соединения
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Stats - счётчики потока
type Stats struct {
	State      string `json:"state"`
	Received   int64  `json:"received"`
	Dropped    int64  `json:"dropped"`
	Malformed  int64  `json:"malformed"`
	Reconnects int64  `json:"reconnects"`
}

// subscribeMessage - запрос подписки
type subscribeMessage struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// message - входящее сообщение потока. Тики приходят по одному
// или пачкой в поле data.
type message struct {
	Type    string     `json:"type"`
	Symbol  string     `json:"symbol"`
	Price   float64    `json:"price"`
	Volume  int64      `json:"volume"`
	TS      int64      `json:"ts"` // unix ms
	Data    []wireTick `json:"data"`
	Message string     `json:"message"`
}

type wireTick struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Volume int64   `json:"volume"`
	TS     int64   `json:"ts"`
}

func (w wireTick) tick() models.Tick {
	return models.Tick{
		Symbol:    utils.NormalizeSymbol(w.Symbol),
		Price:     w.Price,
		Volume:    w.Volume,
		Timestamp: utils.FromUnixMillis(w.TS),
	}
}

// Client - подписчик потока котировок
type Client struct {
	cfg    Config
	sink   Sink
	dialer websocket.Dialer
	logger *utils.Logger

	state      int32 // atomic State
	received   atomic.Int64
	dropped    atomic.Int64
	malformed  atomic.Int64
	reconnects atomic.Int64

	writeMu sync.Mutex
}

// New создаёт клиента потока
func New(cfg Config, sink Sink, logger *utils.Logger) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	symbols := make([]string, 0, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		symbols = append(symbols, utils.NormalizeSymbol(s))
	}
	cfg.Symbols = symbols

	return &Client{
		cfg:    cfg,
		sink:   sink,
		dialer: websocket.Dialer{HandshakeTimeout: cfg.ConnectTimeout},
		logger: logger.WithComponent("feed"),
	}
}

// State возвращает состояние соединения
func (c *Client) State() State {
	return State(atomic.LoadInt32(&c.state))
}

func (c *Client) setState(s State) {
	atomic.StoreInt32(&c.state, int32(s))
}

// Stats возвращает счётчики потока
func (c *Client) Stats() Stats {
	return Stats{
		State:      c.State().String(),
		Received:   c.received.Load(),
		Dropped:    c.dropped.Load(),
		Malformed:  c.malformed.Load(),
		Reconnects: c.reconnects.Load(),
	}
}

// Run держит подключение до отмены ctx, переподключаясь после разрывов
func (c *Client) Run(ctx context.Context) error {
	defer c.setState(StateClosed)

	attempt := 0
	for {
		c.setState(StateConnecting)
		connected, err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			attempt = 0
		}
		delay := c.cfg.Reconnect.Backoff(attempt)
		attempt++
		c.reconnects.Add(1)
		c.setState(StateReconnecting)

		c.logger.Warn("feed disconnected, reconnecting",
			utils.Err(err),
			utils.Int("attempt", attempt),
			utils.Duration("delay", delay),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// session - одно подключение: подписка, ping, чтение до ошибки.
// connected - подписка прошла успешно.
func (c *Client) session(ctx context.Context) (connected bool, err error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	conn, _, err := c.dialer.DialContext(dialCtx, c.cfg.URL, nil)
	cancel()
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	defer conn.Close()

	if err := c.write(conn, subscribeMessage{Action: "subscribe", Symbols: c.cfg.Symbols}); err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}
	c.setState(StateConnected)
	c.logger.Info("feed connected", utils.String("url", c.cfg.URL), utils.Int("symbols", len(c.cfg.Symbols)))

	if c.cfg.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		})
	}

	sessCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		<-sessCtx.Done()
		// Разблокирует ReadMessage
		_ = conn.Close()
	}()
	if c.cfg.PingInterval > 0 {
		go c.pingLoop(sessCtx, conn)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, ctx.Err()
			}
			return true, fmt.Errorf("read: %w", err)
		}
		if c.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		}
		c.handle(data)
	}
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.PingInterval))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("feed ping failed", utils.Err(err))
				return
			}
		}
	}
}

func (c *Client) write(conn *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// handle декодирует сообщение и передаёт тики получателю
func (c *Client) handle(data []byte) {
	ticks, err := Decode(data)
	if err != nil {
		c.malformed.Add(1)
		c.logger.Debug("malformed feed message", utils.Err(err), utils.Int("bytes", len(data)))
		return
	}
	for _, t := range ticks {
		c.received.Add(1)
		if !c.sink.OnTick(t) {
			c.dropped.Add(1)
		}
	}
}

// ErrFeedError - поток сообщил об ошибке
var ErrFeedError = errors.New("feed error")

// Decode разбирает сообщение потока в тики.
// Служебные сообщения (heartbeat, subscribed) дают пустой результат.
func Decode(data []byte) ([]models.Tick, error) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}

	switch msg.Type {
	case "heartbeat", "subscribed":
		return nil, nil
	case "error":
		return nil, fmt.Errorf("%w: %s", ErrFeedError, msg.Message)
	}

	if len(msg.Data) > 0 {
		ticks := make([]models.Tick, 0, len(msg.Data))
		for _, w := range msg.Data {
			t := w.tick()
			if valid(t) {
				ticks = append(ticks, t)
			}
		}
		return ticks, nil
	}

	t := wireTick{Symbol: msg.Symbol, Price: msg.Price, Volume: msg.Volume, TS: msg.TS}.tick()
	if !valid(t) {
		return nil, fmt.Errorf("invalid tick %q at %v", msg.Symbol, msg.Price)
	}
	return []models.Tick{t}, nil
}

func valid(t models.Tick) bool {
	return utils.ValidateSymbol(t.Symbol) == nil && utils.ValidatePrice(t.Price, true) == nil
}
