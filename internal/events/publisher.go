// Package events доставляет события жизненного цикла ордеров внешним потребителям.
package events

import (
	"context"
	"sync"
	"time"

	"orderexec/internal/metrics"
	"orderexec/internal/models"
	"orderexec/pkg/utils"
)

// Compile-time interface checks
var (
	_ Publisher = (*AsyncPublisher)(nil)
	_ Publisher = NopPublisher{}
	_ Sink      = (*LogSink)(nil)
	_ Sink      = (*Journal)(nil)
)

// EventType - тип события ордера
type EventType string

const (
	OrderAccepted  EventType = "order_accepted"
	OrderPlaced    EventType = "order_placed"
	OrderFilled    EventType = "order_filled"
	OrderModified  EventType = "order_modified"
	OrderCancelled EventType = "order_cancelled"
	OrderRejected  EventType = "order_rejected"
	OrderExpired   EventType = "order_expired"
)

// Event - снимок ордера в момент изменения
type Event struct {
	Type      EventType            `json:"type"`
	OrderID   string               `json:"order_id"`
	ParentID  string               `json:"parent_id,omitempty"`
	Order     models.OrderResponse `json:"order"`
	Timestamp time.Time            `json:"timestamp"`
}

// Publisher - коллаборатор публикации событий (fire-and-forget)
type Publisher interface {
	Publish(eventType EventType, order *models.Order)
}

// Sink - получатель событий (журнал, лог, брокер сообщений)
type Sink interface {
	Name() string
	Write(ctx context.Context, ev Event) error
}

// NewEvent строит событие из текущего состояния ордера
func NewEvent(eventType EventType, order *models.Order) Event {
	return Event{
		Type:      eventType,
		OrderID:   order.ID,
		ParentID:  order.ParentID,
		Order:     *order.Response(),
		Timestamp: time.Now(),
	}
}

// NopPublisher игнорирует события
type NopPublisher struct{}

// Publish ничего не делает
func (NopPublisher) Publish(EventType, *models.Order) {}

// PublisherFunc - функция как Publisher
type PublisherFunc func(eventType EventType, order *models.Order)

// Publish вызывает функцию
func (f PublisherFunc) Publish(eventType EventType, order *models.Order) {
	f(eventType, order)
}

// AsyncPublisher - неблокирующий издатель с буферизованной очередью
//
// Снимок ордера берётся синхронно в Publish, поэтому порядок событий
// одного ордера сохраняется (одна очередь, один воркер).
// При переполнении буфера событие отбрасывается и учитывается в метриках.
type AsyncPublisher struct {
	queue  chan Event
	sinks  []Sink
	logger *utils.Logger

	writeTimeout time.Duration
	done         chan struct{}
	closeOnce    sync.Once
}

// NewAsyncPublisher создаёт издателя с заданным размером буфера
func NewAsyncPublisher(bufferSize int, writeTimeout time.Duration, logger *utils.Logger, sinks ...Sink) *AsyncPublisher {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &AsyncPublisher{
		queue:        make(chan Event, bufferSize),
		sinks:        sinks,
		logger:       logger.WithComponent("events"),
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
}

// Publish ставит событие в очередь без блокировки
func (p *AsyncPublisher) Publish(eventType EventType, order *models.Order) {
	if order == nil {
		return
	}
	ev := NewEvent(eventType, order)

	select {
	case p.queue <- ev:
	default:
		metrics.RecordDropped("events")
		p.logger.Warn("event queue full, dropping event",
			utils.OrderID(ev.OrderID),
			utils.String("type", string(ev.Type)),
		)
	}
}

// Run доставляет события получателям до отмены контекста.
// Оставшиеся в очереди события дописываются перед выходом.
func (p *AsyncPublisher) Run(ctx context.Context) {
	defer p.closeOnce.Do(func() { close(p.done) })

	for {
		select {
		case ev := <-p.queue:
			p.deliver(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-p.queue:
					p.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

// Done закрывается после завершения Run
func (p *AsyncPublisher) Done() <-chan struct{} {
	return p.done
}

func (p *AsyncPublisher) deliver(ev Event) {
	for _, sink := range p.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), p.writeTimeout)
		if err := sink.Write(ctx, ev); err != nil {
			p.logger.Error("event sink write failed",
				utils.String("sink", sink.Name()),
				utils.OrderID(ev.OrderID),
				utils.String("type", string(ev.Type)),
				utils.Err(err),
			)
		}
		cancel()
	}
}

// LogSink пишет события в структурированный лог
type LogSink struct {
	logger *utils.Logger
}

// NewLogSink создаёт получатель-лог
func NewLogSink(logger *utils.Logger) *LogSink {
	return &LogSink{logger: logger.WithComponent("order_events")}
}

// Name возвращает имя получателя
func (s *LogSink) Name() string { return "log" }

// Write логирует событие
func (s *LogSink) Write(_ context.Context, ev Event) error {
	s.logger.Info("order event",
		utils.String("type", string(ev.Type)),
		utils.OrderID(ev.OrderID),
		utils.Symbol(ev.Order.Symbol),
		utils.Status(string(ev.Order.Status)),
		utils.Quantity(ev.Order.FilledQuantity),
		utils.Broker(ev.Order.BrokerName),
	)
	return nil
}

// ============================================================
// Journal
// ============================================================

// EventStore - хранилище журнала событий (repository.EventRepository)
type EventStore interface {
	Append(ctx context.Context, ev Event) error
}

// Journal дописывает события в постоянный журнал
type Journal struct {
	store EventStore
}

// NewJournal создаёт получатель-журнал
func NewJournal(store EventStore) *Journal {
	return &Journal{store: store}
}

// Name возвращает имя получателя
func (j *Journal) Name() string { return "journal" }

// Write сохраняет событие
func (j *Journal) Write(ctx context.Context, ev Event) error {
	return j.store.Append(ctx, ev)
}
