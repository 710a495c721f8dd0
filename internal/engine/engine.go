// Package engine - точка входа исполнения ордеров.
//
// Engine связывает валидацию, выбор стратегии, маршрутизацию, шлюз брокеров
// и реестр активных ордеров. Тики проходят через шардированный реактор,
// отчёты брокеров - через OnExecutionReport.
//
// Поток размещения:
// PlaceOrder → Validator → OrderIntent → Dispatcher → Strategy → Router → Gateway → Registry
//
// Поток тиков:
// OnTick → Reactor[shard] → Registry.BySymbol → Strategy.OnPriceUpdate → удаление сработавших
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"orderexec/internal/broker"
	"orderexec/internal/events"
	"orderexec/internal/execution"
	"orderexec/internal/gateway"
	"orderexec/internal/lifecycle"
	"orderexec/internal/metrics"
	"orderexec/internal/models"
	"orderexec/internal/registry"
	"orderexec/internal/routing"
	"orderexec/internal/strategy"
	"orderexec/internal/validation"
	"orderexec/pkg/ratelimit"
	"orderexec/pkg/utils"
)

// Compile-time interface checks
var (
	_ strategy.Host     = (*Engine)(nil)
	_ execution.Tracker = (*Engine)(nil)
)

// Config - параметры движка и его компонентов
type Config struct {
	Shards        int
	ShardBuffer   int
	SweepInterval time.Duration
	Retention     time.Duration
	Location      *time.Location // для DAY ордеров; nil - UTC
	WorkerPool    int            // параллельных отправок детей одного шага

	Routing     routing.Config
	Eligibility routing.Eligibility
	Gateway     gateway.Config
	Strategy    strategy.Config
}

// DefaultConfig возвращает параметры по умолчанию
func DefaultConfig() Config {
	return Config{
		Shards:        16,
		ShardBuffer:   1024,
		SweepInterval: time.Second,
		Retention:     15 * time.Minute,
		WorkerPool:    16,
		Routing:       routing.DefaultConfig(),
		Eligibility:   routing.DefaultEligibility(),
		Gateway:       gateway.DefaultConfig(),
		Strategy:      strategy.DefaultConfig(),
	}
}

// Deps - внешние зависимости движка
type Deps struct {
	Brokers   *registry.Brokers
	Clients   []broker.Client
	Limits    *ratelimit.Set       // nil - без лимитов
	Prices    *PriceCache          // nil - собственный кэш
	Validator validation.Validator // nil - правила по умолчанию
	Publisher events.Publisher     // nil - события не публикуются
	Logger    *utils.Logger
}

// BrokerStatus - состояние брокера для служебного API
type BrokerStatus struct {
	models.BrokerPerformance
	Breaker  string `json:"breaker"`
	InFlight int64  `json:"in_flight"`
}

// childList - дочерние ордера родителя
type childList struct {
	mu    sync.Mutex
	items []*models.Order
}

// task - фоновые задачи ордера с общим контекстом
type task struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Engine - движок исполнения ордеров
type Engine struct {
	cfg Config

	orders     *registry.Orders
	brokers    *registry.Brokers
	prices     *PriceCache
	machine    *lifecycle.Machine
	gateway    *gateway.Gateway
	router     *routing.Router
	dispatcher *strategy.Dispatcher
	validator  validation.Validator
	reactor    *Reactor
	publisher  events.Publisher

	// map[orderID]*models.Order - все ордера (родители и дети) до очистки
	known    sync.Map
	// map[parentID]*childList
	children sync.Map
	// map[childID]bool - исполнения ребёнка засчитываются родителю
	rollUp   sync.Map
	// map["broker/brokerOrderID"]childID - для отчётов без нашего id
	byBroker sync.Map
	// map[orderID]*task
	tasks    sync.Map

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	newID   func() string
	now     func() time.Time
	started time.Time
	logger  *utils.Logger
}

// New собирает движок: машину состояний, шлюз, роутер, стратегии и реактор
func New(cfg Config, deps Deps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = utils.NewNop()
	}
	prices := deps.Prices
	if prices == nil {
		prices = NewPriceCache(cfg.Shards)
	}
	validator := deps.Validator
	if validator == nil {
		validator = validation.New()
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	book := deps.Brokers
	if book == nil {
		book = registry.NewBrokers()
	}

	baseCtx, stop := context.WithCancel(context.Background())
	e := &Engine{
		cfg:       cfg,
		orders:    registry.NewOrders(),
		brokers:   book,
		prices:    prices,
		validator: validator,
		publisher: publisher,
		baseCtx:   baseCtx,
		stop:      stop,
		newID:     uuid.NewString,
		now:       time.Now,
		logger:    logger.WithComponent("engine"),
	}
	e.started = e.now()

	// Машина состояний публикует через движок: он следит за финальными статусами
	e.machine = lifecycle.NewMachine(events.PublisherFunc(e.onEvent), logger)
	e.gateway = gateway.New(cfg.Gateway, e.machine, book, deps.Limits, logger)
	for _, c := range deps.Clients {
		e.gateway.Register(c)
	}
	e.router = routing.NewRouter(cfg.Routing, routing.NewScorer(cfg.Eligibility), book, prices, logger)

	runner := execution.NewRunner(e.gateway, e.machine, e, cfg.WorkerPool, logger)
	e.dispatcher = strategy.NewDispatcher(strategy.Env{
		Machine:  e.machine,
		Executor: execution.NewExecutor(e.router, runner),
		Gateway:  e.gateway,
		Host:     e,
		Config:   cfg.Strategy,
		Logger:   logger,
		Now:      e.now,
	})
	e.reactor = NewReactor(cfg.Shards, cfg.ShardBuffer, prices, e.processTick, logger)
	return e
}

// Run запускает реактор и периодические задачи. Блокирует до отмены ctx,
// затем останавливает фоновые задачи ордеров и ждёт их завершения.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine started",
		utils.Int("shards", len(e.reactor.queues)),
		utils.Int("brokers", len(e.gateway.Names())),
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.reactor.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		e.periodicTasks(ctx)
	}()

	<-ctx.Done()
	wg.Wait()
	e.stop()
	e.wg.Wait()
	e.logger.Info("engine stopped", utils.Int64("active_orders", e.orders.Len()))
	return ctx.Err()
}

// ============================================================
// Операции с ордерами
// ============================================================

// PlaceOrder проверяет запрос, выбирает стратегию и передаёт ей ордер
func (e *Engine) PlaceOrder(ctx context.Context, userID string, req models.OrderRequest) (resp *models.OrderResponse, err error) {
	defer e.recoverPanic("PlaceOrder", &err)

	req.Symbol = utils.NormalizeSymbol(req.Symbol)
	if v := e.validator.Validate(req, userID); !v.IsValid {
		return nil, e.rejected(v.Err())
	}
	intent, err := models.NewOrderIntent(req)
	if err != nil {
		return nil, e.rejected(err)
	}
	s, err := e.dispatcher.For(intent)
	if err != nil {
		return nil, e.rejected(err)
	}
	if v := s.Validate(req); !v.IsValid {
		return nil, e.rejected(v.Err())
	}

	now := e.now()
	if req.TimeInForce == models.TIFDay && req.ExpiryDate == nil {
		end := utils.DayEndIn(now, e.cfg.Location)
		req.ExpiryDate = &end
	}
	o := models.NewOrder(e.newID(), e.newID(), userID, req, now)
	o.Strategy = intent.Strategy

	e.known.Store(o.ID, o)
	if err := e.orders.Register(&registry.Entry{Order: o, Strategy: intent.Strategy}); err != nil {
		e.known.Delete(o.ID)
		return nil, e.rejected(err)
	}
	e.publisher.Publish(events.OrderAccepted, o)

	e.logger.Info("order accepted",
		utils.OrderID(o.ID),
		utils.CorrelationID(o.CorrelationID),
		utils.UserID(userID),
		utils.Symbol(o.Symbol),
		utils.Side(string(o.Side)),
		utils.Quantity(req.Quantity),
		utils.Strategy(strategyLabel(intent.Strategy)),
	)

	if _, err := s.Execute(ctx, o, req); err != nil {
		metrics.RecordRejected(string(models.AsExecError(err).Kind))
		return o.Response(), err
	}
	metrics.RecordOrderPlaced(strategyLabel(intent.Strategy), string(o.State().ExecutionStrategy))
	return o.Response(), nil
}

// CancelOrder отменяет ордер через стратегию-владельца
func (e *Engine) CancelOrder(ctx context.Context, orderID string) (resp *models.OrderResponse, err error) {
	defer e.recoverPanic("CancelOrder", &err)

	o, ok := e.Lookup(orderID)
	if !ok {
		return nil, models.OrderNotFound(orderID)
	}
	if o.ParentID != "" {
		return o.Response(), models.OrderRejected("order %s is a child of %s, cancel the parent order", o.ID, o.ParentID)
	}
	if st := o.Status(); !lifecycle.IsCancellable(st) {
		return o.Response(), models.OrderRejected("order %s cannot be cancelled in status %s", o.ID, st)
	}

	s, err := e.dispatcher.Get(o.Strategy)
	if err != nil {
		return o.Response(), err
	}
	return s.Cancel(ctx, o.ID)
}

// DisarmExits снимает ещё не сработавшие ноги выхода исполненного ордера
// (брекет). Статус ордера не меняется, ордер уходит из реестра активных.
func (e *Engine) DisarmExits(ctx context.Context, orderID string) (resp *models.OrderResponse, err error) {
	defer e.recoverPanic("DisarmExits", &err)

	o, ok := e.Lookup(orderID)
	if !ok {
		return nil, models.OrderNotFound(orderID)
	}
	if o.ParentID != "" {
		return o.Response(), models.OrderRejected("order %s is a child of %s, it has no exits", o.ID, o.ParentID)
	}
	s, err := e.dispatcher.Get(o.Strategy)
	if err != nil {
		return o.Response(), err
	}
	d, ok := s.(strategy.Disarmer)
	if !ok {
		return o.Response(), models.OrderRejected("order %s has no exit legs", o.ID)
	}
	return d.Disarm(ctx, o.ID, "disarmed by user")
}

// ModifyOrder меняет параметры активного ордера через стратегию-владельца
func (e *Engine) ModifyOrder(ctx context.Context, orderID string, req models.ModifyRequest) (resp *models.OrderResponse, err error) {
	defer e.recoverPanic("ModifyOrder", &err)

	if req.IsEmpty() {
		return nil, models.NewValidationError("modify request changes nothing")
	}
	o, ok := e.Lookup(orderID)
	if !ok {
		return nil, models.OrderNotFound(orderID)
	}
	if o.ParentID != "" {
		return o.Response(), models.OrderRejected("order %s is a child of %s, modify the parent order", o.ID, o.ParentID)
	}
	s, err := e.dispatcher.Get(o.Strategy)
	if err != nil {
		return o.Response(), err
	}
	return s.Modify(ctx, o.ID, req)
}

// GetOrder возвращает снимок ордера (активного или недавно завершённого)
func (e *Engine) GetOrder(orderID string) (*models.OrderResponse, error) {
	o, ok := e.Lookup(orderID)
	if !ok {
		return nil, models.OrderNotFound(orderID)
	}
	return o.Response(), nil
}

// ActiveOrders возвращает ордера из реестра, старые первыми
func (e *Engine) ActiveOrders() []*models.OrderResponse {
	entries := e.orders.All()
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].Order, entries[j].Order
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	out := make([]*models.OrderResponse, 0, len(entries))
	for _, en := range entries {
		out = append(out, en.Order.Response())
	}
	return out
}

// OnTick принимает тик от потока котировок; false - тик отброшен
func (e *Engine) OnTick(t models.Tick) bool {
	if t.Symbol == "" || t.Price <= 0 {
		return false
	}
	return e.reactor.Submit(t)
}

// OnExecutionReport применяет асинхронное исполнение к дочернему ордеру
// и, если нужно, к родителю
func (e *Engine) OnExecutionReport(ctx context.Context, rep models.ExecutionReport) (err error) {
	defer e.recoverPanic("OnExecutionReport", &err)

	o, ok := e.reported(rep)
	if !ok {
		ref := rep.OrderID
		if ref == "" {
			ref = rep.Broker + "/" + rep.BrokerOrderID
		}
		return models.OrderNotFound(ref)
	}
	if rep.Fill.Time.IsZero() {
		rep.Fill.Time = e.now()
	}
	if _, err := e.machine.ApplyFill(o, rep.Fill); err != nil {
		return err
	}
	if o.ParentID == "" {
		return nil
	}

	parent, ok := e.Lookup(o.ParentID)
	if !ok {
		return nil
	}
	if v, ok := e.rollUp.Load(o.ID); ok && v.(bool) {
		if _, err := e.machine.ApplyFill(parent, rep.Fill); err != nil {
			e.logger.Debug("parent fill skipped", utils.OrderID(parent.ID), utils.Err(err))
		}
	}
	if s, err := e.dispatcher.Get(parent.Strategy); err == nil {
		s.OnFill(ctx, parent.ID, rep.Fill)
	}
	return nil
}

func (e *Engine) reported(rep models.ExecutionReport) (*models.Order, bool) {
	if rep.OrderID != "" {
		return e.Lookup(rep.OrderID)
	}
	v, ok := e.byBroker.Load(brokerKey(rep.Broker, rep.BrokerOrderID))
	if !ok {
		return nil, false
	}
	return e.Lookup(v.(string))
}

// ============================================================
// Состояние для служебного API
// ============================================================

// Brokers возвращает качество брокеров, состояние предохранителей и нагрузку
func (e *Engine) Brokers() []BrokerStatus {
	states := e.gateway.BreakerStates()
	snap := e.brokers.Snapshot()
	out := make([]BrokerStatus, 0, len(snap))
	for _, p := range snap {
		out = append(out, BrokerStatus{
			BrokerPerformance: p,
			Breaker:           states[p.Name],
			InFlight:          e.brokers.InFlight(p.Name),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Uptime - время с момента создания движка
func (e *Engine) Uptime() time.Duration {
	return e.now().Sub(e.started)
}

// ActiveCount - число ордеров в реестре
func (e *Engine) ActiveCount() int64 {
	return e.orders.Len()
}

// ============================================================
// strategy.Host и execution.Tracker
// ============================================================

// Go запускает фоновую задачу ордера
func (e *Engine) Go(orderID string, fn func(ctx context.Context)) {
	t := e.task(orderID)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("order task panic", utils.OrderID(orderID), utils.Any("panic", r))
			}
		}()
		fn(t.ctx)
	}()
}

func (e *Engine) task(orderID string) *task {
	if v, ok := e.tasks.Load(orderID); ok {
		return v.(*task)
	}
	ctx, cancel := context.WithCancel(e.baseCtx)
	v, loaded := e.tasks.LoadOrStore(orderID, &task{ctx: ctx, cancel: cancel})
	if loaded {
		cancel()
	}
	return v.(*task)
}

// Stop отменяет фоновые задачи ордера
func (e *Engine) Stop(orderID string) {
	if v, ok := e.tasks.LoadAndDelete(orderID); ok {
		v.(*task).cancel()
	}
}

// Release убирает ордер из реестра активных
func (e *Engine) Release(orderID string) {
	e.orders.Remove(orderID)
}

// Children возвращает незавершённые дочерние ордера
func (e *Engine) Children(parentID string) []*models.Order {
	v, ok := e.children.Load(parentID)
	if !ok {
		return nil
	}
	l := v.(*childList)
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*models.Order
	for _, c := range l.items {
		if !c.Status().IsTerminal() {
			out = append(out, c)
		}
	}
	return out
}

// Lookup ищет ордер среди известных движку
func (e *Engine) Lookup(orderID string) (*models.Order, bool) {
	v, ok := e.known.Load(orderID)
	if !ok {
		return nil, false
	}
	return v.(*models.Order), true
}

// Track запоминает дочерний ордер до отправки брокеру
func (e *Engine) Track(child *models.Order, rollUp bool) {
	e.known.Store(child.ID, child)
	e.rollUp.Store(child.ID, rollUp)
	v, _ := e.children.LoadOrStore(child.ParentID, &childList{})
	l := v.(*childList)
	l.mu.Lock()
	l.items = append(l.items, child)
	l.mu.Unlock()
}

// ============================================================
// События, тики, периодические задачи
// ============================================================

// onEvent получает каждое событие машины состояний до внешнего издателя
func (e *Engine) onEvent(eventType events.EventType, o *models.Order) {
	e.publisher.Publish(eventType, o)

	st := o.State()
	if o.ParentID != "" {
		if eventType == events.OrderPlaced && st.BrokerOrderID != "" {
			e.byBroker.Store(brokerKey(st.BrokerName, st.BrokerOrderID), o.ID)
		}
		return
	}
	if !st.Status.IsTerminal() {
		return
	}
	// Финальный родитель уходит из реестра, если стратегия его больше не ведёт
	// (исполненный брекет ждёт выхода)
	if s, err := e.dispatcher.Get(o.Strategy); err == nil && !s.Tracks(o.ID) {
		e.orders.Remove(o.ID)
	}
}

// processTick раздаёт тик стратегиям ордеров символа
func (e *Engine) processTick(ctx context.Context, t models.Tick) {
	for _, entry := range e.orders.BySymbol(t.Symbol) {
		if e.tick(ctx, entry, t) {
			e.orders.Remove(entry.Order.ID)
		}
	}
}

func (e *Engine) tick(ctx context.Context, entry *registry.Entry, t models.Tick) (triggered bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("strategy tick panic",
				utils.OrderID(entry.Order.ID),
				utils.Strategy(strategyLabel(entry.Strategy)),
				utils.Any("panic", r),
			)
			triggered = false
		}
	}()
	s, err := e.dispatcher.Get(entry.Strategy)
	if err != nil {
		return false
	}
	return s.OnPriceUpdate(ctx, entry.Order.ID, t)
}

// periodicTasks - истечение сроков и очистка завершённых ордеров
func (e *Engine) periodicTasks(ctx context.Context) {
	interval := e.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := e.now()
			e.expire(ctx, now)
			e.purge(now)
		}
	}
}

// expire переводит просроченные GTD/DAY ордера без исполнений в EXPIRED.
// У исполненного ордера с истёкшим сроком снимаются взведённые выходы.
func (e *Engine) expire(ctx context.Context, now time.Time) {
	for _, entry := range e.orders.All() {
		o := entry.Order
		if !lifecycle.PastExpiry(o, now) {
			continue
		}
		if o.Status() == models.StatusFilled {
			e.expireExits(ctx, o)
			continue
		}
		if !lifecycle.IsExpirable(o.Status()) {
			continue
		}
		e.Stop(o.ID)
		for _, child := range e.Children(o.ID) {
			if _, err := e.gateway.Cancel(ctx, child, "expired"); err != nil {
				e.logger.Debug("child cancel on expiry skipped", utils.OrderID(child.ID), utils.Err(err))
			}
		}
		if _, err := e.machine.Expire(o); err != nil {
			e.logger.Debug("expire skipped", utils.OrderID(o.ID), utils.Err(err))
			continue
		}
		if s, err := e.dispatcher.Get(o.Strategy); err == nil {
			s.Release(o.ID)
		}
		e.orders.Remove(o.ID)
		e.logger.Info("order expired", utils.OrderID(o.ID), utils.Symbol(o.Symbol))
	}
}

func (e *Engine) expireExits(ctx context.Context, o *models.Order) {
	s, err := e.dispatcher.Get(o.Strategy)
	if err != nil || !s.Tracks(o.ID) {
		return
	}
	d, ok := s.(strategy.Disarmer)
	if !ok {
		return
	}
	if _, err := d.Disarm(ctx, o.ID, "expired"); err != nil {
		e.logger.Debug("exit disarm on expiry skipped", utils.OrderID(o.ID), utils.Err(err))
		return
	}
	e.logger.Info("armed exits expired", utils.OrderID(o.ID), utils.Symbol(o.Symbol))
}

// purge забывает финальные ордера старше Retention вместе с детьми
func (e *Engine) purge(now time.Time) {
	if e.cfg.Retention <= 0 {
		return
	}
	var purged int
	e.known.Range(func(key, value any) bool {
		o := value.(*models.Order)
		if o.ParentID != "" {
			return true
		}
		st := o.State()
		if !st.Status.IsTerminal() || now.Sub(st.UpdatedAt) < e.cfg.Retention {
			return true
		}
		s, err := e.dispatcher.Get(o.Strategy)
		if err == nil {
			if s.Tracks(o.ID) {
				return true
			}
			s.Release(o.ID)
		}
		e.forget(o.ID)
		purged++
		return true
	})
	if purged > 0 {
		e.logger.Debug("terminal orders purged", utils.Int("count", purged))
	}
}

func (e *Engine) forget(parentID string) {
	if v, ok := e.children.LoadAndDelete(parentID); ok {
		l := v.(*childList)
		l.mu.Lock()
		for _, c := range l.items {
			st := c.State()
			e.known.Delete(c.ID)
			e.rollUp.Delete(c.ID)
			if st.BrokerOrderID != "" {
				e.byBroker.Delete(brokerKey(st.BrokerName, st.BrokerOrderID))
			}
		}
		l.mu.Unlock()
	}
	e.Stop(parentID)
	e.orders.Remove(parentID)
	e.known.Delete(parentID)
}

// ============================================================
// Вспомогательное
// ============================================================

// rejected учитывает отказ до создания ордера
func (e *Engine) rejected(err error) error {
	metrics.RecordRejected(string(models.AsExecError(err).Kind))
	return err
}

// recoverPanic превращает панику публичной операции в ExecError{Unexpected}
func (e *Engine) recoverPanic(op string, err *error) {
	if r := recover(); r != nil {
		e.logger.Error("panic recovered", utils.String("op", op), utils.Any("panic", r))
		*err = models.Unexpected(fmt.Errorf("%s: panic: %v", op, r))
		metrics.RecordRejected(string(models.KindUnexpected))
	}
}

func strategyLabel(t models.StrategyType) string {
	if t == models.StrategyNone {
		return "direct"
	}
	return string(t)
}

func brokerKey(broker, brokerOrderID string) string {
	return broker + "/" + brokerOrderID
}
