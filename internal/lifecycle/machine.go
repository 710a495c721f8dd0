package lifecycle

import (
	"time"

	"orderexec/internal/events"
	"orderexec/internal/models"
	"orderexec/pkg/utils"
)

// Machine применяет переходы статусов и публикует события.
// Событие публикуется сразу после успешного изменения.
type Machine struct {
	publisher events.Publisher
	logger    *utils.Logger
	now       func() time.Time
}

// NewMachine создаёт машину состояний
func NewMachine(publisher events.Publisher, logger *utils.Logger) *Machine {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Machine{
		publisher: publisher,
		logger:    logger.WithComponent("lifecycle"),
		now:       time.Now,
	}
}

// terminalGuard - общая проверка: финальные статусы не меняются
func terminalGuard(o *models.Order, s *models.OrderState) error {
	if s.Status.IsTerminal() {
		return models.OrderRejected("order %s is in terminal status %s", o.ID, s.Status)
	}
	return nil
}

func (m *Machine) commit(o *models.Order, eventType events.EventType, fn func(s *models.OrderState) error) (models.OrderState, error) {
	st, err := o.Mutate(func(s *models.OrderState) error {
		if err := fn(s); err != nil {
			return err
		}
		s.UpdatedAt = m.now()
		return nil
	})
	if err != nil {
		return st, err
	}
	m.publisher.Publish(eventType, o)
	return st, nil
}

// Acknowledge фиксирует подтверждение брокера: PENDING → ACKNOWLEDGED.
// Если вместе с подтверждением пришло исполнение, оно применяется сразу.
func (m *Machine) Acknowledge(o *models.Order, broker, brokerOrderID string, fill models.Fill) (models.OrderState, error) {
	st, err := m.commit(o, events.OrderPlaced, func(s *models.OrderState) error {
		if err := terminalGuard(o, s); err != nil {
			return err
		}
		if !CanTransition(s.Status, models.StatusAcknowledged) {
			return models.InvalidTransition("cannot acknowledge order " + o.ID + " in status " + string(s.Status))
		}
		s.Status = models.StatusAcknowledged
		s.BrokerName = broker
		s.BrokerOrderID = brokerOrderID
		return nil
	})
	if err != nil || fill.Quantity <= 0 {
		return st, err
	}
	return m.ApplyFill(o, fill)
}

// ApplyFill применяет исполнение: ACKNOWLEDGED|PARTIALLY_FILLED → PARTIALLY_FILLED|FILLED.
// Средняя цена взвешивается по объёму, исполненный объём не превышает объём ордера.
func (m *Machine) ApplyFill(o *models.Order, fill models.Fill) (models.OrderState, error) {
	return m.commit(o, events.OrderFilled, func(s *models.OrderState) error {
		if err := terminalGuard(o, s); err != nil {
			return err
		}
		if fill.Quantity <= 0 {
			return models.OrderRejected("fill quantity must be positive, got %d", fill.Quantity)
		}

		qty := utils.MinInt64(fill.Quantity, s.Remaining())
		filled := s.FilledQuantity + qty
		next := models.StatusPartiallyFilled
		if filled >= s.Quantity {
			next = models.StatusFilled
		}
		if !CanTransition(s.Status, next) {
			return models.InvalidTransition("cannot fill order " + o.ID + " in status " + string(s.Status))
		}

		s.AvgFillPrice = utils.WeightedAvgPrice(s.AvgFillPrice, s.FilledQuantity, fill.Price, qty)
		s.FilledQuantity = filled
		s.Status = next
		return nil
	})
}

// Cancel отменяет ордер: {PENDING, ACKNOWLEDGED, PARTIALLY_FILLED} → CANCELLED
func (m *Machine) Cancel(o *models.Order, reason string) (models.OrderState, error) {
	return m.commit(o, events.OrderCancelled, func(s *models.OrderState) error {
		if !IsCancellable(s.Status) {
			return models.OrderRejected("order %s cannot be cancelled in status %s", o.ID, s.Status)
		}
		s.Status = models.StatusCancelled
		if reason != "" {
			s.RejectionReason = reason
		}
		return nil
	})
}

// Reject отклоняет ордер до подтверждения брокером: PENDING → REJECTED
func (m *Machine) Reject(o *models.Order, reason string) (models.OrderState, error) {
	st, err := m.commit(o, events.OrderRejected, func(s *models.OrderState) error {
		if err := terminalGuard(o, s); err != nil {
			return err
		}
		if !CanTransition(s.Status, models.StatusRejected) {
			return models.InvalidTransition("cannot reject order " + o.ID + " in status " + string(s.Status))
		}
		s.Status = models.StatusRejected
		s.RejectionReason = reason
		return nil
	})
	if err == nil {
		m.logger.Info("order rejected", utils.OrderID(o.ID), utils.String("reason", reason))
	}
	return st, err
}

// Expire переводит неисполненный GTD ордер в EXPIRED
func (m *Machine) Expire(o *models.Order) (models.OrderState, error) {
	return m.commit(o, events.OrderExpired, func(s *models.OrderState) error {
		if err := terminalGuard(o, s); err != nil {
			return err
		}
		if !IsExpirable(s.Status) {
			return models.InvalidTransition("cannot expire order " + o.ID + " in status " + string(s.Status))
		}
		s.Status = models.StatusExpired
		return nil
	})
}

// Modify меняет объём и цены ордера в статусах PENDING и ACKNOWLEDGED.
// Нулевые поля запроса не меняются.
func (m *Machine) Modify(o *models.Order, req models.ModifyRequest) (models.OrderState, error) {
	return m.commit(o, events.OrderModified, func(s *models.OrderState) error {
		if err := terminalGuard(o, s); err != nil {
			return err
		}
		if !IsModifiable(s.Status) {
			return models.OrderRejected("order %s cannot be modified in status %s", o.ID, s.Status)
		}
		if req.Quantity < 0 || req.LimitPrice < 0 || req.StopPrice < 0 {
			return models.NewValidationError("modify values must not be negative")
		}
		if req.Quantity > 0 {
			if req.Quantity < s.FilledQuantity {
				return models.OrderRejected("new quantity %d is below filled quantity %d", req.Quantity, s.FilledQuantity)
			}
			s.Quantity = req.Quantity
		}
		if req.LimitPrice > 0 {
			s.LimitPrice = req.LimitPrice
		}
		if req.StopPrice > 0 {
			s.StopPrice = req.StopPrice
		}
		return nil
	})
}

// Route запоминает выбранный способ маршрутизации.
// Статус не меняется, событие не публикуется; повторный выбор не перезаписывает первый.
func (m *Machine) Route(o *models.Order, strategy models.ExecutionStrategy) {
	_, _ = o.Mutate(func(s *models.OrderState) error {
		if s.ExecutionStrategy == "" {
			s.ExecutionStrategy = strategy
		}
		return nil
	})
}

// IsExpired - GTD или DAY ордер без исполнений с истёкшим сроком
func IsExpired(o *models.Order, now time.Time) bool {
	return PastExpiry(o, now) && IsExpirable(o.Status())
}

// PastExpiry - срок GTD или DAY ордера истёк, независимо от статуса
func PastExpiry(o *models.Order, now time.Time) bool {
	if o.ExpiryDate == nil || (o.TimeInForce != models.TIFGTD && o.TimeInForce != models.TIFDay) {
		return false
	}
	return !now.Before(*o.ExpiryDate)
}
