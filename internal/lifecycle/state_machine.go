// Package lifecycle - машина состояний ордера.
//
// Все изменения статуса ордера проходят через Machine: она проверяет переход,
// меняет состояние под мьютексом ордера и публикует событие.
package lifecycle

import "orderexec/internal/models"

// ValidTransitions определяет допустимые переходы между статусами
var ValidTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.StatusPending: {
		models.StatusAcknowledged,
		models.StatusCancelled,
		models.StatusRejected,
		models.StatusExpired, // GTD без исполнения
	},
	models.StatusAcknowledged: {
		models.StatusPartiallyFilled,
		models.StatusFilled,
		models.StatusCancelled,
		models.StatusExpired, // GTD без исполнения
	},
	models.StatusPartiallyFilled: {
		models.StatusPartiallyFilled, // fills накапливаются
		models.StatusFilled,
		models.StatusCancelled,
	},
	// Финальные статусы переходов не имеют
	models.StatusFilled:    {},
	models.StatusCancelled: {},
	models.StatusRejected:  {},
	models.StatusExpired:   {},
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to models.OrderStatus) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsModifiable - параметры ордера ещё можно менять
func IsModifiable(s models.OrderStatus) bool {
	return s == models.StatusPending || s == models.StatusAcknowledged
}

// IsCancellable - ордер ещё можно отменить
func IsCancellable(s models.OrderStatus) bool {
	return s == models.StatusPending || s == models.StatusAcknowledged || s == models.StatusPartiallyFilled
}

// IsExpirable - ордер без исполнений, который может истечь по GTD
func IsExpirable(s models.OrderStatus) bool {
	return s == models.StatusPending || s == models.StatusAcknowledged
}
