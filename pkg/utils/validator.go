package utils

// validator.go - проверка полей ордера
//
// Функции возвращают error с описанием проблемы или nil.
// Сборка результата по всем полям - ValidationErrors.

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Ошибки валидации
var (
	ErrInvalidSymbol   = errors.New("symbol must be 1-15 characters: letters, digits, '.', '-' or '/'")
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrInvalidPrice    = errors.New("price must be a positive finite number")
	ErrInvalidPercent  = errors.New("percentage must be within [0, 100)")
	ErrInvalidBroker   = errors.New("broker name must be 1-32 characters: lowercase letters, digits, '-' or '_'")
)

const (
	maxSymbolLen = 15
	maxBrokerLen = 32
)

// ValidateSymbol проверяет тикер инструмента (AAPL, BRK.B, BTC/USD)
func ValidateSymbol(symbol string) error {
	if len(symbol) == 0 || len(symbol) > maxSymbolLen {
		return ErrInvalidSymbol
	}
	for _, r := range symbol {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case r == '.' || r == '-' || r == '/':
		default:
			return ErrInvalidSymbol
		}
	}
	return nil
}

// NormalizeSymbol приводит тикер к верхнему регистру без пробелов по краям
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// ValidateQuantity проверяет объём ордера
func ValidateQuantity(qty int64) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	return nil
}

// ValidatePrice проверяет цену; required=false допускает 0 (поле не задано)
func ValidatePrice(price float64, required bool) error {
	if price == 0 && !required {
		return nil
	}
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return ErrInvalidPrice
	}
	return nil
}

// ValidatePercentage проверяет процент в диапазоне [0, 100)
func ValidatePercentage(pct float64) error {
	if pct < 0 || pct >= 100 || math.IsNaN(pct) {
		return ErrInvalidPercent
	}
	return nil
}

// ValidateBrokerName проверяет имя брокера из конфигурации или запроса
func ValidateBrokerName(name string) error {
	if len(name) == 0 || len(name) > maxBrokerLen {
		return ErrInvalidBroker
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return ErrInvalidBroker
		}
	}
	return nil
}

// ============================================================
// ValidationErrors
// ============================================================

// FieldError - ошибка одного поля
type FieldError struct {
	Field   string
	Message string
}

// ValidationErrors накапливает ошибки по полям
type ValidationErrors []FieldError

// Add добавляет ошибку поля
func (v *ValidationErrors) Add(field, message string) {
	*v = append(*v, FieldError{Field: field, Message: message})
}

// AddError добавляет ошибку, если она не nil
func (v *ValidationErrors) AddError(field string, err error) {
	if err != nil {
		v.Add(field, err.Error())
	}
}

// HasErrors - есть хотя бы одна ошибка
func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

// Messages возвращает ошибки в виде "field: message"
func (v ValidationErrors) Messages() []string {
	out := make([]string, 0, len(v))
	for _, e := range v {
		out = append(out, fmt.Sprintf("%s: %s", e.Field, e.Message))
	}
	return out
}

func (v ValidationErrors) Error() string {
	return strings.Join(v.Messages(), "; ")
}
