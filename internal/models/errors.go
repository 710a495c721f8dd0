package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind - класс ошибки движка исполнения
type ErrorKind string

const (
	KindValidation         ErrorKind = "VALIDATION"
	KindOrderRejected      ErrorKind = "ORDER_REJECTED"
	KindNoEligibleBrokers  ErrorKind = "NO_ELIGIBLE_BROKERS"
	KindServiceUnavailable ErrorKind = "SERVICE_UNAVAILABLE"
	KindUnexpected         ErrorKind = "UNEXPECTED"
)

// Коды уточняют причину внутри класса
const (
	CodeCircuitBreakerOpen      = "CIRCUIT_BREAKER_OPEN"
	CodeInvalidResponse         = "INVALID_RESPONSE"
	CodeNotConfigured           = "NOT_CONFIGURED"
	CodeTimeout                 = "TIMEOUT"
	CodeCallFailed              = "CALL_FAILED"
	CodeInvalidTransition       = "INVALID_TRANSITION"
	CodeCannotDetermineStrategy = "CANNOT_DETERMINE_STRATEGY"
	CodeNotFound                = "NOT_FOUND"
	CodeDuplicate               = "DUPLICATE"
)

// ExecError - типизированная ошибка публичных операций движка
type ExecError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *ExecError) Error() string {
	var b strings.Builder
	switch e.Kind {
	case KindValidation:
		b.WriteString("validation error")
	case KindOrderRejected:
		b.WriteString("order rejected")
	case KindNoEligibleBrokers:
		b.WriteString("no eligible brokers")
	case KindServiceUnavailable:
		b.WriteString("service unavailable")
	default:
		b.WriteString("unexpected error")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap возвращает исходную ошибку
func (e *ExecError) Unwrap() error {
	return e.Err
}

// Is сравнивает по классу и (если задан у target) по коду
func (e *ExecError) Is(target error) bool {
	t, ok := target.(*ExecError)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// Recoverable - можно ли повторить операцию без изменения конфигурации
func (e *ExecError) Recoverable() bool {
	if e.Kind != KindServiceUnavailable {
		return false
	}
	switch e.Code {
	case CodeCircuitBreakerOpen, CodeInvalidResponse, CodeNotConfigured:
		return false
	default:
		return true
	}
}

// Retryable реализует retry.RetryableError
func (e *ExecError) Retryable() bool {
	return e.Recoverable()
}

// Сентинелы для errors.Is
var (
	ErrValidation         = &ExecError{Kind: KindValidation}
	ErrOrderRejected      = &ExecError{Kind: KindOrderRejected}
	ErrNoEligibleBrokers  = &ExecError{Kind: KindNoEligibleBrokers}
	ErrServiceUnavailable = &ExecError{Kind: KindServiceUnavailable}
	ErrUnexpected         = &ExecError{Kind: KindUnexpected}
	ErrOrderNotFound      = &ExecError{Kind: KindOrderRejected, Code: CodeNotFound}
	ErrBreakerOpen        = &ExecError{Kind: KindServiceUnavailable, Code: CodeCircuitBreakerOpen}
)

// NewValidationError создаёт ошибку валидации из списка сообщений
func NewValidationError(msgs ...string) *ExecError {
	return &ExecError{Kind: KindValidation, Message: strings.Join(msgs, "; ")}
}

// OrderRejected создаёт ошибку отклонения ордера
func OrderRejected(format string, args ...interface{}) *ExecError {
	return &ExecError{Kind: KindOrderRejected, Message: fmt.Sprintf(format, args...)}
}

// InvalidTransition - попытка недопустимого перехода статуса
func InvalidTransition(msg string) *ExecError {
	return &ExecError{Kind: KindOrderRejected, Code: CodeInvalidTransition, Message: msg}
}

// CannotDetermineStrategy - запрос не подходит ни под одну стратегию
func CannotDetermineStrategy() *ExecError {
	return &ExecError{Kind: KindOrderRejected, Code: CodeCannotDetermineStrategy, Message: "cannot determine strategy"}
}

// OrderNotFound - ордер отсутствует в реестре
func OrderNotFound(orderID string) *ExecError {
	return &ExecError{Kind: KindOrderRejected, Code: CodeNotFound, Message: "order " + orderID + " not found"}
}

// NoEligibleBrokers - после фильтра не осталось брокеров
func NoEligibleBrokers() *ExecError {
	return &ExecError{Kind: KindNoEligibleBrokers, Message: "no broker passed the eligibility filter"}
}

// ServiceUnavailable - брокер или предохранитель недоступен
func ServiceUnavailable(code, msg string, err error) *ExecError {
	return &ExecError{Kind: KindServiceUnavailable, Code: code, Message: msg, Err: err}
}

// Unexpected оборачивает непредвиденную ошибку
func Unexpected(err error) *ExecError {
	return &ExecError{Kind: KindUnexpected, Err: err}
}

// AsExecError приводит любую ошибку к ExecError
func AsExecError(err error) *ExecError {
	if err == nil {
		return nil
	}
	var e *ExecError
	if errors.As(err, &e) {
		return e
	}
	return Unexpected(err)
}
