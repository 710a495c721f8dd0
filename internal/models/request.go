package models

import (
	"strings"
	"time"
	"unicode"
)

// OrderRequest - запрос на размещение ордера
//
// Необязательные поля считаются заполненными, если они больше нуля
// (или непустые для строк). Именно по ним выбирается стратегия.
type OrderRequest struct {
	Symbol      string      `json:"symbol"`
	Exchange    string      `json:"exchange,omitempty"`
	Side        Side        `json:"side"`
	OrderType   OrderType   `json:"order_type"`
	Quantity    int64       `json:"quantity"`
	TimeInForce TimeInForce `json:"time_in_force"`
	ExpiryDate  *time.Time  `json:"expiry_date,omitempty"`

	LimitPrice      float64 `json:"limit_price,omitempty"`
	StopPrice       float64 `json:"stop_price,omitempty"`
	TrailAmount     float64 `json:"trail_amount,omitempty"`
	TrailPercent    float64 `json:"trail_percent,omitempty"`
	EntryPrice      float64 `json:"entry_price,omitempty"`
	ProfitTarget    float64 `json:"profit_target,omitempty"`
	DisplayQuantity int64   `json:"display_quantity,omitempty"`
	ClientOrderRef  string  `json:"client_order_ref,omitempty"`
	BrokerName      string  `json:"broker_name,omitempty"`

	// Параметры алгоритмов TWAP/VWAP (0 = значения из конфигурации)
	Slices            int           `json:"slices,omitempty"`
	Horizon           time.Duration `json:"horizon,omitempty"`
	ParticipationRate float64       `json:"participation_rate,omitempty"`

	// Явный запрос маршрутизации (пусто = автоматический выбор)
	Routing ExecutionStrategy `json:"routing,omitempty"`
}

// ModifyRequest - изменение параметров активного ордера (0 = не менять)
type ModifyRequest struct {
	Quantity        int64   `json:"quantity,omitempty"`
	LimitPrice      float64 `json:"limit_price,omitempty"`
	StopPrice       float64 `json:"stop_price,omitempty"`
	TrailAmount     float64 `json:"trail_amount,omitempty"`
	TrailPercent    float64 `json:"trail_percent,omitempty"`
	ProfitTarget    float64 `json:"profit_target,omitempty"`
	DisplayQuantity int64   `json:"display_quantity,omitempty"`
}

// IsEmpty - в запросе нет ни одного изменения
func (m ModifyRequest) IsEmpty() bool {
	return m == ModifyRequest{}
}

// OrderResponse - ответ по ордеру
type OrderResponse struct {
	OrderID           string            `json:"order_id"`
	CorrelationID     string            `json:"correlation_id"`
	Symbol            string            `json:"symbol"`
	Side              Side              `json:"side"`
	Strategy          StrategyType      `json:"strategy,omitempty"`
	ExecutionStrategy ExecutionStrategy `json:"execution_strategy,omitempty"`
	BrokerName        string            `json:"broker_name,omitempty"`
	BrokerOrderID     string            `json:"broker_order_id,omitempty"`
	Status            OrderStatus       `json:"status"`
	Quantity          int64             `json:"quantity"`
	FilledQuantity    int64             `json:"filled_quantity"`
	AvgFillPrice      float64           `json:"avg_fill_price,omitempty"`
	RejectionReason   string            `json:"rejection_reason,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// ValidationResult - результат валидации запроса
type ValidationResult struct {
	IsValid bool     `json:"is_valid"`
	Errors  []string `json:"errors,omitempty"`
}

// Valid возвращает успешный результат валидации
func Valid() ValidationResult {
	return ValidationResult{IsValid: true}
}

// Invalid возвращает неуспешный результат с сообщениями
func Invalid(msgs ...string) ValidationResult {
	return ValidationResult{IsValid: false, Errors: msgs}
}

// Err конвертирует результат в ValidationError (nil если валиден)
func (v ValidationResult) Err() error {
	if v.IsValid {
		return nil
	}
	return NewValidationError(v.Errors...)
}

// ============ OrderIntent ============

// OrderIntent - намерение ордера, определяемое один раз при построении запроса
//
// Direct == true означает обычный MARKET/LIMIT ордер без стратегии:
// он маршрутизируется роутером напрямую.
type OrderIntent struct {
	Strategy StrategyType
	Direct   bool
	Request  OrderRequest
}

// NewOrderIntent определяет стратегию по заполненным полям запроса.
//
// Порядок приоритета при нескольких подсказках:
// TRAILING_STOP > BRACKET > ICEBERG > TWAP > VWAP > STOP_LOSS.
// Запрос без подсказок с типом MARKET или LIMIT исполняется напрямую,
// всё остальное отклоняется с "cannot determine strategy".
func NewOrderIntent(req OrderRequest) (OrderIntent, error) {
	intent := OrderIntent{Request: req}

	switch {
	case req.TrailAmount > 0 || req.TrailPercent > 0:
		intent.Strategy = StrategyTrailingStop
	case req.EntryPrice > 0 && req.ProfitTarget > 0:
		intent.Strategy = StrategyBracket
	case req.DisplayQuantity > 0:
		intent.Strategy = StrategyIceberg
	case HasStrategyHint(req.ClientOrderRef, StrategyTWAP):
		intent.Strategy = StrategyTWAP
	case HasStrategyHint(req.ClientOrderRef, StrategyVWAP):
		intent.Strategy = StrategyVWAP
	case req.OrderType == OrderTypeStopLoss:
		intent.Strategy = StrategyStopLoss
	case req.OrderType == OrderTypeMarket || req.OrderType == OrderTypeLimit:
		intent.Direct = true
	default:
		return OrderIntent{}, CannotDetermineStrategy()
	}

	return intent, nil
}

// HasStrategyHint ищет токен стратегии в свободном тексте ссылки клиента.
// Сравнение регистронезависимое, токен должен быть отдельным словом;
// подчёркивание считается частью слова.
func HasStrategyHint(ref string, strategy StrategyType) bool {
	if ref == "" {
		return false
	}
	tokens := strings.FieldsFunc(ref, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	for _, tok := range tokens {
		if strings.EqualFold(tok, string(strategy)) {
			return true
		}
	}
	return false
}
