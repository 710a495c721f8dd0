// Package validation проверяет запросы на размещение ордеров до выбора стратегии
package validation

import (
	"time"

	"orderexec/internal/models"
	"orderexec/pkg/utils"
)

// Validator - внешняя проверка запроса (права пользователя, лимиты, справочники)
type Validator interface {
	Validate(req models.OrderRequest, userID string) models.ValidationResult
}

// Compile-time interface check
var _ Validator = (*Rules)(nil)

// Rules - проверка полей запроса по правилам.
// Параметры стратегий проверяют сами стратегии.
type Rules struct {
	now func() time.Time
	// brokers - известные имена брокеров; nil - не проверять
	brokers func(name string) bool
}

// Option настраивает Rules
type Option func(*Rules)

// WithClock подменяет часы (для GTD)
func WithClock(now func() time.Time) Option {
	return func(r *Rules) { r.now = now }
}

// WithBrokers включает проверку явно запрошенного брокера
func WithBrokers(known func(name string) bool) Option {
	return func(r *Rules) { r.brokers = known }
}

// New создаёт валидатор по правилам
func New(opts ...Option) *Rules {
	r := &Rules{now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Rules) Validate(req models.OrderRequest, userID string) models.ValidationResult {
	var errs utils.ValidationErrors

	if userID == "" {
		errs.Add("user_id", "is required")
	}
	errs.AddError("symbol", utils.ValidateSymbol(req.Symbol))
	errs.AddError("quantity", utils.ValidateQuantity(req.Quantity))

	switch req.Side {
	case models.SideBuy, models.SideSell:
	default:
		errs.Add("side", "must be BUY or SELL")
	}

	var needLimit, needStop bool
	switch req.OrderType {
	case models.OrderTypeMarket:
	case models.OrderTypeLimit:
		needLimit = true
	case models.OrderTypeStop, models.OrderTypeStopLoss:
		needStop = true
	case models.OrderTypeStopLimit:
		needLimit, needStop = true, true
	default:
		errs.Add("order_type", "unsupported order type "+string(req.OrderType))
	}

	// Цена 0 - поле не задано, если тип ордера его не требует
	errs.AddError("limit_price", utils.ValidatePrice(req.LimitPrice, needLimit))
	errs.AddError("stop_price", utils.ValidatePrice(req.StopPrice, needStop))
	errs.AddError("entry_price", utils.ValidatePrice(req.EntryPrice, false))
	errs.AddError("profit_target", utils.ValidatePrice(req.ProfitTarget, false))
	errs.AddError("trail_amount", utils.ValidatePrice(req.TrailAmount, false))
	if req.TrailPercent != 0 {
		errs.AddError("trail_percent", utils.ValidatePercentage(req.TrailPercent))
	}
	if req.DisplayQuantity < 0 {
		errs.Add("display_quantity", "must not be negative")
	}

	r.validateTimeInForce(req, &errs)

	switch req.Routing {
	case "", models.ExecSingleBroker, models.ExecMultiBrokerSplit, models.ExecDynamicRouting,
		models.ExecIceberg, models.ExecLiquiditySeeking:
	default:
		errs.Add("routing", "unknown routing "+string(req.Routing))
	}

	if req.BrokerName != "" {
		if err := utils.ValidateBrokerName(req.BrokerName); err != nil {
			errs.AddError("broker_name", err)
		} else if r.brokers != nil && !r.brokers(req.BrokerName) {
			errs.Add("broker_name", "unknown broker "+req.BrokerName)
		}
	}

	if errs.HasErrors() {
		return models.Invalid(errs.Messages()...)
	}
	return models.Valid()
}

func (r *Rules) validateTimeInForce(req models.OrderRequest, errs *utils.ValidationErrors) {
	switch req.TimeInForce {
	case "", models.TIFDay, models.TIFGTC, models.TIFIOC, models.TIFFOK:
		if req.ExpiryDate != nil {
			errs.Add("expiry_date", "only allowed with GTD")
		}
	case models.TIFGTD:
		if req.ExpiryDate == nil {
			errs.Add("expiry_date", "is required for GTD orders")
		} else if !req.ExpiryDate.After(r.now()) {
			errs.Add("expiry_date", "must be in the future")
		}
	default:
		errs.Add("time_in_force", "unsupported time in force "+string(req.TimeInForce))
	}
}
