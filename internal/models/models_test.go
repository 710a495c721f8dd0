package models

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ============ Order Tests ============

func TestSide_Opposite(t *testing.T) {
	if SideBuy.Opposite() != SideSell {
		t.Errorf("BUY.Opposite() = %s, ожидалось SELL", SideBuy.Opposite())
	}
	if SideSell.Opposite() != SideBuy {
		t.Errorf("SELL.Opposite() = %s, ожидалось BUY", SideSell.Opposite())
	}
}

func TestOrderStatus_IsTerminal(t *testing.T) {
	tests := map[OrderStatus]bool{
		StatusPending:         false,
		StatusAcknowledged:    false,
		StatusPartiallyFilled: false,
		StatusFilled:          true,
		StatusCancelled:       true,
		StatusRejected:        true,
		StatusExpired:         true,
	}

	for status, want := range tests {
		if got := status.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, ожидалось %v", status, got, want)
		}
	}
}

func TestNewOrder(t *testing.T) {
	now := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)
	expiry := now.Add(time.Hour)
	req := OrderRequest{
		Symbol:      "AAPL",
		Exchange:    "NASDAQ",
		Side:        SideBuy,
		OrderType:   OrderTypeLimit,
		Quantity:    500,
		TimeInForce: TIFGTD,
		ExpiryDate:  &expiry,
		LimitPrice:  150.25,
		BrokerName:  "alpaca",
	}

	o := NewOrder("ord-1", "corr-1", "user-7", req, now)
	s := o.State()

	if o.ID != "ord-1" || o.CorrelationID != "corr-1" || o.UserID != "user-7" {
		t.Errorf("неверная идентификация: %+v", o)
	}
	if o.ParentID != "" {
		t.Errorf("у родительского ордера ParentID должен быть пуст, получено %q", o.ParentID)
	}
	if s.Status != StatusPending {
		t.Errorf("новый ордер должен быть PENDING, получено %s", s.Status)
	}
	if s.Quantity != 500 || s.LimitPrice != 150.25 || s.BrokerName != "alpaca" {
		t.Errorf("неверное состояние: %+v", s)
	}
	if !s.UpdatedAt.Equal(now) || !o.CreatedAt.Equal(now) {
		t.Errorf("время создания не совпадает: %v / %v", o.CreatedAt, s.UpdatedAt)
	}
}

func TestNewChildOrder_InheritsParent(t *testing.T) {
	now := time.Now()
	parent := NewOrder("parent", "corr", "user", OrderRequest{
		Symbol:      "MSFT",
		Side:        SideSell,
		OrderType:   OrderTypeMarket,
		Quantity:    20_000,
		TimeInForce: TIFDay,
	}, now)
	parent.Strategy = StrategyIceberg
	parent.Mutate(func(s *OrderState) error {
		s.ExecutionStrategy = ExecIceberg
		return nil
	})

	child := NewChildOrder("child", parent, OrderTypeLimit, SideSell, 1000, 410.5, now)
	s := child.State()

	if child.ParentID != "parent" || child.CorrelationID != "corr" || child.UserID != "user" {
		t.Errorf("дочерний ордер не унаследовал идентификацию: %+v", child)
	}
	if child.Symbol != "MSFT" || child.TimeInForce != TIFDay || child.Strategy != StrategyIceberg {
		t.Errorf("дочерний ордер не унаследовал параметры: %+v", child)
	}
	if child.Type != OrderTypeLimit || s.Quantity != 1000 || s.LimitPrice != 410.5 {
		t.Errorf("неверные параметры дочернего ордера: type=%s %+v", child.Type, s)
	}
	if s.ExecutionStrategy != ExecIceberg {
		t.Errorf("ожидался способ маршрутизации ICEBERG, получено %s", s.ExecutionStrategy)
	}
}

func TestOrder_MutateRollsBackOnError(t *testing.T) {
	o := NewOrder("ord", "corr", "user", OrderRequest{Symbol: "AAPL", Quantity: 100}, time.Now())

	_, err := o.Mutate(func(s *OrderState) error {
		s.FilledQuantity = 50
		s.Status = StatusPartiallyFilled
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("ожидалась ошибка")
	}
	if s := o.State(); s.FilledQuantity != 0 || s.Status != StatusPending {
		t.Errorf("состояние изменилось после ошибки: %+v", s)
	}

	next, err := o.Mutate(func(s *OrderState) error {
		s.FilledQuantity = 60
		return nil
	})
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if next.FilledQuantity != 60 || o.State().FilledQuantity != 60 {
		t.Errorf("изменение не применилось: %+v", next)
	}
}

func TestOrderState_Remaining(t *testing.T) {
	tests := []struct {
		qty, filled, want int64
	}{
		{100, 0, 100},
		{100, 40, 60},
		{100, 100, 0},
		{100, 120, 0}, // переисполнение не даёт отрицательного остатка
	}

	for _, tt := range tests {
		s := OrderState{Quantity: tt.qty, FilledQuantity: tt.filled}
		if got := s.Remaining(); got != tt.want {
			t.Errorf("Remaining(%d, %d) = %d, ожидалось %d", tt.qty, tt.filled, got, tt.want)
		}
	}
}

func TestOrder_Response(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	o := NewOrder("ord-9", "corr-9", "user", OrderRequest{Symbol: "AAPL", Side: SideBuy, Quantity: 300}, now)
	o.Mutate(func(s *OrderState) error {
		s.Status = StatusPartiallyFilled
		s.FilledQuantity = 100
		s.AvgFillPrice = 150.1
		s.BrokerName = "paper-a"
		s.BrokerOrderID = "b-1"
		s.ExecutionStrategy = ExecSingleBroker
		return nil
	})

	resp := o.Response()
	if resp.OrderID != "ord-9" || resp.Status != StatusPartiallyFilled || resp.FilledQuantity != 100 {
		t.Errorf("неверный ответ: %+v", resp)
	}

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("ошибка сериализации: %v", err)
	}
	body := string(data)
	for _, field := range []string{`"order_id":"ord-9"`, `"execution_strategy":"SINGLE_BROKER"`, `"broker_order_id":"b-1"`, `"filled_quantity":100`} {
		if !strings.Contains(body, field) {
			t.Errorf("поле %s отсутствует в JSON: %s", field, body)
		}
	}
	// Пустые необязательные поля не выводятся
	if strings.Contains(body, "rejection_reason") || strings.Contains(body, `"strategy"`) {
		t.Errorf("пустые поля не должны попадать в JSON: %s", body)
	}
}

// ============ OrderIntent Tests ============

func TestNewOrderIntent(t *testing.T) {
	tests := []struct {
		name       string
		req        OrderRequest
		want       StrategyType
		wantDirect bool
		wantErr    bool
	}{
		{"market", OrderRequest{OrderType: OrderTypeMarket}, StrategyNone, true, false},
		{"limit", OrderRequest{OrderType: OrderTypeLimit, LimitPrice: 10}, StrategyNone, true, false},
		{"stop loss", OrderRequest{OrderType: OrderTypeStopLoss, StopPrice: 9}, StrategyStopLoss, false, false},
		{"trail amount", OrderRequest{OrderType: OrderTypeMarket, TrailAmount: 1}, StrategyTrailingStop, false, false},
		{"trail percent", OrderRequest{OrderType: OrderTypeMarket, TrailPercent: 2}, StrategyTrailingStop, false, false},
		{"bracket", OrderRequest{OrderType: OrderTypeLimit, EntryPrice: 100, ProfitTarget: 110}, StrategyBracket, false, false},
		{"entry without target", OrderRequest{OrderType: OrderTypeLimit, EntryPrice: 100}, StrategyNone, true, false},
		{"iceberg", OrderRequest{OrderType: OrderTypeLimit, DisplayQuantity: 100}, StrategyIceberg, false, false},
		{"twap hint", OrderRequest{OrderType: OrderTypeMarket, ClientOrderRef: "desk-4 twap"}, StrategyTWAP, false, false},
		{"vwap hint", OrderRequest{OrderType: OrderTypeMarket, ClientOrderRef: "VWAP/close"}, StrategyVWAP, false, false},
		{"trailing wins over bracket", OrderRequest{TrailAmount: 1, EntryPrice: 100, ProfitTarget: 110}, StrategyTrailingStop, false, false},
		{"bracket wins over iceberg", OrderRequest{EntryPrice: 100, ProfitTarget: 110, DisplayQuantity: 10}, StrategyBracket, false, false},
		{"iceberg wins over twap", OrderRequest{DisplayQuantity: 10, ClientOrderRef: "twap"}, StrategyIceberg, false, false},
		{"twap wins over vwap", OrderRequest{ClientOrderRef: "twap vwap"}, StrategyTWAP, false, false},
		{"vwap wins over stop loss", OrderRequest{OrderType: OrderTypeStopLoss, ClientOrderRef: "vwap"}, StrategyVWAP, false, false},
		{"plain stop", OrderRequest{OrderType: OrderTypeStop, StopPrice: 9}, StrategyNone, false, true},
		{"plain stop limit", OrderRequest{OrderType: OrderTypeStopLimit}, StrategyNone, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent, err := NewOrderIntent(tt.req)
			if tt.wantErr {
				if !errors.Is(err, &ExecError{Kind: KindOrderRejected, Code: CodeCannotDetermineStrategy}) {
					t.Fatalf("ожидалась ошибка cannot determine strategy, получено %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("неожиданная ошибка: %v", err)
			}
			if intent.Strategy != tt.want || intent.Direct != tt.wantDirect {
				t.Errorf("получено %q direct=%v, ожидалось %q direct=%v", intent.Strategy, intent.Direct, tt.want, tt.wantDirect)
			}
		})
	}
}

func TestHasStrategyHint(t *testing.T) {
	tests := []struct {
		ref  string
		want bool
	}{
		{"", false},
		{"twap", true},
		{"TWAP", true},
		{"client-42:TwAp", true},
		{"twapper", false},
		{"notwap", false},
		{"my_twap_order", false}, // подчёркивание не разделяет слова
		{"twap_1", false},
		{"batch-7/twap", true},
	}

	for _, tt := range tests {
		if got := HasStrategyHint(tt.ref, StrategyTWAP); got != tt.want {
			t.Errorf("HasStrategyHint(%q) = %v, ожидалось %v", tt.ref, got, tt.want)
		}
	}
}

func TestModifyRequest_IsEmpty(t *testing.T) {
	if !(ModifyRequest{}).IsEmpty() {
		t.Error("пустой запрос должен быть IsEmpty")
	}
	if (ModifyRequest{LimitPrice: 1}).IsEmpty() {
		t.Error("запрос с ценой не должен быть IsEmpty")
	}
}

func TestValidationResult_Err(t *testing.T) {
	if err := Valid().Err(); err != nil {
		t.Errorf("валидный результат вернул ошибку: %v", err)
	}

	err := Invalid("quantity must be positive", "symbol is required").Err()
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("ожидалась ошибка валидации, получено %v", err)
	}
	if !strings.Contains(err.Error(), "quantity must be positive; symbol is required") {
		t.Errorf("сообщения не объединены: %s", err.Error())
	}
}

func TestOrderRequest_JSONFieldNames(t *testing.T) {
	body := `{"symbol":"AAPL","side":"SELL","order_type":"LIMIT","quantity":10,"time_in_force":"GTC",
		"limit_price":150.5,"display_quantity":5,"client_order_ref":"twap","routing":"MULTI_BROKER_SPLIT"}`

	var req OrderRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("ошибка десериализации: %v", err)
	}
	if req.Side != SideSell || req.OrderType != OrderTypeLimit || req.TimeInForce != TIFGTC {
		t.Errorf("неверные перечисления: %+v", req)
	}
	if req.LimitPrice != 150.5 || req.DisplayQuantity != 5 || req.ClientOrderRef != "twap" {
		t.Errorf("неверные необязательные поля: %+v", req)
	}
	if req.Routing != ExecMultiBrokerSplit {
		t.Errorf("ожидалась маршрутизация MULTI_BROKER_SPLIT, получено %s", req.Routing)
	}
}

// ============ ExecError Tests ============

func TestExecError_Error(t *testing.T) {
	tests := []struct {
		err  *ExecError
		want string
	}{
		{NewValidationError("symbol is required"), "validation error: symbol is required"},
		{OrderNotFound("o-1"), "order rejected: order o-1 not found"},
		{NoEligibleBrokers(), "no eligible brokers: no broker passed the eligibility filter"},
		{ServiceUnavailable(CodeTimeout, "call timed out", context.DeadlineExceeded), "service unavailable: call timed out: context deadline exceeded"},
		{Unexpected(errors.New("nil pointer")), "unexpected error: nil pointer"},
	}

	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, ожидалось %q", got, tt.want)
		}
	}
}

func TestExecError_Is(t *testing.T) {
	notFound := OrderNotFound("o-1")

	if !errors.Is(notFound, ErrOrderNotFound) {
		t.Error("OrderNotFound должен совпадать с ErrOrderNotFound")
	}
	if !errors.Is(notFound, ErrOrderRejected) {
		t.Error("сентинел без кода совпадает с любым кодом класса")
	}
	if errors.Is(CannotDetermineStrategy(), ErrOrderNotFound) {
		t.Error("разные коды не должны совпадать")
	}
	if errors.Is(notFound, ErrValidation) {
		t.Error("разные классы не должны совпадать")
	}

	wrapped := ServiceUnavailable(CodeCircuitBreakerOpen, "breaker open", nil)
	if !errors.Is(wrapped, ErrBreakerOpen) {
		t.Error("ожидалось совпадение с ErrBreakerOpen")
	}

	cause := ServiceUnavailable(CodeTimeout, "call timed out", context.DeadlineExceeded)
	if !errors.Is(cause, context.DeadlineExceeded) {
		t.Error("Unwrap должен раскрывать исходную ошибку")
	}
}

func TestExecError_Recoverable(t *testing.T) {
	tests := []struct {
		err  *ExecError
		want bool
	}{
		{ServiceUnavailable(CodeTimeout, "", nil), true},
		{ServiceUnavailable(CodeCallFailed, "", nil), true},
		{ServiceUnavailable(CodeCircuitBreakerOpen, "", nil), false},
		{ServiceUnavailable(CodeInvalidResponse, "", nil), false},
		{ServiceUnavailable(CodeNotConfigured, "", nil), false},
		{NewValidationError("x"), false},
		{OrderRejected("insufficient funds"), false},
	}

	for _, tt := range tests {
		if got := tt.err.Recoverable(); got != tt.want {
			t.Errorf("%s/%s Recoverable() = %v, ожидалось %v", tt.err.Kind, tt.err.Code, got, tt.want)
		}
		if tt.err.Retryable() != tt.err.Recoverable() {
			t.Errorf("Retryable и Recoverable расходятся для %v", tt.err)
		}
	}
}

func TestAsExecError(t *testing.T) {
	if AsExecError(nil) != nil {
		t.Error("nil должен остаться nil")
	}

	original := NoEligibleBrokers()
	if got := AsExecError(errors.Join(errors.New("context"), original)); got != original {
		t.Errorf("ожидалась исходная ExecError, получено %v", got)
	}

	plain := errors.New("disk full")
	got := AsExecError(plain)
	if got.Kind != KindUnexpected || !errors.Is(got, plain) {
		t.Errorf("обычная ошибка должна стать UNEXPECTED: %+v", got)
	}
}

// ============ Broker Tests ============

func TestBrokerPerformance_Clone(t *testing.T) {
	p := BrokerPerformance{Name: "alpaca", Liquidity: map[string]int64{"AAPL": 5000}}

	c := p.Clone()
	c.Liquidity["AAPL"] = 1

	if p.LiquidityFor("AAPL") != 5000 {
		t.Errorf("изменение копии затронуло оригинал: %d", p.LiquidityFor("AAPL"))
	}
	if c.LiquidityFor("MSFT") != 0 {
		t.Error("неизвестный символ должен давать 0")
	}
	if (BrokerPerformance{}).LiquidityFor("AAPL") != 0 {
		t.Error("nil карта должна давать 0")
	}
}

func TestOrderSplitPlan_Total(t *testing.T) {
	plan := OrderSplitPlan{
		ParentOrderID: "parent",
		Children: []ChildOrder{
			{Broker: "a", Quantity: 6000, AllocationPct: 50, Priority: 1},
			{Broker: "b", Quantity: 4000, AllocationPct: 33.3, Priority: 2},
			{Broker: "c", Quantity: 2000, AllocationPct: 16.7, Priority: 3},
		},
	}

	if plan.Total() != 12_000 {
		t.Errorf("Total() = %d, ожидалось 12000", plan.Total())
	}
	if (OrderSplitPlan{}).Total() != 0 {
		t.Error("пустой план должен давать 0")
	}
}
