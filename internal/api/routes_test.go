package api

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderexec/internal/broker"
	"orderexec/internal/engine"
	"orderexec/internal/models"
	"orderexec/internal/registry"
	"orderexec/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func newServer(t *testing.T, token string, fillRatio float64) *httptest.Server {
	t.Helper()

	prices := engine.NewPriceCache(4)
	prices.Update(models.Tick{Symbol: "AAPL", Price: 150, Timestamp: time.Now()})

	book := registry.NewBrokers()
	book.Register(models.BrokerPerformance{
		Name:                "paper-a",
		PriceImprovementPct: 1,
		ExecutionTimeMs:     100,
		SuccessRatePct:      99,
		UptimePct:           99,
		FeePct:              0.1,
		Health:              1,
	}, 8)

	cfg := engine.DefaultConfig()
	cfg.Shards = 2
	eng := engine.New(cfg, engine.Deps{
		Brokers: book,
		Clients: []broker.Client{broker.NewPaper("paper-a", broker.PaperConfig{FillRatio: fillRatio, DefaultPrice: 100}, prices)},
		Prices:  prices,
		Logger:  utils.NewNop(),
	})

	router := SetupRoutes(&Dependencies{Engine: eng, APIToken: token}, utils.NewNop())
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body, token string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestRoutes_OrderFlow(t *testing.T) {
	srv := newServer(t, "", 0)

	// Брокер не исполняет, ордер остаётся активным
	resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/orders",
		`{"symbol":"aapl","side":"BUY","order_type":"LIMIT","quantity":100,"limit_price":140,"time_in_force":"GTC"}`, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var placed models.OrderResponse
	require.NoError(t, json.Unmarshal(body, &placed))
	assert.Equal(t, "AAPL", placed.Symbol)
	assert.Equal(t, models.ExecSingleBroker, placed.ExecutionStrategy)

	resp, body = do(t, http.MethodGet, srv.URL+"/api/v1/orders/"+placed.OrderID, "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got models.OrderResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, placed.OrderID, got.OrderID)

	resp, body = do(t, http.MethodGet, srv.URL+"/api/v1/orders", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), placed.OrderID)

	resp, _ = do(t, http.MethodDelete, srv.URL+"/api/v1/orders/"+placed.OrderID, "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Повторная отмена - конфликт
	resp, _ = do(t, http.MethodDelete, srv.URL+"/api/v1/orders/"+placed.OrderID, "", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestRoutes_FilledBracketExits(t *testing.T) {
	srv := newServer(t, "", 1)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/orders",
		`{"symbol":"NVDA","side":"BUY","order_type":"LIMIT","quantity":50,"limit_price":100,"entry_price":100,"profit_target":110,"stop_price":95}`, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var placed models.OrderResponse
	require.NoError(t, json.Unmarshal(body, &placed))
	require.Equal(t, models.StatusFilled, placed.Status)

	resp, _ = do(t, http.MethodDelete, srv.URL+"/api/v1/orders/"+placed.OrderID, "", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = do(t, http.MethodDelete, srv.URL+"/api/v1/orders/"+placed.OrderID+"/exits", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = do(t, http.MethodGet, srv.URL+"/api/v1/orders", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, string(body), placed.OrderID)

	resp, _ = do(t, http.MethodDelete, srv.URL+"/api/v1/orders/"+placed.OrderID+"/exits", "", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestRoutes_Errors(t *testing.T) {
	srv := newServer(t, "", 1)

	resp, _ := do(t, http.MethodPost, srv.URL+"/api/v1/orders", `{"symbol":"AAPL","side":"BUY","order_type":"MARKET","quantity":0}`, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/v1/orders/unknown", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Журнал не подключен
	resp, _ = do(t, http.MethodGet, srv.URL+"/api/v1/orders/unknown/events", "", "")
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)

	resp, body := do(t, http.MethodPut, srv.URL+"/api/v1/orders/x", "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Contains(t, string(body), "method not allowed")

	resp, _ = do(t, http.MethodPost, srv.URL+"/health", "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, body = do(t, http.MethodGet, srv.URL+"/api/v2/orders", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(body), "not found")
}

func TestRoutes_TokenProtectsWrites(t *testing.T) {
	srv := newServer(t, "s3cret", 1)

	resp, _ := do(t, http.MethodPost, srv.URL+"/api/v1/orders", `{"symbol":"AAPL","side":"BUY","order_type":"MARKET","quantity":10}`, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/v1/orders", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/orders", `{"symbol":"AAPL","side":"BUY","order_type":"MARKET","quantity":10}`, "s3cret")
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var placed models.OrderResponse
	require.NoError(t, json.Unmarshal(body, &placed))
	assert.Equal(t, models.StatusFilled, placed.Status)
}

func TestRoutes_ServiceEndpoints(t *testing.T) {
	srv := newServer(t, "", 1)

	resp, body := do(t, http.MethodGet, srv.URL+"/health", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"ok"`)

	resp, body = do(t, http.MethodGet, srv.URL+"/api/v1/brokers", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"name":"paper-a"`)
	assert.Contains(t, string(body), `"breaker":"closed"`)

	resp, _ = do(t, http.MethodGet, srv.URL+"/metrics", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Поток событий не подключен
	resp, _ = do(t, http.MethodGet, srv.URL+"/ws/events", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSetupRoutes_NilDependencies(t *testing.T) {
	router := SetupRoutes(nil, utils.NewNop())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
