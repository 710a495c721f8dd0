package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"orderexec/internal/engine"
	"orderexec/internal/feed"
	"orderexec/internal/models"
)

// ============ HealthHandler / BrokerHandler Tests ============

func TestHealthHandler_GetHealth(t *testing.T) {
	status := &MockEngineStatus{uptime: 90 * time.Second, active: 4}

	tests := []struct {
		name        string
		handler     *HealthHandler
		wantStatus  int
		wantHealth  string
		wantFeed    bool
		wantClients bool
	}{
		{
			name:       "engine only",
			handler:    NewHealthHandler(status, nil, nil),
			wantStatus: http.StatusOK,
			wantHealth: "ok",
		},
		{
			name:        "feed connected",
			handler:     NewHealthHandler(status, mockFeed{feed.Stats{State: "connected", Received: 10}}, mockStream{clients: 2}),
			wantStatus:  http.StatusOK,
			wantHealth:  "ok",
			wantFeed:    true,
			wantClients: true,
		},
		{
			name:       "feed reconnecting",
			handler:    NewHealthHandler(status, mockFeed{feed.Stats{State: "reconnecting"}}, nil),
			wantStatus: http.StatusOK,
			wantHealth: "degraded",
			wantFeed:   true,
		},
		{
			name:       "no engine",
			handler:    NewHealthHandler(nil, nil, nil),
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.handler.GetHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			if w.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}

			var resp HealthResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Status != tt.wantHealth {
				t.Errorf("expected status %s, got %s", tt.wantHealth, resp.Status)
			}
			if resp.UptimeSeconds != 90 || resp.Uptime != "1m30s" || resp.ActiveOrders != 4 {
				t.Errorf("unexpected engine fields: %+v", resp)
			}
			if (resp.Feed != nil) != tt.wantFeed {
				t.Errorf("feed present = %v, want %v", resp.Feed != nil, tt.wantFeed)
			}
			if (resp.StreamClients != nil) != tt.wantClients {
				t.Errorf("stream_clients present = %v, want %v", resp.StreamClients != nil, tt.wantClients)
			}
		})
	}
}

func TestBrokerHandler_GetBrokers(t *testing.T) {
	t.Run("returns brokers", func(t *testing.T) {
		status := &MockEngineStatus{brokers: []engine.BrokerStatus{
			{BrokerPerformance: models.BrokerPerformance{Name: "alpaca", OverallScore: 87.35, Health: 1}, Breaker: "closed", InFlight: 3},
			{BrokerPerformance: models.BrokerPerformance{Name: "paper-a", ConsecutiveFailures: 4}, Breaker: "open"},
		}}
		handler := NewBrokerHandler(status)

		w := httptest.NewRecorder()
		handler.GetBrokers(w, httptest.NewRequest(http.MethodGet, "/api/v1/brokers", nil))

		if w.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
		}

		var resp struct {
			Count int `json:"count"`
			Data  []struct {
				Name                string  `json:"name"`
				OverallScore        float64 `json:"overall_score"`
				ConsecutiveFailures int     `json:"consecutive_failures"`
				Breaker             string  `json:"breaker"`
				InFlight            int64   `json:"in_flight"`
			} `json:"data"`
		}
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp.Count != 2 {
			t.Fatalf("expected 2 brokers, got %d", resp.Count)
		}
		if resp.Data[0].Name != "alpaca" || resp.Data[0].OverallScore != 87.35 || resp.Data[0].InFlight != 3 {
			t.Errorf("unexpected first broker: %+v", resp.Data[0])
		}
		if resp.Data[1].Breaker != "open" || resp.Data[1].ConsecutiveFailures != 4 {
			t.Errorf("unexpected second broker: %+v", resp.Data[1])
		}
	})

	t.Run("returns 500 when registry is nil", func(t *testing.T) {
		handler := &BrokerHandler{}

		w := httptest.NewRecorder()
		handler.GetBrokers(w, httptest.NewRequest(http.MethodGet, "/api/v1/brokers", nil))

		if w.Code != http.StatusInternalServerError {
			t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}
	})
}
