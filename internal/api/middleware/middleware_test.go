package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"orderexec/pkg/utils"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
}

func TestLogging_RequestID(t *testing.T) {
	var seen string
	h := Logging(utils.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFrom(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	t.Run("generated", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil))

		if seen == "" {
			t.Fatal("request id not set in context")
		}
		if w.Header().Get(RequestIDHeader) != seen {
			t.Errorf("header %q != context %q", w.Header().Get(RequestIDHeader), seen)
		}
		if w.Code != http.StatusTeapot {
			t.Errorf("status changed: %d", w.Code)
		}
	})

	t.Run("propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
		req.Header.Set(RequestIDHeader, "req-42")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		if seen != "req-42" || w.Header().Get(RequestIDHeader) != "req-42" {
			t.Errorf("expected req-42, got context %q header %q", seen, w.Header().Get(RequestIDHeader))
		}
	})
}

func TestResponseWriter_CountsBytes(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	rw.WriteHeader(http.StatusCreated)
	rw.Write([]byte("hello"))
	rw.Write([]byte(" world"))

	if rw.statusCode != http.StatusCreated {
		t.Errorf("expected status 201, got %d", rw.statusCode)
	}
	if rw.written != 11 {
		t.Errorf("expected 11 bytes, got %d", rw.written)
	}
}

func TestRecovery(t *testing.T) {
	h := Recovery(utils.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
	}
	if w.Header().Get("Content-Type") != "application/json" {
		t.Errorf("expected JSON error body, got %q", w.Header().Get("Content-Type"))
	}

	// Без паники ответ не меняется
	w = httptest.NewRecorder()
	Recovery(utils.NewNop())(okHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Errorf("unexpected response %d %q", w.Code, w.Body.String())
	}
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name       string
		origins    []string
		origin     string
		method     string
		wantOrigin string
		wantCreds  bool
		wantStatus int
	}{
		{"allowed origin", []string{"https://ops.example.com"}, "https://ops.example.com", http.MethodGet, "https://ops.example.com", true, http.StatusOK},
		{"foreign origin", []string{"https://ops.example.com"}, "https://evil.com", http.MethodGet, "", false, http.StatusOK},
		{"allow all", nil, "https://any.example.org", http.MethodGet, "*", false, http.StatusOK},
		{"explicit star", []string{"*"}, "https://any.example.org", http.MethodGet, "*", false, http.StatusOK},
		{"preflight", []string{"https://ops.example.com"}, "https://ops.example.com", http.MethodOptions, "https://ops.example.com", true, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/v1/orders", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()

			CORS(tt.origins)(okHandler()).ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
			if got := w.Header().Get("Access-Control-Allow-Credentials") == "true"; got != tt.wantCreds {
				t.Errorf("Allow-Credentials = %v, want %v", got, tt.wantCreds)
			}
		})
	}
}

func TestToken(t *testing.T) {
	tests := []struct {
		name       string
		token      string
		method     string
		auth       string
		wantStatus int
	}{
		{"disabled", "", http.MethodPost, "", http.StatusOK},
		{"read without token", "s3cret", http.MethodGet, "", http.StatusOK},
		{"write without token", "s3cret", http.MethodPost, "", http.StatusUnauthorized},
		{"write with wrong token", "s3cret", http.MethodDelete, "Bearer nope", http.StatusUnauthorized},
		{"write with basic auth", "s3cret", http.MethodPatch, "Basic czNjcmV0", http.StatusUnauthorized},
		{"write with token", "s3cret", http.MethodPost, "Bearer s3cret", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/v1/orders", nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			w := httptest.NewRecorder()

			Token(tt.token)(okHandler()).ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
		})
	}
}
