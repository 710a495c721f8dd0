package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Token - middleware проверки Bearer токена для изменяющих запросов.
//
// GET, HEAD и OPTIONS проходят без токена: служебное API читают мониторинг
// и панели. POST/PATCH/DELETE требуют "Authorization: Bearer <token>".
// Пустой token отключает проверку (локальный запуск).
func Token(token string) func(http.Handler) http.Handler {
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" || readOnly(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			// Constant-time сравнение
			if !ok || subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="orderexec"`)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func readOnly(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}
