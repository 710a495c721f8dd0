package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"orderexec/pkg/utils"
)

// Recovery - middleware восстановления после паники в handlers.
//
// Паника логируется со стеком, клиент получает 500, сервер продолжает работу.
func Recovery(logger *utils.Logger) func(http.Handler) http.Handler {
	logger = logger.WithComponent("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic in http handler",
						utils.String("panic", fmt.Sprint(rec)),
						utils.String("path", r.URL.Path),
						utils.RequestID(RequestIDFrom(r.Context())),
						utils.String("stack", string(debug.Stack())),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					w.Write([]byte(`{"error":"internal server error","code":"UNEXPECTED"}`))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
