package handlers

import (
	"errors"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"orderexec/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrorResponse стандартный формат ответа об ошибке для всех API endpoints
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// ListResponse - список с количеством элементов
type ListResponse struct {
	Count int         `json:"count"`
	Data  interface{} `json:"data"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, details string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Details: details})
}

// MethodNotAllowed - маршрут есть, но не для этого метода
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed", r.Method+" "+r.URL.Path)
}

// NotFound - маршрут не найден
func NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "not found", r.URL.Path)
}

// writeExecError отвечает ошибкой движка с HTTP статусом по её виду
func writeExecError(w http.ResponseWriter, err error) {
	e := models.AsExecError(err)
	resp := ErrorResponse{Error: e.Error(), Code: string(e.Kind)}
	if e.Code != "" {
		resp.Code = e.Code
	}
	writeJSON(w, StatusFor(err), resp)
}

// StatusFor сопоставляет ошибку движка HTTP статусу
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrOrderRejected):
		return http.StatusConflict
	case errors.Is(err, models.ErrNoEligibleBrokers), errors.Is(err, models.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
