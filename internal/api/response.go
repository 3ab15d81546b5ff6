package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/thechetan9/SO-PatchPilot/internal/engine"
	"github.com/thechetan9/SO-PatchPilot/internal/orchestrator"
	"github.com/thechetan9/SO-PatchPilot/internal/repo"
)

// ErrorCode — код ошибки API.
type ErrorCode string

const (
	ErrCodeBadRequest              ErrorCode = "BAD_REQUEST"
	ErrCodeInvalidPlan             ErrorCode = "INVALID_PLAN"
	ErrCodeNotFound                ErrorCode = "NOT_FOUND"
	ErrCodeConflict                ErrorCode = "CONFLICT"
	ErrCodeInvalidState            ErrorCode = "INVALID_STATE"
	ErrCodeCollaboratorUnavailable ErrorCode = "COLLABORATOR_UNAVAILABLE"
	ErrCodeInternalError           ErrorCode = "INTERNAL_ERROR"
)

// ErrorResponse — структура ответа с ошибкой.
//
// Data заполняется, когда ошибка не отменяет результат: например,
// run создан в FAILED из-за недоступного коллаборатора.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
	Data  any         `json:"data,omitempty"`
}

// ErrorDetail — детали ошибки.
type ErrorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// DataResponse — структура успешного ответа.
type DataResponse struct {
	Data any `json:"data"`
}

// ListResponse — структура ответа со списком.
type ListResponse struct {
	Data  any `json:"data"`
	Total int `json:"total"`
}

// JSON отправляет JSON ответ.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Success отправляет успешный ответ с данными.
func Success(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, DataResponse{Data: data})
}

// Created отправляет ответ о создании ресурса.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, DataResponse{Data: data})
}

// List отправляет ответ со списком.
func List(w http.ResponseWriter, data any, total int) {
	JSON(w, http.StatusOK, ListResponse{Data: data, Total: total})
}

// Error отправляет ответ с ошибкой.
func Error(w http.ResponseWriter, status int, code ErrorCode, message string) {
	JSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// BadRequest отправляет ошибку 400.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// NotFound отправляет ошибку 404.
func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// InternalError отправляет ошибку 500.
func InternalError(w http.ResponseWriter, logger *slog.Logger, err error) {
	logger.Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
}

// errorStatus сопоставляет ошибку домена с HTTP статусом и кодом.
func errorStatus(err error) (int, ErrorCode) {
	switch {
	case errors.Is(err, engine.ErrInvalidPlan):
		return http.StatusBadRequest, ErrCodeInvalidPlan
	case errors.Is(err, repo.ErrNotFound),
		errors.Is(err, orchestrator.ErrRunNotFound),
		errors.Is(err, orchestrator.ErrPlanNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, repo.ErrAlreadyExists),
		errors.Is(err, repo.ErrVersionConflict),
		errors.Is(err, orchestrator.ErrRunAlreadyActive):
		return http.StatusConflict, ErrCodeConflict
	case errors.Is(err, orchestrator.ErrRunFinished),
		errors.Is(err, orchestrator.ErrRunNotCancellable):
		return http.StatusUnprocessableEntity, ErrCodeInvalidState
	case errors.Is(err, orchestrator.ErrCollaboratorUnavailable):
		return http.StatusServiceUnavailable, ErrCodeCollaboratorUnavailable
	default:
		return http.StatusInternalServerError, ErrCodeInternalError
	}
}

// HandleError преобразует ошибку в HTTP ответ. data (может быть nil)
// отдаётся вместе с ошибкой. Возвращает false, если err == nil.
func HandleError(w http.ResponseWriter, logger *slog.Logger, err error, data any) bool {
	if err == nil {
		return false
	}

	status, code := errorStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("internal error", "error", err)
		message = "internal server error"
	}

	JSON(w, status, ErrorResponse{
		Error: ErrorDetail{Code: code, Message: message},
		Data:  data,
	})
	return true
}
