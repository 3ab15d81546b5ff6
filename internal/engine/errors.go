package engine

import "errors"

// ErrInvalidPlan — план не прошёл валидацию. Run по такому плану не создаётся.
var ErrInvalidPlan = errors.New("invalid plan")

// InvalidPlanError — ошибка валидации плана с контекстом.
type InvalidPlanError struct {
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
}

// Error реализует интерфейс error.
func (e *InvalidPlanError) Error() string {
	if e.Field != "" {
		return "invalid plan: " + e.Field + ": " + e.Message
	}
	return "invalid plan: " + e.Message
}

// Unwrap позволяет проверять ошибку через errors.Is(err, ErrInvalidPlan).
func (e *InvalidPlanError) Unwrap() error {
	return ErrInvalidPlan
}

// NewInvalidPlanError создаёт новую ошибку валидации плана.
func NewInvalidPlanError(field, message string) *InvalidPlanError {
	return &InvalidPlanError{Field: field, Message: message}
}
