package models

// Error codes returned in ErrorResponse.Code.
const (
	ErrCodeBadRequest        = 40001
	ErrCodeValidation        = 40002
	ErrCodeUnauthorized      = 40101
	ErrCodeTokenInvalid      = 40102
	ErrCodeTokenExpired      = 40103
	ErrCodeForbidden         = 40301
	ErrCodeNotFound          = 40401
	ErrCodeInternal          = 50001
	ErrCodeTemporarilyFailed = 50301
)

// ErrorResponse - стандартная структура для ответа об ошибке в формате JSON.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// TaskErrorResponse is returned when a failure belongs to a concrete task, so
// the client can render a retry affordance for it.
type TaskErrorResponse struct {
	TaskID string     `json:"task_id,omitempty"`
	Status TaskStatus `json:"status"`
	Error  string     `json:"error"`
}
