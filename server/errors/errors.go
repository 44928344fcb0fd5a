package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is an application error carrying an HTTP status and a
// user-facing message. The wrapped error goes to logs only.
type AppError struct {
	Code    int    `json:"status_code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
	Context string `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// StatusCode implements middleware.HTTPError.
func (e *AppError) StatusCode() int {
	return e.Code
}

// UserMessage implements middleware.HTTPError.
func (e *AppError) UserMessage() string {
	return e.Message
}

// GetContext implements middleware.HTTPError.
func (e *AppError) GetContext() string {
	return e.Context
}

// WithContext attaches a context string, usually the failing operation.
func (e *AppError) WithContext(context string) *AppError {
	e.Context = context
	return e
}

func NewNotFoundError(message string, err error) *AppError {
	return &AppError{
		Code:    http.StatusNotFound,
		Message: message,
		Err:     err,
	}
}

func NewValidationError(message string, err error) *AppError {
	return &AppError{
		Code:    http.StatusBadRequest,
		Message: message,
		Err:     err,
	}
}

// NewInternalError hides the details from the user; they end up in the
// logs via the wrapped error.
func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Code:    http.StatusInternalServerError,
		Message: "Internal server error",
		Err:     errors.Join(errors.New(message), err),
	}
}

func NewConflictError(message string, err error) *AppError {
	return &AppError{
		Code:    http.StatusConflict,
		Message: message,
		Err:     err,
	}
}

func NewServiceUnavailableError(message string, err error) *AppError {
	return &AppError{
		Code:    http.StatusServiceUnavailable,
		Message: message,
		Err:     err,
	}
}

// WrapError adds a message to an existing error. An AppError keeps its
// status code; anything else becomes an internal error.
func WrapError(err error, message string) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Code:    appErr.Code,
			Message: fmt.Sprintf("%s: %s", message, appErr.Message),
			Err:     appErr.Err,
			Context: appErr.Context,
		}
	}

	return NewInternalError(message, err)
}
