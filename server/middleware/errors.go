package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "identityserver/server/errors"
)

var globalErrorMetrics *apperrors.ErrorMetricsCollector

// InitErrorMetrics initializes the global error metrics collector.
func InitErrorMetrics() {
	globalErrorMetrics = apperrors.NewErrorMetricsCollector()
}

// GetErrorMetrics returns the global error metrics collector.
func GetErrorMetrics() *apperrors.ErrorMetricsCollector {
	if globalErrorMetrics == nil {
		globalErrorMetrics = apperrors.NewErrorMetricsCollector()
	}
	return globalErrorMetrics
}

// HTTPError is the surface an error needs to drive the HTTP response.
// Declared here rather than importing the errors package type to avoid
// an import cycle.
type HTTPError interface {
	error
	StatusCode() int
	UserMessage() string
	GetContext() string
	Unwrap() error
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
	RequestID string `json:"request_id,omitempty"`
}

// HandleGinError writes an error response and records it. Errors
// implementing HTTPError keep their status code and user message;
// anything else becomes an opaque 500.
func HandleGinError(c *gin.Context, err error) {
	reqID := GetRequestIDFromGin(c)
	endpoint := c.Request.URL.Path

	var statusCode int
	var message string
	var appErr *apperrors.AppError

	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		statusCode = httpErr.StatusCode()
		message = httpErr.UserMessage()

		if errors.As(err, &appErr) {
			GetErrorMetrics().RecordError(appErr, endpoint, reqID)
		}

		slog.Error("HTTP error",
			"error", httpErr.Unwrap(),
			"user_message", httpErr.UserMessage(),
			"context", httpErr.GetContext(),
			"status_code", statusCode,
			"request_id", reqID,
			"method", c.Request.Method,
			"path", endpoint,
		)
	} else {
		statusCode = http.StatusInternalServerError
		message = "Internal server error"

		appErr = apperrors.NewInternalError("internal server error", err)
		GetErrorMetrics().RecordError(appErr, endpoint, reqID)

		slog.Error("HTTP error",
			"error", err,
			"request_id", reqID,
			"method", c.Request.Method,
			"path", endpoint,
		)
	}

	c.AbortWithStatusJSON(statusCode, ErrorResponse{
		Error:     message,
		Timestamp: time.Now().Format(time.RFC3339),
		RequestID: reqID,
	})
}
