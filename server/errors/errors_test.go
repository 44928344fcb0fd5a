package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestAppErrorConstructors(t *testing.T) {
	cause := errors.New("row not found")

	cases := []struct {
		name     string
		err      *AppError
		wantCode int
	}{
		{"not found", NewNotFoundError("review item not found", cause), http.StatusNotFound},
		{"validation", NewValidationError("raw_text is required", cause), http.StatusBadRequest},
		{"conflict", NewConflictError("alias already owned", cause), http.StatusConflict},
		{"unavailable", NewServiceUnavailableError("registry unavailable", cause), http.StatusServiceUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.err.StatusCode() != tc.wantCode {
				t.Errorf("StatusCode() = %d, want %d", tc.err.StatusCode(), tc.wantCode)
			}
			if tc.err.UserMessage() == "" {
				t.Error("UserMessage() is empty")
			}
			if !errors.Is(tc.err, cause) {
				t.Error("wrapped cause is not reachable via errors.Is")
			}
		})
	}
}

func TestInternalErrorHidesDetails(t *testing.T) {
	cause := errors.New("sqlite: table locked")
	err := NewInternalError("failed to resolve", cause)

	if err.StatusCode() != http.StatusInternalServerError {
		t.Errorf("StatusCode() = %d, want 500", err.StatusCode())
	}
	if err.UserMessage() != "Internal server error" {
		t.Errorf("UserMessage() = %q, want the opaque message", err.UserMessage())
	}
	// the detail survives for logging
	if !errors.Is(err, cause) {
		t.Error("cause lost from the internal error")
	}
	if !strings.Contains(err.Error(), "failed to resolve") {
		t.Errorf("Error() = %q, missing the internal message", err.Error())
	}
}

func TestAppErrorWithContext(t *testing.T) {
	err := NewValidationError("bad input", nil).WithContext("handleResolve")
	if err.GetContext() != "handleResolve" {
		t.Errorf("GetContext() = %q, want handleResolve", err.GetContext())
	}
}

func TestWrapError(t *testing.T) {
	if WrapError(nil, "ignored") != nil {
		t.Error("WrapError(nil) != nil")
	}

	inner := NewNotFoundError("entity not found", nil)
	wrapped := WrapError(fmt.Errorf("promote: %w", inner), "review failed")
	if wrapped.StatusCode() != http.StatusNotFound {
		t.Errorf("StatusCode() = %d, want the inner 404 preserved", wrapped.StatusCode())
	}
	if !strings.Contains(wrapped.Message, "review failed") {
		t.Errorf("Message = %q, missing the wrap message", wrapped.Message)
	}

	plain := WrapError(errors.New("disk full"), "import failed")
	if plain.StatusCode() != http.StatusInternalServerError {
		t.Errorf("StatusCode() = %d, want 500 for a plain error", plain.StatusCode())
	}
}

func TestErrorMetricsCollector(t *testing.T) {
	collector := NewErrorMetricsCollector()

	collector.RecordError(NewValidationError("bad", nil), "/api/resolve", "req-1")
	collector.RecordError(NewValidationError("bad", nil), "/api/resolve", "req-2")
	collector.RecordError(NewNotFoundError("missing", nil), "/api/review/1/promote", "req-3")

	metrics := collector.GetMetrics()
	if metrics["total_errors"] != int64(3) {
		t.Errorf("total_errors = %v, want 3", metrics["total_errors"])
	}
	byType := metrics["errors_by_type"].(map[string]int64)
	if byType["ValidationError"] != 2 || byType["NotFoundError"] != 1 {
		t.Errorf("errors_by_type = %v, want 2 validation and 1 not-found", byType)
	}
	byEndpoint := metrics["errors_by_endpoint"].(map[string]int64)
	if byEndpoint["/api/resolve"] != 2 {
		t.Errorf("errors_by_endpoint = %v, want 2 for /api/resolve", byEndpoint)
	}

	last := collector.GetLastErrors(2)
	if len(last) != 2 {
		t.Fatalf("GetLastErrors(2) = %d records, want 2", len(last))
	}
	// newest first
	if last[0].RequestID != "req-3" {
		t.Errorf("last[0].RequestID = %q, want req-3", last[0].RequestID)
	}
}

func TestErrorMetricsLastErrorsCapped(t *testing.T) {
	collector := NewErrorMetricsCollector()
	for i := 0; i < 150; i++ {
		collector.RecordError(NewValidationError("bad", nil), "/api/resolve", fmt.Sprintf("req-%d", i))
	}

	last := collector.GetLastErrors(0)
	if len(last) != 100 {
		t.Errorf("retained errors = %d, want the 100 cap", len(last))
	}
	if last[0].RequestID != "req-149" {
		t.Errorf("last[0].RequestID = %q, want the newest req-149", last[0].RequestID)
	}
}

func TestErrorMetricsReset(t *testing.T) {
	collector := NewErrorMetricsCollector()
	collector.RecordError(NewValidationError("bad", nil), "/api/resolve", "req-1")
	collector.Reset()

	metrics := collector.GetMetrics()
	if metrics["total_errors"] != int64(0) {
		t.Errorf("total_errors after reset = %v, want 0", metrics["total_errors"])
	}
}
