package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorCodeHTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeValidationInvalidJSON, http.StatusBadRequest},
		{ErrCodeValidationInvalidFeature, http.StatusBadRequest},
		{ErrCodeAuthKeyMissing, http.StatusUnauthorized},
		{ErrCodeAuthKeyInvalid, http.StatusUnauthorized},
		{ErrCodeLimitFeatureUsage, http.StatusForbidden},
		{ErrCodeRateLimit, http.StatusTooManyRequests},
		{ErrCodeNotFoundNotification, http.StatusNotFound},
		{ErrCodeNotFoundAccount, http.StatusNotFound},
		{ErrCodeUpstreamBilling, http.StatusBadGateway},
		{ErrCodeUpstreamQueue, http.StatusBadGateway},
		{ErrCodeInternalDB, http.StatusInternalServerError},
		{ErrCodeInternalUnexpected, http.StatusInternalServerError},
		{ErrorCode("something_unmapped"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.want {
				t.Errorf("HTTPStatus(%s) = %d, want %d", tt.code, got, tt.want)
			}
		})
	}
}

func TestAppError_ErrorString(t *testing.T) {
	err := NewAppError(ErrCodeNotFoundToast, "toast not found", nil)
	want := "not_found_toast: toast not found"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestAppError_UnwrapChain(t *testing.T) {
	cause := errors.New("connection refused")
	appErr := NewAppError(ErrCodeInternalDB, "query failed", cause)
	wrapped := fmt.Errorf("loading notifications: %w", appErr)

	if !errors.Is(wrapped, cause) {
		t.Error("expected errors.Is to reach the root cause through the chain")
	}

	var target *AppError
	if !errors.As(wrapped, &target) {
		t.Fatal("expected errors.As to find the AppError")
	}
	if target.Code != ErrCodeInternalDB {
		t.Errorf("unwrapped code = %s, want %s", target.Code, ErrCodeInternalDB)
	}
}

func TestNewAppErrorWithDetails(t *testing.T) {
	details := map[string]any{"feature": "sales"}
	err := NewAppErrorWithDetails(ErrCodeValidationInvalidFeature, "unknown feature", nil, details)

	if err.Details["feature"] != "sales" {
		t.Errorf("expected details to carry the feature, got %v", err.Details)
	}
	if err.HTTPStatus() != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", err.HTTPStatus())
	}
}
