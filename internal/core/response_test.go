package core

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"sabiops/internal/types"
)

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) APIErrorResponse {
	t.Helper()
	var resp APIErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	return resp
}

func TestJSON_WritesEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	JSON(rec, req, http.StatusOK, APIResponse{Data: map[string]string{"hello": "world"}})

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), `"hello":"world"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestError_AppErrorMapsToStatus(t *testing.T) {
	tests := []struct {
		name       string
		code       types.ErrorCode
		wantStatus int
	}{
		{"validation", types.ErrCodeValidationInvalidFeature, http.StatusBadRequest},
		{"auth", types.ErrCodeAuthKeyInvalid, http.StatusUnauthorized},
		{"not found", types.ErrCodeNotFoundNotification, http.StatusNotFound},
		{"upstream", types.ErrCodeUpstreamBilling, http.StatusBadGateway},
		{"internal", types.ErrCodeInternalDB, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req = req.WithContext(types.WithRequestID(req.Context(), "req_123"))

			Error(rec, req, types.NewAppError(tt.code, "boom", nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			resp := decodeErrorBody(t, rec)
			if resp.Error.Code != string(tt.code) {
				t.Errorf("code = %s, want %s", resp.Error.Code, tt.code)
			}
			if resp.Error.RequestID != "req_123" {
				t.Errorf("request id = %s, want req_123", resp.Error.RequestID)
			}
		})
	}
}

func TestError_WrappedAppErrorIsUnwrapped(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	inner := types.NewAppError(types.ErrCodeNotFoundAccount, "no such account", nil)
	Error(rec, req, fmt.Errorf("loading account: %w", inner))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestError_UnknownErrorIsSafeDefault(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	Error(rec, req, fmt.Errorf("pq: connection refused to 10.0.0.5"))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	resp := decodeErrorBody(t, rec)
	// Internal details must not leak.
	if strings.Contains(resp.Error.Message, "10.0.0.5") {
		t.Error("internal error detail leaked to the client")
	}
	if resp.Error.Code != string(types.ErrCodeInternalUnexpected) {
		t.Errorf("code = %s", resp.Error.Code)
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"name":"ok"}`, false},
		{"malformed", `{"name":`, true},
		{"unknown field", `{"name":"ok","extra":1}`, true},
		{"empty body", ``, true},
		{"trailing value", `{"name":"ok"}{"name":"again"}`, true},
		{"wrong type", `{"name":42}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))

			var dst payload
			err := DecodeJSON(rec, req, &dst)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected a decode error")
				}
				appErr, ok := err.(*types.AppError)
				if !ok {
					t.Fatalf("error type = %T, want *types.AppError", err)
				}
				if appErr.Code != types.ErrCodeValidationInvalidJSON {
					t.Errorf("code = %s, want %s", appErr.Code, types.ErrCodeValidationInvalidJSON)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeJSON: %v", err)
			}
			if dst.Name != "ok" {
				t.Errorf("decoded name = %q", dst.Name)
			}
		})
	}
}
