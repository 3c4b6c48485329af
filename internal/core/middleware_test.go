package core

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"sabiops/internal/config"
	"sabiops/internal/types"
)

const testServiceKey = "sk_test_notify_core"

func newTestServer(t *testing.T) *Server {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(testServiceKey), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hashing test service key: %v", err)
	}

	cfg := &config.Config{
		Environment: "local",
		Service:     "sabiops-notify",
		Security: config.SecurityConfig{
			ServiceKeyHash:     types.SecretString(hash),
			CorsAllowedOrigins: []string{"*"},
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	srv, err := NewServer(cfg, logger)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestServiceKeyMiddleware(t *testing.T) {
	srv := newTestServer(t)
	handler := srv.ServiceKeyMiddleware(okHandler())

	tests := []struct {
		name       string
		key        string
		wantStatus int
	}{
		{"valid key", testServiceKey, http.StatusOK},
		{"missing key", "", http.StatusUnauthorized},
		{"wrong key", "sk_test_wrong", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/notifications", nil)
			if tt.key != "" {
				req.Header.Set("X-Service-Key", tt.key)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestAccountMiddleware(t *testing.T) {
	srv := newTestServer(t)

	var gotAccountID string
	handler := srv.AccountMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccountID = types.GetAccountID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("header propagates to context", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/usage/sales", nil)
		req.Header.Set("X-Account-ID", "acc_42")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
		if gotAccountID != "acc_42" {
			t.Errorf("account id in context = %q, want acc_42", gotAccountID)
		}
	})

	t.Run("missing header is rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/usage/sales", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestRecoverer_WritesStandardErrorResponse(t *testing.T) {
	srv := newTestServer(t)

	handler := srv.Recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("nil map write")
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/notifications", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	resp := decodeErrorBody(t, rec)
	if resp.Error.Code != string(types.ErrCodeInternalUnexpected) {
		t.Errorf("code = %s", resp.Error.Code)
	}
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	srv := newTestServer(t)
	handler := srv.SecurityHeadersMiddleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q", got)
	}
}

func TestCORSMiddleware(t *testing.T) {
	t.Run("wildcard", func(t *testing.T) {
		handler := NewCORSMiddleware([]string{"*"})(okHandler())
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://app.example.com")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Errorf("Allow-Origin = %q, want *", got)
		}
	})

	t.Run("origin allow list", func(t *testing.T) {
		handler := NewCORSMiddleware([]string{"https://app.sabiops.com"})(okHandler())

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://app.sabiops.com")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.sabiops.com" {
			t.Errorf("Allow-Origin = %q", got)
		}

		req = httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("disallowed origin got Allow-Origin = %q", got)
		}
	})

	t.Run("preflight short-circuits", func(t *testing.T) {
		called := false
		handler := NewCORSMiddleware([]string{"*"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
		}))

		req := httptest.NewRequest(http.MethodOptions, "/v1/events", nil)
		req.Header.Set("Origin", "https://app.sabiops.com")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusNoContent {
			t.Errorf("preflight status = %d, want 204", rec.Code)
		}
		if called {
			t.Error("preflight must not reach downstream handlers")
		}
	})
}

func TestRequestIDMiddleware(t *testing.T) {
	var gotID string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = types.GetRequestID(r.Context())
	}))

	t.Run("generates when absent", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if gotID == "" {
			t.Error("no request id generated")
		}
		if rec.Header().Get("X-Request-Id") != gotID {
			t.Error("request id not echoed in response header")
		}
	})

	t.Run("propagates incoming id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-Id", "req_incoming")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if gotID != "req_incoming" {
			t.Errorf("request id = %q, want req_incoming", gotID)
		}
	})
}

func TestResponseCapture(t *testing.T) {
	rec := httptest.NewRecorder()
	rc := &responseCapture{ResponseWriter: rec, statusCode: http.StatusOK}

	rc.WriteHeader(http.StatusTeapot)
	rc.WriteHeader(http.StatusOK) // second call must not overwrite

	if rc.statusCode != http.StatusTeapot {
		t.Errorf("captured status = %d, want 418", rc.statusCode)
	}

	rec2 := httptest.NewRecorder()
	rc2 := &responseCapture{ResponseWriter: rec2}
	if _, err := rc2.Write([]byte("body")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if rc2.statusCode != http.StatusOK {
		t.Errorf("implicit status = %d, want 200", rc2.statusCode)
	}
}
