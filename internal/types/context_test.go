package types

import (
	"context"
	"testing"
)

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req_123")
	if got := GetRequestID(ctx); got != "req_123" {
		t.Errorf("GetRequestID = %q, want req_123", got)
	}
}

func TestRequestIDMissingIsEmpty(t *testing.T) {
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("expected empty request id, got %q", got)
	}
}

func TestAccountIDRoundTrip(t *testing.T) {
	ctx := WithAccountID(context.Background(), "acc_42")
	if got := GetAccountID(ctx); got != "acc_42" {
		t.Errorf("GetAccountID = %q, want acc_42", got)
	}
}

func TestAccountIDDoesNotCollideWithRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req_1")
	ctx = WithAccountID(ctx, "acc_1")

	if GetRequestID(ctx) != "req_1" || GetAccountID(ctx) != "acc_1" {
		t.Error("context keys must be independent")
	}
}

func TestLoggerFromContextMissingIsNil(t *testing.T) {
	if l := LoggerFromContext(context.Background()); l != nil {
		t.Errorf("expected nil logger for bare context, got %v", l)
	}
}
