package types

import (
	"context"
	"log/slog"
	"time"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// Logger defines the structured logging interface used throughout the core.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	With(args ...any) Logger
}

// slogLogger adapts a *slog.Logger to the Logger interface.
type slogLogger struct {
	l *slog.Logger
}

// NewSlogLogger wraps a *slog.Logger in the core Logger interface.
// A nil logger falls back to slog.Default().
func NewSlogLogger(l *slog.Logger) Logger {
	if l == nil {
		l = slog.Default()
	}
	return &slogLogger{l: l}
}

func (s *slogLogger) Info(msg string, args ...any)  { s.l.Info(msg, args...) }
func (s *slogLogger) Error(msg string, args ...any) { s.l.Error(msg, args...) }
func (s *slogLogger) Warn(msg string, args ...any)  { s.l.Warn(msg, args...) }
func (s *slogLogger) With(args ...any) Logger       { return &slogLogger{l: s.l.With(args...)} }

// NavigationBridge resolves a toast click into a view change in the consuming
// UI. It is consumed, never implemented, by this core: implementations live
// in the frontend collaborator. Navigate must return an error on failure so
// the dispatcher's fallback logic can engage.
type NavigationBridge interface {
	// Navigate routes to the target URL with optional params and triggers the
	// highlight effect on arrival.
	Navigate(ctx context.Context, url string, params map[string]string) error

	// Redirect performs a raw location change with no highlight effect. Used
	// as the single-retry fallback when Navigate fails.
	Redirect(ctx context.Context, url string) error
}

// AccountProvider reads the subscription snapshot for an account from the
// server of record. Local state is authoritative for UI responsiveness;
// the provider's answer is authoritative for enforcement.
type AccountProvider interface {
	GetAccount(ctx context.Context, accountID string) (*Account, error)
}
