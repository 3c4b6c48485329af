package types

// SecretString wraps sensitive configuration values so they cannot leak into
// logs or error messages. The zero value is an empty secret.
type SecretString string

// redacted is the placeholder emitted wherever a secret would be printed.
const redacted = "[REDACTED]"

// String implements fmt.Stringer and always returns the redaction marker.
func (s SecretString) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// GoString prevents %#v from exposing the underlying value.
func (s SecretString) GoString() string {
	return s.String()
}

// MarshalText ensures JSON/text encoding emits the redaction marker, never
// the secret itself.
func (s SecretString) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Reveal returns the underlying secret value. Call sites are the audit
// surface for secret usage; keep them few.
func (s SecretString) Reveal() string {
	return string(s)
}

// IsSet reports whether a non-empty secret is present.
func (s SecretString) IsSet() bool {
	return s != ""
}
