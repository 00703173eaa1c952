package session

import "log/slog"

const redacted = "[REDACTED]"

// Secret holds the credential passed to a single Create call.
// Every rendering path (fmt, slog, JSON) prints [REDACTED]; the raw value
// is only reachable through Reveal. Clear zeroes the backing bytes.
type Secret struct {
	b []byte
}

// NewSecret copies s into a new Secret.
func NewSecret(s string) Secret {
	return Secret{b: []byte(s)}
}

// Reveal returns the raw value. Only the provisioning call may use it.
func (s Secret) Reveal() string {
	return string(s.b)
}

// Len returns the secret length in bytes without revealing it.
func (s Secret) Len() int {
	return len(s.b)
}

// Empty reports whether the secret holds no value.
func (s Secret) Empty() bool {
	return len(s.b) == 0
}

// Clear zeroes the secret in place. Copies of the Secret share the same
// backing array, so clearing one clears them all.
func (s *Secret) Clear() {
	for i := range s.b {
		s.b[i] = 0
	}
	s.b = nil
}

// String implements fmt.Stringer.
func (s Secret) String() string { return redacted }

// GoString implements fmt.GoStringer so %#v does not leak the value.
func (s Secret) GoString() string { return redacted }

// LogValue implements slog.LogValuer.
func (s Secret) LogValue() slog.Value { return slog.StringValue(redacted) }

// MarshalJSON renders the secret as a redacted JSON string.
func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}
