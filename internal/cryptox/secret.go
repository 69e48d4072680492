package cryptox

import "log/slog"

const redacted = "[REDACTED]"

// Secret is a string that never prints its value through fmt or slog.
// Use Reveal at the single point where the plaintext is needed.
type Secret string

func (s Secret) String() string { return redacted }

func (s Secret) GoString() string { return redacted }

func (s Secret) LogValue() slog.Value { return slog.StringValue(redacted) }

// MarshalText keeps secrets out of text encoders such as zerolog's Interface.
func (s Secret) MarshalText() ([]byte, error) { return []byte(redacted), nil }

// Reveal returns the plaintext value.
func (s Secret) Reveal() string { return string(s) }

// Empty reports whether the secret holds no value.
func (s Secret) Empty() bool { return s == "" }
