package types

import "log/slog"

const redacted = "[redacted]"

// SecretString holds an employee token or service API key. It prints and
// marshals as a placeholder so request logs and config dumps never carry the
// raw value; Unmask is the only way to read it.
type SecretString string

func (s SecretString) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// LogValue keeps slog handlers from bypassing String via reflection.
func (s SecretString) LogValue() slog.Value {
	return slog.StringValue(s.String())
}

func (s SecretString) MarshalJSON() ([]byte, error) {
	if s == "" {
		return []byte(`""`), nil
	}
	return []byte(`"` + redacted + `"`), nil
}

// Unmask returns the raw value for building outbound request headers.
func (s SecretString) Unmask() string {
	return string(s)
}
