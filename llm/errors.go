package llm

import "fmt"

// ErrorKind classifies a provider failure for retry decisions.
type ErrorKind string

const (
	ErrAuth      ErrorKind = "auth"
	ErrClient    ErrorKind = "client"
	ErrRateLimit ErrorKind = "rate_limit"
	ErrServer    ErrorKind = "server"
	ErrTimeout   ErrorKind = "timeout"
	ErrNetwork   ErrorKind = "network"
)

// ProviderError is a classified failure from an external analysis provider.
// Status is 0 when the failure happened before an HTTP status was received.
type ProviderError struct {
	Provider string
	Status   int
	Kind     ErrorKind
	Message  string
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s (status=%d, kind=%s)", e.Provider, e.Message, e.Status, e.Kind)
	}
	return fmt.Sprintf("%s: %s (kind=%s)", e.Provider, e.Message, e.Kind)
}

// Retryable reports whether the failure class is worth another attempt.
// Auth failures and other 4xx responses will not improve on retry.
func (e *ProviderError) Retryable() bool {
	switch e.Kind {
	case ErrRateLimit, ErrServer, ErrTimeout, ErrNetwork:
		return true
	default:
		return false
	}
}

func classifyStatus(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return ErrAuth
	case status == 429:
		return ErrRateLimit
	case status >= 500:
		return ErrServer
	default:
		return ErrClient
	}
}
