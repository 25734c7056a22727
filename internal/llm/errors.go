package llm

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// RateLimitError reports an HTTP 429 or provider-signalled throttle.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration // Zero when the server gave no hint
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited, retry after %s", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("%s: rate limited", e.Provider)
}

// ConfigError reports missing or invalid provider settings. It is fatal
// to provider construction and never retried.
type ConfigError struct {
	Provider string
	Reason   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: configuration error: %s", e.Provider, e.Reason)
}

// IsRetryable reports whether an error is transient enough to retry:
// throttles and transport-level failures qualify, everything else does
// not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	var ce *ConfigError
	if errors.As(err, &ce) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"429", "rate limit", "too many requests",
		"502", "503", "504", "bad gateway", "service unavailable",
		"connection reset", "connection refused", "broken pipe",
		"timeout awaiting response", "overloaded",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
