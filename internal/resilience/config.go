package resilience

import (
	"time"
)

// FromHTTPConfig converts transport settings to a RetryConfig. maxRetries
// counts additional attempts after the first one.
func FromHTTPConfig(maxRetries, initialBackoffMs int, jitterFraction float64) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxRetries >= 0 {
		cfg.MaxAttempts = maxRetries + 1
	}
	if initialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(initialBackoffMs) * time.Millisecond
	}
	if jitterFraction > 0 {
		cfg.JitterFraction = jitterFraction
	}
	return cfg
}
