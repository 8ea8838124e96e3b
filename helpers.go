package stepflow

import (
	"time"
)

// ToPtr returns a pointer to the given value.
func ToPtr[T any](v T) *T {
	return &v
}

// RetryBackoff returns the delay applied before retry attempt `attempt`
// (1-based). Step retries double the base delay per attempt and carry no
// jitter; randomized jitter belongs to the fault-isolation layer.
func RetryBackoff(baseDelay time.Duration, attempt int) time.Duration {
	if attempt <= 0 || baseDelay <= 0 {
		return 0
	}
	return baseDelay * time.Duration(1<<(attempt-1))
}
