package manager

import (
	"math"
	"time"
)

// BackoffPolicy controls the reconnect schedule for one session. The delay
// for the n-th attempt (1-based) is BaseDelay * Growth^(n-1), capped at
// MaxDelay. After MaxAttempts consecutive failures the session goes terminal.
type BackoffPolicy struct {
	BaseDelay   time.Duration
	Growth      float64
	MaxDelay    time.Duration
	MaxAttempts int
}

// Delay returns the wait before the given reconnect attempt.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return p.BaseDelay
	}
	d := float64(p.BaseDelay) * math.Pow(p.Growth, float64(attempt-1))
	if d >= float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// DefaultJavaPolicy is the retry policy for Java servers: they tend to
// kick quickly and deterministically, so fewer attempts.
func DefaultJavaPolicy() BackoffPolicy {
	return BackoffPolicy{BaseDelay: 5 * time.Second, Growth: 1.5, MaxDelay: 5 * time.Minute, MaxAttempts: 3}
}

// DefaultBedrockPolicy allows more attempts: RakNet handshakes fail
// transiently far more often than TCP ones.
func DefaultBedrockPolicy() BackoffPolicy {
	return BackoffPolicy{BaseDelay: 5 * time.Second, Growth: 1.5, MaxDelay: 5 * time.Minute, MaxAttempts: 5}
}
