package faults

import (
	"time"
)

// BreakerState is the circuit state of one component
type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// String returns the string representation
func (s BreakerState) String() string {
	return string(s)
}

// BreakerStatus is a snapshot of one component's circuit, safe to retain
type BreakerStatus struct {
	Component        string       `json:"component"`
	State            BreakerState `json:"state"`
	Failures         int          `json:"failures"`
	HalfOpenSuccess  int          `json:"halfOpenSuccess"`
	LastFailure      time.Time    `json:"lastFailure,omitzero"`
	OpenedAt         time.Time    `json:"openedAt,omitzero"`
}

// breaker tracks circuit state for a single component. Records are
// created lazily on first failure and persist until an explicit reset.
// All access goes through the Handler's lock.
type breaker struct {
	state           BreakerState
	failures        int
	halfOpenSuccess int
	lastFailure     time.Time
	openedAt        time.Time
}

func newBreaker() *breaker {
	return &breaker{state: BreakerClosed}
}

// recordFailure counts a HIGH-or-above failure and opens the circuit at
// the threshold. The counter resets once the previous failure is older
// than the monitoring period.
func (b *breaker) recordFailure(now time.Time, cfg Config) {
	if !b.lastFailure.IsZero() && now.Sub(b.lastFailure) > cfg.MonitoringPeriod {
		b.failures = 0
	}
	b.lastFailure = now

	switch b.state {
	case BreakerClosed:
		b.failures++
		if b.failures >= cfg.FailureThreshold {
			b.state = BreakerOpen
			b.openedAt = now
		}
	case BreakerHalfOpen:
		b.state = BreakerOpen
		b.openedAt = now
		b.halfOpenSuccess = 0
		b.failures = cfg.FailureThreshold
	case BreakerOpen:
		// Already open; the timestamp above is enough
	}
}

// recordSuccess advances a half-open circuit toward closing
func (b *breaker) recordSuccess(cfg Config) {
	if b.state != BreakerHalfOpen {
		return
	}
	b.halfOpenSuccess++
	if b.halfOpenSuccess >= cfg.SuccessThreshold {
		b.state = BreakerClosed
		b.failures = 0
		b.halfOpenSuccess = 0
	}
}

// attemptRecovery moves OPEN to HALF_OPEN once the recovery timeout has
// elapsed since the last failure; returns true if a transition happened.
func (b *breaker) attemptRecovery(now time.Time, cfg Config) bool {
	if b.state != BreakerOpen {
		return false
	}
	if now.Sub(b.lastFailure) < cfg.RecoveryTimeout {
		return false
	}
	b.state = BreakerHalfOpen
	b.halfOpenSuccess = 0
	return true
}

func (b *breaker) reset() {
	b.state = BreakerClosed
	b.failures = 0
	b.halfOpenSuccess = 0
	b.lastFailure = time.Time{}
	b.openedAt = time.Time{}
}
