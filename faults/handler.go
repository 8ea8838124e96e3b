// Package faults isolates failures of named external components. It
// classifies errors, tracks a circuit breaker per component, and decides
// a recovery strategy for each failure. The executor consults it during
// step retries; any caller wrapping its own dependency calls can use the
// same handler.
package faults

import (
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Action is the recovery verdict for one failure
type Action string

const (
	ActionRetry    Action = "RETRY"
	ActionSkip     Action = "SKIP"
	ActionEscalate Action = "ESCALATE"
	ActionManual   Action = "MANUAL"
)

// RecoveryStrategy tells the caller how to proceed after a failure
type RecoveryStrategy struct {
	Action           Action        `json:"action"`
	Delay            time.Duration `json:"delay,omitempty"`
	RequiresApproval bool          `json:"requiresApproval,omitempty"`
}

// Context identifies the failing call site. Component names an external
// dependency, not a workflow step; unrelated dependencies never share
// breaker state.
type Context struct {
	Component string
	Operation string
	Attempt   int
}

// Config holds breaker and retry-policy parameters
type Config struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	MonitoringPeriod time.Duration
	SuccessThreshold int

	MaxAttempts       int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	Jitter            bool
}

// DefaultConfig provides sensible defaults
var DefaultConfig = Config{
	FailureThreshold:  5,
	RecoveryTimeout:   30 * time.Second,
	MonitoringPeriod:  60 * time.Second,
	SuccessThreshold:  3,
	MaxAttempts:       3,
	BaseDelay:         time.Second,
	MaxDelay:          30 * time.Second,
	BackoffMultiplier: 2.0,
	Jitter:            true,
}

// Handler owns the per-component circuit records. It is safe for
// concurrent use; no lock spans more than one call.
type Handler struct {
	mu       sync.Mutex
	breakers map[string]*breaker
	config   Config
	logger   zerolog.Logger
	now      func() time.Time
	randFn   func() float64
}

// Option configures a Handler
type Option func(*Handler)

// WithConfig sets breaker and retry parameters
func WithConfig(config Config) Option {
	return func(h *Handler) {
		h.config = config
	}
}

// WithLogger sets a custom logger
func WithLogger(logger zerolog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithClock overrides the time source, used by tests
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		h.now = now
	}
}

// NewHandler creates a fault handler with optional configuration
func NewHandler(opts ...Option) *Handler {
	h := &Handler{
		breakers: make(map[string]*breaker),
		config:   DefaultConfig,
		logger:   zerolog.New(os.Stdout).With().Timestamp().Logger().Level(zerolog.InfoLevel),
		now:      time.Now,
		randFn:   rand.Float64,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleError classifies the failure, updates the component's breaker,
// and returns the recovery strategy. Decision order: open breaker wins,
// then human-intervention errors, then retry budget, then severity.
func (h *Handler) HandleError(err error, fctx Context) RecoveryStrategy {
	classification := Classify(err, fctx.Attempt)

	h.mu.Lock()
	defer h.mu.Unlock()

	b := h.breakerFor(fctx.Component)
	now := h.now()

	if classification.Severity >= SeverityHigh {
		wasOpen := b.state == BreakerOpen
		b.recordFailure(now, h.config)
		if b.state == BreakerOpen && !wasOpen {
			h.logger.Warn().
				Str("component", fctx.Component).
				Int("failures", b.failures).
				Msg("Circuit breaker opened")
		}
	}

	strategy := h.decide(b, classification, fctx)

	h.logger.Debug().
		Str("component", fctx.Component).
		Str("operation", fctx.Operation).
		Int("attempt", fctx.Attempt).
		Str("category", string(classification.Category)).
		Str("severity", classification.Severity.String()).
		Str("action", string(strategy.Action)).
		Err(err).
		Msg("Handled component error")

	return strategy
}

func (h *Handler) decide(b *breaker, c Classification, fctx Context) RecoveryStrategy {
	if b.state == BreakerOpen {
		return RecoveryStrategy{Action: ActionEscalate, RequiresApproval: true}
	}
	if c.Severity == SeverityCritical || c.RequiresHuman {
		return RecoveryStrategy{Action: ActionManual, RequiresApproval: true}
	}
	if c.Retryable && fctx.Attempt < h.config.MaxAttempts {
		return RecoveryStrategy{Action: ActionRetry, Delay: h.retryDelay(fctx.Attempt)}
	}
	if c.Severity >= SeverityHigh {
		return RecoveryStrategy{Action: ActionEscalate}
	}
	return RecoveryStrategy{Action: ActionSkip}
}

// retryDelay computes min(base * multiplier^attempt, max), optionally
// scaled by a uniform factor in [0.5, 1.0) when jitter is enabled.
func (h *Handler) retryDelay(attempt int) time.Duration {
	delay := float64(h.config.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= h.config.BackoffMultiplier
	}
	if max := float64(h.config.MaxDelay); delay > max {
		delay = max
	}
	if h.config.Jitter {
		delay *= 0.5 + h.randFn()*0.5
	}
	return time.Duration(delay)
}

// RecordSuccess reports a successful call for the component, advancing a
// half-open circuit toward closing.
func (h *Handler) RecordSuccess(component string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	b, ok := h.breakers[component]
	if !ok {
		return
	}
	wasHalfOpen := b.state == BreakerHalfOpen
	b.recordSuccess(h.config)
	if wasHalfOpen && b.state == BreakerClosed {
		h.logger.Info().
			Str("component", component).
			Msg("Circuit breaker closed")
	}
}

// IsAvailable reports whether calls to the component should proceed
func (h *Handler) IsAvailable(component string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	b, ok := h.breakers[component]
	if !ok {
		return true
	}
	return b.state != BreakerOpen
}

// AttemptRecovery probes an open circuit, moving it to HALF_OPEN once
// the recovery timeout has elapsed. Returns true on transition.
func (h *Handler) AttemptRecovery(component string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	b, ok := h.breakers[component]
	if !ok {
		return false
	}
	if b.attemptRecovery(h.now(), h.config) {
		h.logger.Info().
			Str("component", component).
			Msg("Circuit breaker half-open")
		return true
	}
	return false
}

// GetStatus returns a snapshot of the component's circuit. Components
// never seen report a closed circuit.
func (h *Handler) GetStatus(component string) BreakerStatus {
	h.mu.Lock()
	defer h.mu.Unlock()

	b, ok := h.breakers[component]
	if !ok {
		return BreakerStatus{Component: component, State: BreakerClosed}
	}
	return BreakerStatus{
		Component:       component,
		State:           b.state,
		Failures:        b.failures,
		HalfOpenSuccess: b.halfOpenSuccess,
		LastFailure:     b.lastFailure,
		OpenedAt:        b.openedAt,
	}
}

// Reset returns the component's circuit to CLOSED and clears counters
func (h *Handler) Reset(component string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if b, ok := h.breakers[component]; ok {
		b.reset()
	}
}

func (h *Handler) breakerFor(component string) *breaker {
	b, ok := h.breakers[component]
	if !ok {
		b = newBreaker()
		h.breakers[component] = b
	}
	return b
}
