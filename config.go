package stepflow

import "time"

// Scheduling defaults
const (
	// DefaultParallelConcurrency bounds dispatch when AllowParallel is
	// set without an explicit MaxConcurrency
	DefaultParallelConcurrency = 5

	// SchedulerPollInterval is how often the scheduling loop re-checks
	// a paused or idle execution
	SchedulerPollInterval = 100 * time.Millisecond
)

// DependencyPolicy decides what happens to a step whose dependency ended
// FAILED or SKIPPED. Under the default policy the step is skipped once
// all its dependencies are terminal; the strict policy fails the whole
// workflow instead.
type DependencyPolicy string

const (
	DependencySkip DependencyPolicy = "skip"
	DependencyFail DependencyPolicy = "fail"
)

// StartOptions holds per-execution options and callbacks. Callbacks are
// invoked synchronously from the scheduling loop on step settlement.
type StartOptions struct {
	DependencyPolicy DependencyPolicy
	Action           Action

	OnProgress     func(progress Progress)
	OnStepComplete func(result *StepResult)
	OnError        func(err error, stepID string)
}

// StartOption allows functional configuration of a single execution
type StartOption func(*StartOptions)

// WithDependencyPolicy overrides the default skip policy for unmet dependencies
func WithDependencyPolicy(policy DependencyPolicy) StartOption {
	return func(opts *StartOptions) {
		opts.DependencyPolicy = policy
	}
}

// WithAction overrides the executor's action for this execution
func WithAction(action Action) StartOption {
	return func(opts *StartOptions) {
		opts.Action = action
	}
}

// WithOnProgress registers a progress callback
func WithOnProgress(fn func(progress Progress)) StartOption {
	return func(opts *StartOptions) {
		opts.OnProgress = fn
	}
}

// WithOnStepComplete registers a step-settlement callback
func WithOnStepComplete(fn func(result *StepResult)) StartOption {
	return func(opts *StartOptions) {
		opts.OnStepComplete = fn
	}
}

// WithOnError registers an error callback; stepID is empty for
// workflow-level errors
func WithOnError(fn func(err error, stepID string)) StartOption {
	return func(opts *StartOptions) {
		opts.OnError = fn
	}
}

// ApplyStartOptions folds options into a StartOptions with defaults
func ApplyStartOptions(opts ...StartOption) *StartOptions {
	options := &StartOptions{
		DependencyPolicy: DependencySkip,
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// ConcurrencyLimit resolves the effective dispatch bound for a config
func (c Config) ConcurrencyLimit() int {
	if !c.AllowParallel {
		return 1
	}
	if c.MaxConcurrency > 0 {
		return c.MaxConcurrency
	}
	return DefaultParallelConcurrency
}
