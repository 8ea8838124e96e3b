package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/stepflow-io/stepflow"
	"github.com/stepflow-io/stepflow/faults"
)

// runStep executes one step to settlement, driving its retry policy.
// A step with RetryCount n gets n+1 attempts; the delay before retry
// attempt a is RetryDelay * 2^(a-1). Config placeholders are re-resolved
// on every attempt against the state current at that moment.
func (e *Executor) runStep(ctx context.Context, ex *execution, step *stepflow.Step) *stepflow.StepResult {
	started := time.Now()
	result := &stepflow.StepResult{
		StepID:    step.ID,
		Status:    stepflow.StepStatusRunning,
		StartedAt: &started,
	}
	stepflow.LogStepStarted(ex.logger, ex.runID, step.ID, step.Type)

	component := string(step.Type)
	attempts := step.RetryCount + 1
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		result.RetryCount = attempt - 1

		if attempt > 1 {
			delay := stepflow.RetryBackoff(step.RetryDelay, attempt-1)
			stepflow.LogStepRetrying(ex.logger, ex.runID, step.ID, attempt, delay)
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
				}
			}
		}
		if ctx.Err() != nil {
			lastErr = fmt.Errorf("step %s cancelled", step.ID)
			break
		}

		if e.faults != nil && !e.faults.IsAvailable(component) {
			if !e.faults.AttemptRecovery(component) {
				// retrying cannot help until the recovery timeout passes
				lastErr = fmt.Errorf("component %s unavailable: circuit open", component)
				break
			}
		}

		scope := stepflow.ResolveScope{
			Results: ex.snapshotResults(),
			Shared:  ex.shared.Snapshot(),
		}
		config := stepflow.ResolveConfig(step.Config, scope)

		output, err := e.attempt(ctx, ex.action, step, config)
		if err == nil {
			if e.faults != nil {
				e.faults.RecordSuccess(component)
			}
			completed := time.Now()
			result.Status = stepflow.StepStatusCompleted
			result.Output = output
			result.CompletedAt = &completed
			result.DurationMs = completed.Sub(started).Milliseconds()
			stepflow.LogStepCompleted(ex.logger, ex.runID, step.ID, result.DurationMs, result.RetryCount)
			return result
		}

		lastErr = err
		stepflow.LogStepFailed(ex.logger, ex.runID, step.ID, err, attempt)
		if e.faults != nil {
			e.faults.HandleError(err, faults.Context{
				Component: component,
				Operation: step.ID,
				Attempt:   attempt,
			})
		}
		if ctx.Err() != nil {
			break
		}
	}

	completed := time.Now()
	result.Status = stepflow.StepStatusFailed
	result.Error = lastErr.Error()
	result.CompletedAt = &completed
	result.DurationMs = completed.Sub(started).Milliseconds()
	return result
}

type attemptOutcome struct {
	output any
	err    error
}

// attempt performs a single action call under the step's per-attempt
// timeout. The action runs in its own goroutine so a handler that
// ignores its context cannot stall the retry loop past the deadline;
// the outcome channel is buffered so the goroutine never leaks.
func (e *Executor) attempt(ctx context.Context, action stepflow.Action, step *stepflow.Step, config map[string]any) (any, error) {
	if action == nil {
		return nil, fmt.Errorf("no action configured for step %s", step.ID)
	}

	attemptCtx := ctx
	if step.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	outcome := make(chan attemptOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				outcome <- attemptOutcome{err: fmt.Errorf("step %s panicked: %v", step.ID, r)}
			}
		}()
		output, err := action.Execute(attemptCtx, step.Type, config)
		outcome <- attemptOutcome{output: output, err: err}
	}()

	select {
	case o := <-outcome:
		if o.err != nil && step.Timeout > 0 && attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, fmt.Errorf("step %s timed out after %s", step.ID, step.Timeout)
		}
		return o.output, o.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return nil, fmt.Errorf("step %s cancelled", step.ID)
		}
		return nil, fmt.Errorf("step %s timed out after %s", step.ID, step.Timeout)
	}
}
