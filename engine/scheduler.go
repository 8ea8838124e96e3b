package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stepflow-io/stepflow"
	"github.com/stepflow-io/stepflow/expr"
)

// Step dispositions computed by the readiness check
type disposition int

const (
	stepWait disposition = iota
	stepReady
	// stepSkip: a dependency settled without completing; permanent, the
	// dependency policy applies
	stepSkip
	// stepExcluded: the conditions currently deselect the step; it is
	// re-evaluated every pass and settles as skipped only once the
	// scheduler has nothing else to run
	stepExcluded
)

type assessment struct {
	disposition disposition
	reason      string
}

// exclusion remembers a condition-deselected step within one pass
type exclusion struct {
	step   *stepflow.Step
	reason string
}

func settleSkipped(ex *execution, apply func(*stepflow.StepResult), stepID, reason string) {
	now := time.Now()
	stepflow.LogStepSkipped(ex.logger, ex.runID, stepID, reason)
	apply(&stepflow.StepResult{
		StepID:      stepID,
		Status:      stepflow.StepStatusSkipped,
		StartedAt:   &now,
		CompletedAt: &now,
	})
}

// run is the scheduling loop. It is the sole writer of execution state:
// workers settle steps over a channel buffered to the step count, so a
// cancelled loop can exit without stranding any worker goroutine.
func (e *Executor) run(ctx context.Context, ex *execution) *stepflow.WorkflowResult {
	startedAt := time.Now()

	runCtx, cancel := context.WithCancel(ctx)
	if ex.def.Config.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, ex.def.Config.Timeout)
	}
	ex.setCancel(cancel)
	defer cancel()

	total := len(ex.def.Steps)
	limit := ex.def.Config.ConcurrencyLimit()
	settleCh := make(chan *stepflow.StepResult, total)
	inFlight := make(map[string]bool)
	dispatched := make(map[string]bool)
	evaluator := expr.New()

	var outputs []any
	var failure error
	awaitInFlight := false

	stepflow.LogWorkflowStarted(ex.logger, ex.runID, ex.def.ID, total)

	apply := func(result *stepflow.StepResult) {
		delete(inFlight, result.StepID)
		ex.settle(result)
		if result.Status == stepflow.StepStatusFailed && !ex.def.Config.AllowParallel {
			// a serial run flips to FAILED at its first failed step; the
			// loop stops dispatching and only drains in-flight work, so
			// later steps stay PENDING
			ex.markFailed()
		}
		if result.Status == stepflow.StepStatusCompleted {
			ex.shared.SetStepResult(result.StepID, result.Output)
			outputs = append(outputs, result.Output)
		}
		if ex.opts.OnStepComplete != nil {
			ex.opts.OnStepComplete(result)
		}
		if result.Status == stepflow.StepStatusFailed && ex.opts.OnError != nil {
			ex.opts.OnError(errors.New(result.Error), result.StepID)
		}
		if ex.opts.OnProgress != nil {
			ex.opts.OnProgress(ex.progress())
		}
	}

loop:
	for {
		status := ex.getStatus()
		if status == stepflow.StatusCancelled {
			break
		}
		if err := runCtx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ex.def.Config.Timeout > 0 {
				failure = stepflow.NewWorkflowError(stepflow.ErrCodeTimeout,
					fmt.Sprintf("workflow timed out after %s", ex.def.Config.Timeout))
			} else {
				ex.markCancelled()
			}
			break
		}

		progressed := false
		var excluded []exclusion
		if status == stepflow.StatusRunning {
			results := ex.snapshotResults()
			shared := ex.shared.Snapshot()
			for i := range ex.def.Steps {
				step := &ex.def.Steps[i]
				if dispatched[step.ID] {
					continue
				}
				a := assess(evaluator, step, results, shared)
				switch a.disposition {
				case stepWait:
					continue
				case stepExcluded:
					excluded = append(excluded, exclusion{step: step, reason: a.reason})
				case stepSkip:
					if ex.opts.DependencyPolicy == stepflow.DependencyFail {
						failure = stepflow.NewWorkflowError(stepflow.ErrCodeExecutionFailed,
							fmt.Sprintf("step %s cannot run: %s", step.ID, a.reason))
						awaitInFlight = true
						break loop
					}
					dispatched[step.ID] = true
					settleSkipped(ex, apply, step.ID, a.reason)
					// a skip can unblock or skip dependents in this same pass
					results = ex.snapshotResults()
					progressed = true
				case stepReady:
					if len(inFlight) >= limit {
						continue
					}
					dispatched[step.ID] = true
					inFlight[step.ID] = true
					ex.setCurrentStep(step.ID)
					progressed = true
					go func(step *stepflow.Step) {
						settleCh <- e.runStep(runCtx, ex, step)
					}(step)
				}
			}
		}

		if status == stepflow.StatusFailed && len(inFlight) == 0 {
			break
		}

		if ex.progress().Done() && len(inFlight) == 0 {
			break
		}

		if len(inFlight) == 0 && !progressed && status == stepflow.StatusRunning {
			// Idle scheduler: nothing ran this pass and nothing will settle.
			// Condition-excluded steps stop waiting for state changes and
			// become skipped now; anything else still pending is a deadlock.
			if len(excluded) > 0 {
				for _, excl := range excluded {
					dispatched[excl.step.ID] = true
					settleSkipped(ex, apply, excl.step.ID, excl.reason)
				}
				continue
			}
			failure = stepflow.NewWorkflowError(stepflow.ErrCodeDeadlock,
				"no step is runnable and none are in flight")
			break
		}

		if len(inFlight) > 0 {
			select {
			case result := <-settleCh:
				apply(result)
			case <-time.After(stepflow.SchedulerPollInterval):
			case <-runCtx.Done():
			}
		} else if !progressed {
			// paused: nothing to dispatch until Resume flips the status
			time.Sleep(stepflow.SchedulerPollInterval)
		}
	}

	// A policy failure stops dispatch but waits for in-flight steps so
	// their settlements are not lost. Cancellation and timeout return
	// immediately; workers settle into the buffered channel and exit.
	if awaitInFlight && ex.getStatus() != stepflow.StatusCancelled {
		cancel()
		for len(inFlight) > 0 {
			apply(<-settleCh)
		}
	}

	finalStatus, errMsg := e.conclude(ex, failure, startedAt)
	result := ex.finalize(finalStatus, errMsg, outputs)
	result.StartedAt = startedAt
	result.CompletedAt = time.Now()
	result.DurationMs = result.CompletedAt.Sub(startedAt).Milliseconds()
	return result
}

// conclude picks the terminal workflow status; cancellation wins over
// failure, failure over completion.
func (e *Executor) conclude(ex *execution, failure error, startedAt time.Time) (stepflow.Status, string) {
	if ex.getStatus() == stepflow.StatusCancelled {
		return stepflow.StatusCancelled, "workflow cancelled"
	}
	if failure != nil {
		stepflow.LogWorkflowFailed(ex.logger, ex.runID, failure)
		if ex.opts.OnError != nil {
			ex.opts.OnError(failure, "")
		}
		return stepflow.StatusFailed, failure.Error()
	}
	for _, result := range ex.snapshotResults() {
		if result.Status == stepflow.StepStatusFailed {
			err := stepflow.NewWorkflowError(stepflow.ErrCodeExecutionFailed,
				fmt.Sprintf("step %s failed: %s", result.StepID, result.Error))
			stepflow.LogWorkflowFailed(ex.logger, ex.runID, err)
			return stepflow.StatusFailed, err.Error()
		}
	}
	stepflow.LogWorkflowCompleted(ex.logger, ex.runID, time.Since(startedAt))
	return stepflow.StatusCompleted, ""
}

// assess decides whether a pending step can run. A step is ready when
// every dependency completed and its conditions select it; it is skipped
// when a dependency settled without completing; it is excluded, not
// skipped, while its conditions deselect it, since a later settlement
// may still flip them.
func assess(evaluator *expr.Evaluator, step *stepflow.Step, results map[string]*stepflow.StepResult, shared map[string]any) assessment {
	for _, dep := range step.DependsOn {
		result, ok := results[dep]
		if !ok || !result.Status.IsTerminal() {
			return assessment{disposition: stepWait}
		}
		if result.Status != stepflow.StepStatusCompleted {
			return assessment{
				disposition: stepSkip,
				reason:      fmt.Sprintf("dependency %s ended %s", dep, result.Status),
			}
		}
	}

	selected, err := stepSelected(evaluator, step, results, shared)
	if err != nil {
		return assessment{disposition: stepExcluded, reason: fmt.Sprintf("condition error: %v", err)}
	}
	if !selected {
		return assessment{disposition: stepExcluded, reason: "condition not met"}
	}
	return assessment{disposition: stepReady}
}
