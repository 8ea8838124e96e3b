package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/stepflow-io/stepflow"
)

// execution is the live state of one running workflow. The scheduling
// loop is the only writer of step results; lifecycle operations touch
// just the status and the cancel function.
type execution struct {
	runID  string
	def    *stepflow.WorkflowDefinition
	opts   *stepflow.StartOptions
	action stepflow.Action
	shared *stepflow.SharedContext
	logger zerolog.Logger

	mu          sync.RWMutex
	status      stepflow.Status
	results     map[string]*stepflow.StepResult
	currentStep string
	cancel      context.CancelFunc
}

func (ex *execution) getStatus() stepflow.Status {
	ex.mu.RLock()
	defer ex.mu.RUnlock()
	return ex.status
}

func (ex *execution) setStatus(status stepflow.Status) {
	ex.mu.Lock()
	ex.status = status
	ex.mu.Unlock()
}

// transition moves from one status to another atomically; returns false
// if the current status does not match.
func (ex *execution) transition(from, to stepflow.Status) bool {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if ex.status != from {
		return false
	}
	ex.status = to
	return true
}

// markCancelled sets CANCELLED unless already terminal and fires the
// cancel function so in-flight attempts stop early.
func (ex *execution) markCancelled() bool {
	ex.mu.Lock()
	if ex.status.IsTerminal() {
		ex.mu.Unlock()
		return false
	}
	ex.status = stepflow.StatusCancelled
	cancel := ex.cancel
	ex.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	stepflow.LogWorkflowCancelled(ex.logger, ex.runID)
	return true
}

// markFailed flips a live execution to FAILED so the scheduler stops
// dispatching; a terminal status is left alone.
func (ex *execution) markFailed() {
	ex.mu.Lock()
	if !ex.status.IsTerminal() {
		ex.status = stepflow.StatusFailed
	}
	ex.mu.Unlock()
}

func (ex *execution) setCancel(cancel context.CancelFunc) {
	ex.mu.Lock()
	ex.cancel = cancel
	ex.mu.Unlock()
}

func (ex *execution) setCurrentStep(stepID string) {
	ex.mu.Lock()
	ex.currentStep = stepID
	ex.mu.Unlock()
}

// settle records a step's terminal result
func (ex *execution) settle(result *stepflow.StepResult) {
	ex.mu.Lock()
	ex.results[result.StepID] = result
	if ex.currentStep == result.StepID {
		ex.currentStep = ""
	}
	ex.mu.Unlock()
}

// snapshotResults returns a copy of the results map; the pointed-to
// results are settled and no longer mutated.
func (ex *execution) snapshotResults() map[string]*stepflow.StepResult {
	ex.mu.RLock()
	defer ex.mu.RUnlock()
	snapshot := make(map[string]*stepflow.StepResult, len(ex.results))
	for id, result := range ex.results {
		snapshot[id] = result
	}
	return snapshot
}

func (ex *execution) progress() stepflow.Progress {
	ex.mu.RLock()
	defer ex.mu.RUnlock()
	return ex.progressLocked()
}

func (ex *execution) progressLocked() stepflow.Progress {
	p := stepflow.Progress{Total: len(ex.def.Steps)}
	for _, result := range ex.results {
		switch result.Status {
		case stepflow.StepStatusCompleted:
			p.Completed++
		case stepflow.StepStatusFailed:
			p.Failed++
		case stepflow.StepStatusSkipped:
			p.Skipped++
		}
	}
	return p
}

// state builds a point-in-time snapshot for state queries
func (ex *execution) state() *stepflow.ExecutionState {
	ex.mu.RLock()
	defer ex.mu.RUnlock()

	results := make(map[string]*stepflow.StepResult, len(ex.results))
	for id, result := range ex.results {
		copied := *result
		results[id] = &copied
	}
	return &stepflow.ExecutionState{
		RunID:       ex.runID,
		WorkflowID:  ex.def.ID,
		Status:      ex.status,
		StepResults: results,
		Progress:    ex.progressLocked(),
		CurrentStep: ex.currentStep,
	}
}

// failValidation produces a FAILED result for a definition that did not
// pass validation; no steps run.
func (ex *execution) failValidation(validation stepflow.ValidationResult) *stepflow.WorkflowResult {
	messages := make([]string, 0, len(validation.Errors))
	for _, issue := range validation.Errors {
		messages = append(messages, issue.Message)
	}
	err := stepflow.NewWorkflowError(stepflow.ErrCodeValidationFailed,
		fmt.Sprintf("workflow validation failed: %s", strings.Join(messages, "; ")))

	ex.setStatus(stepflow.StatusFailed)
	stepflow.LogWorkflowFailed(ex.logger, ex.runID, err)
	if ex.opts.OnError != nil {
		ex.opts.OnError(err, "")
	}

	return ex.finalize(stepflow.StatusFailed, err.Error(), nil)
}

// finalize assembles the aggregate result. Steps never reached stay in
// the result map as PENDING so the caller sees the full step set.
func (ex *execution) finalize(status stepflow.Status, errMsg string, outputs []any) *stepflow.WorkflowResult {
	ex.mu.Lock()
	ex.status = status
	for i := range ex.def.Steps {
		id := ex.def.Steps[i].ID
		if _, ok := ex.results[id]; !ok {
			ex.results[id] = &stepflow.StepResult{StepID: id, Status: stepflow.StepStatusPending}
		}
	}
	results := make(map[string]*stepflow.StepResult, len(ex.results))
	for id, result := range ex.results {
		results[id] = result
	}
	progress := ex.progressLocked()
	ex.mu.Unlock()

	return &stepflow.WorkflowResult{
		RunID:       ex.runID,
		WorkflowID:  ex.def.ID,
		Status:      status,
		Error:       errMsg,
		StepResults: results,
		Outputs:     outputs,
		TotalSteps:  progress.Total,
		Succeeded:   progress.Completed,
		Failed:      progress.Failed,
		Skipped:     progress.Skipped,
	}
}
