package stepflow

import (
	"time"

	"github.com/rs/zerolog"
)

// Log event names
const (
	// Workflow-level events
	EventWorkflowStarted   = "workflow_started"
	EventWorkflowPaused    = "workflow_paused"
	EventWorkflowResumed   = "workflow_resumed"
	EventWorkflowCancelled = "workflow_cancelled"
	EventWorkflowCompleted = "workflow_completed"
	EventWorkflowFailed    = "workflow_failed"

	// Step-level events
	EventStepStarted   = "step_started"
	EventStepRetrying  = "step_retrying"
	EventStepCompleted = "step_completed"
	EventStepFailed    = "step_failed"
	EventStepSkipped   = "step_skipped"
)

// LogWorkflowStarted logs when a workflow starts execution
func LogWorkflowStarted(logger zerolog.Logger, runID, workflowID string, totalSteps int) {
	logger.Info().
		Str("event", EventWorkflowStarted).
		Str("run_id", runID).
		Str("workflow_id", workflowID).
		Int("total_steps", totalSteps).
		Msg("Workflow started")
}

// LogWorkflowCompleted logs successful workflow completion
func LogWorkflowCompleted(logger zerolog.Logger, runID string, duration time.Duration) {
	logger.Info().
		Str("event", EventWorkflowCompleted).
		Str("run_id", runID).
		Dur("duration", duration).
		Msg("Workflow completed")
}

// LogWorkflowFailed logs workflow failure
func LogWorkflowFailed(logger zerolog.Logger, runID string, err error) {
	logger.Error().
		Str("event", EventWorkflowFailed).
		Str("run_id", runID).
		Err(err).
		Msg("Workflow failed")
}

// LogWorkflowCancelled logs workflow cancellation
func LogWorkflowCancelled(logger zerolog.Logger, runID string) {
	logger.Warn().
		Str("event", EventWorkflowCancelled).
		Str("run_id", runID).
		Msg("Workflow cancelled")
}

// LogStepStarted logs when a step starts execution
func LogStepStarted(logger zerolog.Logger, runID, stepID string, stepType StepType) {
	logger.Info().
		Str("event", EventStepStarted).
		Str("run_id", runID).
		Str("step_id", stepID).
		Str("step_type", stepType.String()).
		Msg("Step started")
}

// LogStepRetrying logs when a step is being retried
func LogStepRetrying(logger zerolog.Logger, runID, stepID string, attempt int, delay time.Duration) {
	logger.Warn().
		Str("event", EventStepRetrying).
		Str("run_id", runID).
		Str("step_id", stepID).
		Int("attempt", attempt).
		Dur("delay", delay).
		Msg("Step retrying")
}

// LogStepCompleted logs successful step completion
func LogStepCompleted(logger zerolog.Logger, runID, stepID string, durationMs int64, retries int) {
	logger.Info().
		Str("event", EventStepCompleted).
		Str("run_id", runID).
		Str("step_id", stepID).
		Int64("duration_ms", durationMs).
		Int("retries", retries).
		Msg("Step completed")
}

// LogStepFailed logs step failure
func LogStepFailed(logger zerolog.Logger, runID, stepID string, err error, attempt int) {
	logger.Error().
		Str("event", EventStepFailed).
		Str("run_id", runID).
		Str("step_id", stepID).
		Err(err).
		Int("attempt", attempt).
		Msg("Step failed")
}

// LogStepSkipped logs when a step is skipped
func LogStepSkipped(logger zerolog.Logger, runID, stepID, reason string) {
	logger.Info().
		Str("event", EventStepSkipped).
		Str("run_id", runID).
		Str("step_id", stepID).
		Str("reason", reason).
		Msg("Step skipped")
}

// RunLogger creates a logger enriched with execution context
func RunLogger(baseLogger zerolog.Logger, runID, workflowID string) zerolog.Logger {
	return baseLogger.With().
		Str("run_id", runID).
		Str("workflow_id", workflowID).
		Logger()
}
