package stepflow

import (
	"fmt"
	"strings"
	"time"
)

// Workflow-level error codes
const (
	ErrCodeAlreadyRunning   = "ALREADY_RUNNING"
	ErrCodeValidationFailed = "VALIDATION_FAILED"
	ErrCodeDeadlock         = "DEPENDENCY_DEADLOCK"
	ErrCodeTimeout          = "TIMEOUT"
	ErrCodeCancelled        = "CANCELLED"
	ErrCodeExecutionFailed  = "EXECUTION_FAILED"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeInvalidState     = "INVALID_STATE"
)

// WorkflowError represents an error during workflow execution
type WorkflowError struct {
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	Step      string    `json:"step,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Error implements the error interface
func (e *WorkflowError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("[%s] %s (step: %s)", e.Code, e.Message, e.Step)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// NewWorkflowError creates a new workflow error
func NewWorkflowError(code, message string) *WorkflowError {
	return &WorkflowError{
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

// StepError represents an error during step execution
type StepError struct {
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	StepID    string    `json:"stepId"`
	Attempt   int       `json:"attempt"`
	Timestamp time.Time `json:"timestamp"`
}

// Error implements the error interface
func (e *StepError) Error() string {
	return fmt.Sprintf("[%s] step %s: %s (attempt: %d)", e.Code, e.StepID, e.Message, e.Attempt)
}

// NewStepError creates a new step error
func NewStepError(code, stepID, message string, attempt int) *StepError {
	return &StepError{
		Message:   message,
		Code:      code,
		StepID:    stepID,
		Attempt:   attempt,
		Timestamp: time.Now(),
	}
}

// IsAlreadyRunningError reports whether err is the duplicate-start guard
func IsAlreadyRunningError(err error) bool {
	if err == nil {
		return false
	}
	if we, ok := err.(*WorkflowError); ok {
		return we.Code == ErrCodeAlreadyRunning
	}
	return strings.Contains(err.Error(), "already running")
}

// IsTimeoutError checks if an error is a timeout error
func IsTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if se, ok := err.(*StepError); ok {
		return se.Code == ErrCodeTimeout
	}
	if we, ok := err.(*WorkflowError); ok {
		return we.Code == ErrCodeTimeout
	}
	return strings.Contains(err.Error(), "timed out") || strings.Contains(err.Error(), "context deadline exceeded")
}
