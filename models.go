package stepflow

import (
	"time"
)

// Status represents the current state of a workflow execution
type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusPaused    Status = "PAUSED"
	StatusCancelled Status = "CANCELLED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// IsTerminal returns true if the status is a final state
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// String returns the string representation
func (s Status) String() string {
	return string(s)
}

// StepStatus represents the current state of a step execution
type StepStatus string

const (
	StepStatusPending   StepStatus = "PENDING"
	StepStatusRunning   StepStatus = "RUNNING"
	StepStatusCompleted StepStatus = "COMPLETED"
	StepStatusFailed    StepStatus = "FAILED"
	StepStatusSkipped   StepStatus = "SKIPPED"
)

// IsTerminal returns true if the status is a final state
func (s StepStatus) IsTerminal() bool {
	return s == StepStatusCompleted || s == StepStatusFailed || s == StepStatusSkipped
}

// String returns the string representation
func (s StepStatus) String() string {
	return string(s)
}

// StepType is the enumerated action kind of a step. The set is open:
// callers register handlers for custom types on the action registry.
type StepType string

const (
	StepTypeGenerate StepType = "generate"
	StepTypeEdit     StepType = "edit"
	StepTypeAnalyze  StepType = "analyze"
	StepTypeCustom   StepType = "custom"
)

// KnownStepTypes lists the step types the validator accepts by default.
var KnownStepTypes = map[StepType]bool{
	StepTypeGenerate: true,
	StepTypeEdit:     true,
	StepTypeAnalyze:  true,
	StepTypeCustom:   true,
}

// String returns the string representation
func (t StepType) String() string {
	return string(t)
}

// ConditionKind selects how a Condition is evaluated
type ConditionKind string

const (
	ConditionIf         ConditionKind = "if"
	ConditionSwitch     ConditionKind = "switch"
	ConditionExpression ConditionKind = "expression"
)

// ConditionOperator combines multiple conditions gating one step
type ConditionOperator string

const (
	OperatorAnd ConditionOperator = "and"
	OperatorOr  ConditionOperator = "or"
)

// Condition gates step execution on the runtime state of the workflow.
// Branches map a branch key to the step ids permitted to run when that
// branch is selected. For "if" and "expression" kinds the branch keys are
// "true" and "false"; for "switch" the evaluated value is matched against
// the keys, falling back to DefaultBranch.
type Condition struct {
	Kind          ConditionKind       `json:"kind"`
	Expression    string              `json:"expression,omitempty"`
	Value         string              `json:"value,omitempty"`
	Branches      map[string][]string `json:"branches"`
	DefaultBranch string              `json:"defaultBranch,omitempty"`
}

// Step is a single unit of work in a workflow definition. Steps form a
// directed graph via DependsOn; the graph must be acyclic.
type Step struct {
	ID                string            `json:"id"`
	Type              StepType          `json:"type"`
	Config            map[string]any    `json:"config,omitempty"`
	DependsOn         []string          `json:"dependsOn,omitempty"`
	Conditions        []Condition       `json:"conditions,omitempty"`
	ConditionOperator ConditionOperator `json:"conditionOperator,omitempty"`

	// Per-attempt timeout; zero means no timeout
	Timeout time.Duration `json:"timeout,omitempty"`

	// Retry policy: RetryCount+1 total attempts, delay doubling per retry
	RetryCount int           `json:"retryCount,omitempty"`
	RetryDelay time.Duration `json:"retryDelay,omitempty"`
}

// Config holds workflow-level execution parameters
type Config struct {
	// MaxConcurrency bounds parallel step dispatch. Only honored when
	// AllowParallel is set; defaults to DefaultParallelConcurrency then.
	MaxConcurrency int  `json:"maxConcurrency,omitempty"`
	AllowParallel  bool `json:"allowParallel,omitempty"`

	// Timeout bounds the whole execution; zero means no limit
	Timeout time.Duration `json:"timeout,omitempty"`
}

// WorkflowDefinition is the immutable blueprint submitted for execution
type WorkflowDefinition struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	Steps   []Step `json:"steps"`
	Config  Config `json:"config"`
}

// GetStep returns the step with the given id, or nil
func (d *WorkflowDefinition) GetStep(stepID string) *Step {
	for i := range d.Steps {
		if d.Steps[i].ID == stepID {
			return &d.Steps[i]
		}
	}
	return nil
}

// StepResult records the terminal outcome of one step. It is written once
// on settlement and read by later steps for templating and conditions.
type StepResult struct {
	StepID      string     `json:"stepId" dynamodbav:"step_id"`
	Status      StepStatus `json:"status" dynamodbav:"status"`
	StartedAt   *time.Time `json:"startedAt,omitempty" dynamodbav:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty" dynamodbav:"completed_at,omitempty"`
	DurationMs  int64      `json:"durationMs" dynamodbav:"duration_ms"`

	// RetryCount is the number of retries actually used (0 = first attempt succeeded)
	RetryCount int `json:"retryCount" dynamodbav:"retry_count"`

	// Output is the opaque payload returned by the step action
	Output any    `json:"output,omitempty" dynamodbav:"output,omitempty"`
	Error  string `json:"error,omitempty" dynamodbav:"error,omitempty"`
}

// Progress is a tally of step outcomes for an execution
type Progress struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Done returns true once every step reached a terminal status
func (p Progress) Done() bool {
	return p.Completed+p.Failed+p.Skipped >= p.Total
}

// ExecutionState is a point-in-time snapshot of a running workflow,
// returned by state queries. The executor owns the live state; snapshots
// are safe to retain.
type ExecutionState struct {
	RunID       string                 `json:"runId"`
	WorkflowID  string                 `json:"workflowId"`
	Status      Status                 `json:"status"`
	StepResults map[string]*StepResult `json:"stepResults"`
	Progress    Progress               `json:"progress"`
	CurrentStep string                 `json:"currentStep,omitempty"`
}

// WorkflowResult is the aggregate outcome of one execution. Start never
// rejects after the already-running guard; every other failure mode is
// expressed through Status and Error here.
type WorkflowResult struct {
	RunID      string `json:"runId" dynamodbav:"run_id"`
	WorkflowID string `json:"workflowId" dynamodbav:"workflow_id"`
	Status     Status `json:"status" dynamodbav:"status"`
	Error      string `json:"error,omitempty" dynamodbav:"error,omitempty"`

	StepResults map[string]*StepResult `json:"stepResults" dynamodbav:"step_results"`

	// Outputs holds the payloads of successful steps in completion order
	Outputs []any `json:"outputs,omitempty" dynamodbav:"outputs,omitempty"`

	TotalSteps int `json:"totalSteps" dynamodbav:"total_steps"`
	Succeeded  int `json:"succeeded" dynamodbav:"succeeded"`
	Failed     int `json:"failed" dynamodbav:"failed"`
	Skipped    int `json:"skipped" dynamodbav:"skipped"`

	StartedAt   time.Time `json:"startedAt" dynamodbav:"started_at"`
	CompletedAt time.Time `json:"completedAt" dynamodbav:"completed_at"`
	DurationMs  int64     `json:"durationMs" dynamodbav:"duration_ms"`
}
