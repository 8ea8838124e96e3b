package stepflow

import (
	"fmt"
	"regexp"
)

// Validation error and warning codes
const (
	CodeMissingWorkflowID       = "MISSING_WORKFLOW_ID"
	CodeMissingWorkflowName     = "MISSING_WORKFLOW_NAME"
	CodeEmptyWorkflow           = "EMPTY_WORKFLOW"
	CodeInvalidStepID           = "INVALID_STEP_ID"
	CodeDuplicateStepID         = "DUPLICATE_STEP_ID"
	CodeUnknownStepType         = "UNKNOWN_STEP_TYPE"
	CodeMissingPromptConfig     = "MISSING_PROMPT_CONFIG"
	CodeMissingImageConfig      = "MISSING_IMAGE_CONFIG"
	CodeInvalidDependency       = "INVALID_DEPENDENCY"
	CodeSelfDependency          = "SELF_DEPENDENCY"
	CodeInvalidTimeout          = "INVALID_TIMEOUT"
	CodeInvalidRetryCount       = "INVALID_RETRY_COUNT"
	CodeCyclicDependency        = "CYCLIC_DEPENDENCY"
	CodeRetryDelayWithoutRetry  = "RETRY_DELAY_WITHOUT_RETRIES"
	CodeUnknownConditionTarget  = "UNKNOWN_CONDITION_TARGET"
	CodeUnknownConditionKind    = "UNKNOWN_CONDITION_KIND"
)

var stepIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidationIssue is a single machine-matchable finding
type ValidationIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	StepID  string `json:"stepId,omitempty"`
}

// ValidationResult is the verdict returned by Validate. Validation never
// panics on malformed input; structural problems become error entries.
type ValidationResult struct {
	IsValid  bool              `json:"isValid"`
	Errors   []ValidationIssue `json:"errors"`
	Warnings []ValidationIssue `json:"warnings"`
}

// HasCode reports whether any error carries the given code
func (r ValidationResult) HasCode(code string) bool {
	for _, issue := range r.Errors {
		if issue.Code == code {
			return true
		}
	}
	return false
}

func (r *ValidationResult) addError(code, stepID, format string, args ...any) {
	r.Errors = append(r.Errors, ValidationIssue{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		StepID:  stepID,
	})
}

func (r *ValidationResult) addWarning(code, stepID, format string, args ...any) {
	r.Warnings = append(r.Warnings, ValidationIssue{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		StepID:  stepID,
	})
}

// Validate checks a workflow definition for structural soundness. It is
// pure and deterministic: the same definition always yields the same
// verdict, and no error is ever thrown mid-run for problems caught here.
func Validate(def *WorkflowDefinition) ValidationResult {
	result := ValidationResult{}

	if def == nil {
		result.addError(CodeEmptyWorkflow, "", "workflow definition is nil")
		return result
	}

	if def.ID == "" {
		result.addError(CodeMissingWorkflowID, "", "workflow id must not be empty")
	}
	if def.Name == "" {
		result.addError(CodeMissingWorkflowName, "", "workflow name must not be empty")
	}
	if len(def.Steps) == 0 {
		result.addError(CodeEmptyWorkflow, "", "workflow %q has no steps", def.ID)
		result.IsValid = false
		return result
	}

	seen := make(map[string]bool, len(def.Steps))
	for i := range def.Steps {
		step := &def.Steps[i]
		validateStep(step, seen, &result)
	}

	// Dependency references are validated against the full id set
	for i := range def.Steps {
		step := &def.Steps[i]
		for _, dep := range step.DependsOn {
			if dep == step.ID {
				result.addError(CodeSelfDependency, step.ID,
					"step %q depends on itself", step.ID)
				continue
			}
			if !seen[dep] {
				result.addError(CodeInvalidDependency, step.ID,
					"step %q depends on unknown step %q", step.ID, dep)
			}
		}
		for _, cond := range step.Conditions {
			for branch, targets := range cond.Branches {
				for _, target := range targets {
					if !seen[target] {
						result.addWarning(CodeUnknownConditionTarget, step.ID,
							"condition branch %q names unknown step %q", branch, target)
					}
				}
			}
		}
	}

	// Cycle detection only makes sense once references resolve
	if !result.HasCode(CodeInvalidDependency) && !result.HasCode(CodeSelfDependency) {
		if hasCycle(def) {
			result.addError(CodeCyclicDependency, "",
				"workflow %q contains a dependency cycle", def.ID)
		}
	}

	result.IsValid = len(result.Errors) == 0
	return result
}

func validateStep(step *Step, seen map[string]bool, result *ValidationResult) {
	if step.ID == "" || !stepIDPattern.MatchString(step.ID) {
		result.addError(CodeInvalidStepID, step.ID,
			"step id %q must match [A-Za-z0-9_-]+", step.ID)
	} else if seen[step.ID] {
		result.addError(CodeDuplicateStepID, step.ID,
			"duplicate step id %q", step.ID)
	}
	seen[step.ID] = true

	if !KnownStepTypes[step.Type] {
		result.addError(CodeUnknownStepType, step.ID,
			"step %q has unknown type %q", step.ID, step.Type)
	}

	switch step.Type {
	case StepTypeGenerate:
		if !hasConfigString(step, "prompt") {
			result.addError(CodeMissingPromptConfig, step.ID,
				"step %q of type %q requires a prompt", step.ID, step.Type)
		}
	case StepTypeEdit, StepTypeAnalyze:
		if !hasConfigString(step, "image") {
			result.addError(CodeMissingImageConfig, step.ID,
				"step %q of type %q requires an image source", step.ID, step.Type)
		}
	}

	if step.Timeout < 0 {
		result.addError(CodeInvalidTimeout, step.ID,
			"step %q has negative timeout", step.ID)
	}
	if step.RetryCount < 0 {
		result.addError(CodeInvalidRetryCount, step.ID,
			"step %q has negative retry count", step.ID)
	}
	if step.RetryDelay > 0 && step.RetryCount == 0 {
		result.addWarning(CodeRetryDelayWithoutRetry, step.ID,
			"step %q sets a retry delay but no retries", step.ID)
	}

	for _, cond := range step.Conditions {
		switch cond.Kind {
		case ConditionIf, ConditionSwitch, ConditionExpression:
		default:
			result.addError(CodeUnknownConditionKind, step.ID,
				"step %q has unknown condition kind %q", step.ID, cond.Kind)
		}
	}
}

func hasConfigString(step *Step, key string) bool {
	if step.Config == nil {
		return false
	}
	v, ok := step.Config[key]
	if !ok {
		return false
	}
	if s, ok := v.(string); ok {
		return s != ""
	}
	return true
}

// hasCycle runs Kahn's algorithm over the dependency graph, with an edge
// from each dependency to its dependent. Emitting fewer nodes than steps
// means the remainder forms at least one cycle.
func hasCycle(def *WorkflowDefinition) bool {
	inDegree := make(map[string]int, len(def.Steps))
	dependents := make(map[string][]string, len(def.Steps))

	for i := range def.Steps {
		inDegree[def.Steps[i].ID] = 0
	}
	for i := range def.Steps {
		step := &def.Steps[i]
		for _, dep := range step.DependsOn {
			dependents[dep] = append(dependents[dep], step.ID)
			inDegree[step.ID]++
		}
	}

	queue := make([]string, 0, len(def.Steps))
	for id, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, id)
		}
	}

	emitted := 0
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		emitted++

		for _, next := range dependents[current] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	return emitted < len(def.Steps)
}
