package engine

import (
	"fmt"
	"strconv"

	"github.com/stepflow-io/stepflow"
	"github.com/stepflow-io/stepflow/expr"
)

// stepSelected reports whether the step's conditions permit it to run.
// A step with no conditions always runs. Multiple conditions combine
// with the step's operator, "and" by default.
func stepSelected(evaluator *expr.Evaluator, step *stepflow.Step, results map[string]*stepflow.StepResult, shared map[string]any) (bool, error) {
	if len(step.Conditions) == 0 {
		return true, nil
	}

	scope := stepflow.ResolveScope{Results: results, Shared: shared}
	env := conditionEnv(results, shared)

	anyMode := step.ConditionOperator == stepflow.OperatorOr
	for _, cond := range step.Conditions {
		selected, err := conditionSelects(evaluator, cond, step.ID, scope, env)
		if err != nil {
			return false, err
		}
		if anyMode && selected {
			return true, nil
		}
		if !anyMode && !selected {
			return false, nil
		}
	}
	return !anyMode, nil
}

// conditionSelects evaluates one condition to a branch key and reports
// whether that branch lists the step.
func conditionSelects(evaluator *expr.Evaluator, cond stepflow.Condition, stepID string, scope stepflow.ResolveScope, env expr.Env) (bool, error) {
	key, err := branchKey(evaluator, cond, scope, env)
	if err != nil {
		return false, err
	}

	targets, ok := cond.Branches[key]
	if !ok && cond.DefaultBranch != "" {
		targets = cond.Branches[cond.DefaultBranch]
	}
	for _, target := range targets {
		if target == stepID {
			return true, nil
		}
	}
	return false, nil
}

// branchKey resolves the condition to the key selecting a branch.
// Template placeholders are substituted before the expression parses so
// conditions can reference earlier step output either way.
func branchKey(evaluator *expr.Evaluator, cond stepflow.Condition, scope stepflow.ResolveScope, env expr.Env) (string, error) {
	switch cond.Kind {
	case stepflow.ConditionIf, stepflow.ConditionExpression:
		resolved := stepflow.ResolveString(cond.Expression, scope)
		value, err := evaluator.EvalBool(resolved, env)
		if err != nil {
			return "", err
		}
		return strconv.FormatBool(value), nil
	case stepflow.ConditionSwitch:
		if cond.Value != "" {
			return stepflow.ResolveString(cond.Value, scope), nil
		}
		resolved := stepflow.ResolveString(cond.Expression, scope)
		value, err := evaluator.Eval(resolved, env)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%v", value), nil
	default:
		return "", fmt.Errorf("unknown condition kind %q", cond.Kind)
	}
}

// conditionEnv exposes settled step results and the shared context to
// expressions. A step result appears as a map with status, output,
// error and durationMs keys.
func conditionEnv(results map[string]*stepflow.StepResult, shared map[string]any) expr.Env {
	return expr.Env{
		Step: func(id string) (any, bool) {
			result, ok := results[id]
			if !ok {
				return nil, false
			}
			return map[string]any{
				"status":     result.Status.String(),
				"output":     result.Output,
				"error":      result.Error,
				"durationMs": result.DurationMs,
			}, true
		},
		Shared: func(key string) (any, bool) {
			value, ok := shared[key]
			return value, ok
		},
	}
}
