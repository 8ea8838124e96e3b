// Package orchestrator composes the fixed five-stage generation pipeline
// (analyze, prepare, generate, review, finalize) as a workflow run
// through the executor. It owns no scheduling logic; each stage is a
// pluggable function guarded by the fault handler under its own
// component circuit.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stepflow-io/stepflow"
	"github.com/stepflow-io/stepflow/engine"
	"github.com/stepflow-io/stepflow/faults"
)

// Pipeline stage names, in execution order
const (
	StageAnalyze  = "analyze"
	StagePrepare  = "prepare"
	StageGenerate = "generate"
	StageReview   = "review"
	StageFinalize = "finalize"
)

// StageOrder lists the stages in the order they run
var StageOrder = []string{StageAnalyze, StagePrepare, StageGenerate, StageReview, StageFinalize}

// StageFunc performs one pipeline stage. The config carries the request
// fields plus the previous stage's output under "input".
type StageFunc func(ctx context.Context, config map[string]any) (any, error)

// Request describes one pipeline run
type Request struct {
	ID     string         `json:"id"`
	Prompt string         `json:"prompt"`
	Params map[string]any `json:"params,omitempty"`
}

// StagePolicy sets the retry/timeout discipline for one stage
type StagePolicy struct {
	Timeout    time.Duration
	RetryCount int
	RetryDelay time.Duration
}

// DefaultStagePolicy applies to stages without an explicit policy
var DefaultStagePolicy = StagePolicy{
	Timeout:    2 * time.Minute,
	RetryCount: 2,
	RetryDelay: time.Second,
}

// Orchestrator runs generation pipelines through an executor
type Orchestrator struct {
	executor *engine.Executor
	handler  *faults.Handler
	logger   zerolog.Logger
	stages   map[string]StageFunc
	policies map[string]StagePolicy
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithStage installs the implementation of a pipeline stage
func WithStage(name string, fn StageFunc) Option {
	return func(o *Orchestrator) {
		o.stages[name] = fn
	}
}

// WithStagePolicy overrides the retry/timeout discipline of one stage
func WithStagePolicy(name string, policy StagePolicy) Option {
	return func(o *Orchestrator) {
		o.policies[name] = policy
	}
}

// WithFaultHandler sets the fault handler guarding stage calls
func WithFaultHandler(handler *faults.Handler) Option {
	return func(o *Orchestrator) {
		o.handler = handler
	}
}

// WithLogger sets a custom logger
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// New creates an orchestrator running pipelines on the given executor.
// Stages without an installed implementation pass their input through
// unchanged, so a caller only implements the stages it cares about.
func New(executor *engine.Executor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		executor: executor,
		handler:  faults.NewHandler(),
		logger:   zerolog.New(os.Stdout).With().Timestamp().Logger().Level(zerolog.InfoLevel),
		stages:   make(map[string]StageFunc),
		policies: make(map[string]StagePolicy),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes the five-stage pipeline for the request and returns the
// workflow result. The finalize stage's output is the last entry of the
// result's Outputs.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*stepflow.WorkflowResult, error) {
	if req.ID == "" {
		return nil, stepflow.NewWorkflowError(stepflow.ErrCodeValidationFailed, "pipeline request needs an id")
	}

	def := o.buildDefinition(req)
	attempts := &attemptTracker{counts: make(map[string]int)}

	return o.executor.Start(ctx, def,
		stepflow.WithAction(stepflow.ActionFunc(func(ctx context.Context, stepType stepflow.StepType, config map[string]any) (any, error) {
			return o.invokeStage(ctx, attempts, config)
		})),
	)
}

// buildDefinition lays the five stages out as a linear chain. Each step
// receives the request fields and references the previous stage's output
// through a template placeholder.
func (o *Orchestrator) buildDefinition(req Request) *stepflow.WorkflowDefinition {
	steps := make([]stepflow.Step, 0, len(StageOrder))
	for i, stage := range StageOrder {
		policy, ok := o.policies[stage]
		if !ok {
			policy = DefaultStagePolicy
		}

		config := map[string]any{
			"stage":  stage,
			"prompt": req.Prompt,
		}
		if req.Params != nil {
			config["params"] = req.Params
		}

		step := stepflow.Step{
			ID:         stage,
			Type:       stepflow.StepTypeCustom,
			Config:     config,
			Timeout:    policy.Timeout,
			RetryCount: policy.RetryCount,
			RetryDelay: policy.RetryDelay,
		}
		if i > 0 {
			prev := StageOrder[i-1]
			step.DependsOn = []string{prev}
			config["input"] = fmt.Sprintf("${step.%s.result}", prev)
		}
		steps = append(steps, step)
	}

	return &stepflow.WorkflowDefinition{
		ID:    "pipeline-" + req.ID,
		Name:  "generation pipeline " + req.ID,
		Steps: steps,
		Config: stepflow.Config{
			AllowParallel: false,
		},
	}
}

// invokeStage dispatches one stage call under its fault circuit
func (o *Orchestrator) invokeStage(ctx context.Context, attempts *attemptTracker, config map[string]any) (any, error) {
	stage, _ := config["stage"].(string)
	if stage == "" {
		return nil, fmt.Errorf("stage config missing stage name")
	}
	attempt := attempts.next(stage)
	component := "stage:" + stage

	if !o.handler.IsAvailable(component) && !o.handler.AttemptRecovery(component) {
		return nil, fmt.Errorf("stage %s unavailable: circuit open", stage)
	}

	fn, ok := o.stages[stage]
	if !ok {
		fn = passthroughStage
	}

	o.logger.Debug().Str("stage", stage).Int("attempt", attempt).Msg("Running pipeline stage")
	output, err := fn(ctx, config)
	if err != nil {
		strategy := o.handler.HandleError(err, faults.Context{
			Component: component,
			Operation: stage,
			Attempt:   attempt,
		})
		o.logger.Warn().
			Str("stage", stage).
			Str("action", string(strategy.Action)).
			Err(err).
			Msg("Pipeline stage failed")
		return nil, err
	}

	o.handler.RecordSuccess(component)
	return output, nil
}

// passthroughStage forwards the previous stage's output unchanged
func passthroughStage(_ context.Context, config map[string]any) (any, error) {
	if input, ok := config["input"]; ok {
		return input, nil
	}
	return map[string]any{"prompt": config["prompt"]}, nil
}

// attemptTracker counts calls per stage within one run so the fault
// handler sees a meaningful attempt number
type attemptTracker struct {
	mu     sync.Mutex
	counts map[string]int
}

func (t *attemptTracker) next(stage string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[stage]++
	return t.counts[stage]
}
