// Package engine runs workflow definitions. An Executor owns the set of
// active executions and provides lifecycle control over them; all state
// mutation happens inside the per-execution scheduling loop.
package engine

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stepflow-io/stepflow"
	"github.com/stepflow-io/stepflow/faults"
)

// Executor runs workflows and tracks active executions by workflow id.
// At most one execution per workflow id is active at a time.
type Executor struct {
	mu     sync.Mutex
	active map[string]*execution

	logger  zerolog.Logger
	action  stepflow.Action
	history stepflow.HistoryStore
	faults  *faults.Handler
}

// Option configures an Executor
type Option func(*Executor)

// WithLogger sets a custom logger
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithDefaultAction sets the action used when Start is not given one
func WithDefaultAction(action stepflow.Action) Option {
	return func(e *Executor) {
		e.action = action
	}
}

// WithHistory records terminal workflow results to the given store
func WithHistory(store stepflow.HistoryStore) Option {
	return func(e *Executor) {
		e.history = store
	}
}

// WithFaultHandler guards step actions with the given fault handler.
// Circuits are keyed by step type; an open circuit fails attempts fast.
func WithFaultHandler(handler *faults.Handler) Option {
	return func(e *Executor) {
		e.faults = handler
	}
}

// New creates an executor
func New(opts ...Option) *Executor {
	e := &Executor{
		active: make(map[string]*execution),
		logger: zerolog.New(os.Stdout).With().Timestamp().Logger().Level(zerolog.InfoLevel),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start runs the workflow to completion and returns its result. The only
// error return is the duplicate-start guard; validation failures and
// runtime failures are reported through the result's Status and Error.
func (e *Executor) Start(ctx context.Context, def *stepflow.WorkflowDefinition, opts ...stepflow.StartOption) (*stepflow.WorkflowResult, error) {
	ex, err := e.begin(def, opts...)
	if err != nil {
		return nil, err
	}
	return e.execute(ctx, ex), nil
}

// StartAsync begins the workflow in the background and returns the run id
// plus a channel that delivers the result once the execution settles.
func (e *Executor) StartAsync(ctx context.Context, def *stepflow.WorkflowDefinition, opts ...stepflow.StartOption) (string, <-chan *stepflow.WorkflowResult, error) {
	ex, err := e.begin(def, opts...)
	if err != nil {
		return "", nil, err
	}
	done := make(chan *stepflow.WorkflowResult, 1)
	go func() {
		done <- e.execute(ctx, ex)
	}()
	return ex.runID, done, nil
}

// begin enforces the single-active-execution guard and registers the new
// execution. The guard runs before validation so a concurrent duplicate
// submission is rejected regardless of the definition's validity.
func (e *Executor) begin(def *stepflow.WorkflowDefinition, opts ...stepflow.StartOption) (*execution, error) {
	if def == nil {
		return nil, stepflow.NewWorkflowError(stepflow.ErrCodeValidationFailed, "workflow definition is nil")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.active[def.ID]; exists {
		return nil, stepflow.NewWorkflowError(stepflow.ErrCodeAlreadyRunning,
			fmt.Sprintf("workflow %s is already running", def.ID))
	}

	options := stepflow.ApplyStartOptions(opts...)
	action := options.Action
	if action == nil {
		action = e.action
	}

	runID := uuid.NewString()
	ex := &execution{
		runID:   runID,
		def:     def,
		opts:    options,
		action:  action,
		shared:  stepflow.NewSharedContext(),
		logger:  stepflow.RunLogger(e.logger, runID, def.ID),
		status:  stepflow.StatusRunning,
		results: make(map[string]*stepflow.StepResult),
	}
	e.active[def.ID] = ex
	return ex, nil
}

// execute validates, runs the scheduling loop, unregisters, and records
// the terminal result.
func (e *Executor) execute(ctx context.Context, ex *execution) *stepflow.WorkflowResult {
	defer func() {
		e.mu.Lock()
		// Stop may already have freed the slot, and a successor run may
		// occupy it; only remove our own registration
		if e.active[ex.def.ID] == ex {
			delete(e.active, ex.def.ID)
		}
		e.mu.Unlock()
	}()

	var result *stepflow.WorkflowResult
	if validation := stepflow.Validate(ex.def); !validation.IsValid {
		result = ex.failValidation(validation)
	} else {
		result = e.run(ctx, ex)
	}

	if e.history != nil {
		if err := e.history.SaveResult(context.WithoutCancel(ctx), result); err != nil {
			ex.logger.Error().Err(err).Msg("Failed to record workflow result")
		}
	}
	return result
}

// Pause suspends dispatch of new steps. In-flight steps run to completion.
func (e *Executor) Pause(workflowID string) error {
	ex, err := e.lookup(workflowID)
	if err != nil {
		return err
	}
	if !ex.transition(stepflow.StatusRunning, stepflow.StatusPaused) {
		return stepflow.NewWorkflowError(stepflow.ErrCodeInvalidState,
			fmt.Sprintf("workflow %s is not running", workflowID))
	}
	ex.logger.Info().Str("event", stepflow.EventWorkflowPaused).Msg("Workflow paused")
	return nil
}

// Resume restarts dispatch of a paused workflow
func (e *Executor) Resume(workflowID string) error {
	ex, err := e.lookup(workflowID)
	if err != nil {
		return err
	}
	if !ex.transition(stepflow.StatusPaused, stepflow.StatusRunning) {
		return stepflow.NewWorkflowError(stepflow.ErrCodeInvalidState,
			fmt.Sprintf("workflow %s is not paused", workflowID))
	}
	ex.logger.Info().Str("event", stepflow.EventWorkflowResumed).Msg("Workflow resumed")
	return nil
}

// Stop cancels the workflow and frees its registry slot immediately, so
// a new run of the same workflow can start while the cancelled one
// drains. The scheduling loop exits without waiting for in-flight steps;
// their settlements are discarded.
func (e *Executor) Stop(workflowID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ex, ok := e.active[workflowID]
	if !ok {
		return stepflow.NewWorkflowError(stepflow.ErrCodeNotFound,
			fmt.Sprintf("no active execution for workflow %s", workflowID))
	}
	if !ex.markCancelled() {
		return stepflow.NewWorkflowError(stepflow.ErrCodeInvalidState,
			fmt.Sprintf("workflow %s already finished", workflowID))
	}
	delete(e.active, workflowID)
	return nil
}

// GetState returns a snapshot of the execution's live state
func (e *Executor) GetState(workflowID string) (*stepflow.ExecutionState, error) {
	ex, err := e.lookup(workflowID)
	if err != nil {
		return nil, err
	}
	return ex.state(), nil
}

// ListActive returns snapshots of every active execution
func (e *Executor) ListActive() []*stepflow.ExecutionState {
	e.mu.Lock()
	executions := make([]*execution, 0, len(e.active))
	for _, ex := range e.active {
		executions = append(executions, ex)
	}
	e.mu.Unlock()

	states := make([]*stepflow.ExecutionState, 0, len(executions))
	for _, ex := range executions {
		states = append(states, ex.state())
	}
	return states
}

func (e *Executor) lookup(workflowID string) (*execution, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ex, ok := e.active[workflowID]
	if !ok {
		return nil, stepflow.NewWorkflowError(stepflow.ErrCodeNotFound,
			fmt.Sprintf("no active execution for workflow %s", workflowID))
	}
	return ex, nil
}
