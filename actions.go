package stepflow

import (
	"context"
	"fmt"
	"sync"
)

// Action performs the concrete work of a step. The executor is agnostic
// to what a step does; it only needs a uniform call returning an opaque
// payload or an error whose message the fault classifier can inspect.
type Action interface {
	Execute(ctx context.Context, stepType StepType, config map[string]any) (any, error)
}

// ActionFunc adapts a plain function to the Action interface
type ActionFunc func(ctx context.Context, stepType StepType, config map[string]any) (any, error)

// Execute implements Action
func (f ActionFunc) Execute(ctx context.Context, stepType StepType, config map[string]any) (any, error) {
	return f(ctx, stepType, config)
}

// ActionRegistry dispatches step execution through a handler table keyed
// by step type. Registering a handler for a new type is a closed
// extension point; no dispatch code changes.
type ActionRegistry struct {
	mu       sync.RWMutex
	handlers map[StepType]ActionFunc
}

// NewActionRegistry creates an empty registry
func NewActionRegistry() *ActionRegistry {
	return &ActionRegistry{
		handlers: make(map[StepType]ActionFunc),
	}
}

// Register binds a handler to a step type, replacing any previous one
func (r *ActionRegistry) Register(stepType StepType, handler ActionFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[stepType] = handler
}

// Execute implements Action by dispatching to the registered handler
func (r *ActionRegistry) Execute(ctx context.Context, stepType StepType, config map[string]any) (any, error) {
	r.mu.RLock()
	handler, ok := r.handlers[stepType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no action registered for step type %q", stepType)
	}
	return handler(ctx, stepType, config)
}
