package stepflow

import (
	"sync"
)

// SharedContext is the per-workflow key/value store used for result
// propagation between steps. Steps write to it explicitly or implicitly
// via "step.<id>.result"; condition expressions and templated config
// fields read from it. Its lifetime is one workflow execution.
type SharedContext struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewSharedContext creates an empty shared context
func NewSharedContext() *SharedContext {
	return &SharedContext{
		values: make(map[string]any),
	}
}

// Set stores a value under key
func (c *SharedContext) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

// Get retrieves a value; the second return reports presence
func (c *SharedContext) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// Has checks if a key exists
func (c *SharedContext) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.values[key]
	return ok
}

// Delete removes a key
func (c *SharedContext) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
}

// SetStepResult publishes a settled step's payload under the implicit
// "step.<id>.result" key
func (c *SharedContext) SetStepResult(stepID string, output any) {
	c.Set("step."+stepID+".result", output)
}

// Snapshot returns a shallow copy of all values
func (c *SharedContext) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snapshot := make(map[string]any, len(c.values))
	for k, v := range c.values {
		snapshot[k] = v
	}
	return snapshot
}
