package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepflow-io/stepflow"
)

func sampleResult(runID, workflowID string, status stepflow.Status, completedAt time.Time) *stepflow.WorkflowResult {
	return &stepflow.WorkflowResult{
		RunID:      runID,
		WorkflowID: workflowID,
		Status:     status,
		StepResults: map[string]*stepflow.StepResult{
			"a": {StepID: "a", Status: stepflow.StepStatusCompleted, Output: "out"},
		},
		TotalSteps:  1,
		Succeeded:   1,
		StartedAt:   completedAt.Add(-time.Second),
		CompletedAt: completedAt,
		DurationMs:  1000,
	}
}

func TestMemoryStore_SaveAndGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	result := sampleResult("run-1", "wf-1", stepflow.StatusCompleted, time.Now())
	require.NoError(t, s.SaveResult(ctx, result))

	retrieved, err := s.GetResult(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "wf-1", retrieved.WorkflowID)
	assert.Equal(t, stepflow.StatusCompleted, retrieved.Status)
	assert.Equal(t, "out", retrieved.StepResults["a"].Output)
}

func TestMemoryStore_GetNotFound(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.GetResult(context.Background(), "missing")
	assert.Error(t, err)
}

func TestMemoryStore_SaveOverwrites(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.SaveResult(ctx, sampleResult("run-1", "wf-1", stepflow.StatusFailed, time.Now())))
	require.NoError(t, s.SaveResult(ctx, sampleResult("run-1", "wf-1", stepflow.StatusCompleted, time.Now())))

	retrieved, err := s.GetResult(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, stepflow.StatusCompleted, retrieved.Status)
}

func TestMemoryStore_ListFiltersAndOrders(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, s.SaveResult(ctx, sampleResult("run-1", "wf-1", stepflow.StatusCompleted, base.Add(2*time.Minute))))
	require.NoError(t, s.SaveResult(ctx, sampleResult("run-2", "wf-1", stepflow.StatusFailed, base.Add(time.Minute))))
	require.NoError(t, s.SaveResult(ctx, sampleResult("run-3", "wf-2", stepflow.StatusCompleted, base)))

	// By workflow, oldest first
	results, err := s.ListResults(ctx, stepflow.HistoryFilter{WorkflowID: "wf-1"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "run-2", results[0].RunID)
	assert.Equal(t, "run-1", results[1].RunID)

	// By status
	results, err = s.ListResults(ctx, stepflow.HistoryFilter{WorkflowID: "wf-1", Status: stepflow.ToPtr(stepflow.StatusFailed)})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "run-2", results[0].RunID)

	// Limit applies after ordering
	results, err = s.ListResults(ctx, stepflow.HistoryFilter{WorkflowID: "wf-1", Limit: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "run-2", results[0].RunID)

	// No filter returns everything
	results, err = s.ListResults(ctx, stepflow.HistoryFilter{})
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestMemoryStore_CopiesAreIndependent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	original := sampleResult("run-1", "wf-1", stepflow.StatusCompleted, time.Now())
	require.NoError(t, s.SaveResult(ctx, original))

	retrieved, err := s.GetResult(ctx, "run-1")
	require.NoError(t, err)
	retrieved.Status = stepflow.StatusFailed

	again, err := s.GetResult(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, stepflow.StatusCompleted, again.Status)
}
