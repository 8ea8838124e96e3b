package stepflow

import "context"

// HistoryStore records terminal workflow results for later inspection.
// It is a reporting surface only: executions are never resumed from it.
type HistoryStore interface {
	SaveResult(ctx context.Context, result *WorkflowResult) error
	GetResult(ctx context.Context, runID string) (*WorkflowResult, error)
	ListResults(ctx context.Context, filter HistoryFilter) ([]*WorkflowResult, error)
}

// HistoryFilter defines filtering criteria for recorded results
type HistoryFilter struct {
	WorkflowID string
	Status     *Status
	Limit      int
}
