package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/stepflow-io/stepflow"
)

// MemoryStore implements stepflow.HistoryStore with in-memory storage
// (for tests and single-process deployments)
type MemoryStore struct {
	mu      sync.RWMutex
	results map[string]*stepflow.WorkflowResult
}

// NewMemoryStore creates a new in-memory history store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		results: make(map[string]*stepflow.WorkflowResult),
	}
}

func (s *MemoryStore) SaveResult(ctx context.Context, result *stepflow.WorkflowResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Shallow copy; step results are settled and no longer mutated
	resultCopy := *result
	s.results[result.RunID] = &resultCopy

	return nil
}

func (s *MemoryStore) GetResult(ctx context.Context, runID string) (*stepflow.WorkflowResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result, exists := s.results[runID]
	if !exists {
		return nil, fmt.Errorf("workflow result %s not found", runID)
	}

	resultCopy := *result
	return &resultCopy, nil
}

func (s *MemoryStore) ListResults(ctx context.Context, filter stepflow.HistoryFilter) ([]*stepflow.WorkflowResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*stepflow.WorkflowResult
	for _, result := range s.results {
		if filter.WorkflowID != "" && result.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.Status != nil && result.Status != *filter.Status {
			continue
		}

		resultCopy := *result
		results = append(results, &resultCopy)
	}

	// Oldest first, matching the DynamoDB index order
	sort.Slice(results, func(i, j int) bool {
		return results[i].CompletedAt.Before(results[j].CompletedAt)
	})

	if filter.Limit > 0 && len(results) > filter.Limit {
		results = results[:filter.Limit]
	}

	return results, nil
}
