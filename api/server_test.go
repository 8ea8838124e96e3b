package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepflow-io/stepflow"
	"github.com/stepflow-io/stepflow/engine"
	"github.com/stepflow-io/stepflow/store"
)

func newTestServer(t *testing.T, action stepflow.Action, opts ...Option) (*Server, *engine.Executor) {
	t.Helper()
	logger := zerolog.New(os.Stdout).Level(zerolog.WarnLevel)
	executor := engine.New(
		engine.WithLogger(logger),
		engine.WithDefaultAction(action),
	)
	opts = append(opts, WithLogger(logger))
	return NewServer(executor, opts...), executor
}

func echoAction() stepflow.Action {
	return stepflow.ActionFunc(func(ctx context.Context, stepType stepflow.StepType, config map[string]any) (any, error) {
		return map[string]any{"echo": string(stepType)}, nil
	})
}

// gatedAction blocks every step until the gate channel is closed
func gatedAction(gate <-chan struct{}) stepflow.Action {
	return stepflow.ActionFunc(func(ctx context.Context, stepType stepflow.StepType, config map[string]any) (any, error) {
		select {
		case <-gate:
			return "done", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}

func simpleDefinition(id string) *stepflow.WorkflowDefinition {
	return &stepflow.WorkflowDefinition{
		ID:   id,
		Name: "Test Workflow",
		Steps: []stepflow.Step{
			{ID: "a", Type: stepflow.StepTypeCustom},
		},
	}
}

func postJSON(t *testing.T, s *Server, path string, payload any) *http.Response {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.App().Test(req)
	require.NoError(t, err)
	return resp
}

func getPath(t *testing.T, s *Server, path string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	resp, err := s.App().Test(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

// waitUntilGone polls until the executor no longer tracks the workflow
func waitUntilGone(t *testing.T, executor *engine.Executor, workflowID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := executor.GetState(workflowID); err != nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("workflow %s still active", workflowID)
}

func waitForServerStatus(t *testing.T, executor *engine.Executor, workflowID string, want stepflow.Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if state, err := executor.GetState(workflowID); err == nil && state.Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("workflow %s never reached %s", workflowID, want)
}

func TestServer_Health(t *testing.T) {
	s, _ := newTestServer(t, echoAction())

	resp := getPath(t, s, "/health")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "healthy", body["status"])
}

func TestServer_StartWorkflow(t *testing.T) {
	s, executor := newTestServer(t, echoAction())

	resp := postJSON(t, s, "/api/v1/workflows/", simpleDefinition("wf-start"))

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.NotEmpty(t, body["runId"])
	assert.Equal(t, "wf-start", body["workflowId"])
	assert.Equal(t, string(stepflow.StatusRunning), body["status"])

	waitUntilGone(t, executor, "wf-start")
}

func TestServer_StartRejectsInvalidBody(t *testing.T) {
	s, _ := newTestServer(t, echoAction())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/workflows/", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.App().Test(req)
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_StartRejectsInvalidDefinition(t *testing.T) {
	s, _ := newTestServer(t, echoAction())

	def := &stepflow.WorkflowDefinition{ID: "wf-bad", Name: "Broken"}
	resp := postJSON(t, s, "/api/v1/workflows/", def)

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.NotEmpty(t, body["issues"])
}

func TestServer_StartConflictsWhileRunning(t *testing.T) {
	gate := make(chan struct{})
	s, executor := newTestServer(t, gatedAction(gate))

	resp := postJSON(t, s, "/api/v1/workflows/", simpleDefinition("wf-dup"))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, s, "/api/v1/workflows/", simpleDefinition("wf-dup"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	close(gate)
	waitUntilGone(t, executor, "wf-dup")
}

func TestServer_GetState(t *testing.T) {
	gate := make(chan struct{})
	s, executor := newTestServer(t, gatedAction(gate))

	resp := postJSON(t, s, "/api/v1/workflows/", simpleDefinition("wf-state"))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()
	waitForServerStatus(t, executor, "wf-state", stepflow.StatusRunning)

	resp = getPath(t, s, "/api/v1/workflows/wf-state")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, string(stepflow.StatusRunning), body["status"])
	assert.NotEmpty(t, body["runId"])

	close(gate)
	waitUntilGone(t, executor, "wf-state")
}

func TestServer_GetStateNotFound(t *testing.T) {
	s, _ := newTestServer(t, echoAction())

	resp := getPath(t, s, "/api/v1/workflows/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_ListActive(t *testing.T) {
	gate := make(chan struct{})
	s, executor := newTestServer(t, gatedAction(gate))

	resp := postJSON(t, s, "/api/v1/workflows/", simpleDefinition("wf-list"))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()
	waitForServerStatus(t, executor, "wf-list", stepflow.StatusRunning)

	resp = getPath(t, s, "/api/v1/workflows/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	active, ok := body["active"].([]any)
	require.True(t, ok)
	require.Len(t, active, 1)
	state, ok := active[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "wf-list", state["workflowId"])

	close(gate)
	waitUntilGone(t, executor, "wf-list")
}

func TestServer_PauseResumeStop(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	s, executor := newTestServer(t, gatedAction(gate))

	resp := postJSON(t, s, "/api/v1/workflows/", simpleDefinition("wf-ctl"))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()
	waitForServerStatus(t, executor, "wf-ctl", stepflow.StatusRunning)

	resp = postJSON(t, s, "/api/v1/workflows/wf-ctl/pause", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, string(stepflow.StatusPaused), body["status"])

	// Pausing a paused workflow is a state conflict
	resp = postJSON(t, s, "/api/v1/workflows/wf-ctl/pause", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, s, "/api/v1/workflows/wf-ctl/resume", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeBody(t, resp)
	assert.Equal(t, string(stepflow.StatusRunning), body["status"])

	resp = postJSON(t, s, "/api/v1/workflows/wf-ctl/stop", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeBody(t, resp)
	assert.Equal(t, string(stepflow.StatusCancelled), body["status"])

	waitUntilGone(t, executor, "wf-ctl")
}

func TestServer_LifecycleNotFound(t *testing.T) {
	s, _ := newTestServer(t, echoAction())

	for _, op := range []string{"pause", "resume", "stop"} {
		resp := postJSON(t, s, "/api/v1/workflows/nope/"+op, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, op)
		resp.Body.Close()
	}
}

func TestServer_HistoryRoutes(t *testing.T) {
	history := store.NewMemoryStore()
	s, _ := newTestServer(t, echoAction(), WithHistory(history))

	completed := time.Now()
	require.NoError(t, history.SaveResult(context.Background(), &stepflow.WorkflowResult{
		RunID:       "run-1",
		WorkflowID:  "wf-hist",
		Status:      stepflow.StatusCompleted,
		TotalSteps:  1,
		Succeeded:   1,
		StartedAt:   completed.Add(-time.Second),
		CompletedAt: completed,
	}))

	resp := getPath(t, s, "/api/v1/history/run-1")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "wf-hist", body["workflowId"])

	resp = getPath(t, s, "/api/v1/history/missing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = getPath(t, s, "/api/v1/history/?workflowId=wf-hist&status=COMPLETED&limit=10")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeBody(t, resp)
	results, ok := body["results"].([]any)
	require.True(t, ok)
	assert.Len(t, results, 1)

	resp = getPath(t, s, "/api/v1/history/?limit=bogus")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestServer_HistoryDisabledWithoutStore(t *testing.T) {
	s, _ := newTestServer(t, echoAction())

	resp := getPath(t, s, "/api/v1/history/run-1")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
