package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/dukex/actiond/pkg/action"
	"github.com/dukex/actiond/pkg/cache"
	"github.com/dukex/actiond/pkg/executors"
	"github.com/dukex/actiond/pkg/models"
	"github.com/dukex/actiond/pkg/persistence"
	"github.com/dukex/actiond/pkg/persistence/memory"
	"github.com/dukex/actiond/pkg/queue"
	"github.com/dukex/actiond/pkg/registry"
	"github.com/dukex/actiond/pkg/testutil"
	"github.com/dukex/actiond/pkg/tracking"
	"github.com/dukex/actiond/pkg/txn"
	"github.com/dukex/actiond/pkg/validation"
	"github.com/dukex/actiond/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	app        *fiber.App
	actionNode models.NodeRef
	owner      models.NodeRef
	sleep      *executors.Sleep
}

func setupTestApp(t *testing.T) *testEnv {
	t.Helper()

	logger := testutil.Logger()
	nodes := memory.NewPersistence(logger)
	store := persistence.NewActionStore(nodes, logger)
	reg := registry.NewRegistry(logger)

	txns := txn.NewManager(logger)
	tracker := tracking.NewService(cache.NewMemory[models.ExecutionDetails](0), txns, logger, tracking.WithRunningOn("10.0.0.1 : test"))

	sleep := executors.NewSleep(tracker, logger, executors.WithPollInterval(5*time.Millisecond))
	require.NoError(t, reg.RegisterExecutor(sleep))
	require.NoError(t, executors.Register(reg, nodes, logger))

	pool := queue.NewPool(action.DefaultQueueName, 2, 16, logger)
	t.Cleanup(func() {
		sleep.Wake()
		_ = pool.Shutdown(context.Background())
	})

	service, err := action.NewService(reg, tracker, logger,
		action.WithQueue(queue.New(action.DefaultQueueName, pool, txns, logger)),
		action.WithStore(store),
		action.WithNodeTypes(nodes),
		action.WithValidator(validation.New()),
	)
	require.NoError(t, err)

	ctx := t.Context()

	owner, err := nodes.CreateNode(ctx, models.NodeRef{}, "", "cm:folder", map[string]any{"cm:name": "inbox"})
	require.NoError(t, err)

	a := testutil.CreateTestAction(executors.SleepActionName,
		testutil.WithParameters(map[string]any{executors.ParamSleepMs: int64(10_000)}),
		testutil.WithTrackStatus(true),
	)
	require.NoError(t, service.SaveAction(ctx, owner, a))

	handlers := web.NewAPIHandlers(service, txns, nodes, validator.New(validator.WithRequiredStructEnabled()), "", logger)

	app := fiber.New()
	handlers.Register(app)

	return &testEnv{app: app, actionNode: a.NodeRef, owner: owner, sleep: sleep}
}

func do(t *testing.T, app *fiber.App, method, path string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, ok := body.(string)
		if !ok {
			data, err := json.Marshal(body)
			require.NoError(t, err)

			raw = string(data)
		}

		reader = bytes.NewBufferString(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, data
}

func runningActions(t *testing.T, app *fiber.App, query string) []web.RunningActionResponse {
	t.Helper()

	status, body := do(t, app, http.MethodGet, "/api/running-actions"+query, nil)
	require.Equal(t, http.StatusOK, status, string(body))

	var resp struct {
		Data []web.RunningActionResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &resp))

	return resp.Data
}

func TestRunningActionsLifecycle(t *testing.T) {
	env := setupTestApp(t)

	status, body := do(t, env.app, http.MethodPost, "/api/running-actions", web.QueueActionRequest{NodeRef: env.actionNode.String()})
	require.Equal(t, http.StatusAccepted, status, string(body))

	var queued struct {
		Data web.QueuedActionResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &queued))
	assert.Equal(t, env.actionNode.ID, queued.Data.ActionID)
	assert.Equal(t, env.owner.String(), queued.Data.Target)

	require.Eventually(t, func() bool {
		running := runningActions(t, env.app, "")

		return len(running) == 1 && running[0].StartedAt != ""
	}, 2*time.Second, 10*time.Millisecond)

	running := runningActions(t, env.app, "")[0]
	assert.Equal(t, executors.SleepActionName, running.ActionType)
	assert.Equal(t, env.actionNode.String(), running.ActionNodeRef)
	assert.Equal(t, "10.0.0.1 : test", running.RunningOn)
	assert.False(t, running.CancelRequested)

	assert.Len(t, runningActions(t, env.app, "?type="+executors.SleepActionName), 1)
	assert.Empty(t, runningActions(t, env.app, "?type="+executors.AddFeaturesName))
	assert.Len(t, runningActions(t, env.app, "?nodeRef="+url.QueryEscape(env.actionNode.String())), 1)
	assert.Empty(t, runningActions(t, env.app, "?nodeRef="+url.QueryEscape(env.owner.String())))

	status, body = do(t, env.app, http.MethodGet, running.Details, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Contains(t, string(body), running.ActionID)

	status, _ = do(t, env.app, http.MethodDelete, running.Details, nil)
	assert.Equal(t, http.StatusNoContent, status)

	require.Eventually(t, func() bool {
		return len(runningActions(t, env.app, "")) == 0
	}, 2*time.Second, 10*time.Millisecond, "cancelled sleep leaves the running list")

	status, _ = do(t, env.app, http.MethodGet, running.Details, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = do(t, env.app, http.MethodDelete, running.Details, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestQueueAction_Errors(t *testing.T) {
	env := setupTestApp(t)

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{"invalid json", "{", http.StatusBadRequest},
		{"missing node ref", web.QueueActionRequest{}, http.StatusBadRequest},
		{"malformed node ref", web.QueueActionRequest{NodeRef: "not-a-ref"}, http.StatusBadRequest},
		{"unknown node", web.QueueActionRequest{NodeRef: models.NewNodeRef(models.DefaultStore, "missing").String()}, http.StatusNotFound},
		{"not an action node", web.QueueActionRequest{NodeRef: env.owner.String()}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := do(t, env.app, http.MethodPost, "/api/running-actions", tt.body)
			assert.Equal(t, tt.status, status, string(body))
		})
	}

	assert.Empty(t, runningActions(t, env.app, ""))
}

func TestRunningAction_InvalidKey(t *testing.T) {
	env := setupTestApp(t)

	status, _ := do(t, env.app, http.MethodGet, "/api/running-action/no-separators", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, env.app, http.MethodDelete, "/api/running-action/a=b=x", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, env.app, http.MethodGet, "/api/running-actions?nodeRef=nope", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestDefinitions(t *testing.T) {
	env := setupTestApp(t)

	status, body := do(t, env.app, http.MethodGet, "/api/action-definitions", nil)
	require.Equal(t, http.StatusOK, status)

	var resp struct {
		Data []web.DefinitionResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &resp))

	names := map[string]web.DefinitionResponse{}
	for _, def := range resp.Data {
		names[def.Name] = def
	}

	require.Contains(t, names, executors.SleepActionName)
	assert.Contains(t, names, models.CompositeActionName)
	assert.True(t, names[executors.SleepActionName].TrackStatus)
	assert.Len(t, names[executors.SleepActionName].Parameters, 3)

	status, body = do(t, env.app, http.MethodGet, "/api/condition-definitions", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"data":[]}`, string(body))
}

func TestHealthCheck(t *testing.T) {
	env := setupTestApp(t)

	status, body := do(t, env.app, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"healthy"`)
	assert.Contains(t, string(body), action.DefaultQueueName)
}
