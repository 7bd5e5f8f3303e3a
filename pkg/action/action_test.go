package action

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/dukex/actiond/pkg/auth"
	"github.com/dukex/actiond/pkg/cache"
	"github.com/dukex/actiond/pkg/models"
	"github.com/dukex/actiond/pkg/protocol"
	"github.com/dukex/actiond/pkg/queue"
	"github.com/dukex/actiond/pkg/registry"
	"github.com/dukex/actiond/pkg/tracking"
	"github.com/dukex/actiond/pkg/txn"
	"github.com/dukex/actiond/pkg/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var target = models.NewNodeRef(models.DefaultStore, "target-node")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// recordingExecutor remembers every action it ran, in order.
type recordingExecutor struct {
	definition *models.ActionDefinition

	mu       sync.Mutex
	executed []string
	users    []string
	err      error
	panicMsg string
	onRun    func(ctx context.Context, a *models.Action)
}

func newRecordingExecutor(t *testing.T, name string, params ...models.ParameterDefinition) *recordingExecutor {
	t.Helper()

	def, err := models.NewActionDefinition(name, params...)
	require.NoError(t, err)

	return &recordingExecutor{definition: def}
}

func (e *recordingExecutor) Definition() *models.ActionDefinition {
	return e.definition
}

func (e *recordingExecutor) Execute(ctx context.Context, a *models.Action, _ models.NodeRef) error {
	e.mu.Lock()
	e.executed = append(e.executed, a.ID())
	e.users = append(e.users, auth.User(ctx))
	onRun := e.onRun
	e.mu.Unlock()

	if onRun != nil {
		onRun(ctx, a)
	}

	if e.panicMsg != "" {
		panic(e.panicMsg)
	}

	return e.err
}

func (e *recordingExecutor) executedIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return slices.Clone(e.executed)
}

// fixedEvaluator returns the "result" parameter of the condition.
type fixedEvaluator struct {
	definition *models.ConditionDefinition

	mu        sync.Mutex
	evaluated []string
}

func newFixedEvaluator(t *testing.T) *fixedEvaluator {
	t.Helper()

	def, err := models.NewConditionDefinition("fixed",
		models.ParameterDefinition{Name: "result", Type: models.ParameterTypeBoolean, Mandatory: true},
	)
	require.NoError(t, err)

	return &fixedEvaluator{definition: def}
}

func (e *fixedEvaluator) Definition() *models.ConditionDefinition {
	return e.definition
}

func (e *fixedEvaluator) Evaluate(_ context.Context, c *models.ActionCondition, _ models.NodeRef) (bool, error) {
	e.mu.Lock()
	e.evaluated = append(e.evaluated, c.ID())
	e.mu.Unlock()

	result, _ := c.ParameterValue("result").(bool)

	return result, nil
}

func (e *fixedEvaluator) evaluatedIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return slices.Clone(e.evaluated)
}

type fixture struct {
	service   *Service
	registry  *registry.Registry
	tracking  *tracking.Service
	cache     *cache.Memory[models.ExecutionDetails]
	txns      *txn.Manager
	pool      *queue.Pool
	queue     *queue.Queue
	executor  *recordingExecutor
	evaluator *fixedEvaluator
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	logger := testLogger()
	reg := registry.NewRegistry(logger)

	executor := newRecordingExecutor(t, "record",
		models.ParameterDefinition{Name: "label", Type: models.ParameterTypeText},
	)
	require.NoError(t, reg.RegisterExecutor(executor))

	evaluator := newFixedEvaluator(t)
	require.NoError(t, reg.RegisterEvaluator(evaluator))

	c := cache.NewMemory[models.ExecutionDetails](0)
	txns := txn.NewManager(logger, txn.WithRetry(1, time.Millisecond, time.Millisecond))
	tracker := tracking.NewService(c, txns, logger, tracking.WithRunningOn("10.0.0.1 : test"))

	pool := queue.NewPool(DefaultQueueName, 2, 16, logger)
	t.Cleanup(func() { _ = pool.Shutdown(context.Background()) })

	q := queue.New(DefaultQueueName, pool, txns, logger)

	opts = append([]Option{WithQueue(q), WithValidator(validation.New())}, opts...)

	s, err := NewService(reg, tracker, logger, opts...)
	require.NoError(t, err)

	return &fixture{
		service:   s,
		registry:  reg,
		tracking:  tracker,
		cache:     c,
		txns:      txns,
		pool:      pool,
		queue:     q,
		executor:  executor,
		evaluator: evaluator,
	}
}

func (f *fixture) condition(id string, result bool) *models.ActionCondition {
	c := models.NewActionCondition(id, "fixed")
	c.SetParameterValue("result", result)

	return c
}

func boolPtr(v bool) *bool {
	return &v
}

func TestNewService_RegistersCompositeExecutor(t *testing.T) {
	f := newFixture(t)

	def, ok := f.service.ActionDefinition(models.CompositeActionName)
	require.True(t, ok)
	assert.Equal(t, models.CompositeActionName, def.Name)
	assert.Equal(t, []string{DefaultQueueName}, f.service.Queues())
}

func TestCreateAction(t *testing.T) {
	f := newFixture(t)

	a, err := f.service.CreateActionWithParameters("record", map[string]any{"label": "x"})
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID())
	assert.Equal(t, "record", a.DefinitionName())
	assert.Equal(t, "x", a.ParameterValue("label"))

	composite, err := f.service.CreateAction(models.CompositeActionName)
	require.NoError(t, err)
	assert.True(t, composite.IsComposite())

	_, err = f.service.CreateAction("missing")
	require.Error(t, err)
	assert.True(t, IsNotRegistered(err))
	assert.Contains(t, err.Error(), "action type 'missing' not registered")

	_, err = f.service.CreateActionCondition("missing")
	assert.True(t, IsNotRegistered(err))

	c, err := f.service.CreateActionCondition(models.CompositeConditionName)
	require.NoError(t, err)
	assert.True(t, c.IsComposite())
}

func TestActionDefinitionsFor(t *testing.T) {
	f := newFixture(t)

	restricted := newRecordingExecutor(t, "folders-only")
	restricted.definition.ApplicableTypes = []string{"cm:folder"}
	require.NoError(t, f.registry.RegisterExecutor(restricted))

	names := func(defs []*models.ActionDefinition) []string {
		var out []string
		for _, d := range defs {
			out = append(out, d.Name)
		}

		return out
	}

	assert.Contains(t, names(f.service.ActionDefinitionsFor("cm:folder")), "folders-only")
	assert.NotContains(t, names(f.service.ActionDefinitionsFor("cm:content")), "folders-only")
	assert.Contains(t, names(f.service.ActionDefinitionsFor("cm:content")), "record")
}

func TestEvaluateActionCondition_Combinators(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	tests := []struct {
		name      string
		orCombine bool
		invert    bool
		children  []bool
		want      bool
	}{
		{name: "and all true", children: []bool{true, true}, want: true},
		{name: "and one false", children: []bool{true, false}, want: false},
		{name: "or one true", orCombine: true, children: []bool{false, true}, want: true},
		{name: "or all false", orCombine: true, children: []bool{false, false}, want: false},
		{name: "inverted and", invert: true, children: []bool{true, true}, want: false},
		{name: "inverted or", orCombine: true, invert: true, children: []bool{false, false}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			composite := models.NewCompositeActionCondition("composite")
			composite.OrCombine = tt.orCombine
			composite.Invert = tt.invert

			for i, result := range tt.children {
				composite.AddCondition(f.condition(string(rune('a'+i)), result))
			}

			got, err := f.service.EvaluateActionCondition(ctx, composite, target)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateActionCondition_ShortCircuits(t *testing.T) {
	f := newFixture(t)

	and := models.NewCompositeActionCondition("and")
	and.AddCondition(f.condition("first", false))
	and.AddCondition(f.condition("second", true))

	ok, err := f.service.EvaluateActionCondition(t.Context(), and, target)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"first"}, f.evaluator.evaluatedIDs())

	or := models.NewCompositeActionCondition("or")
	or.OrCombine = true
	or.AddCondition(f.condition("third", true))
	or.AddCondition(f.condition("fourth", false))

	ok, err = f.service.EvaluateActionCondition(t.Context(), or, target)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"first", "third"}, f.evaluator.evaluatedIDs())
}

func TestEvaluateActionCondition_Errors(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.EvaluateActionCondition(t.Context(), models.NewCompositeActionCondition("empty"), target)
	require.ErrorIs(t, err, ErrEmptyCompositeCondition)
	assert.True(t, IsValidationError(err))

	_, err = f.service.EvaluateActionCondition(t.Context(), models.NewActionCondition("c", "missing"), target)
	assert.True(t, IsNotRegistered(err))

	_, err = f.service.EvaluateActionCondition(t.Context(), models.NewActionCondition("c", "fixed"), target)
	assert.ErrorIs(t, err, validation.ErrMandatoryParameter)
}

func TestEvaluateAction(t *testing.T) {
	f := newFixture(t)
	a := models.NewAction("a", "record")

	ok, err := f.service.EvaluateAction(t.Context(), a, target)
	require.NoError(t, err)
	assert.True(t, ok)

	inverted := f.condition("inverted", true)
	inverted.Invert = true

	a.AddCondition(f.condition("yes", true))
	a.AddCondition(inverted)

	ok, err = f.service.EvaluateAction(t.Context(), a, target)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExecuteAction_Synchronous(t *testing.T) {
	f := newFixture(t)
	ctx := auth.WithUser(t.Context(), "alice")

	a := models.NewAction("a", "record")
	a.AddCondition(f.condition("yes", true))

	require.NoError(t, f.service.ExecuteAction(ctx, a, target, true, false))
	assert.Equal(t, []string{"a"}, f.executor.executedIDs())
	assert.Equal(t, []string{"alice"}, f.executor.users)

	a.AddCondition(f.condition("no", false))

	require.NoError(t, f.service.ExecuteAction(ctx, a, target, true, false))
	assert.Equal(t, []string{"a"}, f.executor.executedIDs(), "conditions not met")

	require.NoError(t, f.service.ExecuteAction(ctx, a, target, false, false))
	assert.Equal(t, []string{"a", "a"}, f.executor.executedIDs(), "conditions skipped")
}

func TestExecuteAction_SynchronousFailureIsWrapped(t *testing.T) {
	f := newFixture(t)
	cause := errors.New("disk full")
	f.executor.err = cause

	err := f.service.ExecuteAction(t.Context(), models.NewAction("a", "record"), target, false, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrActionFailed)
	assert.ErrorIs(t, err, cause)

	var se *ServiceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "a", se.ActionID)
}

func TestExecuteAction_PanicBecomesError(t *testing.T) {
	f := newFixture(t)
	f.executor.panicMsg = "boom"

	a := models.NewAction("a", "record")
	a.TrackStatus = boolPtr(true)

	var err error
	require.NotPanics(t, func() {
		err = f.service.ExecuteAction(t.Context(), a, target, false, false)
	})
	require.ErrorIs(t, err, ErrActionFailed)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, models.ActionStatusFailed, a.Execution().Status)
}

func TestExecuteAction_ValidationFailure(t *testing.T) {
	f := newFixture(t)

	a := models.NewAction("a", "record")
	a.SetParameterValue("unknown", 1)

	err := f.service.ExecuteAction(t.Context(), a, target, false, false)
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
	assert.Empty(t, f.executor.executedIDs())
}

type staticTypes map[models.NodeRef]string

func (s staticTypes) NodeType(_ context.Context, ref models.NodeRef) (string, error) {
	return s[ref], nil
}

func TestDirectActionExecution_SkipsInapplicableTypes(t *testing.T) {
	f := newFixture(t, WithNodeTypes(staticTypes{target: "cm:content"}))

	restricted := newRecordingExecutor(t, "folders-only")
	restricted.definition.ApplicableTypes = []string{"cm:folder"}
	require.NoError(t, f.registry.RegisterExecutor(restricted))

	require.NoError(t, f.service.DirectActionExecution(t.Context(), models.NewAction("a", "folders-only"), target))
	assert.Empty(t, restricted.executedIDs())

	folder := models.NewNodeRef(models.DefaultStore, "folder")
	f.service.nodeTypes = staticTypes{folder: "cm:folder"}

	require.NoError(t, f.service.DirectActionExecution(t.Context(), models.NewAction("b", "folders-only"), folder))
	assert.Equal(t, []string{"b"}, restricted.executedIDs())
}

func TestExecuteAction_LoopPrevention(t *testing.T) {
	f := newFixture(t)
	a := models.NewAction("looping", "record")

	f.executor.onRun = func(ctx context.Context, inner *models.Action) {
		if inner.ID() == "looping" {
			// the same action triggered from inside its own execution
			require.NoError(t, f.service.ExecuteAction(ctx, a, target, false, false))
		}
	}

	require.NoError(t, f.service.ExecuteAction(t.Context(), a, target, false, false))
	assert.Equal(t, []string{"looping"}, f.executor.executedIDs())

	// the chain does not leak out of the execution
	assert.False(t, models.ActionChainFromContext(t.Context()).Present())
}

func TestExecuteAction_Composite(t *testing.T) {
	f := newFixture(t)

	composite := models.NewCompositeAction("parent")
	composite.AddAction(models.NewAction("first", "record"))

	guarded := models.NewAction("guarded", "record")
	guarded.AddCondition(f.condition("no", false))
	composite.AddAction(guarded)

	// a child sharing the parent's id is treated as a loop
	composite.AddAction(models.NewAction("parent", "record"))
	composite.AddAction(models.NewAction("last", "record"))

	require.NoError(t, f.service.ExecuteAction(t.Context(), composite, target, true, false))
	assert.Equal(t, []string{"first", "last"}, f.executor.executedIDs())
}

func TestExecuteAction_CompositeStopsAtFirstFailure(t *testing.T) {
	f := newFixture(t)

	failing := newRecordingExecutor(t, "failing")
	failing.err = errors.New("nope")
	require.NoError(t, f.registry.RegisterExecutor(failing))

	composite := models.NewCompositeAction("parent")
	composite.AddAction(models.NewAction("bad", "failing"))
	composite.AddAction(models.NewAction("never", "record"))

	err := f.service.ExecuteAction(t.Context(), composite, target, false, false)
	require.ErrorIs(t, err, ErrActionFailed)
	assert.Empty(t, f.executor.executedIDs())
}

func TestExecuteAction_AsyncRequiresTransaction(t *testing.T) {
	f := newFixture(t)

	err := f.service.ExecuteAction(t.Context(), models.NewAction("a", "record"), target, false, true)
	require.Error(t, err)
	assert.True(t, IsNoTransaction(err))
}

func TestExecuteAction_AsyncRunsAfterCommit(t *testing.T) {
	f := newFixture(t)
	ctx := auth.WithUser(t.Context(), "bob")
	a := models.NewAction("a", "record")

	err := f.txns.Do(ctx, func(ctx context.Context) error {
		require.NoError(t, f.service.ExecuteAction(ctx, a, target, false, true))
		require.NoError(t, f.service.ExecuteAction(ctx, a, target, false, true))

		assert.Len(t, f.service.PostTransactionPendingActions(ctx), 1, "same action and target queued once")
		assert.Equal(t, "bob", a.RunAsUser)

		time.Sleep(20 * time.Millisecond)
		assert.Empty(t, f.executor.executedIDs(), "nothing runs before commit")

		return nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return slices.Equal(f.executor.executedIDs(), []string{"a"})
	}, time.Second, 5*time.Millisecond)

	f.executor.mu.Lock()
	assert.Equal(t, []string{"bob"}, f.executor.users)
	f.executor.mu.Unlock()
}

func TestExecuteAction_AsyncCarriesExecutedRules(t *testing.T) {
	f := newFixture(t)
	ctx := auth.WithUser(t.Context(), "bob")

	seen := make(chan []string, 1)
	f.executor.onRun = func(ctx context.Context, _ *models.Action) { seen <- queue.ExecutedRules(ctx) }

	a := models.NewAction("a", "record")

	err := f.txns.Do(ctx, func(ctx context.Context) error {
		require.NoError(t, txn.BindResource(ctx, queue.ExecutedRulesResource, []string{"rule-1", "rule-2"}))

		return f.service.ExecuteAction(ctx, a, target, false, true)
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"rule-1", "rule-2"}, a.ExecutedRules)

	select {
	case rules := <-seen:
		assert.Equal(t, []string{"rule-1", "rule-2"}, rules)
	case <-time.After(time.Second):
		t.Fatal("queued action did not run")
	}
}

func TestExecuteAction_AsyncDroppedOnRollback(t *testing.T) {
	f := newFixture(t)
	ctx := auth.WithUser(t.Context(), "bob")

	err := f.txns.Do(ctx, func(ctx context.Context) error {
		require.NoError(t, f.service.ExecuteAction(ctx, models.NewAction("a", "record"), target, false, true))

		return errors.New("rollback")
	})
	require.Error(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, f.executor.executedIDs())
	assert.Zero(t, f.pool.Submitted())
}

func TestExecuteAction_AsyncFailureQueuesCompensatingAction(t *testing.T) {
	f := newFixture(t)

	failing := newRecordingExecutor(t, "failing")
	failing.err = errors.New("nope")
	require.NoError(t, f.registry.RegisterExecutor(failing))

	a := models.NewAction("a", "failing")
	a.CompensatingAction = models.NewAction("undo", "record")

	ctx := auth.WithUser(t.Context(), "carol")

	err := f.txns.Do(ctx, func(ctx context.Context) error {
		return f.service.ExecuteAction(ctx, a, target, false, true)
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return slices.Equal(f.executor.executedIDs(), []string{"undo"})
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"a"}, failing.executedIDs())
	assert.Equal(t, "carol", a.CompensatingAction.RunAsUser)
}

func TestExecuteAction_SyncFailureDoesNotCompensate(t *testing.T) {
	f := newFixture(t)
	f.executor.err = errors.New("nope")

	a := models.NewAction("a", "record")
	a.CompensatingAction = models.NewAction("undo", "record")

	require.Error(t, f.service.ExecuteAction(t.Context(), a, target, false, false))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"a"}, f.executor.executedIDs())
}

func TestExecuteAction_StatusTracking(t *testing.T) {
	f := newFixture(t)

	var seen models.ActionStatus
	f.executor.onRun = func(ctx context.Context, a *models.Action) {
		seen = a.Execution().Status
		assert.Len(t, f.tracking.AllExecutingActions(ctx), 1)
	}

	a := models.NewAction("a", "record")
	a.TrackStatus = boolPtr(true)

	require.NoError(t, f.service.ExecuteAction(t.Context(), a, target, false, false))
	assert.Equal(t, models.ActionStatusRunning, seen)
	assert.Equal(t, models.ActionStatusCompleted, a.Execution().Status)
	assert.Equal(t, 1, a.Execution().Instance)
	assert.Zero(t, f.cache.Len())
}

func TestTrackStatusFallback(t *testing.T) {
	f := newFixture(t)

	a := models.NewAction("a", "record")
	assert.False(t, f.service.trackStatus(a), "definition default")

	f.executor.definition.TrackStatus = true
	assert.True(t, f.service.trackStatus(a))

	a.TrackStatus = boolPtr(false)
	assert.False(t, f.service.trackStatus(a), "action overrides definition")

	assert.False(t, f.service.trackStatus(models.NewAction("b", "unregistered")))
}

func TestExecuteAction_PendingClearedWhenConditionsFail(t *testing.T) {
	f := newFixture(t)

	a := models.NewAction("a", "record")
	a.TrackStatus = boolPtr(true)
	a.AddCondition(f.condition("no", false))

	ctx := auth.WithUser(t.Context(), "dave")

	require.NoError(t, f.txns.Do(ctx, func(ctx context.Context) error {
		return f.service.ExecuteAction(ctx, a, target, true, true)
	}))

	require.Eventually(t, func() bool {
		return f.cache.Len() == 0 && len(f.queue.Ongoing()) == 0
	}, time.Second, 5*time.Millisecond)

	assert.Empty(t, f.executor.executedIDs())

	// it never ran, so it is neither completed nor given a start or end time
	state := a.Execution()
	assert.Equal(t, models.ActionStatusPending, state.Status)
	assert.Zero(t, state.StartedAt)
	assert.Zero(t, state.EndedAt)
}

func TestQueueFor_UnknownQueue(t *testing.T) {
	f := newFixture(t)

	special := newRecordingExecutor(t, "special")
	special.definition.QueueName = "special"
	require.NoError(t, f.registry.RegisterExecutor(special))

	_, err := f.service.queueFor(models.NewAction("a", "special"))
	assert.ErrorIs(t, err, ErrUnknownQueue)

	q, err := f.service.queueFor(models.NewAction("b", "record"))
	require.NoError(t, err)
	assert.Equal(t, DefaultQueueName, q.Name())
}

func TestStoreNotConfigured(t *testing.T) {
	f := newFixture(t)
	owner := models.NewNodeRef(models.DefaultStore, "owner")

	assert.ErrorIs(t, f.service.SaveAction(t.Context(), owner, models.NewAction("a", "record")), ErrNoStore)

	_, err := f.service.Actions(t.Context(), owner)
	assert.ErrorIs(t, err, ErrNoStore)
}

var _ protocol.ActionRuntime = (*Service)(nil)
