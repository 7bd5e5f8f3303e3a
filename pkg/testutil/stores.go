package testutil

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/actiond/pkg/auth"
	"github.com/dukex/actiond/pkg/models"
	"github.com/dukex/actiond/pkg/persistence"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Logger returns a logger that only prints errors.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// NodeServiceFactory returns an empty node store.
type NodeServiceFactory func(t *testing.T) persistence.NodeService

// RunNodeServiceTests exercises the NodeService contract.
func RunNodeServiceTests(t *testing.T, newStore NodeServiceFactory) {
	t.Helper()

	t.Run("create and read", func(t *testing.T) {
		store := newStore(t)
		ctx := auth.WithUser(t.Context(), "alice")
		when := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		dest := models.NewNodeRef(models.DefaultStore, "dest")

		root, err := store.CreateNode(ctx, models.NodeRef{}, "", "cm:folder", map[string]any{
			persistence.PropNodeUUID: "root",
			"cm:name":                "Root",
			"count":                  3,
			"big":                    int64(1) << 40,
			"ratio":                  0.25,
			"flag":                   true,
			"when":                   when,
			"dest":                   dest,
			"tags":                   []string{"a", "b"},
			"mixed":                  []any{"x", 1, dest},
			"nested":                 map[string]any{"k": "v"},
		})
		require.NoError(t, err)
		assert.Equal(t, models.NewNodeRef(models.DefaultStore, "root"), root)

		ok, err := store.Exists(ctx, root)
		require.NoError(t, err)
		assert.True(t, ok)

		nodeType, err := store.NodeType(ctx, root)
		require.NoError(t, err)
		assert.Equal(t, "cm:folder", nodeType)

		props, err := store.Properties(ctx, root)
		require.NoError(t, err)
		assert.Equal(t, "Root", props["cm:name"])
		assert.Equal(t, 3, props["count"])
		assert.Equal(t, int64(1)<<40, props["big"])
		assert.Equal(t, 0.25, props["ratio"])
		assert.Equal(t, true, props["flag"])
		assert.True(t, when.Equal(props["when"].(time.Time)))
		assert.Equal(t, dest, props["dest"])
		assert.Equal(t, []string{"a", "b"}, props["tags"])
		assert.Equal(t, []any{"x", 1, dest}, props["mixed"])
		assert.Equal(t, map[string]any{"k": "v"}, props["nested"])
		assert.Equal(t, "root", props[persistence.PropNodeUUID])
		assert.Equal(t, "alice", props[persistence.PropCreator])
		assert.Equal(t, "alice", props[persistence.PropModifier])

		name, err := store.Property(ctx, root, "cm:name")
		require.NoError(t, err)
		assert.Equal(t, "Root", name)

		parent, err := store.PrimaryParent(ctx, root)
		require.NoError(t, err)
		assert.True(t, parent.IsZero())
	})

	t.Run("missing nodes", func(t *testing.T) {
		store := newStore(t)
		ctx := t.Context()
		missing := models.NewNodeRef(models.DefaultStore, "missing")

		ok, err := store.Exists(ctx, missing)
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = store.Properties(ctx, missing)
		assert.True(t, persistence.IsNodeNotFound(err))

		_, err = store.NodeType(ctx, missing)
		assert.True(t, persistence.IsNodeNotFound(err))

		_, err = store.ChildAssocs(ctx, missing, "")
		assert.True(t, persistence.IsNodeNotFound(err))

		_, err = store.CreateNode(ctx, missing, "cm:contains", "cm:content", nil)
		assert.True(t, persistence.IsNodeNotFound(err))

		assert.True(t, persistence.IsNodeNotFound(store.SetProperty(ctx, missing, "x", 1)))
	})

	t.Run("duplicate id", func(t *testing.T) {
		store := newStore(t)
		props := map[string]any{persistence.PropNodeUUID: "same"}

		_, err := store.CreateNode(t.Context(), models.NodeRef{}, "", "cm:folder", props)
		require.NoError(t, err)

		_, err = store.CreateNode(t.Context(), models.NodeRef{}, "", "cm:folder", props)
		assert.ErrorIs(t, err, persistence.ErrNodeAlreadyExists)
	})

	t.Run("properties keep audit on update", func(t *testing.T) {
		store := newStore(t)

		ref, err := store.CreateNode(auth.WithUser(t.Context(), "alice"), models.NodeRef{}, "", "cm:content", map[string]any{"a": 1})
		require.NoError(t, err)

		ctx := auth.WithUser(t.Context(), "bob")
		require.NoError(t, store.SetProperties(ctx, ref, map[string]any{"b": "two"}))

		props, err := store.Properties(ctx, ref)
		require.NoError(t, err)
		assert.NotContains(t, props, "a")
		assert.Equal(t, "two", props["b"])
		assert.Equal(t, "alice", props[persistence.PropCreator])
		assert.Equal(t, "bob", props[persistence.PropModifier])
		assert.Equal(t, ref.ID, props[persistence.PropNodeUUID])

		require.NoError(t, store.SetProperty(ctx, ref, "c", 3))

		props, err = store.Properties(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, "two", props["b"])
		assert.Equal(t, 3, props["c"])
	})

	t.Run("returned values are copies", func(t *testing.T) {
		store := newStore(t)

		ref, err := store.CreateNode(t.Context(), models.NodeRef{}, "", "cm:content", map[string]any{"tags": []string{"a"}})
		require.NoError(t, err)

		props, err := store.Properties(t.Context(), ref)
		require.NoError(t, err)
		props["tags"].([]string)[0] = "changed"

		again, err := store.Property(t.Context(), ref, "tags")
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, again)
	})

	t.Run("children keep creation order", func(t *testing.T) {
		store := newStore(t)
		ctx := t.Context()

		root, err := store.CreateNode(ctx, models.NodeRef{}, "", "cm:folder", nil)
		require.NoError(t, err)

		var contains []models.NodeRef

		for _, id := range []string{"c", "a", "b"} {
			ref, err := store.CreateNode(ctx, root, "cm:contains", "cm:content", map[string]any{persistence.PropNodeUUID: id})
			require.NoError(t, err)

			contains = append(contains, ref)
		}

		other, err := store.CreateNode(ctx, root, "cm:other", "cm:content", nil)
		require.NoError(t, err)

		refs, err := store.ChildAssocs(ctx, root, "cm:contains")
		require.NoError(t, err)
		assert.Equal(t, contains, refs)

		all, err := store.ChildAssocs(ctx, root, "")
		require.NoError(t, err)
		assert.Equal(t, append(contains, other), all)

		parent, err := store.PrimaryParent(ctx, other)
		require.NoError(t, err)
		assert.Equal(t, root, parent)
	})

	t.Run("remove child removes subtree", func(t *testing.T) {
		store := newStore(t)
		ctx := t.Context()

		root, err := store.CreateNode(ctx, models.NodeRef{}, "", "cm:folder", nil)
		require.NoError(t, err)

		branch, err := store.CreateNode(ctx, root, "cm:contains", "cm:folder", nil)
		require.NoError(t, err)

		leaf, err := store.CreateNode(ctx, branch, "cm:contains", "cm:content", nil)
		require.NoError(t, err)

		assert.ErrorIs(t, store.RemoveChild(ctx, root, leaf), persistence.ErrNotChild)

		require.NoError(t, store.RemoveChild(ctx, root, branch))

		for _, ref := range []models.NodeRef{branch, leaf} {
			ok, err := store.Exists(ctx, ref)
			require.NoError(t, err)
			assert.False(t, ok)
		}

		refs, err := store.ChildAssocs(ctx, root, "")
		require.NoError(t, err)
		assert.Empty(t, refs)

		// the id is free again
		_, err = store.CreateNode(ctx, root, "cm:contains", "cm:folder", map[string]any{persistence.PropNodeUUID: branch.ID})
		assert.NoError(t, err)
	})

	t.Run("aspects", func(t *testing.T) {
		store := newStore(t)
		ctx := t.Context()

		ref, err := store.CreateNode(ctx, models.NodeRef{}, "", "cm:content", nil)
		require.NoError(t, err)

		ok, err := store.HasAspect(ctx, ref, "cm:versionable")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, store.AddAspect(ctx, ref, "cm:versionable"))
		require.NoError(t, store.AddAspect(ctx, ref, "cm:versionable"))
		require.NoError(t, store.AddAspect(ctx, ref, "cm:titled"))

		ok, err = store.HasAspect(ctx, ref, "cm:versionable")
		require.NoError(t, err)
		assert.True(t, ok)

		aspects, err := store.Aspects(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, []string{"cm:versionable", "cm:titled"}, aspects)
	})

	t.Run("health check", func(t *testing.T) {
		assert.NoError(t, newStore(t).HealthCheck(t.Context()))
	})
}

// RunActionStoreTests exercises ActionStore on top of a node store.
func RunActionStoreTests(t *testing.T, newStore NodeServiceFactory) {
	t.Helper()

	setup := func(t *testing.T) (*persistence.ActionStore, persistence.NodeService, models.NodeRef, context.Context) {
		t.Helper()

		nodes := newStore(t)
		ctx := auth.WithUser(t.Context(), "alice")

		owner, err := nodes.CreateNode(ctx, models.NodeRef{}, "", "cm:folder", nil)
		require.NoError(t, err)

		return persistence.NewActionStore(nodes, Logger()), nodes, owner, ctx
	}

	ignoreAudit := cmpopts.IgnoreFields(models.Action{}, "Audit")

	t.Run("round trip", func(t *testing.T) {
		store, nodes, owner, ctx := setup(t)

		nested := models.NewCompositeActionCondition("nested-condition")
		nested.OrCombine = true
		nested.AddCondition(CreateTestCondition("has-aspect", WithConditionParameters(map[string]any{"aspect": "cm:titled"})))
		nested.AddCondition(CreateTestCondition("no-condition", Inverted()))

		a := CreateTestAction("add-features",
			WithParameters(map[string]any{"aspect-name": "cm:versionable", "count": 2}),
			WithConditions(CreateTestCondition("no-condition"), nested),
			WithCompensatingAction(CreateTestAction("set-property-value", WithParameters(map[string]any{"property": "cm:title", "value": "undo"}))),
			WithTrackStatus(true),
			WithAsync(),
		)

		require.NoError(t, store.SaveAction(ctx, owner, a))
		assert.Equal(t, owner, a.OwningNodeRef)
		assert.False(t, a.NodeRef.IsZero())
		assert.Equal(t, "alice", a.Audit.Creator)

		ok, err := nodes.HasAspect(ctx, owner, persistence.AspectActions)
		require.NoError(t, err)
		assert.True(t, ok)

		loaded, err := store.Action(ctx, owner, a.ID())
		require.NoError(t, err)

		assert.Equal(t, a.ID(), loaded.ID())
		assert.Equal(t, "add-features", loaded.DefinitionName())
		assert.Equal(t, a.Title, loaded.Title)
		assert.True(t, loaded.ExecuteAsynchronously)
		require.NotNil(t, loaded.TrackStatus)
		assert.True(t, *loaded.TrackStatus)
		assert.Equal(t, a.ParameterValues(), loaded.ParameterValues())
		assert.Equal(t, "alice", loaded.Audit.Creator)

		require.Len(t, loaded.Conditions(), 2)
		assert.Equal(t, a.Condition(0).ID(), loaded.Condition(0).ID())

		loadedNested := loaded.Condition(1)
		assert.True(t, loadedNested.IsComposite())
		assert.True(t, loadedNested.OrCombine)
		require.Len(t, loadedNested.Conditions(), 2)
		assert.Equal(t, map[string]any{"aspect": "cm:titled"}, loadedNested.Conditions()[0].ParameterValues())
		assert.True(t, loadedNested.Conditions()[1].Invert)

		require.NotNil(t, loaded.CompensatingAction)
		assert.Equal(t, a.CompensatingAction.ID(), loaded.CompensatingAction.ID())
		assert.Equal(t, "undo", loaded.CompensatingAction.ParameterValue("value"))

		byNode, err := store.LoadAction(ctx, a.NodeRef)
		require.NoError(t, err)
		assert.Equal(t, owner, byNode.OwningNodeRef)
		assert.Equal(t, a.ID(), byNode.ID())
	})

	t.Run("update parameters and conditions", func(t *testing.T) {
		store, _, owner, ctx := setup(t)

		first := CreateTestCondition("no-condition")
		second := CreateTestCondition("has-aspect")

		a := CreateTestAction("add-features",
			WithParameters(map[string]any{"keep": "1", "drop": "2"}),
			WithConditions(first, second),
		)
		require.NoError(t, store.SaveAction(ctx, owner, a))

		a.SetParameterValues(map[string]any{"keep": "changed", "added": true})
		a.RemoveCondition(first)
		a.AddCondition(CreateTestCondition("compare-property-value"))
		a.CompensatingAction = nil
		a.Title = "Renamed"

		require.NoError(t, store.SaveAction(ctx, owner, a))

		loaded, err := store.Action(ctx, owner, a.ID())
		require.NoError(t, err)
		assert.Equal(t, "Renamed", loaded.Title)
		assert.Equal(t, map[string]any{"keep": "changed", "added": true}, loaded.ParameterValues())

		var defs []string
		for _, c := range loaded.Conditions() {
			defs = append(defs, c.DefinitionName())
		}

		assert.Equal(t, []string{"has-aspect", "compare-property-value"}, defs)
	})

	t.Run("composite children keep order", func(t *testing.T) {
		store, _, owner, ctx := setup(t)

		one := CreateTestAction("add-features")
		two := CreateTestAction("set-property-value")
		three := CreateTestAction("sleep-action")

		composite := CreateTestCompositeAction(one, two, three)
		require.NoError(t, store.SaveAction(ctx, owner, composite))

		ids := func(a *models.Action) []string {
			var out []string
			for _, child := range a.Actions() {
				out = append(out, child.ID())
			}

			return out
		}

		loaded, err := store.Action(ctx, owner, composite.ID())
		require.NoError(t, err)
		assert.True(t, loaded.IsComposite())
		assert.Equal(t, ids(composite), ids(loaded))

		// reorder: three first
		composite.RemoveAction(three)
		composite.InsertAction(0, three)
		require.NoError(t, store.SaveAction(ctx, owner, composite))

		loaded, err = store.Action(ctx, owner, composite.ID())
		require.NoError(t, err)
		assert.Equal(t, []string{three.ID(), one.ID(), two.ID()}, ids(loaded))

		// children resolve to the same owner
		for _, child := range loaded.Actions() {
			assert.Equal(t, owner, child.OwningNodeRef)
		}
	})

	t.Run("execution state", func(t *testing.T) {
		store, _, owner, ctx := setup(t)

		a := CreateTestAction("add-features")
		require.NoError(t, store.SaveAction(ctx, owner, a))

		started := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
		a.UpdateExecution(func(st *models.ExecutionState) {
			st.Status = models.ActionStatusFailed
			st.StartedAt = started
			st.EndedAt = started.Add(time.Second)
			st.FailureMessage = "boom"
		})

		require.NoError(t, store.SaveActionImpl(ctx, owner, a.NodeRef, a))

		loaded, err := store.LoadAction(ctx, a.NodeRef)
		require.NoError(t, err)

		state := loaded.Execution()
		assert.Equal(t, models.ActionStatusFailed, state.Status)
		assert.True(t, started.Equal(state.StartedAt))
		assert.Equal(t, "boom", state.FailureMessage)
	})

	t.Run("list and remove", func(t *testing.T) {
		store, _, owner, ctx := setup(t)

		empty, err := store.Actions(ctx, owner)
		require.NoError(t, err)
		assert.Empty(t, empty)

		first := CreateTestAction("add-features")
		second := CreateTestAction("sleep-action")
		require.NoError(t, store.SaveAction(ctx, owner, first))
		require.NoError(t, store.SaveAction(ctx, owner, second))

		actions, err := store.Actions(ctx, owner)
		require.NoError(t, err)
		require.Len(t, actions, 2)

		opts := []cmp.Option{ignoreAudit, cmpopts.IgnoreUnexported(models.Action{}, models.ParameterizedItem{})}
		assert.Empty(t, cmp.Diff(first, actions[0], opts...))
		assert.Equal(t, second.ID(), actions[1].ID())

		require.NoError(t, store.RemoveAction(ctx, owner, first))

		_, err = store.Action(ctx, owner, first.ID())
		assert.True(t, persistence.IsActionNotFound(err))

		// removing twice is a no-op
		require.NoError(t, store.RemoveAction(ctx, owner, first))

		require.NoError(t, store.RemoveAllActions(ctx, owner))

		actions, err = store.Actions(ctx, owner)
		require.NoError(t, err)
		assert.Empty(t, actions)
	})

	t.Run("missing owner", func(t *testing.T) {
		store, _, _, ctx := setup(t)
		missing := models.NewNodeRef(models.DefaultStore, "missing")

		err := store.SaveAction(ctx, missing, CreateTestAction("add-features"))
		assert.True(t, persistence.IsNodeNotFound(err))

		actions, err := store.Actions(ctx, missing)
		require.NoError(t, err)
		assert.Empty(t, actions)
	})

	t.Run("load rejects non action nodes", func(t *testing.T) {
		store, _, owner, ctx := setup(t)

		_, err := store.LoadAction(ctx, owner)
		assert.ErrorIs(t, err, persistence.ErrNotActionNode)
	})
}
