package eventbus_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/actiond/pkg/channels/gochannel"
	"github.com/dukex/actiond/pkg/eventbus"
	"github.com/dukex/actiond/pkg/events"
	"github.com/dukex/actiond/pkg/mocks"
	"github.com/dukex/actiond/pkg/models"
	"github.com/dukex/actiond/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBus(t *testing.T) *eventbus.WatermillEventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub, testutil.Logger())

	t.Cleanup(func() {
		assert.NoError(t, bus.Close())
	})

	return bus
}

func TestWatermillEventBus_AsyncExecutedHook(t *testing.T) {
	bus := newBus(t)
	received := make(chan *events.AsyncActionExecuted, 1)

	require.NoError(t, bus.Handle(events.AsyncActionExecutedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.AsyncActionExecuted)

		return nil
	}))
	require.NoError(t, bus.Subscribe(t.Context()))

	a := testutil.CreateTestAction("sleep-action")
	a.RunAsUser = "admin"
	a.NodeRef = models.NewNodeRef(models.DefaultStore, a.ID())
	target := models.NewNodeRef(models.DefaultStore, "doc")

	hook := eventbus.AsyncExecutedHook(bus, "10.0.0.1 : node-a", testutil.Logger())
	hook(t.Context(), a, target)

	select {
	case event := <-received:
		assert.Equal(t, events.AsyncActionExecutedEvent, event.Type)
		assert.Equal(t, a.ID(), event.ActionID)
		assert.Equal(t, "sleep-action", event.ActionType)
		assert.Equal(t, target.String(), event.Target)
		assert.Equal(t, a.NodeRef.String(), event.ActionNodeRef)
		assert.Equal(t, "admin", event.RunAsUser)
		assert.Equal(t, "10.0.0.1 : node-a", event.RunningOn)
		assert.NotEmpty(t, event.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestWatermillEventBus_UnhandledTypesAreAcked(t *testing.T) {
	bus := newBus(t)
	require.NoError(t, bus.Subscribe(t.Context()))

	// nothing handles the event, so publishing must not block or fail
	err := bus.Publish(t.Context(), "key", events.NewAsyncActionExecuted(testutil.CreateTestAction("noop"), models.NodeRef{}))
	assert.NoError(t, err)
}

func TestWatermillEventBus_HandleUnknownType(t *testing.T) {
	bus := newBus(t)

	err := bus.Handle("workflow.started", func(context.Context, any) error { return nil })
	require.ErrorIs(t, err, eventbus.ErrUnknownEventType)
}

func TestAsyncExecutedHook_PublishFailureIsSwallowed(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.ExpectPublish(events.AsyncActionExecutedEvent).Return(errors.New("broker down")).Once()

	hook := eventbus.AsyncExecutedHook(bus, "", testutil.Logger())

	assert.NotPanics(t, func() {
		hook(t.Context(), testutil.CreateTestAction("noop"), models.NodeRef{})
	})
	bus.AssertExpectations(t)
}
