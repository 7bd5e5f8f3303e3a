package mocks

import (
	"context"

	"github.com/dukex/actiond/pkg/eventbus"
	"github.com/dukex/actiond/pkg/events"
	"github.com/stretchr/testify/mock"
)

type MockEventBus struct {
	mock.Mock
}

var _ eventbus.EventBus = (*MockEventBus)(nil)

// ExpectPublish sets up a Publish call for any key carrying an event of eventType.
func (m *MockEventBus) ExpectPublish(eventType events.EventType) *mock.Call {
	return m.On("Publish", mock.Anything, mock.AnythingOfType("string"), mock.MatchedBy(func(e eventbus.Event) bool {
		return e.GetType() == eventType
	}))
}

func (m *MockEventBus) Publish(ctx context.Context, key string, event eventbus.Event) error {
	return m.Called(ctx, key, event).Error(0)
}

func (m *MockEventBus) Handle(eventType events.EventType, handler eventbus.EventHandler) error {
	return m.Called(eventType, handler).Error(0)
}

func (m *MockEventBus) Subscribe(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockEventBus) Close() error {
	return m.Called().Error(0)
}
