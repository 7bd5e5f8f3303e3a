package mocks

import (
	"context"

	"github.com/dukex/actiond/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockActionPersister is a mock implementation of tracking.Persister.
type MockActionPersister struct {
	mock.Mock
}

func (m *MockActionPersister) LoadAction(ctx context.Context, actionNode models.NodeRef) (*models.Action, error) {
	args := m.Called(ctx, actionNode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Action), args.Error(1)
}

func (m *MockActionPersister) SaveActionImpl(ctx context.Context, owningNode, actionNode models.NodeRef, action *models.Action) error {
	args := m.Called(ctx, owningNode, actionNode, action)

	return args.Error(0)
}
